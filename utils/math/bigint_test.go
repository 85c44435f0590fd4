package math

import (
	"math/big"
	"testing"
)

func TestBigInt(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"TestClone", testClone},
		{"TestMinMax", testMinMax},
		{"TestSubFloor", testSubFloor},
		{"TestMulDiv", testMulDiv},
		{"TestPercentMul", testPercentMul},
		{"TestWadDiv", testWadDiv},
		{"TestUnits", testUnits},
		{"TestParseUnits", testParseUnits},
		{"TestFormatUnits", testFormatUnits},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testClone(t *testing.T) {
	x := big.NewInt(42)
	y := Clone(x)
	y.Add(y, big.NewInt(1))
	if x.Int64() != 42 {
		t.Errorf("Clone aliased its input: x = %v", x)
	}
	if Clone(nil).Sign() != 0 {
		t.Errorf("Clone(nil) = %v; want 0", Clone(nil))
	}
}

func testMinMax(t *testing.T) {
	a, b := big.NewInt(3), big.NewInt(7)
	if Min(a, b).Int64() != 3 {
		t.Errorf("Min(3, 7) = %v; want 3", Min(a, b))
	}
	if Max(a, b).Int64() != 7 {
		t.Errorf("Max(3, 7) = %v; want 7", Max(a, b))
	}
	if Sum(a, nil, b).Int64() != 10 {
		t.Errorf("Sum(3, nil, 7) = %v; want 10", Sum(a, nil, b))
	}
}

func testSubFloor(t *testing.T) {
	if got := SubFloor(big.NewInt(5), big.NewInt(8)); got.Sign() != 0 {
		t.Errorf("SubFloor(5, 8) = %v; want 0", got)
	}
	if got := SubFloor(big.NewInt(8), big.NewInt(5)); got.Int64() != 3 {
		t.Errorf("SubFloor(8, 5) = %v; want 3", got)
	}
}

func testMulDiv(t *testing.T) {
	if got := MulDiv(big.NewInt(10), big.NewInt(3), big.NewInt(4)); got.Int64() != 7 {
		t.Errorf("MulDiv(10, 3, 4) = %v; want 7", got)
	}
	if got := MulDivRoundUp(big.NewInt(10), big.NewInt(3), big.NewInt(4)); got.Int64() != 8 {
		t.Errorf("MulDivRoundUp(10, 3, 4) = %v; want 8", got)
	}
	if got := MulDivRoundUp(big.NewInt(8), big.NewInt(3), big.NewInt(4)); got.Int64() != 6 {
		t.Errorf("MulDivRoundUp(8, 3, 4) = %v; want 6", got)
	}
	if got := MulDiv(big.NewInt(1), big.NewInt(1), new(big.Int)); got.Sign() != 0 {
		t.Errorf("MulDiv by zero = %v; want 0", got)
	}
}

func testPercentMul(t *testing.T) {
	// 9 bps of 10000 is exactly 9
	if got := PercentMul(big.NewInt(10_000), 9); got.Int64() != 9 {
		t.Errorf("PercentMul(10000, 9) = %v; want 9", got)
	}
	// 9 bps of 9000 is 8.1, rounds to 8
	if got := PercentMul(big.NewInt(9_000), 9); got.Int64() != 8 {
		t.Errorf("PercentMul(9000, 9) = %v; want 8", got)
	}
	// 9 bps of 5000 is 4.5, rounds half up to 5
	if got := PercentMul(big.NewInt(5_000), 9); got.Int64() != 5 {
		t.Errorf("PercentMul(5000, 9) = %v; want 5", got)
	}
	if got := PercentMulFloor(big.NewInt(5_000), 9); got.Int64() != 4 {
		t.Errorf("PercentMulFloor(5000, 9) = %v; want 4", got)
	}
}

func testWadDiv(t *testing.T) {
	got := WadDiv(big.NewInt(3), big.NewInt(2))
	want := new(big.Int).Div(new(big.Int).Mul(Wad, big.NewInt(3)), big.NewInt(2))
	if got.Cmp(want) != 0 {
		t.Errorf("WadDiv(3, 2) = %v; want %v", got, want)
	}
}

func testUnits(t *testing.T) {
	if got := Units(5, 6); got.Int64() != 5_000_000 {
		t.Errorf("Units(5, 6) = %v; want 5000000", got)
	}
	if got := Pow10(0); got.Int64() != 1 {
		t.Errorf("Pow10(0) = %v; want 1", got)
	}
}

func testParseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"1000", 18, "1000000000000000000000", false},
		{"0.01", 18, "10000000000000000", false},
		{"1.5", 6, "1500000", false},
		{".5", 6, "500000", false},
		{"1.1234567", 6, "", true},
		{"abc", 6, "", true},
		{"-1", 6, "", true},
		{"", 6, "", true},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.in, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUnits(%q) = %v; want error", tt.in, got)
			}
			continue
		}
		if err != nil || got.String() != tt.want {
			t.Errorf("ParseUnits(%q, %d) = %v, %v; want %s", tt.in, tt.decimals, got, err, tt.want)
		}
	}
}

func testFormatUnits(t *testing.T) {
	tests := []struct {
		in       *big.Int
		decimals uint8
		want     string
	}{
		{Units(1000, 18), 18, "1000"},
		{big.NewInt(1500000), 6, "1.5"},
		{big.NewInt(1), 6, "0.000001"},
		{big.NewInt(-2500000), 6, "-2.5"},
		{nil, 6, "0"},
	}
	for _, tt := range tests {
		if got := FormatUnits(tt.in, tt.decimals); got != tt.want {
			t.Errorf("FormatUnits(%v, %d) = %s; want %s", tt.in, tt.decimals, got, tt.want)
		}
	}
}
