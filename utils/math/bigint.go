package math

import (
	"fmt"
	"math/big"
	"strings"
)

var (
	// BasisPoints is the denominator of percentages expressed in bps.
	BasisPoints = big.NewInt(10_000)
	// Wad is the 18-decimal fixed point unit.
	Wad = big.NewInt(1_000_000_000_000_000_000)

	halfBasisPoints = big.NewInt(5_000)
)

// Clone returns a copy of x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return Clone(x)
	}
	return Clone(y)
}

// Max returns a copy of the larger of x and y.
func Max(x, y *big.Int) *big.Int {
	if x.Cmp(y) >= 0 {
		return Clone(x)
	}
	return Clone(y)
}

// Sum adds all values, skipping nils.
func Sum(values ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// SubFloor returns x - y, or zero when y exceeds x.
func SubFloor(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(x, y)
}

// MulDiv computes x * y / d rounding down.
func MulDiv(x, y, d *big.Int) *big.Int {
	if d.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(x, y)
	return out.Quo(out, d)
}

// MulDivRoundUp computes x * y / d rounding up.
func MulDivRoundUp(x, y, d *big.Int) *big.Int {
	if d.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(x, y)
	q, r := new(big.Int).QuoRem(num, d, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// PercentMul multiplies value by a basis-point percentage, rounding half up.
func PercentMul(value *big.Int, bps uint64) *big.Int {
	if value.Sign() == 0 || bps == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(value, new(big.Int).SetUint64(bps))
	out.Add(out, halfBasisPoints)
	return out.Quo(out, BasisPoints)
}

// PercentMulFloor multiplies value by a basis-point percentage, rounding down.
func PercentMulFloor(value *big.Int, bps uint64) *big.Int {
	return MulDiv(value, new(big.Int).SetUint64(bps), BasisPoints)
}

// WadDiv computes x / y as a wad.
func WadDiv(x, y *big.Int) *big.Int {
	return MulDiv(x, Wad, y)
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Units scales a whole-token amount to base units for the given decimals.
func Units(whole int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), Pow10(decimals))
}

// ParseUnits converts a decimal token amount such as "1.5" to base units.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(amount), ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	return v, nil
}

// FormatUnits renders base units as a decimal token amount without trailing
// zeros.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	q, r := new(big.Int).QuoRem(new(big.Int).Abs(value), Pow10(decimals), new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		digits := r.String()
		out += "." + strings.TrimRight(strings.Repeat("0", int(decimals)-len(digits))+digits, "0")
	}
	if value.Sign() < 0 {
		out = "-" + out
	}
	return out
}
