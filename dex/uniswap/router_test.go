package uniswap

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/ejector/chain"
	"github.com/michaelpento.lv/ejector/dex"
	"github.com/michaelpento.lv/ejector/types"
	bigmath "github.com/michaelpento.lv/ejector/utils/math"
)

var (
	weth   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	dai    = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdc   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	lp     = common.HexToAddress("0x0000000000000000000000000000000000000111")
	trader = common.HexToAddress("0x0000000000000000000000000000000000000222")
)

func TestGetAmountOut(t *testing.T) {
	amountIn := big.NewInt(1000000000000000000) // 1 ETH
	reserveIn := bigmath.Units(10, 18)          // 10 ETH
	reserveOut := bigmath.Units(5000, 6)        // 5000 USDC

	amountOut, err := getAmountOut(amountIn, reserveIn, reserveOut, 3000)
	require.NoError(t, err)
	assert.Equal(t, "453305446", amountOut.String())

	amountBack, err := getAmountIn(amountOut, reserveIn, reserveOut, 3000)
	require.NoError(t, err)
	assert.True(t, amountBack.Cmp(amountIn) <= 0)
	assert.Equal(t, "999999997719418537", amountBack.String())

	_, err = getAmountIn(reserveOut, reserveIn, reserveOut, 3000)
	assert.ErrorIs(t, err, errInsufficientLiquidity)

	_, err = getAmountOut(amountIn, new(big.Int), reserveOut, 3000)
	assert.ErrorIs(t, err, errInsufficientLiquidity)
}

func TestPoolFor(t *testing.T) {
	host := chain.NewHost(zaptest.NewLogger(t))
	router, err := NewRouter(MainnetRouter, MainnetFactory, host, chain.NewLedger(host.Journal()), zaptest.NewLogger(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		fee  uint32
		want common.Address
	}{
		{"usdc_weth_500", 500, common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")},
		{"usdc_weth_3000", 3000, common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := router.CreatePool(weth, usdc, tt.fee)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Address)
			assert.Equal(t, usdc, p.Token0)
		})
	}

	_, err = router.CreatePool(weth, weth, 3000)
	assert.ErrorIs(t, err, errIdenticalTokens)
	_, err = router.CreatePool(weth, dai, 0)
	assert.ErrorIs(t, err, errInvalidFee)
}

func newTestRouter(t *testing.T) (*Router, *chain.Ledger) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	host := chain.NewHost(logger)
	ledger := chain.NewLedger(host.Journal())
	router, err := NewRouter(MainnetRouter, MainnetFactory, host, ledger, logger)
	require.NoError(t, err)

	_, err = router.CreatePool(weth, dai, 3000)
	require.NoError(t, err)

	require.NoError(t, ledger.Mint(weth, lp, bigmath.Units(100, 18)))
	require.NoError(t, ledger.Mint(dai, lp, bigmath.Units(200_000, 18)))
	require.NoError(t, ledger.Approve(weth, lp, MainnetRouter, types.MaxAmount))
	require.NoError(t, ledger.Approve(dai, lp, MainnetRouter, types.MaxAmount))
	require.NoError(t, router.AddLiquidity(context.Background(), lp, weth, dai, 3000, bigmath.Units(100, 18), bigmath.Units(200_000, 18)))
	return router, ledger
}

func TestExactInputSingle(t *testing.T) {
	router, ledger := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, ledger.Mint(weth, trader, bigmath.Units(5, 18)))

	params := dex.ExactInputSingleParams{
		TokenIn:   weth,
		TokenOut:  dai,
		Fee:       3000,
		Recipient: trader,
		AmountIn:  bigmath.Units(1, 18),
	}

	t.Run("NoAllowance", func(t *testing.T) {
		_, err := router.ExactInputSingle(ctx, trader, params)
		assert.ErrorIs(t, err, types.ErrInsufficientAllowance)
	})

	require.NoError(t, ledger.Approve(weth, trader, MainnetRouter, types.MaxAmount))

	t.Run("SlippageExceeded", func(t *testing.T) {
		p := params
		p.AmountOutMinimum = bigmath.Units(2_000, 18)
		_, err := router.ExactInputSingle(ctx, trader, p)
		assert.ErrorIs(t, err, types.ErrSlippageExceeded)
		assert.Equal(t, bigmath.Units(5, 18).String(), ledger.BalanceOf(weth, trader).String())
	})

	t.Run("Success", func(t *testing.T) {
		quote, err := router.QuoteExactInputSingle(ctx, weth, dai, 3000, params.AmountIn)
		require.NoError(t, err)

		out, err := router.ExactInputSingle(ctx, trader, params)
		require.NoError(t, err)
		assert.Equal(t, "1974316068794122597700", out.String())
		assert.Equal(t, quote.String(), out.String())
		assert.Equal(t, out.String(), ledger.BalanceOf(dai, trader).String())
		assert.Equal(t, bigmath.Units(4, 18).String(), ledger.BalanceOf(weth, trader).String())

		reserves, err := router.GetReserves(ctx, weth, dai, 3000)
		require.NoError(t, err)
		// dai sorts before weth
		assert.Equal(t, bigmath.Units(101, 18).String(), reserves.Reserve1.String())
	})

	t.Run("UnknownPool", func(t *testing.T) {
		p := params
		p.Fee = 500
		_, err := router.ExactInputSingle(ctx, trader, p)
		assert.ErrorIs(t, err, errPoolNotFound)
	})
}

func TestExactOutputSingle(t *testing.T) {
	router, ledger := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, ledger.Mint(weth, trader, bigmath.Units(1, 18)))
	require.NoError(t, ledger.Approve(weth, trader, MainnetRouter, types.MaxAmount))

	params := dex.ExactOutputSingleParams{
		TokenIn:         weth,
		TokenOut:        dai,
		Fee:             3000,
		Recipient:       trader,
		AmountOut:       bigmath.Units(1_000, 18),
		AmountInMaximum: bigmath.Units(1, 18),
	}

	t.Run("SlippageExceeded", func(t *testing.T) {
		p := params
		p.AmountInMaximum = big.NewInt(1)
		_, err := router.ExactOutputSingle(ctx, trader, p)
		assert.ErrorIs(t, err, types.ErrSlippageExceeded)
	})

	t.Run("Success", func(t *testing.T) {
		in, err := router.ExactOutputSingle(ctx, trader, params)
		require.NoError(t, err)
		assert.Equal(t, "504024636724243082", in.String())
		assert.Equal(t, bigmath.Units(1_000, 18).String(), ledger.BalanceOf(dai, trader).String())
		assert.Equal(t, new(big.Int).Sub(bigmath.Units(1, 18), in).String(), ledger.BalanceOf(weth, trader).String())
	})

	t.Run("DrainsPool", func(t *testing.T) {
		p := params
		p.AmountOut = bigmath.Units(500_000, 18)
		p.AmountInMaximum = types.MaxAmount
		_, err := router.ExactOutputSingle(ctx, trader, p)
		assert.ErrorIs(t, err, errInsufficientLiquidity)
	})
}
