package simulator

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/ejector/config"
	"github.com/michaelpento.lv/ejector/ejector"
	"github.com/michaelpento.lv/ejector/types"
	bigmath "github.com/michaelpento.lv/ejector/utils/math"
)

func TestNewWorld(t *testing.T) {
	ctx := context.Background()
	w, err := NewWorld(ctx, config.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	tokens := w.Tokens()
	require.Len(t, tokens, 5)
	assert.Equal(t, "LINK", tokens[0].Symbol)

	usdc, err := w.Token("USDC")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), usdc.Decimals)
	assert.Equal(t, "10000000000000", w.Ledger.BalanceOf(usdc.Address, usdc.Reserve.AToken).String())

	price, err := w.Oracle.GetAssetPrice(ctx, usdc.Address)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000", price.String())

	_, err = w.Token("SNX")
	assert.ErrorIs(t, err, types.ErrUnknownReserve)

	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Simulation.Pools[0].TokenA = "SNX"
		_, err := NewWorld(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}

func TestOpenPosition(t *testing.T) {
	ctx := context.Background()
	w, err := NewWorld(ctx, config.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, w.OpenPosition(ctx, DefaultUser))
	data, err := w.Ejector.AccountData(ctx, DefaultUser)
	require.NoError(t, err)
	// 1000 LINK at 0.01 plus 1 YFI at 20.
	assert.Equal(t, "30000000000000000000", data.TotalCollateral.String())
	// 9000 DAI plus 10000 USDC at 0.0005.
	assert.Equal(t, "9500000000000000000", data.TotalDebt.String())
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	w, err := NewWorld(ctx, config.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := w.Run(ctx, common.Address{})
	require.NoError(t, err)
	require.NoError(t, report.Err)
	assert.Equal(t, DefaultUser, report.User)
	assert.Equal(t, ejector.StateSettled, report.Result.State)
	assert.Equal(t, "9500000000000000000", report.Before.TotalDebt.String())
	assert.Equal(t, "0", report.After.TotalDebt.String())
	assert.Equal(t, "0", report.After.TotalCollateral.String())

	link, err := w.Token("LINK")
	require.NoError(t, err)
	assert.Equal(t, "1000", bigmath.FormatUnits(w.Ejector.HeldBalance(DefaultUser, link.Address), link.Decimals))

	var found bool
	for _, s := range report.Metrics {
		if s.Name == "ejector_operations_total" && s.Labels == `operation="self_liquidate",outcome="success"` {
			found = true
			assert.Equal(t, 1.0, s.Value)
		}
	}
	assert.True(t, found, "self_liquidate success sample missing from %v", report.Metrics)
}

func TestRunShortfall(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Simulation.Pools = []config.PoolConfig{
		{TokenA: "LINK", TokenB: "DAI", Fee: 3000, AmountA: "100", AmountB: "2000"},
		{TokenA: "LINK", TokenB: "USDC", Fee: 3000, AmountA: "100", AmountB: "2000"},
	}
	w, err := NewWorld(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := w.Run(ctx, DefaultUser)
	require.NoError(t, err)
	assert.ErrorIs(t, report.Err, types.ErrRepaymentShortfall)
	assert.Nil(t, report.Result)
	assert.Equal(t, report.Before.TotalDebt.String(), report.After.TotalDebt.String())
	assert.Equal(t, report.Before.TotalCollateral.String(), report.After.TotalCollateral.String())
}
