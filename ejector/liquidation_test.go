package ejector

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/ejector/flashloan"
	"github.com/michaelpento.lv/ejector/lending"
	"github.com/michaelpento.lv/ejector/swapper"
	"github.com/michaelpento.lv/ejector/types"
)

// replayReceiver delivers every flash loan callback twice.
type replayReceiver struct {
	flashloan.Receiver
}

func (r replayReceiver) ExecuteOperation(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params []byte) error {
	if err := r.Receiver.ExecuteOperation(ctx, caller, assets, amounts, premiums, initiator, params); err != nil {
		return err
	}
	return r.Receiver.ExecuteOperation(ctx, caller, assets, amounts, premiums, initiator, params)
}

type replayingPool struct {
	*lending.Pool
}

func (p replayingPool) FlashLoan(ctx context.Context, caller common.Address, receiver flashloan.Receiver, assets []common.Address, amounts []*big.Int, modes []flashloan.Mode, onBehalfOf common.Address, params []byte, referralCode uint16) error {
	return p.Pool.FlashLoan(ctx, caller, replayReceiver{receiver}, assets, amounts, modes, onBehalfOf, params, referralCode)
}

// reentrantSwapper calls back into the ejector in the middle of a swap.
type reentrantSwapper struct {
	*swapper.SwapRouter
	ejector *Ejector
}

func (s *reentrantSwapper) SwapExactOutput(ctx context.Context, caller, tokenIn common.Address, maxAmountIn *big.Int, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
	if _, err := s.ejector.WithdrawFundsToUser(ctx, user, dai, units(1, 18)); err != nil {
		return nil, err
	}
	return s.SwapRouter.SwapExactOutput(ctx, caller, tokenIn, maxAmountIn, tokenOut, amountOut)
}

func TestRequestUnwind(t *testing.T) {
	w := newWorld(t, deepLiquidity())
	ctx := context.Background()

	_, err := w.ejector.RequestUnwind(ctx, user)
	assert.ErrorIs(t, err, types.ErrNoDebt)

	w.openPosition(t, user)
	req, err := w.ejector.RequestUnwind(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, user, req.User)
	assert.Equal(t, []common.Address{dai, usdc}, req.Assets)
	assert.Equal(t, []string{units(9_000, 18).String(), units(10_000, 6).String()},
		[]string{req.Amounts[0].String(), req.Amounts[1].String()})
	assert.Equal(t, []flashloan.Mode{flashloan.ModeNoDebt, flashloan.ModeNoDebt}, req.Modes)

	decoded, err := flashloan.DecodeUserParams(req.Params)
	require.NoError(t, err)
	assert.Equal(t, user, decoded)
}

func TestTakeLoanAndSelfLiquidate(t *testing.T) {
	w := newWorld(t, deepLiquidity())
	ctx := context.Background()
	w.openPosition(t, user)
	w.approveCollateral(t, user)

	result, err := w.ejector.TakeLoanAndSelfLiquidate(ctx, user, user)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, result.State)

	data, err := w.ejector.AccountData(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "0", data.TotalDebt.String())
	assert.Equal(t, "0", data.TotalCollateral.String())
	for _, asset := range []common.Address{link, yfi} {
		assert.Equal(t, "0", w.ledger.BalanceOf(w.tokens[asset].AToken, user).String())
	}

	t.Run("Result", func(t *testing.T) {
		require.Len(t, result.Loans, 2)
		assert.Equal(t, "8100000000000000000", result.Premiums[0].Amount.String())
		assert.Equal(t, "9000000", result.Premiums[1].Amount.String())
		assert.Len(t, result.Repaid, 2)
		assert.Len(t, result.Withdrawn, 2)

		// YFI is worth more than the LINK and covers both debts.
		require.Len(t, result.Swaps, 2)
		for _, swap := range result.Swaps {
			assert.Equal(t, yfi, swap.TokenIn)
			assert.True(t, swap.ExactOutput)
		}
		assert.Equal(t, "9008100000000000000000", result.Swaps[0].AmountOut.String())
		assert.Equal(t, "10009000000", result.Swaps[1].AmountOut.String())
		assert.Positive(t, result.ResidualValue.Sign())
	})

	t.Run("Residuals", func(t *testing.T) {
		assert.Equal(t, units(1_000, 18).String(), w.ejector.HeldBalance(user, link).String())
		heldYFI := w.ejector.HeldBalance(user, yfi)
		assert.Positive(t, heldYFI.Sign())
		assert.Negative(t, heldYFI.Cmp(units(1, 18)))

		// Borrowed proceeds stay credited to the user.
		assert.Equal(t, units(9_000, 18).String(), w.ejector.HeldBalance(user, dai).String())
		assert.Equal(t, units(10_000, 6).String(), w.ejector.HeldBalance(user, usdc).String())
		assert.Equal(t, units(9_000, 18).String(), w.ledger.BalanceOf(dai, ejectorAddr).String())

		paid, err := w.ejector.WithdrawFundsToUser(ctx, user, yfi, types.MaxAmount)
		require.NoError(t, err)
		assert.Equal(t, heldYFI.String(), paid.String())
		assert.Equal(t, heldYFI.String(), w.ledger.BalanceOf(yfi, user).String())
	})

	t.Run("NothingLeftToUnwind", func(t *testing.T) {
		_, err := w.ejector.TakeLoanAndSelfLiquidate(ctx, user, user)
		assert.ErrorIs(t, err, types.ErrNoDebt)
	})

	assert.Equal(t, uint64(1), w.pool.FlashLoanCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(w.ejector.metrics.Operations.WithLabelValues("self_liquidate", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(w.ejector.metrics.ActiveRuns))
}

func TestSelfLiquidateByOperator(t *testing.T) {
	w := newWorld(t, deepLiquidity())
	ctx := context.Background()
	w.openPosition(t, user)
	w.approveCollateral(t, user)

	_, err := w.ejector.TakeLoanAndSelfLiquidate(ctx, operator, user)
	assert.ErrorIs(t, err, types.ErrUnauthorizedCaller)

	require.NoError(t, w.ejector.ApproveOperator(ctx, user, operator, true))
	_, err = w.ejector.TakeLoanAndSelfLiquidate(ctx, operator, user)
	require.NoError(t, err)
	assert.Equal(t, "0", w.debt(t, user, dai).String())
	assert.Equal(t, "0", w.ejector.HeldBalance(operator, yfi).String())
	assert.Positive(t, w.ejector.HeldBalance(user, yfi).Sign())
}

func TestSelfLiquidateWithoutCollateralAllowance(t *testing.T) {
	w := newWorld(t, deepLiquidity())
	ctx := context.Background()
	w.openPosition(t, user)
	before := w.snapshot(user)

	_, err := w.ejector.TakeLoanAndSelfLiquidate(ctx, user, user)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAllowanceNotApproved)
	assert.Contains(t, err.Error(), "withdraw step failed")
	assert.Equal(t, before, w.snapshot(user))
}

func TestSelfLiquidateShortfall(t *testing.T) {
	w := newWorld(t, shallowLiquidity())
	ctx := context.Background()
	w.openPosition(t, user)
	w.approveCollateral(t, user)
	before := w.snapshot(user)
	committed := w.host.Committed()

	_, err := w.ejector.TakeLoanAndSelfLiquidate(ctx, user, user)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRepaymentShortfall)
	assert.Contains(t, err.Error(), "settle step failed")

	assert.Equal(t, before, w.snapshot(user))
	assert.Equal(t, units(9_000, 18).String(), w.debt(t, user, dai).String())
	assert.Equal(t, committed, w.host.Committed())
	assert.Equal(t, uint64(0), w.pool.FlashLoanCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(w.ejector.metrics.Failures.WithLabelValues("self_liquidate", "repayment_shortfall")))
}

func TestSelfLiquidateDuplicateCallback(t *testing.T) {
	w := newWorld(t, deepLiquidity())
	ctx := context.Background()
	w.openPosition(t, user)
	w.approveCollateral(t, user)

	deps := w.deps(t)
	deps.Pool = replayingPool{w.pool}
	ej, err := New(ctx, w.config(), deps)
	require.NoError(t, err)
	before := w.snapshot(user)

	_, err = ej.TakeLoanAndSelfLiquidate(ctx, user, user)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrReentrantCall)
	assert.Equal(t, before, w.snapshot(user))
	assert.Equal(t, units(10_000, 6).String(), w.debt(t, user, usdc).String())
}

func TestSelfLiquidateReentrantSwap(t *testing.T) {
	w := newWorld(t, deepLiquidity())
	ctx := context.Background()
	w.openPosition(t, user)
	w.approveCollateral(t, user)

	reentrant := &reentrantSwapper{SwapRouter: w.swapper}
	deps := w.deps(t)
	deps.Swapper = reentrant
	ej, err := New(ctx, w.config(), deps)
	require.NoError(t, err)
	reentrant.ejector = ej
	before := w.snapshot(user)

	_, err = ej.TakeLoanAndSelfLiquidate(ctx, user, user)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrReentrantCall)
	assert.Contains(t, err.Error(), "swap step failed")
	assert.Equal(t, before, w.snapshot(user))

	// The run released its lock and its slot.
	assert.Empty(t, ej.runs)
	_, err = ej.WithdrawFundsToUser(ctx, user, dai, units(1, 18))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
}

func TestSelfLiquidateConcurrent(t *testing.T) {
	w := newWorld(t, deepLiquidity())
	ctx := context.Background()

	users := make([]common.Address, 8)
	for i := range users {
		users[i] = common.HexToAddress(fmt.Sprintf("0x%040x", 0x1000+i))
		w.openPosition(t, users[i])
		w.approveCollateral(t, users[i])
	}

	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, account := range users {
		wg.Add(1)
		go func(i int, account common.Address) {
			defer wg.Done()
			_, errs[i] = w.ejector.TakeLoanAndSelfLiquidate(ctx, account, account)
		}(i, account)
	}
	wg.Wait()

	for i, account := range users {
		require.NoError(t, errs[i], "user %d", i)
		assert.Equal(t, "0", w.debt(t, account, dai).String())
		assert.Equal(t, "0", w.debt(t, account, usdc).String())
		assert.Equal(t, units(1_000, 18).String(), w.ejector.HeldBalance(account, link).String())
	}
	assert.Equal(t, uint64(len(users)), w.pool.FlashLoanCount())
	assert.Equal(t, 0.0, testutil.ToFloat64(w.ejector.metrics.ActiveRuns))
}

func TestSelfLiquidateCollateralAlsoBorrowed(t *testing.T) {
	pools := append(deepLiquidity(), liquidity{dai, usdc, units(10_000_000, 18), units(10_000_000, 6)})
	w := newWorld(t, pools)
	ctx := context.Background()

	w.fund(t, user, dai, units(15_000, 18), ejectorAddr)
	w.fund(t, user, link, units(700, 18), ejectorAddr)
	require.NoError(t, w.ejector.DepositOnBehalfOf(ctx, user, user, dai, units(15_000, 18)))
	require.NoError(t, w.ejector.DepositOnBehalfOf(ctx, user, user, link, units(700, 18)))
	require.NoError(t, w.pool.ApproveDelegation(ctx, user, w.tokens[dai].StableDebtToken, ejectorAddr, units(9_000, 18)))
	require.NoError(t, w.pool.ApproveDelegation(ctx, user, w.tokens[usdc].StableDebtToken, ejectorAddr, units(10_000, 6)))
	require.NoError(t, w.ejector.BorrowOnBehalfOf(ctx, user, user, dai, units(9_000, 18), types.RateModeStable))
	require.NoError(t, w.ejector.BorrowOnBehalfOf(ctx, user, user, usdc, units(10_000, 6), types.RateModeStable))
	for _, asset := range []common.Address{dai, link} {
		require.NoError(t, w.ledger.Approve(w.tokens[asset].AToken, user, ejectorAddr, types.MaxAmount))
	}

	result, err := w.ejector.TakeLoanAndSelfLiquidate(ctx, user, user)
	require.NoError(t, err)
	assert.Equal(t, "0", w.debt(t, user, dai).String())
	assert.Equal(t, "0", w.debt(t, user, usdc).String())

	// Only the DAI beyond its own 9008.1 repayment is sold, the rest of the
	// USDC leg comes from LINK.
	require.Len(t, result.Swaps, 2)
	assert.Equal(t, dai, result.Swaps[0].TokenIn)
	assert.False(t, result.Swaps[0].ExactOutput)
	assert.Equal(t, "5991900000000000000000", result.Swaps[0].AmountIn.String())
	assert.Equal(t, link, result.Swaps[1].TokenIn)
	assert.True(t, result.Swaps[1].ExactOutput)

	assert.Equal(t, units(9_000, 18).String(), w.ejector.HeldBalance(user, dai).String())
	heldLINK := w.ejector.HeldBalance(user, link)
	assert.Positive(t, heldLINK.Sign())
	assert.Negative(t, heldLINK.Cmp(units(700, 18)))
}
