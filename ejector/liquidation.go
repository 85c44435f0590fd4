package ejector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/ejector/flashloan"
	"github.com/michaelpento.lv/ejector/types"
	bigmath "github.com/michaelpento.lv/ejector/utils/math"
)

var (
	errNoRoute         = errors.New("no swap route")
	errCallbackSkipped = errors.New("flash loan completed without callback")
	errRequestMismatch = errors.New("loan does not match the pending request")
)

type runKey struct{}

// run is the per-user state of an in-flight self-liquidation. state is
// guarded by Ejector.runsMu.
type run struct {
	user     common.Address
	request  *LoanRequest
	state    State
	step     Step
	baseline map[common.Address]*big.Int
	result   *Result
}

func runFrom(ctx context.Context) *run {
	r, _ := ctx.Value(runKey{}).(*run)
	return r
}

// RequestUnwind builds the flash loan that would cover all of user's debt,
// one entry per indebted asset in enumeration order.
func (e *Ejector) RequestUnwind(ctx context.Context, user common.Address) (*LoanRequest, error) {
	assets, err := e.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	req := &LoanRequest{User: user}
	for _, asset := range assets {
		data, err := e.data.GetUserReserveData(ctx, asset, user)
		if err != nil {
			return nil, fmt.Errorf("failed to get reserve data for %s: %w", asset.Hex(), err)
		}
		debt := data.TotalDebt()
		if debt.Sign() == 0 {
			continue
		}
		req.Assets = append(req.Assets, asset)
		req.Amounts = append(req.Amounts, debt)
		req.Modes = append(req.Modes, flashloan.ModeNoDebt)
	}
	if len(req.Assets) == 0 {
		return nil, types.NewError(types.ErrNoDebt, "request_unwind").WithActor(user)
	}

	req.Params, err = flashloan.EncodeUserParams(user)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// TakeLoanAndSelfLiquidate closes user's position in one transaction: a flash
// loan repays every debt, all collateral is withdrawn and swapped into the
// loaned assets, and the loan is settled. Whatever is left stays in custody,
// credited to user. On any failure nothing changes.
func (e *Ejector) TakeLoanAndSelfLiquidate(ctx context.Context, caller, user common.Address) (*Result, error) {
	const op = "self_liquidate"
	start := time.Now()

	result, err := e.selfLiquidate(ctx, op, caller, user)
	e.record(op, err)
	if err != nil {
		e.logger.Warn("Self-liquidation aborted",
			zap.String("user", user.Hex()),
			zap.String("caller", caller.Hex()),
			zap.Error(err))
		return nil, err
	}

	result.Duration = time.Since(start)
	e.metrics.RunDuration.Observe(result.Duration.Seconds())
	e.metrics.FlashLoanAssets.Add(float64(len(result.Loans)))
	for _, residual := range result.Residuals {
		f, _ := new(big.Float).SetInt(residual.Amount).Float64()
		e.metrics.Residuals.WithLabelValues(residual.Token.Hex()).Set(f)
	}

	e.logger.Info("Position ejected",
		zap.String("user", user.Hex()),
		zap.Int("loans", len(result.Loans)),
		zap.Int("swaps", len(result.Swaps)),
		zap.String("residualValue", result.ResidualValue.String()),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (e *Ejector) selfLiquidate(ctx context.Context, op string, caller, user common.Address) (*Result, error) {
	if err := e.authorize(op, caller, user); err != nil {
		return nil, err
	}
	unlock, err := e.lock(ctx, op, user)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e.metrics.ActiveRuns.Inc()
	defer e.metrics.ActiveRuns.Dec()

	req, err := e.RequestUnwind(ctx, user)
	if err != nil {
		return nil, err
	}

	r := &run{user: user, request: req, state: StateLoanRequested}
	e.runsMu.Lock()
	if _, busy := e.runs[user]; busy {
		e.runsMu.Unlock()
		return nil, types.NewError(types.ErrReentrantCall, op).WithActor(user)
	}
	e.runs[user] = r
	e.runsMu.Unlock()
	defer func() {
		e.runsMu.Lock()
		delete(e.runs, user)
		e.runsMu.Unlock()
	}()

	e.logger.Debug("Requesting flash loan",
		zap.String("user", user.Hex()),
		zap.Int("assets", len(req.Assets)))

	runCtx := context.WithValue(ctx, runKey{}, r)
	err = e.host.Transact(runCtx, func(ctx context.Context) error {
		if err := e.snapshotBaseline(ctx, r); err != nil {
			return err
		}
		if err := e.pool.FlashLoan(ctx, e.cfg.Address, e, req.Assets, req.Amounts, req.Modes,
			e.cfg.Address, req.Params, e.cfg.ReferralCode); err != nil {
			return err
		}
		if e.state(r) != StateUnwinding {
			return errCallbackSkipped
		}
		return nil
	})
	if err != nil {
		e.setState(r, StateAborted)
		if r.step != "" {
			return nil, fmt.Errorf("%s step failed: %w", r.step, err)
		}
		return nil, err
	}

	e.setState(r, StateSettled)
	r.result.State = StateSettled
	return r.result, nil
}

func (e *Ejector) snapshotBaseline(ctx context.Context, r *run) error {
	assets, err := e.enumerate(ctx)
	if err != nil {
		return err
	}
	r.baseline = make(map[common.Address]*big.Int, len(assets))
	for _, asset := range assets {
		r.baseline[asset] = e.tokens.BalanceOf(asset, e.cfg.Address)
	}
	return nil
}

// ExecuteOperation is the flash loan continuation. Only the configured pool
// may call it, for a loan this ejector initiated and is still waiting on.
func (e *Ejector) ExecuteOperation(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params []byte) error {
	const op = "execute_operation"
	err := e.executeOperation(ctx, op, caller, assets, amounts, premiums, initiator, params)
	e.record(op, err)
	return err
}

func (e *Ejector) executeOperation(ctx context.Context, op string, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params []byte) error {
	if caller != e.cfg.Pool {
		return types.NewError(types.ErrUnauthorizedCallback, op).WithActor(caller)
	}
	if initiator != e.cfg.Address {
		return types.NewError(types.ErrUnauthorizedCallback, op).WithActor(initiator)
	}
	user, err := flashloan.DecodeUserParams(params)
	if err != nil {
		return types.NewError(types.ErrUnauthorizedCallback, op).WithActor(caller).Wrap(err)
	}

	e.runsMu.Lock()
	r, ok := e.runs[user]
	switch {
	case !ok:
		e.runsMu.Unlock()
		return types.NewError(types.ErrUnauthorizedCallback, op).WithActor(user)
	case r.state != StateLoanRequested:
		e.runsMu.Unlock()
		return types.NewError(types.ErrReentrantCall, op).WithActor(user)
	}
	r.state = StateUnwinding
	e.runsMu.Unlock()

	if !r.request.matches(assets, amounts, premiums) {
		return types.NewError(types.ErrUnauthorizedCallback, op).WithActor(user).Wrap(errRequestMismatch)
	}

	loan := &flashloan.Request{
		Assets:    assets,
		Amounts:   amounts,
		Premiums:  premiums,
		Initiator: initiator,
		Params:    params,
	}
	return e.unwind(ctx, op, r, loan)
}

func (req *LoanRequest) matches(assets []common.Address, amounts, premiums []*big.Int) bool {
	if len(assets) != len(req.Assets) || len(amounts) != len(req.Amounts) || len(premiums) != len(req.Assets) {
		return false
	}
	for i := range assets {
		if assets[i] != req.Assets[i] || amounts[i].Cmp(req.Amounts[i]) != 0 {
			return false
		}
	}
	return true
}

// unwind repays, withdraws, swaps and settles. It runs inside the pool's
// flash loan transaction.
func (e *Ejector) unwind(ctx context.Context, op string, r *run, loan *flashloan.Request) error {
	user := r.user
	res := &Result{User: user, State: StateUnwinding}
	for i, asset := range loan.Assets {
		res.Loans = append(res.Loans, types.TokenAmount{Token: asset, Amount: bigmath.Clone(loan.Amounts[i])})
		res.Premiums = append(res.Premiums, types.TokenAmount{Token: asset, Amount: bigmath.Clone(loan.Premiums[i])})
	}
	r.result = res

	r.step = StepRepay
	for i, asset := range loan.Assets {
		remaining := bigmath.Clone(loan.Amounts[i])
		for _, mode := range []types.RateMode{types.RateModeStable, types.RateModeVariable} {
			data, err := e.data.GetUserReserveData(ctx, asset, user)
			if err != nil {
				return err
			}
			debt := data.CurrentVariableDebt
			if mode == types.RateModeStable {
				debt = data.CurrentStableDebt
			}
			if debt == nil || debt.Sign() == 0 || remaining.Sign() == 0 {
				continue
			}
			paid, err := e.repay(ctx, user, asset, bigmath.Min(debt, remaining), mode)
			if err != nil {
				return err
			}
			remaining.Sub(remaining, paid)
			res.Repaid = append(res.Repaid, types.TokenAmount{Token: asset, Amount: paid})
		}
	}

	r.step = StepWithdraw
	assets, err := e.enumerate(ctx)
	if err != nil {
		return err
	}
	leftover := make(map[common.Address]*big.Int)
	for _, asset := range assets {
		data, err := e.data.GetUserReserveData(ctx, asset, user)
		if err != nil {
			return err
		}
		if data.CurrentATokenBalance == nil || data.CurrentATokenBalance.Sign() == 0 {
			continue
		}
		withdrawn, err := e.withdraw(ctx, op, user, asset, types.MaxAmount)
		if err != nil {
			return err
		}
		leftover[asset] = bigmath.Clone(withdrawn)
		res.Withdrawn = append(res.Withdrawn, types.TokenAmount{Token: asset, Amount: withdrawn})
	}

	owed := make(map[common.Address]*big.Int, len(loan.Assets))
	for i, asset := range loan.Assets {
		owed[asset] = loan.Owed(i)
	}

	r.step = StepSwap
	collateral, err := e.byValue(ctx, res.Withdrawn)
	if err != nil {
		return err
	}
	for i, asset := range loan.Assets {
		need := bigmath.SubFloor(loan.Owed(i), e.available(r, asset))
		for _, c := range collateral {
			if need.Sign() == 0 {
				break
			}
			if c == asset {
				continue
			}
			budget := e.spendable(r, c, leftover[c], owed)
			if budget.Sign() == 0 {
				continue
			}
			swap, err := e.swapInto(ctx, c, budget, asset, need)
			if errors.Is(err, errNoRoute) {
				e.logger.Debug("Skipping collateral without route",
					zap.String("tokenIn", c.Hex()),
					zap.String("tokenOut", asset.Hex()))
				continue
			}
			if err != nil {
				return err
			}
			leftover[c].Sub(leftover[c], swap.AmountIn)
			need = bigmath.SubFloor(need, swap.AmountOut)
			res.Swaps = append(res.Swaps, *swap)
		}
	}

	r.step = StepSettle
	for _, asset := range loan.Assets {
		due := owed[asset]
		if available := e.available(r, asset); available.Cmp(due) < 0 {
			return types.NewError(types.ErrRepaymentShortfall, op).
				WithAsset(asset).WithAmount(new(big.Int).Sub(due, available)).WithActor(user)
		}
		if err := e.tokens.Approve(asset, e.cfg.Address, e.cfg.Pool, due); err != nil {
			return fmt.Errorf("failed to approve pool repayment: %w", err)
		}
	}

	res.ResidualValue = new(big.Int)
	for _, asset := range assets {
		residual := e.available(r, asset)
		if o, ok := owed[asset]; ok {
			residual.Sub(residual, o)
		}
		if residual.Sign() <= 0 {
			continue
		}
		e.credit(user, asset, residual)
		res.Residuals = append(res.Residuals, types.TokenAmount{Token: asset, Amount: residual})
		value, err := e.value(ctx, asset, residual)
		if err != nil {
			return err
		}
		res.ResidualValue.Add(res.ResidualValue, value)
	}
	return nil
}

// swapInto converts at most budget of tokenIn into need of tokenOut. When the
// budget cannot buy need outright the whole budget is sold instead.
func (e *Ejector) swapInto(ctx context.Context, tokenIn common.Address, budget *big.Int, tokenOut common.Address, need *big.Int) (*Swap, error) {
	quoteIn, err := e.swapper.QuoteExactOutput(ctx, tokenIn, tokenOut, need)
	if err == nil && quoteIn.Cmp(budget) <= 0 {
		maxIn := bigmath.Min(budget, new(big.Int).Add(quoteIn, bigmath.PercentMul(quoteIn, e.cfg.SlippageBps)))
		if err := e.tokens.Approve(tokenIn, e.cfg.Address, e.swapper.Address(), maxIn); err != nil {
			return nil, fmt.Errorf("failed to approve swapper: %w", err)
		}
		spent, err := e.swapper.SwapExactOutput(ctx, e.cfg.Address, tokenIn, maxIn, tokenOut, need)
		if err != nil {
			return nil, err
		}
		return &Swap{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: spent, AmountOut: bigmath.Clone(need), ExactOutput: true}, nil
	}

	quoteOut, err := e.swapper.QuoteExactInput(ctx, tokenIn, budget, tokenOut)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoRoute, err)
	}
	minOut := bigmath.PercentMulFloor(quoteOut, bigmath.BasisPoints.Uint64()-e.cfg.SlippageBps)
	if err := e.tokens.Approve(tokenIn, e.cfg.Address, e.swapper.Address(), budget); err != nil {
		return nil, fmt.Errorf("failed to approve swapper: %w", err)
	}
	out, err := e.swapper.SwapExactInput(ctx, e.cfg.Address, tokenIn, budget, tokenOut, minOut)
	if err != nil {
		return nil, err
	}
	return &Swap{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: bigmath.Clone(budget), AmountOut: out}, nil
}

// available is what the ejector gained in asset since the run started.
func (e *Ejector) available(r *run, asset common.Address) *big.Int {
	balance := e.tokens.BalanceOf(asset, e.cfg.Address)
	if base, ok := r.baseline[asset]; ok {
		return bigmath.SubFloor(balance, base)
	}
	return balance
}

// spendable is how much of the withdrawn collateral c may be sold. A
// collateral that is also a loaned asset keeps what its own leg owes.
func (e *Ejector) spendable(r *run, c common.Address, withdrawn *big.Int, owed map[common.Address]*big.Int) *big.Int {
	if o, ok := owed[c]; ok {
		return bigmath.Min(withdrawn, bigmath.SubFloor(e.available(r, c), o))
	}
	return bigmath.Clone(withdrawn)
}

// byValue orders withdrawn collateral by oracle value, largest first. Ties
// keep enumeration order.
func (e *Ejector) byValue(ctx context.Context, withdrawn []types.TokenAmount) ([]common.Address, error) {
	values := make(map[common.Address]*big.Int, len(withdrawn))
	out := make([]common.Address, 0, len(withdrawn))
	for _, w := range withdrawn {
		v, err := e.value(ctx, w.Token, w.Amount)
		if err != nil {
			return nil, err
		}
		values[w.Token] = v
		out = append(out, w.Token)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return values[out[i]].Cmp(values[out[j]]) > 0
	})
	return out, nil
}

// value prices amount of asset in the oracle's base currency.
func (e *Ejector) value(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	conf, err := e.data.GetReserveConfigurationData(ctx, asset)
	if err != nil {
		return nil, err
	}
	price, err := e.oracle.GetAssetPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	return bigmath.MulDiv(amount, price, bigmath.Pow10(conf.Decimals)), nil
}

// enumerate returns the assets in the order debts and collateral are visited.
func (e *Ejector) enumerate(ctx context.Context) ([]common.Address, error) {
	if len(e.cfg.Assets) > 0 {
		return e.cfg.Assets, nil
	}
	assets, err := e.data.GetAllReservesTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reserves: %w", err)
	}
	return assets, nil
}

func (e *Ejector) state(r *run) State {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	return r.state
}

func (e *Ejector) setState(r *run, s State) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	r.state = s
}
