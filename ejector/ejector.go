package ejector

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/ejector/chain"
	"github.com/michaelpento.lv/ejector/flashloan"
	"github.com/michaelpento.lv/ejector/lending"
	"github.com/michaelpento.lv/ejector/types"
	bigmath "github.com/michaelpento.lv/ejector/utils/math"
	"github.com/michaelpento.lv/ejector/utils/metrics"
)

const lockStripes = 64

// Swapper is the swap surface the ejector routes collateral through.
type Swapper interface {
	Address() common.Address
	QuoteExactInput(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address) (*big.Int, error)
	QuoteExactOutput(ctx context.Context, tokenIn, tokenOut common.Address, amountOut *big.Int) (*big.Int, error)
	SwapExactInput(ctx context.Context, caller, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, minAmountOut *big.Int) (*big.Int, error)
	SwapExactOutput(ctx context.Context, caller, tokenIn common.Address, maxAmountIn *big.Int, tokenOut common.Address, amountOut *big.Int) (*big.Int, error)
}

// Deps are the collaborators an Ejector drives.
type Deps struct {
	Pool       lending.LendingPool
	Delegation lending.CreditDelegation
	Data       lending.DataProvider
	Addresses  lending.AddressesProvider
	Oracle     lending.PriceOracle
	Swapper    Swapper
	Host       *chain.Host
	Tokens     chain.Custody
	Metrics    *metrics.EjectorMetrics
	Logger     *zap.Logger
}

// Ejector operates lending positions on behalf of their owners and closes
// them out atomically with a flash loan.
type Ejector struct {
	cfg        Config
	pool       lending.LendingPool
	delegation lending.CreditDelegation
	data       lending.DataProvider
	addresses  lending.AddressesProvider
	oracle     lending.PriceOracle
	swapper    Swapper
	host       *chain.Host
	tokens     chain.Custody
	metrics    *metrics.EjectorMetrics
	logger     *zap.Logger

	// operators: user -> operator -> zero address -> MaxAmount when approved.
	operators *chain.Capabilities
	// claims: ejector -> account -> asset -> custody balance owed to account.
	claims *chain.Capabilities

	locks [lockStripes]sync.Mutex

	runsMu sync.Mutex
	runs   map[common.Address]*run
}

var _ flashloan.Receiver = (*Ejector)(nil)

// New validates cfg against the collaborators and the protocol's address
// registry and returns a ready Ejector.
func New(ctx context.Context, cfg Config, deps Deps) (*Ejector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Pool == nil || deps.Delegation == nil || deps.Data == nil || deps.Addresses == nil || deps.Oracle == nil {
		return nil, fmt.Errorf("lending protocol dependencies cannot be nil")
	}
	if deps.Swapper == nil {
		return nil, fmt.Errorf("swapper cannot be nil")
	}
	if deps.Host == nil {
		return nil, fmt.Errorf("host cannot be nil")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token custody cannot be nil")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewEjectorMetrics("ejector", nil)
	}

	if err := checkAddress("pool", cfg.Pool, deps.Pool.Address()); err != nil {
		return nil, err
	}
	if err := checkAddress("oracle", cfg.Oracle, deps.Oracle.Address()); err != nil {
		return nil, err
	}
	if err := checkAddress("addresses provider", cfg.AddressesProvider, deps.Addresses.Address()); err != nil {
		return nil, err
	}
	if err := checkAddress("swap router", cfg.SwapRouter, deps.Swapper.Address()); err != nil {
		return nil, err
	}

	registeredPool, err := deps.Addresses.GetLendingPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lending pool: %w", err)
	}
	if err := checkAddress("registry lending pool", cfg.Pool, registeredPool); err != nil {
		return nil, err
	}
	registeredOracle, err := deps.Addresses.GetPriceOracle(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve price oracle: %w", err)
	}
	if err := checkAddress("registry price oracle", cfg.Oracle, registeredOracle); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	for _, asset := range cfg.Assets {
		if _, err := deps.Data.GetReserveTokensAddresses(ctx, asset); err != nil {
			return nil, fmt.Errorf("failed to resolve reserve %s: %w", asset.Hex(), err)
		}
	}

	journal := deps.Host.Journal()
	return &Ejector{
		cfg:        cfg,
		pool:       deps.Pool,
		delegation: deps.Delegation,
		data:       deps.Data,
		addresses:  deps.Addresses,
		oracle:     deps.Oracle,
		swapper:    deps.Swapper,
		host:       deps.Host,
		tokens:     deps.Tokens,
		metrics:    deps.Metrics,
		logger:     deps.Logger.Named("ejector"),
		operators:  chain.NewCapabilities(journal),
		claims:     chain.NewCapabilities(journal),
		runs:       make(map[common.Address]*run),
	}, nil
}

func checkAddress(name string, want, got common.Address) error {
	if want != got {
		return fmt.Errorf("%s mismatch: configured %s, found %s", name, want.Hex(), got.Hex())
	}
	return nil
}

func (e *Ejector) Address() common.Address           { return e.cfg.Address }
func (e *Ejector) Pool() common.Address              { return e.cfg.Pool }
func (e *Ejector) Oracle() common.Address            { return e.cfg.Oracle }
func (e *Ejector) AddressesProvider() common.Address { return e.cfg.AddressesProvider }
func (e *Ejector) SwapRouter() common.Address        { return e.cfg.SwapRouter }

// Assets returns the configured enumeration order.
func (e *Ejector) Assets() []common.Address {
	return append([]common.Address(nil), e.cfg.Assets...)
}

// ApproveOperator lets operator act on caller's position.
func (e *Ejector) ApproveOperator(ctx context.Context, caller, operator common.Address, approved bool) error {
	return e.host.Transact(ctx, func(ctx context.Context) error {
		limit := new(big.Int)
		if approved {
			limit = types.MaxAmount
		}
		e.operators.Grant(caller, operator, common.Address{}, limit)
		return nil
	})
}

func (e *Ejector) IsOperator(user, operator common.Address) bool {
	return types.IsMax(e.operators.Limit(user, operator, common.Address{}))
}

// HeldBalance returns the custody balance owed to account.
func (e *Ejector) HeldBalance(account, asset common.Address) *big.Int {
	return e.claims.Limit(e.cfg.Address, account, asset)
}

// AccountData returns the protocol's view of user's position.
func (e *Ejector) AccountData(ctx context.Context, user common.Address) (*types.AccountData, error) {
	return e.pool.GetUserAccountData(ctx, user)
}

// DepositOnBehalfOf supplies amount of asset to the pool for user. The
// deposit is funded from the caller's custody balance first and the rest is
// pulled from the caller, who must have approved the ejector.
func (e *Ejector) DepositOnBehalfOf(ctx context.Context, caller, user, asset common.Address, amount *big.Int) error {
	const op = "deposit"
	return e.operate(ctx, op, caller, user, func(ctx context.Context) error {
		if err := positive(op, asset, amount); err != nil {
			return err
		}
		held := bigmath.Min(e.HeldBalance(caller, asset), amount)
		if held.Sign() > 0 {
			e.debit(caller, asset, held)
		}
		if shortfall := new(big.Int).Sub(amount, held); shortfall.Sign() > 0 {
			if err := e.tokens.TransferFrom(asset, e.cfg.Address, caller, e.cfg.Address, shortfall); err != nil {
				return types.NewError(types.ErrInsufficientBalance, op).
					WithAsset(asset).WithAmount(amount).WithActor(caller).Wrap(err)
			}
		}
		if err := e.tokens.Approve(asset, e.cfg.Address, e.cfg.Pool, amount); err != nil {
			return fmt.Errorf("failed to approve pool: %w", err)
		}
		return e.pool.Deposit(ctx, e.cfg.Address, asset, amount, user, e.cfg.ReferralCode)
	})
}

// BorrowOnBehalfOf borrows amount of asset against user's collateral. The
// proceeds stay in custody, credited to user.
func (e *Ejector) BorrowOnBehalfOf(ctx context.Context, caller, user, asset common.Address, amount *big.Int, rateMode types.RateMode) error {
	const op = "borrow"
	return e.operate(ctx, op, caller, user, func(ctx context.Context) error {
		if err := positive(op, asset, amount); err != nil {
			return err
		}
		tokens, err := e.data.GetReserveTokensAddresses(ctx, asset)
		if err != nil {
			return err
		}
		allowance, err := e.delegation.BorrowAllowance(ctx, tokens.DebtToken(rateMode), user, e.cfg.Address)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return types.NewError(types.ErrDelegationNotApproved, op).
				WithAsset(asset).WithAmount(amount).WithActor(user)
		}
		if err := e.pool.Borrow(ctx, e.cfg.Address, asset, amount, rateMode, e.cfg.ReferralCode, user); err != nil {
			return err
		}
		e.credit(user, asset, amount)
		return nil
	})
}

// RepayDebt repays the caller's own debt from the caller's custody balance.
func (e *Ejector) RepayDebt(ctx context.Context, caller, asset common.Address, amount *big.Int, rateMode types.RateMode) (*big.Int, error) {
	return e.RepayOnBehalfOf(ctx, caller, caller, asset, amount, rateMode)
}

// RepayOnBehalfOf repays user's debt from user's custody balance. It returns
// the amount repaid, which never exceeds the outstanding debt.
func (e *Ejector) RepayOnBehalfOf(ctx context.Context, caller, user, asset common.Address, amount *big.Int, rateMode types.RateMode) (*big.Int, error) {
	const op = "repay"
	var paid *big.Int
	err := e.operate(ctx, op, caller, user, func(ctx context.Context) error {
		if err := positive(op, asset, amount); err != nil {
			return err
		}
		held := e.HeldBalance(user, asset)
		if !types.IsMax(amount) && held.Cmp(amount) < 0 {
			return types.NewError(types.ErrInsufficientBalance, op).
				WithAsset(asset).WithAmount(amount).WithActor(user)
		}
		budget := bigmath.Min(held, amount)
		if budget.Sign() == 0 {
			return types.NewError(types.ErrInsufficientBalance, op).WithAsset(asset).WithActor(user)
		}

		var err error
		paid, err = e.repay(ctx, user, asset, budget, rateMode)
		if err != nil {
			return err
		}
		e.debit(user, asset, paid)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

func (e *Ejector) repay(ctx context.Context, user, asset common.Address, amount *big.Int, rateMode types.RateMode) (*big.Int, error) {
	if err := e.tokens.Approve(asset, e.cfg.Address, e.cfg.Pool, amount); err != nil {
		return nil, fmt.Errorf("failed to approve pool: %w", err)
	}
	paid, err := e.pool.Repay(ctx, e.cfg.Address, asset, amount, rateMode, user)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Approve(asset, e.cfg.Address, e.cfg.Pool, new(big.Int)); err != nil {
		return nil, fmt.Errorf("failed to reset pool allowance: %w", err)
	}
	return paid, nil
}

// WithdrawOnBehalfOf pulls user's aTokens and redeems them into custody,
// credited to user. types.MaxAmount withdraws the whole balance.
func (e *Ejector) WithdrawOnBehalfOf(ctx context.Context, caller, user, asset common.Address, amount *big.Int) (*big.Int, error) {
	const op = "withdraw"
	var withdrawn *big.Int
	err := e.operate(ctx, op, caller, user, func(ctx context.Context) error {
		if err := positive(op, asset, amount); err != nil {
			return err
		}
		var err error
		withdrawn, err = e.withdraw(ctx, op, user, asset, amount)
		if err != nil {
			return err
		}
		e.credit(user, asset, withdrawn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

func (e *Ejector) withdraw(ctx context.Context, op string, user, asset common.Address, amount *big.Int) (*big.Int, error) {
	tokens, err := e.data.GetReserveTokensAddresses(ctx, asset)
	if err != nil {
		return nil, err
	}
	balance := e.tokens.BalanceOf(tokens.AToken, user)
	if types.IsMax(amount) {
		amount = balance
	}
	if amount.Sign() == 0 || balance.Cmp(amount) < 0 {
		return nil, types.NewError(types.ErrInsufficientBalance, op).
			WithAsset(tokens.AToken).WithAmount(amount).WithActor(user)
	}
	if e.tokens.Allowance(tokens.AToken, user, e.cfg.Address).Cmp(amount) < 0 {
		return nil, types.NewError(types.ErrAllowanceNotApproved, op).
			WithAsset(tokens.AToken).WithAmount(amount).WithActor(user)
	}

	if err := e.tokens.TransferFrom(tokens.AToken, e.cfg.Address, user, e.cfg.Address, amount); err != nil {
		return nil, err
	}
	return e.pool.Withdraw(ctx, e.cfg.Address, asset, amount, e.cfg.Address)
}

// WithdrawFundsToUser pays out the caller's custody balance.
// types.MaxAmount pays out all of it.
func (e *Ejector) WithdrawFundsToUser(ctx context.Context, caller, asset common.Address, amount *big.Int) (*big.Int, error) {
	const op = "withdraw_funds"
	var paid *big.Int
	err := e.operate(ctx, op, caller, caller, func(ctx context.Context) error {
		if err := positive(op, asset, amount); err != nil {
			return err
		}
		held := e.HeldBalance(caller, asset)
		paid = amount
		if types.IsMax(amount) {
			paid = held
		}
		if paid.Sign() == 0 || held.Cmp(paid) < 0 {
			return types.NewError(types.ErrInsufficientBalance, op).
				WithAsset(asset).WithAmount(amount).WithActor(caller)
		}
		e.debit(caller, asset, paid)
		return e.tokens.Transfer(asset, e.cfg.Address, caller, paid)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// operate runs fn as one atomic transaction under user's lock after checking
// caller may act for user.
func (e *Ejector) operate(ctx context.Context, op string, caller, user common.Address, fn func(ctx context.Context) error) error {
	err := e.authorize(op, caller, user)
	if err == nil {
		var unlock func()
		unlock, err = e.lock(ctx, op, user)
		if err == nil {
			err = e.host.Transact(ctx, fn)
			unlock()
		}
	}
	e.record(op, err)
	if err != nil {
		e.logger.Debug("Operation failed",
			zap.String("op", op),
			zap.String("caller", caller.Hex()),
			zap.String("user", user.Hex()),
			zap.Error(err))
	}
	return err
}

func (e *Ejector) authorize(op string, caller, user common.Address) error {
	if caller == user || e.IsOperator(user, caller) {
		return nil
	}
	return types.NewError(types.ErrUnauthorizedCaller, op).WithActor(caller)
}

// lock takes user's stripe. Calls made from inside a self-liquidation run
// would deadlock on the stripe the run holds, so they are rejected.
func (e *Ejector) lock(ctx context.Context, op string, user common.Address) (func(), error) {
	if r := runFrom(ctx); r != nil {
		return nil, types.NewError(types.ErrReentrantCall, op).WithActor(r.user)
	}
	m := &e.locks[xxhash.Sum64(user.Bytes())%lockStripes]
	m.Lock()
	return m.Unlock, nil
}

func (e *Ejector) record(op string, err error) {
	if err != nil {
		e.metrics.Operations.WithLabelValues(op, "failure").Inc()
		e.metrics.Failures.WithLabelValues(op, types.KindLabel(err)).Inc()
		return
	}
	e.metrics.Operations.WithLabelValues(op, "success").Inc()
}

func (e *Ejector) credit(account, asset common.Address, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	current := e.claims.Limit(e.cfg.Address, account, asset)
	e.claims.Grant(e.cfg.Address, account, asset, current.Add(current, amount))
}

func (e *Ejector) debit(account, asset common.Address, amount *big.Int) {
	e.claims.Consume(e.cfg.Address, account, asset, amount)
}

func positive(op string, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return types.NewError(types.ErrInvalidAmount, op).WithAsset(asset)
	}
	return nil
}
