package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/ejector/chain"
	"github.com/michaelpento.lv/ejector/flashloan"
	"github.com/michaelpento.lv/ejector/types"
	bigmath "github.com/michaelpento.lv/ejector/utils/math"
)

var (
	errReserveExists      = errors.New("lending pool: reserve already initialised")
	errInvalidReserve     = errors.New("lending pool: invalid reserve configuration")
	errInconsistentParams = errors.New("lending pool: inconsistent flash loan params")
	errTransferDisabled   = errors.New("lending pool: debt tokens are not transferable")
	errNilReceiver        = errors.New("lending pool: flash loan receiver not set")
)

// ReserveConfig describes one listed asset. LTV and LiquidationThreshold are
// basis points.
type ReserveConfig struct {
	Asset                common.Address
	Symbol               string
	Decimals             uint8
	LTV                  uint64
	LiquidationThreshold uint64
}

type reserve struct {
	ReserveConfig
	tokens types.ReserveTokens
}

// Pool is an in-memory Aave V2 style lending pool. Underlying liquidity is held
// by each reserve's aToken address, as on-chain. Interest does not accrue.
type Pool struct {
	address    common.Address
	host       *chain.Host
	ledger     *chain.Ledger
	oracle     *Oracle
	logger     *zap.Logger
	premiumBps uint64

	mu          sync.RWMutex
	reserves    map[common.Address]*reserve
	order       []common.Address
	debtTokens  map[common.Address]common.Address
	nonce       uint64
	delegations *chain.Capabilities

	flashLoans atomic.Uint64
}

// NewPool deploys a pool at address.
func NewPool(address common.Address, host *chain.Host, ledger *chain.Ledger, oracle *Oracle, logger *zap.Logger) (*Pool, error) {
	if host == nil {
		return nil, fmt.Errorf("host cannot be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if oracle == nil {
		return nil, fmt.Errorf("oracle cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Pool{
		address:     address,
		host:        host,
		ledger:      ledger,
		oracle:      oracle,
		logger:      logger.Named("pool"),
		premiumBps:  flashloan.DefaultPremiumBps,
		reserves:    make(map[common.Address]*reserve),
		debtTokens:  make(map[common.Address]common.Address),
		delegations: chain.NewCapabilities(host.Journal()),
	}, nil
}

func (p *Pool) Address() common.Address {
	return p.address
}

// FlashLoanPremiumBps returns the premium charged on flash loans.
func (p *Pool) FlashLoanPremiumBps() uint64 {
	return p.premiumBps
}

// FlashLoanCount returns the number of completed flash loans.
func (p *Pool) FlashLoanCount() uint64 {
	return p.flashLoans.Load()
}

// InitReserve lists an asset, deploying its aToken and debt tokens at
// addresses derived from the pool address.
func (p *Pool) InitReserve(cfg ReserveConfig) (types.ReserveTokens, error) {
	if cfg.Asset == (common.Address{}) || cfg.LTV > cfg.LiquidationThreshold || cfg.LiquidationThreshold > 10_000 {
		return types.ReserveTokens{}, fmt.Errorf("%w: %s", errInvalidReserve, cfg.Symbol)
	}

	p.mu.Lock()
	if _, ok := p.reserves[cfg.Asset]; ok {
		p.mu.Unlock()
		return types.ReserveTokens{}, fmt.Errorf("%w: %s", errReserveExists, cfg.Symbol)
	}
	tokens := types.ReserveTokens{
		AToken:            p.deployLocked(),
		StableDebtToken:   p.deployLocked(),
		VariableDebtToken: p.deployLocked(),
	}
	p.reserves[cfg.Asset] = &reserve{ReserveConfig: cfg, tokens: tokens}
	p.order = append(p.order, cfg.Asset)
	p.debtTokens[tokens.StableDebtToken] = cfg.Asset
	p.debtTokens[tokens.VariableDebtToken] = cfg.Asset
	p.mu.Unlock()

	p.ledger.Register(cfg.Asset, cfg.Symbol)
	p.ledger.Register(tokens.AToken, "a"+cfg.Symbol)
	p.ledger.Register(tokens.StableDebtToken, "stableDebt"+cfg.Symbol)
	p.ledger.Register(tokens.VariableDebtToken, "variableDebt"+cfg.Symbol)

	p.ledger.SetTransferHook(tokens.AToken, p.validateATokenTransfer)
	rejectTransfer := func(token, from, to common.Address, amount *big.Int) error {
		return errTransferDisabled
	}
	p.ledger.SetTransferHook(tokens.StableDebtToken, rejectTransfer)
	p.ledger.SetTransferHook(tokens.VariableDebtToken, rejectTransfer)

	p.logger.Debug("Reserve initialised",
		zap.String("symbol", cfg.Symbol),
		zap.String("asset", cfg.Asset.Hex()),
		zap.String("aToken", tokens.AToken.Hex()))
	return tokens, nil
}

func (p *Pool) deployLocked() common.Address {
	addr := crypto.CreateAddress(p.address, p.nonce)
	p.nonce++
	return addr
}

// Reserves returns listed assets in listing order.
func (p *Pool) Reserves() []common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]common.Address(nil), p.order...)
}

// Reserve returns the configuration and tokens of a listed asset.
func (p *Pool) Reserve(asset common.Address) (ReserveConfig, types.ReserveTokens, error) {
	r, err := p.reserve(asset)
	if err != nil {
		return ReserveConfig{}, types.ReserveTokens{}, err
	}
	return r.ReserveConfig, r.tokens, nil
}

func (p *Pool) reserve(asset common.Address) (*reserve, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.reserves[asset]
	if !ok {
		return nil, types.NewError(types.ErrUnknownReserve, "pool").WithAsset(asset)
	}
	return r, nil
}

// Deposit pulls amount of asset from caller and credits aTokens to onBehalfOf.
func (p *Pool) Deposit(ctx context.Context, caller, asset common.Address, amount *big.Int, onBehalfOf common.Address, _ uint16) error {
	if amount == nil || amount.Sign() <= 0 {
		return types.NewError(types.ErrInvalidAmount, "pool.deposit").WithAsset(asset).WithActor(caller)
	}
	r, err := p.reserve(asset)
	if err != nil {
		return err
	}

	return p.host.Transact(ctx, func(ctx context.Context) error {
		if err := p.ledger.TransferFrom(asset, p.address, caller, r.tokens.AToken, amount); err != nil {
			return err
		}
		return p.ledger.Mint(r.tokens.AToken, onBehalfOf, amount)
	})
}

// Borrow opens debt for onBehalfOf and sends the funds to caller. Borrowing for
// someone else consumes their credit delegation to caller. The reserve must
// hold enough liquidity.
func (p *Pool) Borrow(ctx context.Context, caller, asset common.Address, amount *big.Int, rateMode types.RateMode, _ uint16, onBehalfOf common.Address) error {
	if amount == nil || amount.Sign() <= 0 {
		return types.NewError(types.ErrInvalidAmount, "pool.borrow").WithAsset(asset).WithActor(caller)
	}
	r, err := p.reserve(asset)
	if err != nil {
		return err
	}

	return p.host.Transact(ctx, func(ctx context.Context) error {
		if err := p.openDebt(ctx, "pool.borrow", caller, r, amount, rateMode, onBehalfOf); err != nil {
			return err
		}
		return p.ledger.Transfer(asset, r.tokens.AToken, caller, amount)
	})
}

func (p *Pool) openDebt(ctx context.Context, op string, caller common.Address, r *reserve, amount *big.Int, rateMode types.RateMode, onBehalfOf common.Address) error {
	if rateMode != types.RateModeStable && rateMode != types.RateModeVariable {
		return types.NewError(types.ErrInvalidAmount, op).WithAsset(r.Asset).
			Wrap(fmt.Errorf("invalid rate mode %d", rateMode))
	}
	debtToken := r.tokens.DebtToken(rateMode)

	if onBehalfOf != caller {
		if !p.delegations.Consume(onBehalfOf, caller, debtToken, amount) {
			return types.NewError(types.ErrDelegationNotApproved, op).
				WithAsset(r.Asset).WithAmount(amount).WithActor(caller)
		}
	}

	position, err := p.position(ctx, onBehalfOf)
	if err != nil {
		return err
	}
	price, err := p.oracle.GetAssetPrice(ctx, r.Asset)
	if err != nil {
		return err
	}
	newDebt := new(big.Int).Add(position.debt, toBase(amount, price, r.Decimals))
	if position.collateral.Sign() == 0 || newDebt.Cmp(position.borrowCapacity) > 0 {
		return types.NewError(types.ErrInsufficientCollateral, op).
			WithAsset(r.Asset).WithAmount(amount).WithActor(onBehalfOf)
	}

	return p.ledger.Mint(debtToken, onBehalfOf, amount)
}

// Repay burns up to amount of onBehalfOf's debt using caller's funds. It
// returns the amount actually repaid.
func (p *Pool) Repay(ctx context.Context, caller, asset common.Address, amount *big.Int, rateMode types.RateMode, onBehalfOf common.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, types.NewError(types.ErrInvalidAmount, "pool.repay").WithAsset(asset).WithActor(caller)
	}
	r, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}
	debtToken := r.tokens.DebtToken(rateMode)

	var paid *big.Int
	err = p.host.Transact(ctx, func(ctx context.Context) error {
		debt := p.ledger.BalanceOf(debtToken, onBehalfOf)
		if debt.Sign() == 0 {
			return types.NewError(types.ErrNoDebt, "pool.repay").WithAsset(asset).WithActor(onBehalfOf)
		}
		paid = bigmath.Min(amount, debt)
		if err := p.ledger.TransferFrom(asset, p.address, caller, r.tokens.AToken, paid); err != nil {
			return err
		}
		return p.ledger.Burn(debtToken, onBehalfOf, paid)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// Withdraw redeems caller's aTokens and sends the underlying to `to`.
// types.MaxAmount withdraws the whole balance.
func (p *Pool) Withdraw(ctx context.Context, caller, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, types.NewError(types.ErrInvalidAmount, "pool.withdraw").WithAsset(asset).WithActor(caller)
	}
	r, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}

	var withdrawn *big.Int
	err = p.host.Transact(ctx, func(ctx context.Context) error {
		balance := p.ledger.BalanceOf(r.tokens.AToken, caller)
		withdrawn = bigmath.Clone(amount)
		if types.IsMax(amount) {
			withdrawn = balance
		}
		if withdrawn.Sign() == 0 || withdrawn.Cmp(balance) > 0 {
			return types.NewError(types.ErrInsufficientBalance, "pool.withdraw").
				WithAsset(r.tokens.AToken).WithAmount(withdrawn).WithActor(caller)
		}
		if err := p.ledger.Burn(r.tokens.AToken, caller, withdrawn); err != nil {
			return err
		}
		if err := p.validateHealth(ctx, "pool.withdraw", caller); err != nil {
			return err
		}
		return p.ledger.Transfer(asset, r.tokens.AToken, to, withdrawn)
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// FlashLoan lends assets to receiver for one ExecuteOperation callback, then
// pulls back principal plus premium for every ModeNoDebt asset. Other modes
// leave the amount as debt of onBehalfOf. Any failure reverts the whole loan.
func (p *Pool) FlashLoan(ctx context.Context, caller common.Address, receiver flashloan.Receiver, assets []common.Address, amounts []*big.Int, modes []flashloan.Mode, onBehalfOf common.Address, params []byte, _ uint16) error {
	if receiver == nil {
		return errNilReceiver
	}
	if len(assets) == 0 || len(assets) != len(amounts) || len(assets) != len(modes) {
		return errInconsistentParams
	}
	reserves := make([]*reserve, len(assets))
	for i, asset := range assets {
		r, err := p.reserve(asset)
		if err != nil {
			return err
		}
		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			return types.NewError(types.ErrInvalidAmount, "pool.flashLoan").WithAsset(asset)
		}
		reserves[i] = r
	}

	target := receiver.Address()
	premiums := flashloan.Premiums(amounts, p.premiumBps)

	err := p.host.Transact(ctx, func(ctx context.Context) error {
		for i, r := range reserves {
			if err := p.ledger.Transfer(r.Asset, r.tokens.AToken, target, amounts[i]); err != nil {
				return err
			}
		}

		if err := receiver.ExecuteOperation(ctx, p.address, assets, amounts, premiums, caller, params); err != nil {
			return fmt.Errorf("flash loan callback failed: %w", err)
		}

		for i, r := range reserves {
			if modes[i] == flashloan.ModeNoDebt {
				owed := new(big.Int).Add(amounts[i], premiums[i])
				if err := p.ledger.TransferFrom(r.Asset, p.address, target, r.tokens.AToken, owed); err != nil {
					return fmt.Errorf("flash loan repayment failed: %w", err)
				}
				continue
			}
			if err := p.openDebt(ctx, "pool.flashLoan", caller, r, amounts[i], types.RateMode(modes[i]), onBehalfOf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Debug("Flash loan reverted", zap.String("receiver", target.Hex()), zap.Error(err))
		return err
	}

	p.flashLoans.Add(1)
	return nil
}

// ApproveDelegation lets delegatee borrow debtToken's asset on caller's behalf.
func (p *Pool) ApproveDelegation(ctx context.Context, caller, debtToken, delegatee common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return types.NewError(types.ErrInvalidAmount, "debtToken.approveDelegation").WithAsset(debtToken).WithActor(caller)
	}
	if err := p.knownDebtToken(debtToken); err != nil {
		return err
	}
	return p.host.Transact(ctx, func(ctx context.Context) error {
		p.delegations.Grant(caller, delegatee, debtToken, amount)
		return nil
	})
}

// BorrowAllowance returns the remaining credit delegation.
func (p *Pool) BorrowAllowance(_ context.Context, debtToken, fromUser, toUser common.Address) (*big.Int, error) {
	if err := p.knownDebtToken(debtToken); err != nil {
		return nil, err
	}
	return p.delegations.Limit(fromUser, toUser, debtToken), nil
}

func (p *Pool) knownDebtToken(debtToken common.Address) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.debtTokens[debtToken]; !ok {
		return types.NewError(types.ErrUnknownReserve, "debtToken").WithAsset(debtToken)
	}
	return nil
}

// GetUserAccountData aggregates a user's position in base currency.
func (p *Pool) GetUserAccountData(ctx context.Context, user common.Address) (*types.AccountData, error) {
	pos, err := p.position(ctx, user)
	if err != nil {
		return nil, err
	}

	data := &types.AccountData{
		TotalCollateral:      pos.collateral,
		TotalDebt:            pos.debt,
		AvailableBorrows:     bigmath.SubFloor(pos.borrowCapacity, pos.debt),
		LiquidationThreshold: new(big.Int),
		LTV:                  new(big.Int),
		HealthFactor:         pos.healthFactor(),
	}
	if pos.collateral.Sign() > 0 {
		data.LTV = bigmath.MulDiv(pos.borrowCapacity, bigmath.BasisPoints, pos.collateral)
		data.LiquidationThreshold = bigmath.MulDiv(pos.liquidationCapacity, bigmath.BasisPoints, pos.collateral)
	}
	return data, nil
}

type position struct {
	collateral          *big.Int
	debt                *big.Int
	borrowCapacity      *big.Int
	liquidationCapacity *big.Int
}

func (pos position) healthFactor() *big.Int {
	if pos.debt.Sign() == 0 {
		return bigmath.Clone(types.MaxAmount)
	}
	return bigmath.WadDiv(pos.liquidationCapacity, pos.debt)
}

func (p *Pool) position(ctx context.Context, user common.Address) (position, error) {
	pos := position{
		collateral:          new(big.Int),
		debt:                new(big.Int),
		borrowCapacity:      new(big.Int),
		liquidationCapacity: new(big.Int),
	}
	for _, asset := range p.Reserves() {
		r, err := p.reserve(asset)
		if err != nil {
			return pos, err
		}
		supplied := p.ledger.BalanceOf(r.tokens.AToken, user)
		debt := bigmath.Sum(
			p.ledger.BalanceOf(r.tokens.StableDebtToken, user),
			p.ledger.BalanceOf(r.tokens.VariableDebtToken, user),
		)
		if supplied.Sign() == 0 && debt.Sign() == 0 {
			continue
		}

		price, err := p.oracle.GetAssetPrice(ctx, asset)
		if err != nil {
			return pos, err
		}
		if supplied.Sign() > 0 {
			value := toBase(supplied, price, r.Decimals)
			pos.collateral.Add(pos.collateral, value)
			pos.borrowCapacity.Add(pos.borrowCapacity, bigmath.PercentMulFloor(value, r.LTV))
			pos.liquidationCapacity.Add(pos.liquidationCapacity, bigmath.PercentMulFloor(value, r.LiquidationThreshold))
		}
		if debt.Sign() > 0 {
			pos.debt.Add(pos.debt, toBaseRoundUp(debt, price, r.Decimals))
		}
	}
	return pos, nil
}

func (p *Pool) validateHealth(ctx context.Context, op string, user common.Address) error {
	pos, err := p.position(ctx, user)
	if err != nil {
		return err
	}
	if pos.debt.Sign() > 0 && pos.healthFactor().Cmp(bigmath.Wad) < 0 {
		return types.NewError(types.ErrInsufficientCollateral, op).WithActor(user)
	}
	return nil
}

func (p *Pool) validateATokenTransfer(token, from, to common.Address, amount *big.Int) error {
	return p.validateHealth(context.Background(), "aToken.transfer", from)
}

func toBase(amount, price *big.Int, decimals uint8) *big.Int {
	return bigmath.MulDiv(amount, price, bigmath.Pow10(decimals))
}

func toBaseRoundUp(amount, price *big.Int, decimals uint8) *big.Int {
	return bigmath.MulDivRoundUp(amount, price, bigmath.Pow10(decimals))
}
