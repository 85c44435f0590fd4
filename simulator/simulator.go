// Package simulator assembles an in-memory lending market, exchange and
// ejector from configuration and replays a self-liquidation against it.
package simulator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/ejector/chain"
	"github.com/michaelpento.lv/ejector/config"
	"github.com/michaelpento.lv/ejector/dex/uniswap"
	"github.com/michaelpento.lv/ejector/ejector"
	"github.com/michaelpento.lv/ejector/lending"
	"github.com/michaelpento.lv/ejector/swapper"
	"github.com/michaelpento.lv/ejector/types"
	bigmath "github.com/michaelpento.lv/ejector/utils/math"
	"github.com/michaelpento.lv/ejector/utils/metrics"
)

// Fixed actors of the simulated market.
var (
	Lender            = common.HexToAddress("0x00000000000000000000000000000000000001e0")
	LiquidityProvider = common.HexToAddress("0x0000000000000000000000000000000000000111")
	DefaultUser       = common.HexToAddress("0xcA8Fa8f0b631EcdB18Cda619C4Fc9d197c8aFfCa")
)

// Token is a listed reserve and its protocol tokens.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
	Reserve  types.ReserveTokens
}

// World is a fully wired market.
type World struct {
	cfg    *config.Config
	logger *zap.Logger

	Host     *chain.Host
	Ledger   *chain.Ledger
	Oracle   *lending.Oracle
	Pool     *lending.Pool
	Data     *lending.ProtocolDataProvider
	Registry *lending.Registry
	Router   *uniswap.Router
	Swapper  *swapper.SwapRouter
	Ejector  *ejector.Ejector
	Metrics  *prometheus.Registry

	tokens   map[string]Token
	bySymbol []string
}

// NewWorld lists every configured reserve at its oracle price, seeds the
// pool with lender liquidity, creates the exchange pools and deploys the
// ejector.
func NewWorld(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defaults := config.DefaultConfig()
	poolAddr := addressOr(cfg.Aave.LendingPool, defaults.Aave.LendingPool)
	oracleAddr := addressOr(cfg.Aave.PriceOracle, defaults.Aave.PriceOracle)

	w := &World{
		cfg:     cfg,
		logger:  logger.Named("simulator"),
		Host:    chain.NewHost(logger),
		Metrics: metrics.NewRegistry(),
		tokens:  make(map[string]Token),
	}
	w.Ledger = chain.NewLedger(w.Host.Journal())
	w.Oracle = lending.NewOracle(oracleAddr)

	var err error
	if w.Pool, err = lending.NewPool(poolAddr, w.Host, w.Ledger, w.Oracle, logger); err != nil {
		return nil, err
	}
	if err := w.listReserves(ctx); err != nil {
		return nil, err
	}

	dataAddr := common.HexToAddress(cfg.Aave.DataProvider)
	if w.Data, err = lending.NewProtocolDataProvider(dataAddr, w.Pool, w.Ledger); err != nil {
		return nil, err
	}
	w.Registry = lending.NewRegistry(common.HexToAddress(cfg.Aave.AddressesProvider), poolAddr, oracleAddr, dataAddr)

	routerAddr := common.HexToAddress(cfg.Dex.Router)
	if w.Router, err = uniswap.NewRouter(routerAddr, common.HexToAddress(cfg.Dex.Factory), w.Host, w.Ledger, logger); err != nil {
		return nil, err
	}
	if err := w.createPools(ctx); err != nil {
		return nil, err
	}

	swapCfg := swapper.Config{
		Address: common.HexToAddress(cfg.Ejector.SwapRouter),
		FeeTier: cfg.Ejector.FeeTier,
	}
	w.Swapper, err = swapper.New(swapCfg, w.Router, w.Host, w.Ledger, metrics.NewSwapMetrics("ejector_swapper", w.Metrics), logger)
	if err != nil {
		return nil, err
	}

	assets := make([]common.Address, 0, len(cfg.Ejector.Assets))
	for _, a := range cfg.Ejector.Assets {
		assets = append(assets, common.HexToAddress(a))
	}
	w.Ejector, err = ejector.New(ctx, ejector.Config{
		Address:           common.HexToAddress(cfg.Ejector.Address),
		Pool:              poolAddr,
		Oracle:            oracleAddr,
		AddressesProvider: w.Registry.Address(),
		SwapRouter:        swapCfg.Address,
		Assets:            assets,
		SlippageBps:       cfg.Ejector.SlippageBps,
		ReferralCode:      cfg.Ejector.ReferralCode,
	}, ejector.Deps{
		Pool:       w.Pool,
		Delegation: w.Pool,
		Data:       w.Data,
		Addresses:  w.Registry,
		Oracle:     w.Oracle,
		Swapper:    w.Swapper,
		Host:       w.Host,
		Tokens:     w.Ledger,
		Metrics:    metrics.NewEjectorMetrics("ejector", w.Metrics),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deploy ejector: %w", err)
	}

	w.logger.Info("World ready",
		zap.Int("reserves", len(w.tokens)),
		zap.Int("pools", len(cfg.Simulation.Pools)),
		zap.String("ejector", w.Ejector.Address().Hex()))
	return w, nil
}

func (w *World) listReserves(ctx context.Context) error {
	for _, r := range w.cfg.Simulation.Reserves {
		asset := common.HexToAddress(r.Address)
		reserve, err := w.Pool.InitReserve(lending.ReserveConfig{
			Asset:                asset,
			Symbol:               r.Symbol,
			Decimals:             r.Decimals,
			LTV:                  r.LTV,
			LiquidationThreshold: r.LiquidationThreshold,
		})
		if err != nil {
			return err
		}
		price, err := bigmath.ParseUnits(r.Price, 18)
		if err != nil {
			return fmt.Errorf("reserve %s: %w", r.Symbol, err)
		}
		w.Oracle.SetAssetPrice(asset, price)
		w.tokens[r.Symbol] = Token{Symbol: r.Symbol, Address: asset, Decimals: r.Decimals, Reserve: reserve}
		w.bySymbol = append(w.bySymbol, r.Symbol)

		liquidity, err := w.Amount(r.Symbol, r.Liquidity)
		if err != nil {
			return err
		}
		if liquidity.Sign() == 0 {
			continue
		}
		if err := w.Fund(Lender, r.Symbol, liquidity, w.Pool.Address()); err != nil {
			return err
		}
		if err := w.Pool.Deposit(ctx, Lender, asset, liquidity, Lender, 0); err != nil {
			return fmt.Errorf("failed to seed %s liquidity: %w", r.Symbol, err)
		}
	}
	return nil
}

func (w *World) createPools(ctx context.Context) error {
	for _, p := range w.cfg.Simulation.Pools {
		a, err := w.Amount(p.TokenA, p.AmountA)
		if err != nil {
			return err
		}
		b, err := w.Amount(p.TokenB, p.AmountB)
		if err != nil {
			return err
		}
		tokenA, tokenB := w.tokens[p.TokenA].Address, w.tokens[p.TokenB].Address
		if _, err := w.Router.CreatePool(tokenA, tokenB, p.Fee); err != nil {
			return err
		}
		if err := w.Fund(LiquidityProvider, p.TokenA, a, w.Router.Address()); err != nil {
			return err
		}
		if err := w.Fund(LiquidityProvider, p.TokenB, b, w.Router.Address()); err != nil {
			return err
		}
		if err := w.Router.AddLiquidity(ctx, LiquidityProvider, tokenA, tokenB, p.Fee, a, b); err != nil {
			return fmt.Errorf("failed to seed %s/%s pool: %w", p.TokenA, p.TokenB, err)
		}
	}
	return nil
}

// Token looks up a listed reserve by symbol.
func (w *World) Token(symbol string) (Token, error) {
	t, ok := w.tokens[symbol]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", types.ErrUnknownReserve, symbol)
	}
	return t, nil
}

// Tokens returns the listed reserves in configuration order.
func (w *World) Tokens() []Token {
	out := make([]Token, 0, len(w.bySymbol))
	for _, s := range w.bySymbol {
		out = append(out, w.tokens[s])
	}
	return out
}

// Amount parses a decimal amount of symbol into base units.
func (w *World) Amount(symbol, amount string) (*big.Int, error) {
	t, err := w.Token(symbol)
	if err != nil {
		return nil, err
	}
	v, err := bigmath.ParseUnits(amount, t.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%s amount: %w", symbol, err)
	}
	return v, nil
}

// Fund mints amount of symbol to holder and approves spender for all of it.
func (w *World) Fund(holder common.Address, symbol string, amount *big.Int, spender common.Address) error {
	t, err := w.Token(symbol)
	if err != nil {
		return err
	}
	if err := w.Ledger.Mint(t.Address, holder, amount); err != nil {
		return err
	}
	return w.Ledger.Approve(t.Address, holder, spender, types.MaxAmount)
}

// OpenPosition supplies the configured collateral for user through the
// ejector and borrows the configured debt under exact credit delegations.
func (w *World) OpenPosition(ctx context.Context, user common.Address) error {
	pos := w.cfg.Simulation.Position
	self := w.Ejector.Address()

	for _, c := range pos.Collateral {
		amount, err := w.Amount(c.Symbol, c.Amount)
		if err != nil {
			return err
		}
		if err := w.Fund(user, c.Symbol, amount, self); err != nil {
			return err
		}
		if err := w.Ejector.DepositOnBehalfOf(ctx, user, user, w.tokens[c.Symbol].Address, amount); err != nil {
			return err
		}
	}

	for _, d := range pos.Debt {
		amount, err := w.Amount(d.Symbol, d.Amount)
		if err != nil {
			return err
		}
		mode := rateMode(d.RateMode)
		t := w.tokens[d.Symbol]
		if err := w.Pool.ApproveDelegation(ctx, user, t.Reserve.DebtToken(mode), self, amount); err != nil {
			return err
		}
		if err := w.Ejector.BorrowOnBehalfOf(ctx, user, user, t.Address, amount, mode); err != nil {
			return err
		}
	}
	return nil
}

// ApproveCollateral lets the ejector pull all of user's aTokens.
func (w *World) ApproveCollateral(user common.Address) error {
	for _, t := range w.Tokens() {
		if err := w.Ledger.Approve(t.Reserve.AToken, user, w.Ejector.Address(), types.MaxAmount); err != nil {
			return err
		}
	}
	return nil
}

func rateMode(s string) types.RateMode {
	if strings.EqualFold(s, "variable") {
		return types.RateModeVariable
	}
	return types.RateModeStable
}

func addressOr(value, fallback string) common.Address {
	if value == "" {
		return common.HexToAddress(fallback)
	}
	return common.HexToAddress(value)
}

// Report is the outcome of one simulated self-liquidation.
type Report struct {
	User     common.Address
	Before   *types.AccountData
	After    *types.AccountData
	Result   *ejector.Result
	Err      error
	Metrics  []metrics.Sample
	Duration time.Duration
}

// Run opens the configured position for user, approves its collateral and
// self-liquidates it. A failed liquidation is reported in Report.Err; only
// setup failures are returned as errors.
func (w *World) Run(ctx context.Context, user common.Address) (*Report, error) {
	if user == (common.Address{}) {
		user = DefaultUser
		if w.cfg.Simulation.Position.User != "" {
			user = common.HexToAddress(w.cfg.Simulation.Position.User)
		}
	}
	start := time.Now()

	if err := w.OpenPosition(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to open position: %w", err)
	}
	if err := w.ApproveCollateral(user); err != nil {
		return nil, fmt.Errorf("failed to approve collateral: %w", err)
	}

	report := &Report{User: user}
	var err error
	if report.Before, err = w.Ejector.AccountData(ctx, user); err != nil {
		return nil, err
	}

	report.Result, report.Err = w.Ejector.TakeLoanAndSelfLiquidate(ctx, user, user)
	if report.Err != nil {
		w.logger.Warn("Self-liquidation failed",
			zap.String("user", user.Hex()),
			zap.Error(report.Err))
	}

	if report.After, err = w.Ejector.AccountData(ctx, user); err != nil {
		return nil, err
	}
	if report.Metrics, err = metrics.Snapshot(w.Metrics, "ejector"); err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)
	return report, nil
}
