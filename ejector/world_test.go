package ejector

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/ejector/chain"
	"github.com/michaelpento.lv/ejector/dex/uniswap"
	"github.com/michaelpento.lv/ejector/lending"
	"github.com/michaelpento.lv/ejector/swapper"
	"github.com/michaelpento.lv/ejector/types"
	bigmath "github.com/michaelpento.lv/ejector/utils/math"
	"github.com/michaelpento.lv/ejector/utils/metrics"
)

var (
	poolAddr         = common.HexToAddress("0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9")
	oracleAddr       = common.HexToAddress("0xA50ba011c48153De246E5192C8f9258A2ba79Ca9")
	dataProviderAddr = common.HexToAddress("0x057835Ad21a177dbdd3090bB1CAE03EaCF78Fc6d")
	registryAddr     = common.HexToAddress("0xB53C1a33016B2DC2fF3653530bfF1848a515c8c5")
	swapperAddr      = common.HexToAddress("0x0000000000000000000000000000000000005a99")
	ejectorAddr      = common.HexToAddress("0x00000000000000000000000000000000e1ec7000")

	link = common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA")
	yfi  = common.HexToAddress("0x0bc529c00C6401aEF6D220BE8C6Ea1667F6Ad93e")
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	lender   = common.HexToAddress("0x00000000000000000000000000000000000001e0")
	lp       = common.HexToAddress("0x0000000000000000000000000000000000000111")
	user     = common.HexToAddress("0xcA8Fa8f0b631EcdB18Cda619C4Fc9d197c8aFfCa")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	attacker = common.HexToAddress("0x000000000000000000000000000000000000bad0")
)

type liquidity struct {
	collateral, debt common.Address
	amountC, amountD *big.Int
}

type world struct {
	host     *chain.Host
	ledger   *chain.Ledger
	oracle   *lending.Oracle
	pool     *lending.Pool
	data     *lending.ProtocolDataProvider
	registry *lending.Registry
	router   *uniswap.Router
	swapper  *swapper.SwapRouter
	ejector  *Ejector
	reg      *prometheus.Registry
	metrics  *metrics.EjectorMetrics
	tokens   map[common.Address]types.ReserveTokens
}

func units(n int64, decimals uint8) *big.Int {
	return bigmath.Units(n, decimals)
}

// deepLiquidity prices every pool at the oracle rate with enough depth for
// the scenario positions.
func deepLiquidity() []liquidity {
	return []liquidity{
		{link, dai, units(100_000, 18), units(2_000_000, 18)},
		{link, usdc, units(100_000, 18), units(2_000_000, 6)},
		{yfi, dai, units(1_000, 18), units(40_000_000, 18)},
		{yfi, usdc, units(1_000, 18), units(40_000_000, 6)},
	}
}

// shallowLiquidity leaves YFI without routes and LINK pools too thin to cover
// the scenario debt.
func shallowLiquidity() []liquidity {
	return []liquidity{
		{link, dai, units(100, 18), units(2_000, 18)},
		{link, usdc, units(100, 18), units(2_000, 6)},
	}
}

func newWorld(t *testing.T, pools []liquidity) *world {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	host := chain.NewHost(logger)
	ledger := chain.NewLedger(host.Journal())
	oracle := lending.NewOracle(oracleAddr)
	pool, err := lending.NewPool(poolAddr, host, ledger, oracle, logger)
	require.NoError(t, err)

	w := &world{
		host:   host,
		ledger: ledger,
		oracle: oracle,
		pool:   pool,
		reg:    metrics.NewRegistry(),
		tokens: make(map[common.Address]types.ReserveTokens),
	}
	w.metrics = metrics.NewEjectorMetrics("ejector", w.reg)
	reserves := []struct {
		cfg   lending.ReserveConfig
		price *big.Int
	}{
		{lending.ReserveConfig{Asset: link, Symbol: "LINK", Decimals: 18, LTV: 7000, LiquidationThreshold: 7500}, big.NewInt(1e16)},
		{lending.ReserveConfig{Asset: yfi, Symbol: "YFI", Decimals: 18, LTV: 4000, LiquidationThreshold: 5500}, units(20, 18)},
		{lending.ReserveConfig{Asset: dai, Symbol: "DAI", Decimals: 18, LTV: 7500, LiquidationThreshold: 8000}, big.NewInt(5e14)},
		{lending.ReserveConfig{Asset: usdc, Symbol: "USDC", Decimals: 6, LTV: 8000, LiquidationThreshold: 8500}, big.NewInt(5e14)},
	}
	for _, r := range reserves {
		tokens, err := pool.InitReserve(r.cfg)
		require.NoError(t, err)
		oracle.SetAssetPrice(r.cfg.Asset, r.price)
		w.tokens[r.cfg.Asset] = tokens
	}

	w.data, err = lending.NewProtocolDataProvider(dataProviderAddr, pool, ledger)
	require.NoError(t, err)
	w.registry = lending.NewRegistry(registryAddr, poolAddr, oracleAddr, dataProviderAddr)

	for _, asset := range []common.Address{link, yfi} {
		w.fund(t, lender, asset, units(100_000, 18), poolAddr)
	}
	w.fund(t, lender, dai, units(10_000_000, 18), poolAddr)
	w.fund(t, lender, usdc, units(10_000_000, 6), poolAddr)
	for _, asset := range []common.Address{link, yfi, dai, usdc} {
		require.NoError(t, pool.Deposit(ctx, lender, asset, ledger.BalanceOf(asset, lender), lender, 0))
	}

	w.router, err = uniswap.NewRouter(uniswap.MainnetRouter, uniswap.MainnetFactory, host, ledger, logger)
	require.NoError(t, err)
	for _, l := range pools {
		_, err := w.router.CreatePool(l.collateral, l.debt, swapper.DefaultFeeTier)
		require.NoError(t, err)
		w.fund(t, lp, l.collateral, l.amountC, uniswap.MainnetRouter)
		w.fund(t, lp, l.debt, l.amountD, uniswap.MainnetRouter)
		require.NoError(t, w.router.AddLiquidity(ctx, lp, l.collateral, l.debt, swapper.DefaultFeeTier, l.amountC, l.amountD))
	}

	w.swapper, err = swapper.New(swapper.Config{Address: swapperAddr}, w.router, host, ledger,
		metrics.NewSwapMetrics("swapper", w.reg), logger)
	require.NoError(t, err)

	w.ejector, err = New(ctx, w.config(), w.deps(t))
	require.NoError(t, err)
	return w
}

func (w *world) config() Config {
	return Config{
		Address:           ejectorAddr,
		Pool:              poolAddr,
		Oracle:            oracleAddr,
		AddressesProvider: registryAddr,
		SwapRouter:        swapperAddr,
		Assets:            []common.Address{link, yfi, dai, usdc},
	}
}

func (w *world) deps(t *testing.T) Deps {
	return Deps{
		Pool:       w.pool,
		Delegation: w.pool,
		Data:       w.data,
		Addresses:  w.registry,
		Oracle:     w.oracle,
		Swapper:    w.swapper,
		Host:       w.host,
		Tokens:     w.ledger,
		Metrics:    w.metrics,
		Logger:     zaptest.NewLogger(t),
	}
}

// fund mints amount to holder and approves spender for all of it.
func (w *world) fund(t *testing.T, holder, asset common.Address, amount *big.Int, spender common.Address) {
	t.Helper()
	require.NoError(t, w.ledger.Mint(asset, holder, amount))
	require.NoError(t, w.ledger.Approve(asset, holder, spender, types.MaxAmount))
}

// openPosition supplies 1000 LINK and 1 YFI for account through the ejector
// and borrows 9000 DAI and 10000 USDC at the stable rate with delegations
// matching the borrowed amounts exactly.
func (w *world) openPosition(t *testing.T, account common.Address) {
	t.Helper()
	ctx := context.Background()
	w.fund(t, account, link, units(1_000, 18), ejectorAddr)
	w.fund(t, account, yfi, units(1, 18), ejectorAddr)
	require.NoError(t, w.ejector.DepositOnBehalfOf(ctx, account, account, link, units(1_000, 18)))
	require.NoError(t, w.ejector.DepositOnBehalfOf(ctx, account, account, yfi, units(1, 18)))

	require.NoError(t, w.pool.ApproveDelegation(ctx, account, w.tokens[dai].StableDebtToken, ejectorAddr, units(9_000, 18)))
	require.NoError(t, w.pool.ApproveDelegation(ctx, account, w.tokens[usdc].StableDebtToken, ejectorAddr, units(10_000, 6)))
	require.NoError(t, w.ejector.BorrowOnBehalfOf(ctx, account, account, dai, units(9_000, 18), types.RateModeStable))
	require.NoError(t, w.ejector.BorrowOnBehalfOf(ctx, account, account, usdc, units(10_000, 6), types.RateModeStable))
}

// approveCollateral lets the ejector pull every aToken of account.
func (w *world) approveCollateral(t *testing.T, account common.Address) {
	t.Helper()
	for _, asset := range []common.Address{link, yfi} {
		require.NoError(t, w.ledger.Approve(w.tokens[asset].AToken, account, ejectorAddr, types.MaxAmount))
	}
}

func (w *world) debt(t *testing.T, account, asset common.Address) *big.Int {
	t.Helper()
	data, err := w.data.GetUserReserveData(context.Background(), asset, account)
	require.NoError(t, err)
	return data.TotalDebt()
}

// snapshot captures every balance a self-liquidation could touch.
func (w *world) snapshot(account common.Address) map[string]string {
	out := make(map[string]string)
	holders := map[string]common.Address{
		"account": account,
		"ejector": ejectorAddr,
		"swapper": swapperAddr,
	}
	for _, asset := range []common.Address{link, yfi, dai, usdc} {
		tokens := w.tokens[asset]
		sym := w.ledger.Symbol(asset)
		for name, holder := range holders {
			out[name+"/"+sym] = w.ledger.BalanceOf(asset, holder).String()
			out[name+"/a"+sym] = w.ledger.BalanceOf(tokens.AToken, holder).String()
		}
		out["account/stableDebt"+sym] = w.ledger.BalanceOf(tokens.StableDebtToken, account).String()
		out["account/variableDebt"+sym] = w.ledger.BalanceOf(tokens.VariableDebtToken, account).String()
		out["reserve/"+sym] = w.ledger.BalanceOf(asset, tokens.AToken).String()
		out["held/"+sym] = w.ejector.HeldBalance(account, asset).String()
	}
	return out
}
