package aave

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/ejector/lending"
	"github.com/michaelpento.lv/ejector/types"
	"github.com/michaelpento.lv/ejector/utils/metrics"
)

// Aave V2 mainnet deployment.
var (
	MainnetAddressesProvider = common.HexToAddress("0xB53C1a33016B2DC2fF3653530bfF1848a515c8c5")
	MainnetLendingPool       = common.HexToAddress("0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9")
	MainnetDataProvider      = common.HexToAddress("0x057835Ad21a177dbdd3090bB1CAE03EaCF78Fc6d")
	MainnetPriceOracle       = common.HexToAddress("0xA50ba011c48153De246E5192C8f9258A2ba79Ca9")
)

const defaultCacheSize = 128

// Config locates the protocol contracts. Zero LendingPool or PriceOracle
// addresses are resolved through the addresses provider by Resolve.
type Config struct {
	AddressesProvider common.Address
	LendingPool       common.Address
	DataProvider      common.Address
	PriceOracle       common.Address

	// RequestsPerSecond caps eth_call traffic. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int
	CacheSize         int
}

// MainnetConfig returns the Aave V2 mainnet addresses.
func MainnetConfig() Config {
	return Config{
		AddressesProvider: MainnetAddressesProvider,
		LendingPool:       MainnetLendingPool,
		DataProvider:      MainnetDataProvider,
		PriceOracle:       MainnetPriceOracle,
		RequestsPerSecond: 10,
		Burst:             5,
		CacheSize:         defaultCacheSize,
	}
}

// Reader answers position queries against a deployed Aave V2 market.
type Reader struct {
	caller bind.ContractCaller
	cfg    Config

	poolABI     abi.ABI
	dataABI     abi.ABI
	registryABI abi.ABI
	oracleABI   abi.ABI

	limiter *rate.Limiter
	tokens  *lru.Cache
	metrics *metrics.RPCMetrics
	logger  *zap.Logger
}

var _ lending.DataProvider = (*Reader)(nil)

// NewReader creates a reader issuing eth_calls through caller.
func NewReader(caller bind.ContractCaller, cfg Config, m *metrics.RPCMetrics, logger *zap.Logger) (*Reader, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DataProvider == (common.Address{}) {
		return nil, fmt.Errorf("data provider address cannot be zero")
	}
	if m == nil {
		m = metrics.NewRPCMetrics("aave", nil)
	}

	r := &Reader{caller: caller, cfg: cfg, metrics: m, logger: logger.Named("aave")}
	for _, parsed := range []struct {
		dst  *abi.ABI
		name string
		def  string
	}{
		{&r.poolABI, "lending pool", lendingPoolABI},
		{&r.dataABI, "data provider", dataProviderABI},
		{&r.registryABI, "addresses provider", addressesProviderABI},
		{&r.oracleABI, "price oracle", priceOracleABI},
	} {
		a, err := abi.JSON(strings.NewReader(parsed.def))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s ABI: %w", parsed.name, err)
		}
		*parsed.dst = a
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}
	r.tokens = cache

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	r.limiter = rate.NewLimiter(limit, burst)
	return r, nil
}

// Dial connects to an RPC endpoint and returns a reader over it. The caller
// owns the returned client.
func Dial(ctx context.Context, rawurl string, cfg Config, m *metrics.RPCMetrics, logger *zap.Logger) (*Reader, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", rawurl, err)
	}
	r, err := NewReader(client, cfg, m, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return r, client, nil
}

func (r *Reader) Config() Config {
	return r.cfg
}

// Resolve fills in the lending pool and price oracle from the addresses
// provider and checks configured ones against it.
func (r *Reader) Resolve(ctx context.Context) error {
	if r.cfg.AddressesProvider == (common.Address{}) {
		if r.cfg.LendingPool == (common.Address{}) || r.cfg.PriceOracle == (common.Address{}) {
			return fmt.Errorf("addresses provider required to resolve protocol contracts")
		}
		return nil
	}
	for _, entry := range []struct {
		method string
		dst    *common.Address
	}{
		{"getLendingPool", &r.cfg.LendingPool},
		{"getPriceOracle", &r.cfg.PriceOracle},
	} {
		out, err := r.call(ctx, r.registryABI, r.cfg.AddressesProvider, entry.method)
		if err != nil {
			return err
		}
		addr := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
		if *entry.dst != (common.Address{}) && *entry.dst != addr {
			return fmt.Errorf("%s mismatch: configured %s, registry has %s", entry.method, entry.dst.Hex(), addr.Hex())
		}
		*entry.dst = addr
	}
	r.logger.Debug("Resolved protocol contracts",
		zap.String("lendingPool", r.cfg.LendingPool.Hex()),
		zap.String("priceOracle", r.cfg.PriceOracle.Hex()))
	return nil
}

// GetUserAccountData reads the aggregate position of user.
func (r *Reader) GetUserAccountData(ctx context.Context, user common.Address) (*types.AccountData, error) {
	if r.cfg.LendingPool == (common.Address{}) {
		return nil, fmt.Errorf("lending pool address not resolved")
	}
	out, err := r.call(ctx, r.poolABI, r.cfg.LendingPool, "getUserAccountData", user)
	if err != nil {
		return nil, err
	}
	return &types.AccountData{
		TotalCollateral:      bigAt(out, 0),
		TotalDebt:            bigAt(out, 1),
		AvailableBorrows:     bigAt(out, 2),
		LiquidationThreshold: bigAt(out, 3),
		LTV:                  bigAt(out, 4),
		HealthFactor:         bigAt(out, 5),
	}, nil
}

// GetAllReservesTokens lists the market's reserves in registration order.
func (r *Reader) GetAllReservesTokens(ctx context.Context) ([]common.Address, error) {
	out, err := r.call(ctx, r.dataABI, r.cfg.DataProvider, "getAllReservesTokens")
	if err != nil {
		return nil, err
	}
	data := *abi.ConvertType(out[0], new([]tokenData)).(*[]tokenData)
	assets := make([]common.Address, len(data))
	for i, d := range data {
		assets[i] = d.TokenAddress
	}
	return assets, nil
}

type tokenData struct {
	Symbol       string
	TokenAddress common.Address
}

// GetReserveTokensAddresses returns asset's aToken and debt tokens. Results
// are cached since they never change for a listed reserve.
func (r *Reader) GetReserveTokensAddresses(ctx context.Context, asset common.Address) (types.ReserveTokens, error) {
	if cached, ok := r.tokens.Get(asset); ok {
		r.metrics.CacheHits.Inc()
		return cached.(types.ReserveTokens), nil
	}
	out, err := r.call(ctx, r.dataABI, r.cfg.DataProvider, "getReserveTokensAddresses", asset)
	if err != nil {
		return types.ReserveTokens{}, err
	}
	tokens := types.ReserveTokens{
		AToken:            *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		StableDebtToken:   *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		VariableDebtToken: *abi.ConvertType(out[2], new(common.Address)).(*common.Address),
	}
	if tokens.AToken == (common.Address{}) {
		return types.ReserveTokens{}, types.NewError(types.ErrUnknownReserve, "aave.getReserveTokensAddresses").WithAsset(asset)
	}
	r.tokens.Add(asset, tokens)
	return tokens, nil
}

func (r *Reader) GetReserveConfigurationData(ctx context.Context, asset common.Address) (*types.ReserveConfiguration, error) {
	out, err := r.call(ctx, r.dataABI, r.cfg.DataProvider, "getReserveConfigurationData", asset)
	if err != nil {
		return nil, err
	}
	decimals := bigAt(out, 0)
	if !decimals.IsUint64() || decimals.Uint64() > 77 {
		return nil, fmt.Errorf("reserve %s reports invalid decimals %s", asset.Hex(), decimals)
	}
	return &types.ReserveConfiguration{
		Decimals:                 uint8(decimals.Uint64()),
		LTV:                      bigAt(out, 1).Uint64(),
		LiquidationThreshold:     bigAt(out, 2).Uint64(),
		UsageAsCollateralEnabled: *abi.ConvertType(out[5], new(bool)).(*bool),
		BorrowingEnabled:         *abi.ConvertType(out[6], new(bool)).(*bool),
	}, nil
}

func (r *Reader) GetUserReserveData(ctx context.Context, asset, user common.Address) (*types.UserReserveData, error) {
	out, err := r.call(ctx, r.dataABI, r.cfg.DataProvider, "getUserReserveData", asset, user)
	if err != nil {
		return nil, err
	}
	return &types.UserReserveData{
		Asset:                    asset,
		CurrentATokenBalance:     bigAt(out, 0),
		CurrentStableDebt:        bigAt(out, 1),
		CurrentVariableDebt:      bigAt(out, 2),
		UsageAsCollateralEnabled: *abi.ConvertType(out[8], new(bool)).(*bool),
	}, nil
}

// GetAssetPrice reads the oracle price of one whole token in ETH wei.
func (r *Reader) GetAssetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	if r.cfg.PriceOracle == (common.Address{}) {
		return nil, fmt.Errorf("price oracle address not resolved")
	}
	out, err := r.call(ctx, r.oracleABI, r.cfg.PriceOracle, "getAssetPrice", asset)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0), nil
}

// Position is a user's account summary plus every reserve they touch.
type Position struct {
	User     common.Address
	Account  *types.AccountData
	Reserves []types.UserReserveData
}

// Position reads user's account data and the non-empty reserves among assets.
// Nil assets means every listed reserve.
func (r *Reader) Position(ctx context.Context, user common.Address, assets []common.Address) (*Position, error) {
	account, err := r.GetUserAccountData(ctx, user)
	if err != nil {
		return nil, err
	}
	if assets == nil {
		if assets, err = r.GetAllReservesTokens(ctx); err != nil {
			return nil, err
		}
	}

	pos := &Position{User: user, Account: account}
	for _, asset := range assets {
		data, err := r.GetUserReserveData(ctx, asset, user)
		if err != nil {
			return nil, fmt.Errorf("failed to read reserve %s: %w", asset.Hex(), err)
		}
		if data.CurrentATokenBalance.Sign() == 0 && data.TotalDebt().Sign() == 0 {
			continue
		}
		pos.Reserves = append(pos.Reserves, *data)
	}
	return pos, nil
}

func (r *Reader) call(ctx context.Context, parsed abi.ABI, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	out, err := r.doCall(ctx, parsed, contract, method, args...)
	if err != nil {
		r.metrics.Calls.WithLabelValues(method, "failure").Inc()
		r.logger.Debug("Contract call failed",
			zap.String("method", method),
			zap.String("contract", contract.Hex()),
			zap.Error(err))
		return nil, err
	}
	r.metrics.Calls.WithLabelValues(method, "success").Inc()
	return out, nil
}

func (r *Reader) doCall(ctx context.Context, parsed abi.ABI, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limited %s: %w", method, err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	start := time.Now()
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	r.metrics.Latency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}

func bigAt(out []interface{}, i int) *big.Int {
	return *abi.ConvertType(out[i], new(*big.Int)).(**big.Int)
}
