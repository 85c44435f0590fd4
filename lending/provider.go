package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/ejector/chain"
	"github.com/michaelpento.lv/ejector/types"
)

// ProtocolDataProvider answers reserve and user queries against a Pool.
type ProtocolDataProvider struct {
	address common.Address
	pool    *Pool
	ledger  *chain.Ledger
}

func NewProtocolDataProvider(address common.Address, pool *Pool, ledger *chain.Ledger) (*ProtocolDataProvider, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	return &ProtocolDataProvider{address: address, pool: pool, ledger: ledger}, nil
}

func (d *ProtocolDataProvider) Address() common.Address {
	return d.address
}

func (d *ProtocolDataProvider) GetReserveTokensAddresses(_ context.Context, asset common.Address) (types.ReserveTokens, error) {
	_, tokens, err := d.pool.Reserve(asset)
	return tokens, err
}

// GetAllReservesTokens lists reserves in the order they were initialised.
func (d *ProtocolDataProvider) GetAllReservesTokens(_ context.Context) ([]common.Address, error) {
	return d.pool.Reserves(), nil
}

func (d *ProtocolDataProvider) GetReserveConfigurationData(_ context.Context, asset common.Address) (*types.ReserveConfiguration, error) {
	cfg, _, err := d.pool.Reserve(asset)
	if err != nil {
		return nil, err
	}
	return &types.ReserveConfiguration{
		Decimals:                 cfg.Decimals,
		LTV:                      cfg.LTV,
		LiquidationThreshold:     cfg.LiquidationThreshold,
		UsageAsCollateralEnabled: cfg.LiquidationThreshold > 0,
		BorrowingEnabled:         true,
	}, nil
}

func (d *ProtocolDataProvider) GetUserReserveData(_ context.Context, asset, user common.Address) (*types.UserReserveData, error) {
	_, tokens, err := d.pool.Reserve(asset)
	if err != nil {
		return nil, err
	}
	supplied := d.ledger.BalanceOf(tokens.AToken, user)
	return &types.UserReserveData{
		Asset:                    asset,
		CurrentATokenBalance:     supplied,
		CurrentStableDebt:        d.ledger.BalanceOf(tokens.StableDebtToken, user),
		CurrentVariableDebt:      d.ledger.BalanceOf(tokens.VariableDebtToken, user),
		UsageAsCollateralEnabled: supplied.Sign() > 0,
	}, nil
}

// AvailableLiquidity returns the underlying held by the reserve's aToken.
func (d *ProtocolDataProvider) AvailableLiquidity(_ context.Context, asset common.Address) (*big.Int, error) {
	_, tokens, err := d.pool.Reserve(asset)
	if err != nil {
		return nil, err
	}
	return d.ledger.BalanceOf(asset, tokens.AToken), nil
}

var _ AddressesProvider = (*Registry)(nil)

// Registry is a fixed registry of protocol contract addresses.
type Registry struct {
	address      common.Address
	lendingPool  common.Address
	priceOracle  common.Address
	dataProvider common.Address
}

func NewRegistry(address, lendingPool, priceOracle, dataProvider common.Address) *Registry {
	return &Registry{
		address:      address,
		lendingPool:  lendingPool,
		priceOracle:  priceOracle,
		dataProvider: dataProvider,
	}
}

func (a *Registry) Address() common.Address {
	return a.address
}

func (a *Registry) GetLendingPool(context.Context) (common.Address, error) {
	return a.lendingPool, nil
}

func (a *Registry) GetPriceOracle(context.Context) (common.Address, error) {
	return a.priceOracle, nil
}

func (a *Registry) GetDataProvider(context.Context) (common.Address, error) {
	return a.dataProvider, nil
}
