package lending

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/ejector/types"
)

// Oracle is an in-memory price feed. Prices are the base-currency value (wei)
// of one whole token.
type Oracle struct {
	address common.Address
	mu      sync.RWMutex
	prices  map[common.Address]*big.Int
}

// NewOracle creates an oracle deployed at address.
func NewOracle(address common.Address) *Oracle {
	return &Oracle{
		address: address,
		prices:  make(map[common.Address]*big.Int),
	}
}

func (o *Oracle) Address() common.Address {
	return o.address
}

// SetAssetPrice sets the price of one whole token of asset.
func (o *Oracle) SetAssetPrice(asset common.Address, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = new(big.Int).Set(price)
}

func (o *Oracle) GetAssetPrice(_ context.Context, asset common.Address) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return nil, types.NewError(types.ErrUnknownReserve, "oracle.getAssetPrice").WithAsset(asset)
	}
	return new(big.Int).Set(price), nil
}
