package lending

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/ejector/flashloan"
	"github.com/michaelpento.lv/ejector/types"
)

// LendingPool is the subset of the Aave V2 LendingPool the ejector drives.
// caller plays the role of msg.sender.
type LendingPool interface {
	flashloan.Issuer

	Address() common.Address
	Deposit(ctx context.Context, caller, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error
	Borrow(ctx context.Context, caller, asset common.Address, amount *big.Int, rateMode types.RateMode, referralCode uint16, onBehalfOf common.Address) error
	Repay(ctx context.Context, caller, asset common.Address, amount *big.Int, rateMode types.RateMode, onBehalfOf common.Address) (*big.Int, error)
	Withdraw(ctx context.Context, caller, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	GetUserAccountData(ctx context.Context, user common.Address) (*types.AccountData, error)
}

// CreditDelegation exposes the debt tokens' borrow allowances.
type CreditDelegation interface {
	ApproveDelegation(ctx context.Context, caller, debtToken, delegatee common.Address, amount *big.Int) error
	BorrowAllowance(ctx context.Context, debtToken, fromUser, toUser common.Address) (*big.Int, error)
}

// DataProvider mirrors the read side of the ProtocolDataProvider.
type DataProvider interface {
	GetReserveTokensAddresses(ctx context.Context, asset common.Address) (types.ReserveTokens, error)
	GetAllReservesTokens(ctx context.Context) ([]common.Address, error)
	GetReserveConfigurationData(ctx context.Context, asset common.Address) (*types.ReserveConfiguration, error)
	GetUserReserveData(ctx context.Context, asset, user common.Address) (*types.UserReserveData, error)
}

// AddressesProvider is the protocol's address registry.
type AddressesProvider interface {
	Address() common.Address
	GetLendingPool(ctx context.Context) (common.Address, error)
	GetPriceOracle(ctx context.Context) (common.Address, error)
}

// PriceOracle quotes assets in the base currency.
type PriceOracle interface {
	Address() common.Address
	GetAssetPrice(ctx context.Context, asset common.Address) (*big.Int, error)
}
