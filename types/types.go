package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// MaxAmount is the uint256 maximum. Passed as a withdraw or approval amount it
// means "everything" / "unlimited".
var MaxAmount = new(big.Int).Set(math.MaxBig256)

// IsMax reports whether amount is the MaxAmount sentinel.
func IsMax(amount *big.Int) bool {
	return amount != nil && amount.Cmp(math.MaxBig256) == 0
}

// RateMode selects the interest rate model of a debt position.
type RateMode uint8

const (
	RateModeNone     RateMode = 0
	RateModeStable   RateMode = 1
	RateModeVariable RateMode = 2
)

func (m RateMode) String() string {
	switch m {
	case RateModeStable:
		return "stable"
	case RateModeVariable:
		return "variable"
	default:
		return "none"
	}
}

// AccountData mirrors LendingPool.getUserAccountData. Values are denominated in
// the oracle's base currency (wei); thresholds are basis points and the health
// factor is a wad (1e18 == 1.0).
type AccountData struct {
	TotalCollateral      *big.Int
	TotalDebt            *big.Int
	AvailableBorrows     *big.Int
	LiquidationThreshold *big.Int
	LTV                  *big.Int
	HealthFactor         *big.Int
}

// ReserveTokens mirrors ProtocolDataProvider.getReserveTokensAddresses.
type ReserveTokens struct {
	AToken            common.Address
	StableDebtToken   common.Address
	VariableDebtToken common.Address
}

// DebtToken returns the debt token for the given rate mode.
func (r ReserveTokens) DebtToken(mode RateMode) common.Address {
	if mode == RateModeStable {
		return r.StableDebtToken
	}
	return r.VariableDebtToken
}

// ReserveConfiguration mirrors ProtocolDataProvider.getReserveConfigurationData.
// LTV and LiquidationThreshold are basis points.
type ReserveConfiguration struct {
	Decimals                 uint8
	LTV                      uint64
	LiquidationThreshold     uint64
	UsageAsCollateralEnabled bool
	BorrowingEnabled         bool
}

// UserReserveData is the per-asset slice of a user's position.
type UserReserveData struct {
	Asset                    common.Address
	CurrentATokenBalance     *big.Int
	CurrentStableDebt        *big.Int
	CurrentVariableDebt      *big.Int
	UsageAsCollateralEnabled bool
}

// TotalDebt sums stable and variable debt.
func (d UserReserveData) TotalDebt() *big.Int {
	total := new(big.Int)
	if d.CurrentStableDebt != nil {
		total.Add(total, d.CurrentStableDebt)
	}
	if d.CurrentVariableDebt != nil {
		total.Add(total, d.CurrentVariableDebt)
	}
	return total
}

// TokenAmount pairs an asset with an amount.
type TokenAmount struct {
	Token  common.Address
	Amount *big.Int
}
