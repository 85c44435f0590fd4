package ejector

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/ejector/flashloan"
	"github.com/michaelpento.lv/ejector/types"
)

// State is the lifecycle position of a self-liquidation run.
type State int

const (
	StateIdle State = iota
	StateLoanRequested
	StateUnwinding
	StateSettled
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoanRequested:
		return "loan_requested"
	case StateUnwinding:
		return "unwinding"
	case StateSettled:
		return "settled"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Step names the unwind phase a run is in.
type Step string

const (
	StepRepay    Step = "repay"
	StepWithdraw Step = "withdraw"
	StepSwap     Step = "swap"
	StepSettle   Step = "settle"
)

// LoanRequest is the first half of a self-liquidation: the flash loan that
// covers user's debt. It is completed by the pool calling ExecuteOperation.
type LoanRequest struct {
	User    common.Address
	Assets  []common.Address
	Amounts []*big.Int
	Modes   []flashloan.Mode
	Params  []byte
}

// Swap records one collateral conversion.
type Swap struct {
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	AmountOut   *big.Int
	ExactOutput bool
}

// Result summarises a settled self-liquidation.
type Result struct {
	User      common.Address
	State     State
	Loans     []types.TokenAmount
	Premiums  []types.TokenAmount
	Repaid    []types.TokenAmount
	Withdrawn []types.TokenAmount
	Swaps     []Swap
	// Residuals are left in custody, credited to User.
	Residuals []types.TokenAmount
	// ResidualValue is the oracle value of Residuals in base currency.
	ResidualValue *big.Int
	Duration      time.Duration
}
