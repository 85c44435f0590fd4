package flashloan

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	bigmath "github.com/michaelpento.lv/ejector/utils/math"
)

// Mode decides what happens to a loaned amount that is not paid back:
// ModeNoDebt requires repayment, the others open debt for onBehalfOf.
type Mode uint8

const (
	ModeNoDebt   Mode = 0
	ModeStable   Mode = 1
	ModeVariable Mode = 2
)

// DefaultPremiumBps is the Aave V2 flash loan premium (0.09%).
const DefaultPremiumBps = 9

// Request is the transient tuple delivered to the receiver.
type Request struct {
	Assets    []common.Address
	Amounts   []*big.Int
	Premiums  []*big.Int
	Initiator common.Address
	Params    []byte
}

// Owed returns principal plus premium for asset i.
func (r *Request) Owed(i int) *big.Int {
	return new(big.Int).Add(r.Amounts[i], r.Premiums[i])
}

// Premium returns the fee owed on amount, rounded down like the pool does.
func Premium(amount *big.Int, bps uint64) *big.Int {
	return bigmath.PercentMulFloor(amount, bps)
}

// Premiums computes the premium for every amount.
func Premiums(amounts []*big.Int, bps uint64) []*big.Int {
	out := make([]*big.Int, len(amounts))
	for i, amount := range amounts {
		out[i] = Premium(amount, bps)
	}
	return out
}

var userParamsArgs = func() abi.Arguments {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "user", Type: addressType}}
}()

// EncodeUserParams ABI-encodes the user whose position a loan unwinds.
func EncodeUserParams(user common.Address) ([]byte, error) {
	data, err := userParamsArgs.Pack(user)
	if err != nil {
		return nil, fmt.Errorf("failed to pack flash loan params: %w", err)
	}
	return data, nil
}

// DecodeUserParams reverses EncodeUserParams.
func DecodeUserParams(data []byte) (common.Address, error) {
	values, err := userParamsArgs.Unpack(data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack flash loan params: %w", err)
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("unexpected flash loan params length %d", len(values))
	}
	user, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("failed to parse user address")
	}
	return user, nil
}
