package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receiver is invoked exactly once per flash loan, after the loaned amounts
// have been transferred to it. Before returning it must leave the issuer able
// to pull principal plus premium for every asset.
type Receiver interface {
	Address() common.Address
	ExecuteOperation(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, params []byte) error
}

// Issuer lends assets for the duration of a single callback.
type Issuer interface {
	FlashLoan(ctx context.Context, caller common.Address, receiver Receiver, assets []common.Address, amounts []*big.Int, modes []Mode, onBehalfOf common.Address, params []byte, referralCode uint16) error
	FlashLoanPremiumBps() uint64
}
