package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ExactInputSingleParams mirrors ISwapRouter.ExactInputSingleParams.
type ExactInputSingleParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Fee              uint32
	Recipient        common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// ExactOutputSingleParams mirrors ISwapRouter.ExactOutputSingleParams.
type ExactOutputSingleParams struct {
	TokenIn         common.Address
	TokenOut        common.Address
	Fee             uint32
	Recipient       common.Address
	AmountOut       *big.Int
	AmountInMaximum *big.Int
}

// Router is a single-hop exchange router. Swaps pull the input from caller,
// who must have approved the router.
type Router interface {
	Address() common.Address

	// ExactInputSingle swaps all of AmountIn and returns the output delivered
	// to Recipient.
	ExactInputSingle(ctx context.Context, caller common.Address, params ExactInputSingleParams) (*big.Int, error)

	// ExactOutputSingle delivers exactly AmountOut and returns the input spent.
	ExactOutputSingle(ctx context.Context, caller common.Address, params ExactOutputSingleParams) (*big.Int, error)

	QuoteExactInputSingle(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, error)
	QuoteExactOutputSingle(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountOut *big.Int) (*big.Int, error)
}

// Reserves represents token pair reserves
type Reserves struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}
