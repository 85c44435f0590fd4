package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Transactor runs fn atomically. *Host implements it.
type Transactor interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
}

// Custody is the ERC-20 surface contracts use to move tokens. *Ledger
// implements it.
type Custody interface {
	BalanceOf(token, holder common.Address) *big.Int
	Allowance(token, owner, spender common.Address) *big.Int
	Approve(token, owner, spender common.Address, amount *big.Int) error
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
}

var (
	_ Transactor = (*Host)(nil)
	_ Custody    = (*Ledger)(nil)
)
