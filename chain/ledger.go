package chain

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/ejector/types"
)

// TransferHook validates a holder-to-holder transfer after balances moved.
// Returning an error rolls the transfer back.
type TransferHook func(token, from, to common.Address, amount *big.Int) error

// Ledger keeps ERC-20 balances and allowances for any number of tokens.
type Ledger struct {
	mu         sync.RWMutex
	journal    *Journal
	balances   map[common.Address]map[common.Address]*big.Int
	supply     map[common.Address]*big.Int
	symbols    map[common.Address]string
	hooks      map[common.Address]TransferHook
	allowances *Capabilities
}

// NewLedger creates a ledger recording its mutations into journal.
func NewLedger(journal *Journal) *Ledger {
	return &Ledger{
		journal:    journal,
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		supply:     make(map[common.Address]*big.Int),
		symbols:    make(map[common.Address]string),
		hooks:      make(map[common.Address]TransferHook),
		allowances: NewCapabilities(journal),
	}
}

// Register names a token. Unregistered tokens still work.
func (l *Ledger) Register(token common.Address, symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.symbols[token] = symbol
}

// Symbol returns the registered symbol, or the address hex.
func (l *Ledger) Symbol(token common.Address) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.symbols[token]; ok {
		return s
	}
	return token.Hex()
}

// SetTransferHook installs a validation hook for transfers of token.
func (l *Ledger) SetTransferHook(token common.Address, hook TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks[token] = hook
}

// BalanceOf returns holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.balances[token][holder]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// TotalSupply returns the minted-minus-burned supply of token.
func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.supply[token]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Allowance returns what spender may still pull from owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	return l.allowances.Limit(owner, spender, token)
}

// Approve sets spender's allowance over owner's tokens.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return types.NewError(types.ErrInvalidAmount, "approve").WithAsset(token).WithActor(owner)
	}
	l.allowances.Grant(owner, spender, token, amount)
	return nil
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	return l.transfer("transfer", token, from, to, amount)
}

// TransferFrom moves owner's tokens on behalf of spender, consuming allowance.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if err := validAmount("transferFrom", token, from, amount); err != nil {
		return err
	}
	if spender != from {
		if !l.allowances.Covers(from, spender, token, amount) {
			return types.NewError(types.ErrInsufficientAllowance, "transferFrom").
				WithAsset(token).WithAmount(amount).WithActor(spender)
		}
	}

	if err := l.transfer("transferFrom", token, from, to, amount); err != nil {
		return err
	}
	if spender != from {
		l.allowances.Consume(from, spender, token, amount)
	}
	return nil
}

// Mint creates amount of token for holder.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := validAmount("mint", token, to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	l.addBalance(token, to, amount)
	l.addSupply(token, amount)
	l.mu.Unlock()
	return nil
}

// Burn destroys amount of token held by holder.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	if err := validAmount("burn", token, from, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balanceLocked(token, from).Cmp(amount) < 0 {
		return types.NewError(types.ErrInsufficientBalance, "burn").
			WithAsset(token).WithAmount(amount).WithActor(from)
	}
	l.addBalance(token, from, new(big.Int).Neg(amount))
	l.addSupply(token, new(big.Int).Neg(amount))
	return nil
}

func (l *Ledger) transfer(op string, token, from, to common.Address, amount *big.Int) error {
	if err := validAmount(op, token, from, amount); err != nil {
		return err
	}

	snap := l.journal.Snapshot()

	l.mu.Lock()
	if l.balanceLocked(token, from).Cmp(amount) < 0 {
		l.mu.Unlock()
		return types.NewError(types.ErrInsufficientBalance, op).
			WithAsset(token).WithAmount(amount).WithActor(from)
	}
	l.addBalance(token, from, new(big.Int).Neg(amount))
	l.addBalance(token, to, amount)
	hook := l.hooks[token]
	l.mu.Unlock()

	if hook != nil && from != to {
		if err := hook(token, from, to, amount); err != nil {
			l.journal.RevertToSnapshot(snap)
			return err
		}
	}
	return nil
}

func validAmount(op string, token, actor common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return types.NewError(types.ErrInvalidAmount, op).WithAsset(token).WithActor(actor)
	}
	return nil
}

// balanceLocked requires l.mu to be held.
func (l *Ledger) balanceLocked(token, holder common.Address) *big.Int {
	if v, ok := l.balances[token][holder]; ok {
		return v
	}
	return new(big.Int)
}

// addBalance requires l.mu to be held. The undo closure takes the lock itself.
func (l *Ledger) addBalance(token, holder common.Address, delta *big.Int) {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	prev, existed := holders[holder]
	next := new(big.Int).Add(l.balanceLocked(token, holder), delta)
	holders[holder] = next

	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existed {
			l.balances[token][holder] = prev
		} else {
			delete(l.balances[token], holder)
		}
	})
}

// addSupply requires l.mu to be held.
func (l *Ledger) addSupply(token common.Address, delta *big.Int) {
	prev, existed := l.supply[token]
	next := new(big.Int).Add(l.supplyLocked(token), delta)
	l.supply[token] = next

	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existed {
			l.supply[token] = prev
		} else {
			delete(l.supply, token)
		}
	})
}

func (l *Ledger) supplyLocked(token common.Address) *big.Int {
	if v, ok := l.supply[token]; ok {
		return v
	}
	return new(big.Int)
}
