package chain

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/ejector/types"
)

type capabilityKey struct {
	grantor common.Address
	grantee common.Address
	asset   common.Address
}

// Capabilities is an authorization table: grantor -> grantee -> asset -> limit.
// It backs ERC-20 allowances as well as credit delegation. An unlimited grant
// (types.MaxAmount) is never decremented.
type Capabilities struct {
	mu      sync.RWMutex
	journal *Journal
	limits  map[capabilityKey]*big.Int
}

// NewCapabilities creates an empty table recording changes into journal.
func NewCapabilities(journal *Journal) *Capabilities {
	return &Capabilities{
		journal: journal,
		limits:  make(map[capabilityKey]*big.Int),
	}
}

// Grant sets the limit grantee may consume from grantor for asset.
func (c *Capabilities) Grant(grantor, grantee, asset common.Address, limit *big.Int) {
	if limit == nil {
		limit = new(big.Int)
	}
	c.set(capabilityKey{grantor, grantee, asset}, new(big.Int).Set(limit))
}

// Limit returns the remaining limit (zero when absent).
func (c *Capabilities) Limit(grantor, grantee, asset common.Address) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.limits[capabilityKey{grantor, grantee, asset}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Covers reports whether the remaining limit is at least amount.
func (c *Capabilities) Covers(grantor, grantee, asset common.Address, amount *big.Int) bool {
	return c.Limit(grantor, grantee, asset).Cmp(amount) >= 0
}

// Consume decrements the grant by amount. It returns false and leaves the
// table unchanged when the remaining limit is below amount.
func (c *Capabilities) Consume(grantor, grantee, asset common.Address, amount *big.Int) bool {
	key := capabilityKey{grantor, grantee, asset}
	current := c.Limit(grantor, grantee, asset)
	if current.Cmp(amount) < 0 {
		return false
	}
	if types.IsMax(current) {
		return true
	}
	c.set(key, current.Sub(current, amount))
	return true
}

func (c *Capabilities) set(key capabilityKey, value *big.Int) {
	c.mu.Lock()
	prev, existed := c.limits[key]
	if value.Sign() == 0 {
		delete(c.limits, key)
	} else {
		c.limits[key] = value
	}
	c.mu.Unlock()

	if c.journal == nil {
		return
	}
	c.journal.Append(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if existed {
			c.limits[key] = prev
		} else {
			delete(c.limits, key)
		}
	})
}
