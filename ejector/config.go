package ejector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	bigmath "github.com/michaelpento.lv/ejector/utils/math"
)

// DefaultSlippageBps bounds exact-input fallback swaps to 1% below the quote.
const DefaultSlippageBps = 100

// Config is the immutable deployment configuration of an Ejector.
type Config struct {
	// Address is the ejector's own account.
	Address           common.Address
	Pool              common.Address
	Oracle            common.Address
	AddressesProvider common.Address
	SwapRouter        common.Address

	// Assets fixes the order in which debts and collateral are enumerated.
	// Empty means the data provider's reserve order.
	Assets []common.Address

	SlippageBps  uint64
	ReferralCode uint16
}

// Validate reports every missing or malformed field at once.
func (c Config) Validate() error {
	var problems []string
	zero := common.Address{}
	for _, field := range []struct {
		name string
		addr common.Address
	}{
		{"address", c.Address},
		{"pool", c.Pool},
		{"oracle", c.Oracle},
		{"addresses provider", c.AddressesProvider},
		{"swap router", c.SwapRouter},
	} {
		if field.addr == zero {
			problems = append(problems, field.name+" cannot be zero")
		}
	}
	seen := make(map[common.Address]bool, len(c.Assets))
	for _, asset := range c.Assets {
		if asset == zero {
			problems = append(problems, "asset list contains the zero address")
		}
		if seen[asset] {
			problems = append(problems, fmt.Sprintf("asset %s listed twice", asset.Hex()))
		}
		seen[asset] = true
	}
	if c.SlippageBps >= bigmath.BasisPoints.Uint64() {
		problems = append(problems, fmt.Sprintf("slippage %d bps out of range", c.SlippageBps))
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid ejector config: " + strings.Join(problems, "; "))
}

// withDefaults returns a copy with defaults applied and Assets detached from
// the caller's slice.
func (c Config) withDefaults() Config {
	if c.SlippageBps == 0 {
		c.SlippageBps = DefaultSlippageBps
	}
	c.Assets = append([]common.Address(nil), c.Assets...)
	return c
}
