package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	bigmath "github.com/michaelpento.lv/ejector/utils/math"
)

type Config struct {
	Network string `yaml:"network"`
	RPCURL  string `yaml:"rpc_url"`

	Aave       AaveConfig       `yaml:"aave"`
	Dex        DexConfig        `yaml:"dex"`
	Ejector    EjectorConfig    `yaml:"ejector"`
	Simulation SimulationConfig `yaml:"simulation"`
}

type AaveConfig struct {
	AddressesProvider string          `yaml:"addresses_provider"`
	LendingPool       string          `yaml:"lending_pool"`
	DataProvider      string          `yaml:"data_provider"`
	PriceOracle       string          `yaml:"price_oracle"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	CacheSize         int             `yaml:"cache_size"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type DexConfig struct {
	Router  string `yaml:"router"`
	Factory string `yaml:"factory"`
}

type EjectorConfig struct {
	Address      string   `yaml:"address"`
	SwapRouter   string   `yaml:"swap_router"`
	FeeTier      uint32   `yaml:"fee_tier"`
	SlippageBps  uint64   `yaml:"slippage_bps"`
	ReferralCode uint16   `yaml:"referral_code"`
	Assets       []string `yaml:"assets"`
}

// SimulationConfig describes the in-memory market used by `simulate`.
// Amounts are decimal token amounts; prices are in ETH per whole token.
type SimulationConfig struct {
	Reserves []ReserveConfig `yaml:"reserves"`
	Pools    []PoolConfig    `yaml:"pools"`
	Position PositionConfig  `yaml:"position"`
}

type ReserveConfig struct {
	Symbol               string `yaml:"symbol"`
	Address              string `yaml:"address"`
	Decimals             uint8  `yaml:"decimals"`
	Price                string `yaml:"price"`
	LTV                  uint64 `yaml:"ltv"`
	LiquidationThreshold uint64 `yaml:"liquidation_threshold"`
	Liquidity            string `yaml:"liquidity"`
}

type PoolConfig struct {
	TokenA  string `yaml:"token_a"`
	TokenB  string `yaml:"token_b"`
	Fee     uint32 `yaml:"fee"`
	AmountA string `yaml:"amount_a"`
	AmountB string `yaml:"amount_b"`
}

type PositionConfig struct {
	User       string         `yaml:"user"`
	Collateral []AmountConfig `yaml:"collateral"`
	Debt       []DebtConfig   `yaml:"debt"`
}

type AmountConfig struct {
	Symbol string `yaml:"symbol"`
	Amount string `yaml:"amount"`
}

type DebtConfig struct {
	Symbol   string `yaml:"symbol"`
	Amount   string `yaml:"amount"`
	RateMode string `yaml:"rate_mode"`
}

// DefaultConfig returns the Aave V2 mainnet deployment with the LINK/YFI
// collateral, DAI/USDC debt scenario.
func DefaultConfig() *Config {
	return &Config{
		Network: "mainnet",
		RPCURL:  "http://localhost:8545",
		Aave: AaveConfig{
			AddressesProvider: "0xB53C1a33016B2DC2fF3653530bfF1848a515c8c5",
			LendingPool:       "0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9",
			DataProvider:      "0x057835Ad21a177dbdd3090bB1CAE03EaCF78Fc6d",
			PriceOracle:       "0xA50ba011c48153De246E5192C8f9258A2ba79Ca9",
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         5,
			},
			CacheSize: 128,
		},
		Dex: DexConfig{
			Router:  "0xE592427A0AEce92De3Edee1F18E0157C05861564",
			Factory: "0x1F98431c8aD98523631AE4a59f267346ea31F984",
		},
		Ejector: EjectorConfig{
			Address:     "0x00000000000000000000000000000000E1ec7000",
			SwapRouter:  "0x0000000000000000000000000000000000005A99",
			FeeTier:     3000,
			SlippageBps: 100,
			Assets: []string{
				"0x514910771AF9Ca656af840dff83E8264EcF986CA",
				"0x0bc529c00C6401aEF6D220BE8C6Ea1667F6Ad93e",
				"0x6B175474E89094C44Da98b954EedeAC495271d0F",
				"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			},
		},
		Simulation: SimulationConfig{
			Reserves: []ReserveConfig{
				{"LINK", "0x514910771AF9Ca656af840dff83E8264EcF986CA", 18, "0.01", 7000, 7500, "1000000"},
				{"YFI", "0x0bc529c00C6401aEF6D220BE8C6Ea1667F6Ad93e", 18, "20", 4000, 5500, "1000"},
				{"DAI", "0x6B175474E89094C44Da98b954EedeAC495271d0F", 18, "0.0005", 7500, 8000, "10000000"},
				{"USDC", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 6, "0.0005", 8000, 8500, "10000000"},
				{"WETH", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 18, "1", 8000, 8250, "10000"},
			},
			Pools: []PoolConfig{
				{"LINK", "DAI", 3000, "100000", "2000000"},
				{"LINK", "USDC", 3000, "100000", "2000000"},
				{"YFI", "DAI", 3000, "1000", "40000000"},
				{"YFI", "USDC", 3000, "1000", "40000000"},
				{"WETH", "DAI", 3000, "10000", "20000000"},
				{"WETH", "USDC", 3000, "10000", "20000000"},
			},
			Position: PositionConfig{
				User: "0xcA8Fa8f0b631EcdB18Cda619C4Fc9d197c8aFfCa",
				Collateral: []AmountConfig{
					{"LINK", "1000"},
					{"YFI", "1"},
				},
				Debt: []DebtConfig{
					{"DAI", "9000", "stable"},
					{"USDC", "10000", "stable"},
				},
			},
		},
	}
}

// LoadConfig reads cfgFile over the defaults and applies environment
// overrides. An empty path looks for $HOME/.ejector.yaml and falls back to
// the defaults when it does not exist.
func LoadConfig(cfgFile string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := cfgFile != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".ejector.yaml")
	}

	data, err := os.ReadFile(cfgFile)
	switch {
	case err == nil:
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case explicit || !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML.
func SaveConfig(cfg *Config, cfgFile string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgFile, data, 0o644)
}

func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errors []string
	addr := func(name, value string) {
		if !common.IsHexAddress(value) {
			errors = append(errors, fmt.Sprintf("%s must be a hex address, got %q", name, value))
		}
	}

	if c.Network == "" {
		errors = append(errors, "network must be specified")
	}

	addr("aave.addresses_provider", c.Aave.AddressesProvider)
	addr("aave.data_provider", c.Aave.DataProvider)
	for name, value := range map[string]string{
		"aave.lending_pool": c.Aave.LendingPool,
		"aave.price_oracle": c.Aave.PriceOracle,
	} {
		if value != "" {
			addr(name, value)
		}
	}
	if c.Aave.RateLimit.RequestsPerSecond < 0 {
		errors = append(errors, "aave.rate_limit.requests_per_second cannot be negative")
	}
	if c.Aave.RateLimit.BurstSize < 0 {
		errors = append(errors, "aave.rate_limit.burst_size cannot be negative")
	}

	addr("dex.router", c.Dex.Router)
	addr("dex.factory", c.Dex.Factory)
	addr("ejector.address", c.Ejector.Address)
	addr("ejector.swap_router", c.Ejector.SwapRouter)
	if c.Ejector.SlippageBps >= 10_000 {
		errors = append(errors, "ejector.slippage_bps must be below 10000")
	}
	if c.Ejector.FeeTier >= 1_000_000 {
		errors = append(errors, "ejector.fee_tier must be below 1000000")
	}
	for i, asset := range c.Ejector.Assets {
		addr(fmt.Sprintf("ejector.assets[%d]", i), asset)
	}

	if err := c.Simulation.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// Validate checks the scenario is self-consistent: every pool and position
// entry names a listed reserve and every amount parses.
func (s *SimulationConfig) Validate() error {
	var errors []string
	decimals := make(map[string]uint8, len(s.Reserves))
	amount := func(field, symbol, value string) {
		d, ok := decimals[symbol]
		if !ok {
			errors = append(errors, fmt.Sprintf("%s: unknown reserve %q", field, symbol))
			return
		}
		if _, err := bigmath.ParseUnits(value, d); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", field, err))
		}
	}

	for i, r := range s.Reserves {
		field := fmt.Sprintf("simulation.reserves[%d]", i)
		if r.Symbol == "" {
			errors = append(errors, field+": symbol must be specified")
		}
		if _, dup := decimals[r.Symbol]; dup {
			errors = append(errors, fmt.Sprintf("%s: duplicate reserve %q", field, r.Symbol))
		}
		decimals[r.Symbol] = r.Decimals
		if !common.IsHexAddress(r.Address) {
			errors = append(errors, fmt.Sprintf("%s: invalid address %q", field, r.Address))
		}
		if r.LTV > r.LiquidationThreshold || r.LiquidationThreshold > 10_000 {
			errors = append(errors, fmt.Sprintf("%s: ltv %d and liquidation threshold %d out of range", field, r.LTV, r.LiquidationThreshold))
		}
		if _, err := bigmath.ParseUnits(r.Price, 18); err != nil {
			errors = append(errors, fmt.Sprintf("%s: price: %v", field, err))
		}
		if _, err := bigmath.ParseUnits(r.Liquidity, r.Decimals); err != nil {
			errors = append(errors, fmt.Sprintf("%s: liquidity: %v", field, err))
		}
	}

	for i, p := range s.Pools {
		field := fmt.Sprintf("simulation.pools[%d]", i)
		if p.TokenA == p.TokenB {
			errors = append(errors, field+": identical tokens")
		}
		amount(field+".amount_a", p.TokenA, p.AmountA)
		amount(field+".amount_b", p.TokenB, p.AmountB)
	}

	if s.Position.User != "" && !common.IsHexAddress(s.Position.User) {
		errors = append(errors, fmt.Sprintf("simulation.position.user: invalid address %q", s.Position.User))
	}
	for i, c := range s.Position.Collateral {
		amount(fmt.Sprintf("simulation.position.collateral[%d]", i), c.Symbol, c.Amount)
	}
	for i, d := range s.Position.Debt {
		field := fmt.Sprintf("simulation.position.debt[%d]", i)
		amount(field, d.Symbol, d.Amount)
		if d.RateMode != "stable" && d.RateMode != "variable" {
			errors = append(errors, fmt.Sprintf("%s: rate_mode must be stable or variable, got %q", field, d.RateMode))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}
	return nil
}
