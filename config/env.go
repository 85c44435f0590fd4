package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvRPCURL       = "EJECTOR_RPC_URL"
	EnvNetwork      = "EJECTOR_NETWORK" // mainnet, sepolia, fork
	EnvDataProvider = "EJECTOR_DATA_PROVIDER"
	EnvRateLimit    = "EJECTOR_RATE_LIMIT"
	EnvSlippageBps  = "EJECTOR_SLIPPAGE_BPS"
)

// LoadEnv loads environment variables from the given .env files, or from
// .env in the working directory. A missing default file is not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); os.IsNotExist(err) {
			return nil
		}
	}
	return godotenv.Load(files...)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv overrides cfg with any EJECTOR_* variables that are set.
// Unparseable numbers are ignored and left for Validate to judge the file
// value.
func ApplyEnv(cfg *Config) {
	cfg.RPCURL = GetEnvWithDefault(EnvRPCURL, cfg.RPCURL)
	cfg.Network = GetEnvWithDefault(EnvNetwork, cfg.Network)
	cfg.Aave.DataProvider = GetEnvWithDefault(EnvDataProvider, cfg.Aave.DataProvider)

	if v, err := strconv.ParseFloat(os.Getenv(EnvRateLimit), 64); err == nil {
		cfg.Aave.RateLimit.RequestsPerSecond = v
	}
	if v, err := strconv.ParseUint(os.Getenv(EnvSlippageBps), 10, 64); err == nil {
		cfg.Ejector.SlippageBps = v
	}
}
