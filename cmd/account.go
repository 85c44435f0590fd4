package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/ejector/config"
	"github.com/michaelpento.lv/ejector/lending/aave"
	"github.com/michaelpento.lv/ejector/utils"
	bigmath "github.com/michaelpento.lv/ejector/utils/math"
	"github.com/michaelpento.lv/ejector/utils/metrics"
)

var accountCmd = &cobra.Command{
	Use:   "account <address>",
	Short: "Show a live Aave V2 position",
	Long: `account reads a user's position from the configured node (rpc_url or
` + config.EnvRPCURL + `) and lists every reserve with a balance.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid address %q", args[0])
		}
		user := common.HexToAddress(args[0])

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := utils.GetLogger()
		ctx := cmd.Context()

		reader, client, err := aave.Dial(ctx, cfg.RPCURL, readerConfig(cfg), metrics.NewRPCMetrics("aave", nil), log)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := reader.Resolve(ctx); err != nil {
			return err
		}
		pos, err := reader.Position(ctx, user, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user        %s\n", pos.User.Hex())
		fmt.Fprintf(out, "collateral  %s ETH\n", eth(pos.Account.TotalCollateral))
		fmt.Fprintf(out, "debt        %s ETH\n", eth(pos.Account.TotalDebt))
		fmt.Fprintf(out, "available   %s ETH\n", eth(pos.Account.AvailableBorrows))
		fmt.Fprintf(out, "health      %s\n", health(pos.Account.HealthFactor))

		for _, r := range pos.Reserves {
			conf, err := reader.GetReserveConfigurationData(ctx, r.Asset)
			if err != nil {
				log.Warn("Failed to read reserve configuration", zap.String("asset", r.Asset.Hex()), zap.Error(err))
				continue
			}
			fmt.Fprintf(out, "reserve     %s supplied %s stable %s variable %s\n",
				r.Asset.Hex(),
				bigmath.FormatUnits(r.CurrentATokenBalance, conf.Decimals),
				bigmath.FormatUnits(r.CurrentStableDebt, conf.Decimals),
				bigmath.FormatUnits(r.CurrentVariableDebt, conf.Decimals))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
}

func readerConfig(cfg *config.Config) aave.Config {
	rc := aave.Config{
		AddressesProvider: common.HexToAddress(cfg.Aave.AddressesProvider),
		DataProvider:      common.HexToAddress(cfg.Aave.DataProvider),
		RequestsPerSecond: cfg.Aave.RateLimit.RequestsPerSecond,
		Burst:             cfg.Aave.RateLimit.BurstSize,
		CacheSize:         cfg.Aave.CacheSize,
	}
	if cfg.Aave.LendingPool != "" {
		rc.LendingPool = common.HexToAddress(cfg.Aave.LendingPool)
	}
	if cfg.Aave.PriceOracle != "" {
		rc.PriceOracle = common.HexToAddress(cfg.Aave.PriceOracle)
	}
	return rc
}
