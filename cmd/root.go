package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/ejector/config"
	"github.com/michaelpento.lv/ejector/utils"
)

var (
	cfgFile string
	envFile string
	logFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "ejector",
	Short: "Flash-loan self-liquidation for Aave V2 positions",
	Long: `ejector closes a leveraged Aave V2 position in one atomic step: it flash
borrows the outstanding debt, repays it, withdraws the collateral, swaps
enough of it back to settle the loan and keeps the rest for the owner.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ejector.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with EJECTOR_* overrides (default is ./.env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stdout")
}

func initConfig() {
	opts := []utils.LoggerOption{utils.WithName("ejector")}
	if logFile != "" {
		opts = append(opts, utils.WithOutputPaths(logFile))
	}
	log := utils.InitLogger(debug, opts...)
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	if err := config.LoadEnv(files...); err != nil {
		log.Warn("Failed to load env file", zap.Error(err))
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgFile)
}
