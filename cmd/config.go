package cmd

import (
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/ejector/config"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if configOutput != "" {
			return config.SaveConfig(cfg, configOutput)
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configCmd.Flags().StringVarP(&configOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(configCmd)
}
