package cli

import (
	"github.com/spf13/cobra"

	"github.com/ame2e/mlsgov/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved client configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the schema-validated config.yaml this client would run with",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClientConfig(flagConfigPath)
		if err != nil {
			return err
		}
		printResult(cfg, "identity=%s as=%s ds=%s state_dir=%s retry_budget=%d",
			cfg.Identity, cfg.ASEndpoint, cfg.DSEndpoint, cfg.StateDir, cfg.RetryBudget)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
