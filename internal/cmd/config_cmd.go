package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		redacted := cfg.Redacted()
		view := map[string]any{
			"server":  redacted.Server,
			"logging": redacted.Logging,
			"metrics": redacted.Metrics,
			"faucet": map[string]any{
				"amount":              redacted.Faucet.Amount.String(),
				"window":              redacted.Faucet.Window.String(),
				"identity_strategy":   redacted.Faucet.IdentityStrategy,
				"require_fingerprint": redacted.Faucet.RequireFingerprint,
				"donation_address":    redacted.Faucet.DonationAddress,
				"coin_symbol":         redacted.Faucet.CoinSymbol,
			},
			"captcha": redacted.Captcha,
			"node":    redacted.Node,
			"store":   redacted.Store,
			"redis":   redacted.Redis,
		}

		data, err := yaml.Marshal(view)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
		if err != nil {
			return err
		}

		if verr := cfg.Validate(); verr != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "\nwarning: %v\n", verr)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
