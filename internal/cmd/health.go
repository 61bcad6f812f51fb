package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigotlabs/spigot/internal/config"
	errwrap "github.com/spigotlabs/spigot/internal/errors"
	"github.com/spigotlabs/spigot/internal/observability"
)

var healthPingNode bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the configuration is complete and the configured store (and optionally the node) is reachable.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(true)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration valid", zap.String("store", cfg.Store.Driver))

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if cfg.Store.Driver != config.DriverMemory {
			b, err := openBackend(ctx, cfg)
			if err != nil {
				ExitWithCode(logger, foundry.ExitFailure, "Store unreachable", err)
				return
			}
			for name, ping := range b.pingers {
				if err := ping(ctx); err != nil {
					_ = b.Close()
					ExitWithCode(logger, foundry.ExitFailure, "Store ping failed: "+name, err)
					return
				}
			}
			_ = b.Close()
			logger.Info("✅ Store reachable")
		}

		if healthPingNode {
			if err := newNodeClient(cfg).Ping(ctx); err != nil {
				ExitWithCode(logger, foundry.ExitFailure, "Ledger node unreachable", err)
				return
			}
			logger.Info("✅ Ledger node reachable")
		}

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthPingNode, "node", false, "also ping the ledger node")
	rootCmd.AddCommand(healthCmd)
}
