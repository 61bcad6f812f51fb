package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigotlabs/spigot/internal/config"
	"github.com/spigotlabs/spigot/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display runtime, version and faucet configuration details (secrets are reported as set or unset).",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== spigot Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + config.AppName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS/ARCH:  " + runtime.GOOS + "/" + runtime.GOARCH)
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig(false)
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		configFile := viper.ConfigFileUsed()
		if configFile == "" {
			configFile = "(none)"
		}

		log.Info("Configuration:")
		log.Info("  Config File:    " + configFile)
		log.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      " + cfg.Logging.Level)
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info("")

		log.Info("Faucet:")
		log.Info("  Amount:         " + cfg.Faucet.Amount.String() + " " + cfg.Faucet.CoinSymbol)
		log.Info("  Window:         " + cfg.Faucet.Window.String())
		log.Info(fmt.Sprintf("  Identity:       %s (fingerprint required: %t)", cfg.Faucet.IdentityStrategy, cfg.Faucet.RequireFingerprint))
		log.Info("  Captcha Secret: " + setOrUnset(cfg.Captcha.Secret))
		log.Info("  Node:           " + cfg.Node.URL())
		log.Info("  Node User:      " + setOrUnset(cfg.Node.User))
		log.Info("")

		log.Info("Store:")
		log.Info("  Driver:         " + cfg.Store.Driver)
		switch cfg.Store.Driver {
		case config.DriverLibsql:
			if strings.TrimSpace(cfg.Store.URL) != "" {
				log.Info("  URL:            " + cfg.Store.URL)
			} else {
				log.Info("  Path:           " + cfg.Store.Path)
			}
		case config.DriverRedis:
			log.Info("  Redis:          " + cfg.Redis.Addr)
		}
		log.Info("  Sweep Interval: " + cfg.Store.SweepInterval.String())
		log.Info("")

		if err := cfg.Validate(); err != nil {
			log.Warn("Configuration incomplete for serve", zap.Error(err))
		}
		log.Info("=== End Environment Information ===")
	},
}

func setOrUnset(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(not set)"
	}
	return "(set)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
