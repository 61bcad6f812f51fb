package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigotlabs/spigot/internal/config"
	errwrap "github.com/spigotlabs/spigot/internal/errors"
	"github.com/spigotlabs/spigot/internal/metrics"
	"github.com/spigotlabs/spigot/internal/observability"
	"github.com/spigotlabs/spigot/internal/server"
	"github.com/spigotlabs/spigot/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the faucet HTTP server",
	Long: `Start the faucet HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: logged only; configuration is read once at startup

In-flight payouts finish before the process exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		ctx, stop := context.WithCancel(cmd.Context())
		defer stop()

		fc, err := buildFaucet(ctx, cfg)
		if err != nil {
			logger.Error("Failed to build claim pipeline", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "claim pipeline initialization failed")
		}

		logger.Info("Initializing server",
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store", fc.backend.driver),
			zap.String("identity_strategy", fc.resolver.Name()),
			zap.String("amount", cfg.Faucet.Amount.String()),
			zap.Duration("window", cfg.Faucet.Window),
			zap.Any("config", cfg.Redacted()))

		hm := handlers.NewHealthManager(versionInfo.Version)
		for name, ping := range fc.backend.pingers {
			hm.RegisterChecker(name, handlers.HealthCheckFunc(ping))
		}
		hm.RegisterOptionalChecker("ledger_node", handlers.HealthCheckFunc(fc.node.Ping))
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", handlers.HealthCheckFunc(func(context.Context) error {
				if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
					return errwrap.NewInternalError("telemetry system not initialized")
				}
				return nil
			}))
		}

		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			AdminToken:   adminToken(),
			Health:       hm,
			Faucet: &handlers.FaucetAPI{
				Claims:          fc.orchestrator,
				Resolver:        fc.resolver,
				Totals:          fc.backend.totals,
				Balance:         fc.node,
				Amount:          cfg.Faucet.Amount,
				Window:          cfg.Faucet.Window,
				DonationAddress: cfg.Faucet.DonationAddress,
				Coin:            cfg.Faucet.CoinSymbol,
			},
		})

		go fc.runJanitor(ctx, cfg.Store.SweepInterval)

		started := time.Now()
		metrics.SetServerStartTime(started.Unix())
		go reportUptime(ctx, started)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = config.MinShutdownTimeout(cfg)
		}

		// Handlers run LIFO: server first, then the claim drain and backend,
		// then the logger. None of them return errors so that a slow step
		// never skips the ones registered before it.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stop()
			pending, err := fc.drainAndClose(ctx, shutdownTimeout)
			if pending > 0 {
				logger.Error("Exiting with payouts still in flight; reconcile against the node",
					zap.Int("in_flight", pending))
			}
			if err != nil {
				logger.Warn("Failed to close store", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP server did not stop cleanly", zap.Error(err),
					zap.Int("in_flight", fc.orchestrator.InFlight()))
				return nil
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: configuration is read at startup only; restart to apply changes",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func reportUptime(ctx context.Context, started time.Time) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetServerUptime(int64(time.Since(started).Seconds()))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
