package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spigotlabs/spigot/internal/config"
	"github.com/spigotlabs/spigot/internal/core/store"
	"github.com/spigotlabs/spigot/internal/core/store/redisstore"
	"github.com/spigotlabs/spigot/internal/output"
)

var errMemoryStore = errors.New("store.driver is memory: limiter state lives inside the running server only")

var (
	limitsListAll    bool
	limitsListPrefix string

	limitsResetAll      bool
	limitsResetIdentity string
	limitsResetPrefix   string
	limitsResetYes      bool
	limitsResetDryRun   bool
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Inspect or reset persisted claim limits",
}

var limitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored claim limit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		switch cfg.Store.Driver {
		case config.DriverRedis:
			return countRedisLimits(cmd.Context(), cfg, cmd.OutOrStdout())
		case config.DriverLibsql:
		default:
			return errMemoryStore
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.LimitQuery{
			All:    limitsListAll,
			Prefix: strings.TrimSpace(limitsListPrefix),
		}
		if !query.All && query.Prefix == "" {
			query.All = true
		}

		records, err := db.ListLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		rows := make([]output.LimitRow, 0, len(records))
		for _, rec := range records {
			rows = append(rows, output.LimitRow{Identity: rec.Identity, Entry: rec.Entry})
		}

		now := time.Now().UTC()
		return writeReport(cmd, func(format output.Format) (string, error) {
			return output.Limits(format, rows, now)
		})
	},
}

var limitsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored claim limit entries so identities can claim again",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := store.LimitQuery{
			All:      limitsResetAll,
			Identity: strings.TrimSpace(limitsResetIdentity),
			Prefix:   strings.TrimSpace(limitsResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !limitsResetYes && !limitsResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		switch cfg.Store.Driver {
		case config.DriverRedis:
			return errors.New("limits reset is not supported for redis; entries expire on their own")
		case config.DriverLibsql:
		default:
			return errMemoryStore
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		if limitsResetDryRun {
			return writeResetResult(cmd, matched, 0, true)
		}

		deleted, err := db.ResetLimits(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeResetResult(cmd, matched, deleted, false)
	},
}

func writeResetResult(cmd *cobra.Command, matched int, deleted int64, dryRun bool) error {
	return writeReport(cmd, func(format output.Format) (string, error) {
		if format == output.FormatJSON {
			return output.JSON(map[string]any{
				"matched": matched,
				"deleted": deleted,
				"dry_run": dryRun,
			})
		}
		if dryRun {
			return fmt.Sprintf("Would delete %d limit entr(ies)", matched), nil
		}
		return fmt.Sprintf("Deleted %d/%d limit entr(ies)", deleted, matched), nil
	})
}

func countRedisLimits(ctx context.Context, cfg *config.Config, w io.Writer) error {
	rs, err := redisstore.New(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rs.Close() // nolint:errcheck // best-effort cleanup

	count, err := rs.Count(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d active limit entr(ies) in redis at %s\n", count, cfg.Redis.Addr)
	return err
}

func init() {
	limitsListCmd.Flags().BoolVar(&limitsListAll, "all", false, "List all identities")
	limitsListCmd.Flags().StringVar(&limitsListPrefix, "prefix", "", "List identities with matching prefix (fp: or ip:)")
	addOutputFlags(limitsListCmd)

	limitsResetCmd.Flags().BoolVar(&limitsResetAll, "all", false, "Reset every identity")
	limitsResetCmd.Flags().StringVar(&limitsResetIdentity, "identity", "", "Reset a single identity key (exact match)")
	limitsResetCmd.Flags().StringVar(&limitsResetPrefix, "prefix", "", "Reset identities with matching prefix")
	limitsResetCmd.Flags().BoolVar(&limitsResetYes, "yes", false, "Confirm destructive reset")
	limitsResetCmd.Flags().BoolVar(&limitsResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(limitsResetCmd)

	limitsCmd.AddCommand(limitsListCmd)
	limitsCmd.AddCommand(limitsResetCmd)
	rootCmd.AddCommand(limitsCmd)
}
