package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/spigotlabs/spigot/internal/config"
	"github.com/spigotlabs/spigot/internal/output"
)

var statsRecent int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show payout totals and recent payouts from the durable store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		if cfg.Store.Driver != config.DriverLibsql {
			return errors.New("stats requires store.driver=libsql; query GET /api/stats on a running server otherwise")
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		snapshot, err := db.Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		recent, err := db.RecentPayouts(cmd.Context(), statsRecent)
		if err != nil {
			return err
		}

		return writeReport(cmd, func(format output.Format) (string, error) {
			return output.Payouts(format, snapshot, recent)
		})
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsRecent, "recent", 20, "Number of recent payouts to list")
	addOutputFlags(statsCmd)
	rootCmd.AddCommand(statsCmd)
}
