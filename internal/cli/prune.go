package cli

import (
	"time"

	"github.com/spf13/cobra"

	"roundtrip-arb-alerts/internal/app"
)

var (
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old alert records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Prune(cmd.Context(), app.PruneOptions{
			OlderThan: pruneOlderThan,
			DryRun:    pruneDryRun,
		})
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Delete alerts created before now minus this duration")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Report the cutoff without deleting")
}
