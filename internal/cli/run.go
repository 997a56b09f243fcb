package cli

import (
	"github.com/spf13/cobra"

	"roundtrip-arb-alerts/internal/app"
)

var runIterations uint64

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Iterations: runIterations})
	},
}

func init() {
	runCmd.Flags().Uint64Var(&runIterations, "iterations", 0, "Stop after this many polls (0 runs until interrupted)")
}
