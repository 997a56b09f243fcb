package cli

import (
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate every route once and print the result",
	Long:  "Queries both legs of every configured route once and prints what would be alerted. Nothing is stored or sent.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context())
	},
}
