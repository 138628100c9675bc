package cli

import (
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Execute one full pipeline pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Analyze(cmd.Context())
	},
}
