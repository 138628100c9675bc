package cli

import (
	"github.com/spf13/cobra"

	"github.com/dirkpokemon/pokemon-market-intel/internal/app"
)

var alertsDigest bool

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Dispatch pending alerts once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Alerts(cmd.Context(), app.AlertsOptions{
			Digest: alertsDigest,
		})
	},
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsDigest, "digest", false, "Send the daily digest instead of immediate alerts")
}
