package cli

import (
	"github.com/spf13/cobra"

	"github.com/dirkpokemon/pokemon-market-intel/internal/app"
)

var (
	simProduct   string
	simSet       string
	simPrice     float64
	simMarketAvg float64
	simEmail     string
	simChatID    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a fabricated deal signal through the alert channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Product:   simProduct,
			Set:       simSet,
			Price:     simPrice,
			MarketAvg: simMarketAvg,
			Email:     simEmail,
			ChatID:    simChatID,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simProduct, "product", "Charizard Ex 199", "Product name for the fabricated signal")
	simulateCmd.Flags().StringVar(&simSet, "set", "151", "Set name for the fabricated signal")
	simulateCmd.Flags().Float64Var(&simPrice, "price", 42.50, "Current price in EUR")
	simulateCmd.Flags().Float64Var(&simMarketAvg, "market-avg", 65.00, "Market average price in EUR")
	simulateCmd.Flags().StringVar(&simEmail, "email", "", "Email address to deliver to")
	simulateCmd.Flags().StringVar(&simChatID, "chat-id", "", "Telegram chat id to deliver to")
}
