package bot

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/meetbot-dev/meetbot/internal/client"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

var getOutput string

var GetCmd = &cobra.Command{
	Use:   "get <bot-id>",
	Short: "Show a bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireClient(); err != nil {
			return err
		}
		p, err := newPrinter(getOutput)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid bot id %q", args[0])
		}

		bot, err := apiClient.GetBot(cmd.Context(), id)
		if client.IsNotFound(err) {
			return fmt.Errorf("bot %d not found", id)
		} else if err != nil {
			return fmt.Errorf("failed to get bot: %w", err)
		}
		if p.Structured() {
			return p.Print(bot)
		}
		return printBotsTable(p, []models.Bot{*bot})
	},
}

func init() {
	GetCmd.Flags().StringVarP(&getOutput, "output", "o", "wide", "Output format (table, wide, json, yaml)")
}
