package bot

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	listPlatform string
	listStatus   string
	listLimit    int
	listOutput   string
)

var ListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bots",
	Long:    `List bots, newest first.`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireClient(); err != nil {
			return err
		}
		p, err := newPrinter(listOutput)
		if err != nil {
			return err
		}

		bots, err := apiClient.ListBots(cmd.Context(), listPlatform, listStatus, listLimit)
		if err != nil {
			return fmt.Errorf("failed to list bots: %w", err)
		}
		if p.Structured() {
			return p.Print(bots)
		}
		if len(bots) == 0 {
			fmt.Println("No bots found")
			return nil
		}
		return printBotsTable(p, bots)
	},
}

func init() {
	ListCmd.Flags().StringVar(&listPlatform, "platform", "", "Only bots on this deployment platform")
	ListCmd.Flags().StringVar(&listStatus, "status", "", "Only bots in this status (e.g. IN_CALL)")
	ListCmd.Flags().IntVar(&listLimit, "limit", 100, "Maximum number of bots")
	ListCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format (table, wide, json, yaml)")
}
