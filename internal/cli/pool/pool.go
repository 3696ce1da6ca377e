package pool

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meetbot-dev/meetbot/internal/client"
	"github.com/meetbot-dev/meetbot/pkg/printer"
)

var apiClient *client.Client

// SetAPIClient sets the API client used by all pool commands
func SetAPIClient(c *client.Client) {
	apiClient = c
}

var PoolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect and maintain the bot slot pool",
	Long: `Inspect and maintain the pool of pre-provisioned bot slots on pooled platforms
(coolify). Commands fail on platforms that create one workload per bot.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var output string

func init() {
	PoolCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, wide, json, yaml)")

	PoolCmd.AddCommand(StatsCmd)
	PoolCmd.AddCommand(SlotsCmd)
	PoolCmd.AddCommand(DeleteSlotCmd)
	PoolCmd.AddCommand(SyncCmd)
	PoolCmd.AddCommand(RecoverCmd)
	PoolCmd.AddCommand(EnsureCmd)
	PoolCmd.AddCommand(JobCmd)
}

func requireClient() (*printer.Printer, error) {
	if apiClient == nil {
		return nil, fmt.Errorf("API client not initialized")
	}
	t, err := printer.ParseOutputType(output)
	if err != nil {
		return nil, err
	}
	return printer.New(t, false), nil
}
