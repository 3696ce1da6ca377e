package pool

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/printer"
)

var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show slot and queue counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := requireClient()
		if err != nil {
			return err
		}
		stats, err := apiClient.GetPoolStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get pool stats: %w", err)
		}
		queue, err := apiClient.GetQueueStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get queue stats: %w", err)
		}

		if p.Structured() {
			return p.Print(struct {
				Pool  *models.PoolStats  `json:"pool"`
				Queue *models.QueueStats `json:"queue"`
			}{stats, queue})
		}

		t := printer.NewTablePrinter(os.Stdout)
		t.SetHeaders("Idle", "Deploying", "Healthy", "Error", "Total", "Max", "Waiting", "Longest Wait")
		t.AddRow(stats.Idle, stats.Deploying, stats.Healthy, stats.Error, stats.Total, stats.MaxSize,
			queue.Waiting, (time.Duration(queue.LongestWaitMs) * time.Millisecond).Round(time.Second))
		return t.Render()
	},
}
