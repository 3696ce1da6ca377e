package bot

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meetbot-dev/meetbot/internal/client"
	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/printer"
)

var apiClient *client.Client

// SetAPIClient sets the API client used by all bot commands
func SetAPIClient(c *client.Client) {
	apiClient = c
}

var BotCmd = &cobra.Command{
	Use:   "bot",
	Short: "Deploy and inspect meeting bots",
	Long:  `Deploy meeting bots onto the configured platform and follow their status.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	BotCmd.AddCommand(DeployCmd)
	BotCmd.AddCommand(GetCmd)
	BotCmd.AddCommand(ListCmd)
}

func requireClient() error {
	if apiClient == nil {
		return fmt.Errorf("API client not initialized")
	}
	return nil
}

func newPrinter(output string) (*printer.Printer, error) {
	t, err := printer.ParseOutputType(output)
	if err != nil {
		return nil, err
	}
	return printer.New(t, false), nil
}

func printBotsTable(p *printer.Printer, bots []models.Bot) error {
	t := printer.NewTablePrinter(os.Stdout)
	if p.Wide() {
		t = printer.NewTablePrinter(os.Stdout, printer.WithWide())
	}
	t.SetHeaders("ID", "Name", "Meeting", "Status", "Platform", "Age")
	t.SetWideHeaders("Workload", "Heartbeat", "Error")
	now := time.Now()
	for _, b := range bots {
		t.AddRow(
			b.ID,
			printer.EmptyValueOrDefault(b.BotName, "<none>"),
			b.MeetingPlatform,
			b.Status,
			printer.EmptyValueOrDefault(string(b.DeploymentPlatform), "<none>"),
			printer.FormatAge(&b.CreatedAt, now),
			printer.EmptyValueOrDefault(b.PlatformIdentifier, "<none>"),
			printer.FormatAge(b.HeartbeatAt, now),
			printer.TruncateString(b.ErrorMessage, 60),
		)
	}
	return t.Render()
}
