package bot

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/wait"

	v0 "github.com/meetbot-dev/meetbot/internal/orchestrator/api/handlers/v0"
	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/printer"
)

var (
	deployMeetingURL      string
	deployMeetingPlatform string
	deployName            string
	deployPriority        int
	deployPlatform        string
	deployEnv             map[string]string
	deployAsync           bool
	deployWait            bool
	deployWaitTimeout     time.Duration
	deployPollInterval    time.Duration
	deployOutput          string
)

var DeployCmd = &cobra.Command{
	Use:   "deploy [bot-id]",
	Short: "Deploy a meeting bot",
	Long: `Create a bot for a meeting and deploy it. Passing an existing bot id redeploys that bot.

With --async the command returns as soon as the bot is created; add --wait to follow
the bot until it joins the call or fails.`,
	Example: `  meetbot bot deploy --meeting-url https://zoom.us/j/123 --meeting-platform zoom --name Notetaker
  meetbot bot deploy --meeting-url https://meet.google.com/abc-defg-hij --meeting-platform google_meet --async --wait
  meetbot bot deploy 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeploy,
}

func init() {
	DeployCmd.Flags().StringVar(&deployMeetingURL, "meeting-url", "", "Meeting link the bot joins")
	DeployCmd.Flags().StringVar(&deployMeetingPlatform, "meeting-platform", "", "Video platform (zoom, google_meet, teams)")
	DeployCmd.Flags().StringVar(&deployName, "name", "", "Display name of the bot in the meeting")
	DeployCmd.Flags().IntVar(&deployPriority, "priority", 0, "Queue priority when no slot is free, lower is served first")
	DeployCmd.Flags().StringVar(&deployPlatform, "platform", "", "Deployment platform override (coolify, aws, k8s, local)")
	DeployCmd.Flags().StringToStringVar(&deployEnv, "env", nil, "Extra environment for the bot (KEY=VALUE)")
	DeployCmd.Flags().BoolVar(&deployAsync, "async", false, "Return once the bot is created and deploy in the background")
	DeployCmd.Flags().BoolVar(&deployWait, "wait", false, "Wait until the bot joins the call or fails")
	DeployCmd.Flags().DurationVar(&deployWaitTimeout, "timeout", 30*time.Minute, "How long --wait waits")
	DeployCmd.Flags().DurationVar(&deployPollInterval, "poll-interval", 2*time.Second, "How often --wait checks the bot status")
	DeployCmd.Flags().StringVarP(&deployOutput, "output", "o", "table", "Output format (table, json, yaml)")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	if err := requireClient(); err != nil {
		return err
	}
	p, err := newPrinter(deployOutput)
	if err != nil {
		return err
	}

	req := &v0.DeployBotRequest{
		MeetingPlatform: deployMeetingPlatform,
		MeetingURL:      deployMeetingURL,
		BotName:         deployName,
		Priority:        deployPriority,
		Platform:        deployPlatform,
		Env:             deployEnv,
	}
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid bot id %q", args[0])
		}
		req.BotID = id
	} else if deployMeetingURL == "" || deployMeetingPlatform == "" {
		return fmt.Errorf("--meeting-url and --meeting-platform are required when creating a bot")
	}

	result, err := apiClient.DeployBot(cmd.Context(), req, deployAsync)
	if err != nil {
		return fmt.Errorf("failed to deploy bot: %w", err)
	}

	bot := result.Bot
	if deployWait && bot != nil && pending(bot.Status) {
		bot, err = waitForBot(cmd.Context(), bot.ID)
		if err != nil {
			return err
		}
		result.Bot = bot
		result.Status = bot.Status
	}

	if p.Structured() {
		return p.Print(result)
	}
	switch {
	case bot != nil && result.Queued && result.QueueEntry != nil:
		printer.PrintInfo(fmt.Sprintf("Bot %d queued for a slot (priority %d, times out at %s)",
			bot.ID, result.QueueEntry.Priority, printer.FormatTimestamp(result.QueueEntry.TimeoutAt)))
	case bot != nil && bot.Status == models.BotStatusFatal:
		printer.PrintError(fmt.Sprintf("Bot %d failed: %s", bot.ID, bot.ErrorMessage))
	case bot != nil && pending(bot.Status):
		printer.PrintInfo(fmt.Sprintf("Bot %d is %s", bot.ID, bot.Status))
	case bot != nil:
		printer.PrintSuccess(fmt.Sprintf("Bot %d deployed (%s)", bot.ID, bot.Status))
	}
	if bot == nil {
		return nil
	}
	return printBotsTable(p, []models.Bot{*bot})
}

// pending reports whether the bot has not reached its workload yet
func pending(s models.BotStatus) bool {
	switch s {
	case models.BotStatusReadyToDeploy, models.BotStatusQueued, models.BotStatusDeploying:
		return true
	}
	return false
}

func waitForBot(ctx context.Context, id int64) (*models.Bot, error) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("Waiting for bot %d", id)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	defer func() { _ = bar.Finish() }()

	var bot *models.Bot
	err := wait.PollUntilContextTimeout(ctx, deployPollInterval, deployWaitTimeout, true, func(ctx context.Context) (bool, error) {
		b, err := apiClient.GetBot(ctx, id)
		if err != nil {
			return false, err
		}
		bot = b
		bar.Describe(fmt.Sprintf("Bot %d: %s", id, b.Status))
		_ = bar.Add(1)
		return !pending(b.Status), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed waiting for bot %d: %w", id, err)
	}
	return bot, nil
}
