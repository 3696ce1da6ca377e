package cli

import (
	"github.com/spf13/cobra"

	"github.com/meetbot-dev/meetbot/internal/orchestrator"
	"github.com/meetbot-dev/meetbot/pkg/types"
)

// Command annotations read by the root command before it builds the API client
const (
	// SkipClientAnnotation marks commands that never talk to the API
	SkipClientAnnotation = "meetbot.dev/skip-client"
	// OptionalClientAnnotation marks commands that run without a reachable API
	OptionalClientAnnotation = "meetbot.dev/optional-client"
)

var appOptions types.AppOptions

// SetAppOptions sets the extension points handed to the orchestrator by serve
func SetAppOptions(opts types.AppOptions) {
	appOptions = opts
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator server",
	Long: `Run the orchestrator: the HTTP API, the pool maintenance loop and the heartbeat reaper.
Configuration is read from MEETBOT_* environment variables and an optional .env file.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{SkipClientAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return orchestrator.App(cmd.Context(), appOptions)
	},
}
