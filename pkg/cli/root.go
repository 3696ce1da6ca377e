package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meetbot-dev/meetbot/internal/cli"
	"github.com/meetbot-dev/meetbot/internal/cli/bot"
	"github.com/meetbot-dev/meetbot/internal/cli/pool"
	"github.com/meetbot-dev/meetbot/internal/client"
	"github.com/meetbot-dev/meetbot/pkg/types"
)

// Environment variables read by the CLI
const (
	EnvAPIBaseURL = "MEETBOT_API_BASE_URL"
	EnvAPIToken   = "MEETBOT_API_TOKEN"
)

// CLIOptions configures the CLI behavior
type CLIOptions struct {
	// AuthnProvider provides CLI-specific authentication.
	// If nil, uses MEETBOT_API_TOKEN env var.
	AuthnProvider types.CLIAuthnProvider

	// AppOptions are passed to the orchestrator by the serve command
	AppOptions types.AppOptions
}

var cliOptions CLIOptions
var serverURL string
var serverToken string

// Configure applies options to the root command
func Configure(opts CLIOptions) {
	cliOptions = opts
	cli.SetAppOptions(opts.AppOptions)
}

var rootCmd = &cobra.Command{
	Use:   "meetbot",
	Short: "Meeting bot orchestrator",
	Long: `meetbot deploys meeting bots onto coolify, Kubernetes, AWS ECS or local docker compose.
Run "meetbot serve" to start the orchestrator; the other commands talk to a running one.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[cli.SkipClientAnnotation] == "true" {
			return nil
		}
		baseURL, token := resolveServerTarget()

		// Get authentication token if no token override was provided
		if token == "" && cliOptions.AuthnProvider != nil {
			var err error
			token, err = cliOptions.AuthnProvider.Authenticate(cmd.Context())
			if err != nil {
				return fmt.Errorf("CLI authentication failed: %w", err)
			}
		}

		c, err := client.NewClientWithConfig(cmd.Context(), baseURL, token)
		if err != nil {
			if cmd.Annotations[cli.OptionalClientAnnotation] == "true" {
				return nil
			}
			return fmt.Errorf("API client not initialized: %w", err)
		}

		APIClient = c
		bot.SetAPIClient(APIClient)
		pool.SetAPIClient(APIClient)
		cli.SetAPIClient(APIClient)
		return nil
	},
}

// APIClient is the shared API client used by CLI commands
var APIClient *client.Client

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	envBaseURL := os.Getenv(EnvAPIBaseURL)
	envToken := os.Getenv(EnvAPIToken)
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", envBaseURL, "Orchestrator base URL (overrides "+EnvAPIBaseURL+"; default "+client.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&serverToken, "token", envToken, "Bearer token (overrides "+EnvAPIToken+")")

	rootCmd.AddCommand(bot.BotCmd)
	rootCmd.AddCommand(pool.PoolCmd)
	rootCmd.AddCommand(cli.ServeCmd)
	rootCmd.AddCommand(cli.VersionCmd)
}

func Root() *cobra.Command {
	return rootCmd
}

func resolveServerTarget() (string, string) {
	base := strings.TrimSpace(serverURL)
	if base == "" {
		base = strings.TrimSpace(os.Getenv(EnvAPIBaseURL))
	}
	base = normalizeBaseURL(base)

	token := serverToken
	if token == "" {
		token = os.Getenv(EnvAPIToken)
	}

	return base, token
}

func normalizeBaseURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return client.DefaultBaseURL
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return "http://" + trimmed
}
