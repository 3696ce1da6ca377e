package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meetbot-dev/meetbot/internal/client"
	"github.com/meetbot-dev/meetbot/internal/version"
)

var apiClient *client.Client

// SetAPIClient sets the API client used by the top-level commands
func SetAPIClient(c *client.Client) {
	apiClient = c
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the CLI and server versions",
	Args:  cobra.NoArgs,
	Annotations: map[string]string{
		// the server is optional; an unreachable server is reported, not fatal
		OptionalClientAnnotation: "true",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("meetbot version %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildDate)
		if apiClient == nil {
			fmt.Println("Server: not reachable")
			return nil
		}
		v, err := apiClient.GetVersion(cmd.Context())
		if err != nil {
			fmt.Printf("Server: %v\n", err)
			return nil
		}
		fmt.Printf("Server version %s (commit %s, built %s)\n", v.Version, v.GitCommit, v.BuildTime)
		return nil
	},
}
