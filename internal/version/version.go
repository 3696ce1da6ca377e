// Package version holds build information injected with -ldflags.
package version

// Set at build time:
//
//	-ldflags "-X github.com/meetbot-dev/meetbot/internal/version.Version=v1.2.3"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
