package v0

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/service"
)

// HealthBody represents the health check response body
type HealthBody struct {
	Status   string `json:"status" example:"ok" doc:"Health status"`
	Platform string `json:"platform" example:"coolify" doc:"Deployment platform bots run on"`
}

// VersionBody represents the version information
type VersionBody struct {
	Version   string `json:"version" example:"v1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123d" doc:"Git commit SHA"`
	BuildTime string `json:"build_time" example:"2025-10-14T12:00:00Z" doc:"Build timestamp"`
}

// PingBody is the ping response body
type PingBody struct {
	Pong bool `json:"pong" example:"true"`
}

// RegisterHealthEndpoint registers the health check endpoint
func RegisterHealthEndpoint(api huma.API, pathPrefix string, svc service.DeploymentService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-health" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/health",
		Summary:     "Health check",
		Description: "Check the health status of the orchestrator",
		Tags:        []string{"health"},
	}, func(ctx context.Context, _ *struct{}) (*Response[HealthBody], error) {
		return &Response[HealthBody]{
			Body: HealthBody{Status: "ok", Platform: string(svc.Platform())},
		}, nil
	})
}

// RegisterPingEndpoint registers the ping endpoint
func RegisterPingEndpoint(api huma.API, pathPrefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "ping" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/ping",
		Summary:     "Ping",
		Tags:        []string{"ping"},
	}, func(ctx context.Context, _ *struct{}) (*Response[PingBody], error) {
		return &Response[PingBody]{Body: PingBody{Pong: true}}, nil
	})
}

// RegisterVersionEndpoint registers the version endpoint
func RegisterVersionEndpoint(api huma.API, pathPrefix string, versionInfo *VersionBody) {
	huma.Register(api, huma.Operation{
		OperationID: "get-version" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/version",
		Summary:     "Get version information",
		Description: "Returns the version, git commit, and build time of the orchestrator",
		Tags:        []string{"version"},
	}, func(ctx context.Context, _ *struct{}) (*Response[VersionBody], error) {
		return &Response[VersionBody]{Body: *versionInfo}, nil
	})
}

// operationSuffix keeps operation IDs unique when the same endpoint is mounted under several prefixes
func operationSuffix(pathPrefix string) string {
	if pathPrefix == "/v0" {
		return ""
	}
	return strings.NewReplacer("/", "-", ".", "-").Replace(pathPrefix)
}
