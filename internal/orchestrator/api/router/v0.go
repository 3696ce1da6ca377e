// Package router contains API routing logic
package router

import (
	"github.com/danielgtaylor/huma/v2"

	v0 "github.com/meetbot-dev/meetbot/internal/orchestrator/api/handlers/v0"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/jobs"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/service"
)

// RouteOptions contains optional services for route registration.
type RouteOptions struct {
	JobManager *jobs.Manager
}

// RegisterRoutes registers all API routes (public and admin)
// This is the single entry point for all route registration
func RegisterRoutes(
	api huma.API,
	svc service.DeploymentService,
	versionInfo *v0.VersionBody,
	opts *RouteOptions,
) {
	registerPublicRoutes(api, "/v0", svc, versionInfo)
	registerAdminRoutes(api, "/admin/v0", svc, versionInfo, opts)
}

// registerPublicRoutes registers the bot endpoints and bot callbacks
func registerPublicRoutes(
	api huma.API,
	pathPrefix string,
	svc service.DeploymentService,
	versionInfo *v0.VersionBody,
) {
	registerCommonEndpoints(api, pathPrefix, svc, versionInfo)
	v0.RegisterBotsEndpoints(api, pathPrefix, svc)
}

// registerAdminRoutes registers pool maintenance and job endpoints
func registerAdminRoutes(
	api huma.API,
	pathPrefix string,
	svc service.DeploymentService,
	versionInfo *v0.VersionBody,
	opts *RouteOptions,
) {
	var jobManager *jobs.Manager
	if opts != nil {
		jobManager = opts.JobManager
	}

	registerCommonEndpoints(api, pathPrefix, svc, versionInfo)
	v0.RegisterPoolEndpoints(api, pathPrefix, svc, jobManager)
	if jobManager != nil {
		v0.RegisterJobsEndpoints(api, pathPrefix, jobManager)
	}
}

// registerCommonEndpoints registers endpoints that are common to both public and admin routes
func registerCommonEndpoints(
	api huma.API,
	pathPrefix string,
	svc service.DeploymentService,
	versionInfo *v0.VersionBody,
) {
	v0.RegisterHealthEndpoint(api, pathPrefix, svc)
	v0.RegisterPingEndpoint(api, pathPrefix)
	v0.RegisterVersionEndpoint(api, pathPrefix, versionInfo)
}
