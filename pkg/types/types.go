package types

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/config"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/service"
	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/auth"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
)

// ServiceFactory is a function type that creates a service implementation.
// The base service is provided as input, and the factory should return a service
// that implements DeploymentService (and optionally additional interfaces).
type ServiceFactory func(base service.DeploymentService) service.DeploymentService

// DatabaseFactory is a function type that creates a database implementation.
// This allows implementors to run additional migrations and wrap the database.
// baseDB is nil when DATABASE_URL is "noop".
type DatabaseFactory func(ctx context.Context, databaseURL string, baseDB database.Database) (database.Database, error)

// PlatformFactory creates the platform client bots are deployed with.
// requested is the configured platform, possibly "auto".
type PlatformFactory func(ctx context.Context, cfg *config.Config, requested models.PlatformType) (platform.Client, error)

// AppOptions contains configuration for the orchestrator app.
// All fields are optional and allow embedders and tests to substitute components.
type AppOptions struct {
	// DatabaseFactory is an optional function to create or wrap the database.
	DatabaseFactory DatabaseFactory

	// PlatformFactory replaces platform auto-detection and client construction.
	PlatformFactory PlatformFactory

	// ServiceFactory is an optional function to create a service that adds new functionality.
	// The factory receives the base service and should return an extended service.
	ServiceFactory ServiceFactory

	// OnServiceCreated is an optional callback that receives the created service
	// (potentially extended via ServiceFactory).
	OnServiceCreated func(service.DeploymentService)

	// HTTPServerFactory is an optional function to create a server that adds new API routes.
	HTTPServerFactory HTTPServerFactory

	// OnHTTPServerCreated is an optional callback that receives the created server
	// (potentially extended via HTTPServerFactory).
	OnHTTPServerCreated func(Server)

	// AuthnProvider replaces the bot token authenticator.
	AuthnProvider auth.AuthnProvider
}

// Server represents the HTTP server and provides access to the Huma API
// and HTTP mux for registering new routes and handlers.
type Server interface {
	// HumaAPI returns the Huma API instance, allowing registration of new routes
	// that will appear in the OpenAPI documentation.
	HumaAPI() huma.API

	// Mux returns the HTTP ServeMux, allowing registration of custom HTTP handlers
	Mux() *http.ServeMux

	// Start begins listening for incoming HTTP requests
	Start(ctx context.Context) error

	// Shutdown gracefully shuts down the server
	Shutdown(ctx context.Context) error
}

// CLIAuthnProvider provides authentication for CLI commands.
// External libraries can implement this to support different auth mechanisms
type CLIAuthnProvider interface {
	// Authenticate returns credentials for API calls.
	Authenticate(ctx context.Context) (token string, err error)
}

// HTTPServerFactory is a function type that creates a server implementation that
// adds new API routes and handlers.
//
// The factory receives a Server interface and should return a Server after
// registering new routes using base.HumaAPI() or base.Mux().
type HTTPServerFactory func(base Server) Server
