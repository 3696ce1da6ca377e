package v0

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/jobs"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/service"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/auth"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
)

// Response is a generic wrapper for Huma responses
// Usage: Response[HealthBody] instead of HealthOutput
type Response[T any] struct {
	Body T
}

// EmptyResponse represents a simple success response with a message
type EmptyResponse struct {
	Message string `json:"message" doc:"Success message" example:"Operation completed successfully"`
}

// toHumaError maps service errors onto API errors. what names the resource in 404 responses.
func toHumaError(err error, what string) error {
	var deployErr *service.DeployError
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return huma.Error401Unauthorized("A valid bot token is required")
	case errors.Is(err, auth.ErrForbidden):
		return huma.Error403Forbidden("Token does not belong to this bot")
	case errors.Is(err, database.ErrNotFound):
		return huma.Error404NotFound(what + " not found")
	case errors.Is(err, database.ErrAlreadyExists), errors.Is(err, jobs.ErrJobAlreadyRunning):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, database.ErrInvalidInput), errors.Is(err, service.ErrNoPool):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &deployErr):
		return huma.NewError(http.StatusBadGateway, deployErr.Error())
	}
	return huma.Error500InternalServerError("Internal error", err)
}
