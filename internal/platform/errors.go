package platform

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/meetbot-dev/meetbot/pkg/models"
)

// ErrDeploymentFailed is returned when a workload reaches a failure status
var ErrDeploymentFailed = errors.New("deployment failed")

// PlatformRequestError is a non-success response from a platform API.
// It is never retried at the client layer.
type PlatformRequestError struct {
	Platform   models.PlatformType
	Operation  string
	StatusCode int
	Body       string
}

func (e *PlatformRequestError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Platform, e.Operation, e.StatusCode, e.Body)
}

// IsNotFound reports whether the platform said the target does not exist
func (e *PlatformRequestError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err carries a not-found platform response
func IsNotFound(err error) bool {
	var reqErr *PlatformRequestError
	return errors.As(err, &reqErr) && reqErr.IsNotFound()
}

// DeploymentTimeoutError is returned when a deployment does not reach a
// terminal status within the allotted time
type DeploymentTimeoutError struct {
	WorkloadID string
	Timeout    time.Duration
	LastStatus string
}

func (e *DeploymentTimeoutError) Error() string {
	return fmt.Sprintf("deployment of workload %s did not finish within %s (last status %q)", e.WorkloadID, e.Timeout, e.LastStatus)
}
