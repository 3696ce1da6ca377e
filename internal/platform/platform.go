// Package platform defines the capability interface every deployment platform
// adapter implements, together with the status vocabulary, error types and the
// shared deployment poller built on top of it.
package platform

import (
	"context"

	"github.com/meetbot-dev/meetbot/pkg/models"
)

// ManagedByLabel marks workloads created by this orchestrator. Adapters use it
// (or an equivalent tag) to scope ListWorkloads.
const (
	ManagedByLabel = "app.kubernetes.io/managed-by"
	ManagedByValue = "meetbot"
)

// WorkloadSpec describes the workload to create
type WorkloadSpec struct {
	// Name is the platform-visible name, unique per orchestrator
	Name string
	// Image is the container image reference
	Image string
	// Env is injected into the bot container
	Env map[string]string
	// Labels are attached where the platform supports them
	Labels map[string]string
}

// Workload is a workload as reported by the platform
type Workload struct {
	ID     string
	Name   string
	Status string
}

// Operation is the most recent asynchronous deployment operation of a workload
type Operation struct {
	ID     string
	Status string
}

// Client is implemented by every deployment platform adapter
type Client interface {
	// Name returns the platform identifier
	Name() models.PlatformType
	// Pooled reports whether workloads are pre-provisioned slots reused across bots
	Pooled() bool

	// CreateWorkload provisions a workload and returns its platform id
	CreateWorkload(ctx context.Context, spec WorkloadSpec) (string, error)
	// Deploy starts (or restarts) the workload. Asynchronous platforms return
	// as soon as the operation is accepted.
	Deploy(ctx context.Context, workloadID string) error
	// Stop halts the workload. A workload that does not exist counts as stopped.
	Stop(ctx context.Context, workloadID string) error
	// Delete removes the workload and its volumes/configuration where supported.
	// A workload that does not exist counts as deleted.
	Delete(ctx context.Context, workloadID string) error

	// GetStatus returns the native workload status
	GetStatus(ctx context.Context, workloadID string) (string, error)
	// GetLatestOperation returns the latest deployment operation, or nil if none exists yet
	GetLatestOperation(ctx context.Context, workloadID string) (*Operation, error)
	// ListWorkloads lists the workloads managed by this orchestrator
	ListWorkloads(ctx context.Context) ([]Workload, error)

	// HasOperationTracking reports whether GetLatestOperation is meaningful
	HasOperationTracking() bool
	// Vocabulary maps native statuses onto normalized ones
	Vocabulary() Vocabulary
}

// EnvUpdater is implemented by platforms that can patch the environment of an
// existing workload. Pooled platforms use it to hand a slot to a new bot.
type EnvUpdater interface {
	UpdateEnv(ctx context.Context, workloadID string, env map[string]string) error
}

// Relauncher is implemented by platforms whose workloads cannot be started
// again once they have ended. Deploy retries replace the workload instead.
type Relauncher interface {
	RelaunchOnRetry() bool
}
