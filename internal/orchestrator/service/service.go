package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/meetbot-dev/meetbot/pkg/models"
)

// ErrNoPool is returned for pool operations on a platform without a slot pool
var ErrNoPool = errors.New("deployment platform has no slot pool")

// DeployError is the single error returned once every deployment attempt failed
type DeployError struct {
	BotID    int64
	Attempts int
	Last     error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deployment of bot %d failed after %d attempt(s): %v", e.BotID, e.Attempts, e.Last)
}

func (e *DeployError) Unwrap() error { return e.Last }

// DeploymentService defines the interface for bot deployment operations
type DeploymentService interface {
	// DeployBot creates (or reloads) a bot and deploys it, waiting for the outcome.
	// A bot queued for a pool slot is a successful result with Queued set.
	DeployBot(ctx context.Context, req *models.DeployRequest) (*models.DeployResult, error)
	// StartDeployBot creates the bot and continues the deployment in the background
	StartDeployBot(ctx context.Context, req *models.DeployRequest) (*models.Bot, error)
	// GetBot retrieves a bot by ID
	GetBot(ctx context.Context, id int64) (*models.Bot, error)
	// ListBots lists bots with optional filtering
	ListBots(ctx context.Context, filter *models.BotFilter) ([]*models.Bot, error)
	// RecordHeartbeat stamps a bot as alive
	RecordHeartbeat(ctx context.Context, botID int64) error
	// UpdateBotStatus records a status reported by a bot and frees its resources on terminal statuses
	UpdateBotStatus(ctx context.Context, botID int64, status models.BotStatus, errMsg string) (*models.Bot, error)
	// ReapStaleHeartbeats fails active bots that stopped sending heartbeats
	ReapStaleHeartbeats(ctx context.Context) (int, error)

	// Pool APIs, for the configured platform
	GetPoolStats(ctx context.Context) (*models.PoolStats, error)
	GetQueueStats(ctx context.Context) (*models.QueueStats, error)
	ListSlots(ctx context.Context, status *models.SlotStatus) ([]*models.PoolSlot, error)
	DeleteSlot(ctx context.Context, slotID string) (bool, error)
	Sync(ctx context.Context) (*models.SyncResult, error)
	RecoverErroredSlots(ctx context.Context) (*models.RecoveryResult, error)
	EnsurePoolSize(ctx context.Context) (int, error)

	// Platform returns the configured deployment platform
	Platform() models.PlatformType
}
