package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meetbot-dev/meetbot/pkg/models"
)

// Common database errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabase      = errors.New("database error")
)

// SlotFilter defines filtering options for slot queries
type SlotFilter struct {
	Status   *models.SlotStatus
	Platform *models.PlatformType
}

// BotDeployment holds the deployment fields written back to a bot record
type BotDeployment struct {
	Platform           models.PlatformType
	PlatformIdentifier string
	Status             models.BotStatus
	ErrorMessage       string
}

// Database defines the interface for database operations.
// Every method accepts an optional transaction; a nil tx runs against the pool.
type Database interface {
	// Bots API
	// CreateBot inserts a new bot record and fills in its ID and timestamps
	CreateBot(ctx context.Context, tx pgx.Tx, bot *models.Bot) error
	// GetBot retrieves a bot by ID
	GetBot(ctx context.Context, tx pgx.Tx, id int64) (*models.Bot, error)
	// ListBots retrieves bots matching the filter, newest first
	ListBots(ctx context.Context, tx pgx.Tx, filter *models.BotFilter) ([]*models.Bot, error)
	// UpdateBotStatus sets the status and error text of a bot
	UpdateBotStatus(ctx context.Context, tx pgx.Tx, id int64, status models.BotStatus, errMsg string) error
	// UpdateBotDeployment records the platform and workload a bot runs on
	UpdateBotDeployment(ctx context.Context, tx pgx.Tx, id int64, deployment BotDeployment) error
	// RecordHeartbeat stamps the bot heartbeat with the given time
	RecordHeartbeat(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error
	// ListStaleBots returns bots in one of the statuses whose heartbeat is older than cutoff
	ListStaleBots(ctx context.Context, tx pgx.Tx, cutoff time.Time, statuses []models.BotStatus) ([]*models.Bot, error)

	// Pool slots API
	// CreateSlot inserts a new pool slot
	CreateSlot(ctx context.Context, tx pgx.Tx, slot *models.PoolSlot) error
	// GetSlot retrieves a slot by ID
	GetSlot(ctx context.Context, tx pgx.Tx, id string) (*models.PoolSlot, error)
	// GetSlotByBot retrieves the slot assigned to a bot
	GetSlotByBot(ctx context.Context, tx pgx.Tx, botID int64) (*models.PoolSlot, error)
	// ListSlots retrieves slots matching the filter ordered by slot name
	ListSlots(ctx context.Context, tx pgx.Tx, filter *SlotFilter) ([]*models.PoolSlot, error)
	// ClaimIdleSlot atomically moves one IDLE slot of the platform to DEPLOYING for the bot.
	// Returns ErrNotFound when no slot is idle.
	ClaimIdleSlot(ctx context.Context, tx pgx.Tx, platform models.PlatformType, botID int64) (*models.PoolSlot, error)
	// UpdateSlot writes the mutable fields of a slot
	UpdateSlot(ctx context.Context, tx pgx.Tx, slot *models.PoolSlot) error
	// DeleteSlot removes a slot
	DeleteSlot(ctx context.Context, tx pgx.Tx, id string) error

	// Queue API
	// EnqueueBot inserts a queue entry; returns ErrAlreadyExists if the bot is already queued
	EnqueueBot(ctx context.Context, tx pgx.Tx, entry *models.QueueEntry) error
	// GetQueueEntryByBot retrieves the queue entry for a bot
	GetQueueEntryByBot(ctx context.Context, tx pgx.Tx, botID int64) (*models.QueueEntry, error)
	// ListQueueEntries lists waiting entries ordered by priority then enqueue time
	ListQueueEntries(ctx context.Context, tx pgx.Tx) ([]*models.QueueEntry, error)
	// DeleteQueueEntry removes a queue entry
	DeleteQueueEntry(ctx context.Context, tx pgx.Tx, id string) error

	// InTransaction executes a function within a database transaction
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	// Close closes the database connection
	Close() error
}

// InTransactionT is a generic helper that wraps InTransaction for functions returning a value.
// Go does not allow generic methods on interfaces, so this lives beside the interface.
func InTransactionT[T any](ctx context.Context, db Database, fn func(ctx context.Context, tx pgx.Tx) (T, error)) (T, error) {
	var result T
	var fnErr error

	err := db.InTransaction(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		result, fnErr = fn(txCtx, tx)
		return fnErr
	})

	if err != nil {
		var zero T
		return zero, err
	}

	return result, nil
}
