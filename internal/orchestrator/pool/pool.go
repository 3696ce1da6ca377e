// Package pool manages the pre-provisioned workload slots of pooled platforms
// and the queue of bots waiting for one.
package pool

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stoewer/go-strcase"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/coordination"
	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
)

// Defaults applied to zero Config fields
const (
	DefaultSize                = 5
	DefaultSlotPrefix          = "meetbot"
	DefaultQueueTimeout        = 10 * time.Minute
	DefaultRecoveryMaxAttempts = 3
	DefaultSweepInterval       = 30 * time.Second
)

// SlotLabel carries the slot name on slot workloads
const SlotLabel = "meetbot.dev/slot"

// Config configures a pool Manager
type Config struct {
	Size                int
	SlotPrefix          string
	QueueTimeout        time.Duration
	RecoveryMaxAttempts int
	SweepInterval       time.Duration
	// Image is the bot image slots are created with
	Image string
	// Env is set on every slot workload at creation; per-bot values are patched on assignment
	Env map[string]string
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.SlotPrefix == "" {
		c.SlotPrefix = DefaultSlotPrefix
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = DefaultQueueTimeout
	}
	if c.RecoveryMaxAttempts <= 0 {
		c.RecoveryMaxAttempts = DefaultRecoveryMaxAttempts
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// AssignHandler continues the deployment of a bot that was handed a slot from the queue
type AssignHandler func(ctx context.Context, bot *models.Bot, slot *models.PoolSlot)

// TimeoutHandler is told about bots whose queue entry expired
type TimeoutHandler func(ctx context.Context, entry *models.QueueEntry, err *QueueTimeoutError)

// AssignResult is either a claimed slot or a queue entry
type AssignResult struct {
	Slot   *models.PoolSlot
	Queued bool
	Entry  *models.QueueEntry
}

// Outcome reports how a deployment onto a slot ended
type Outcome struct {
	Success bool
	Err     error
}

// Manager owns the slot lifecycle IDLE -> DEPLOYING -> HEALTHY -> IDLE,
// with DEPLOYING|HEALTHY -> ERROR -> IDLE through recovery.
type Manager struct {
	db     database.Database
	client platform.Client
	cfg    Config
	locks  *coordination.KeyedLock
	clock  clock.PassiveClock

	handlersMu sync.RWMutex
	onAssign   AssignHandler
	onTimeout  TimeoutHandler

	// drainMu serializes queue drains so entries are served in order
	drainMu sync.Mutex
	// reconcileMu keeps Sync from treating a slot being provisioned as an orphan
	reconcileMu sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the real clock, for tests
func WithClock(c clock.PassiveClock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLocks shares a keyed lock table with other components
func WithLocks(l *coordination.KeyedLock) Option {
	return func(m *Manager) { m.locks = l }
}

// NewManager creates a pool manager for one pooled platform
func NewManager(db database.Database, client platform.Client, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		client: client,
		cfg:    cfg.withDefaults(),
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locks == nil {
		m.locks = coordination.NewKeyedLock()
	}
	return m
}

// Platform returns the platform the pool provisions on
func (m *Manager) Platform() models.PlatformType { return m.client.Name() }

// Config returns the effective configuration
func (m *Manager) Config() Config { return m.cfg }

// SetAssignHandler registers the callback for bots assigned from the queue
func (m *Manager) SetAssignHandler(h AssignHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.onAssign = h
}

// SetTimeoutHandler registers the callback for expired queue entries
func (m *Manager) SetTimeoutHandler(h TimeoutHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.onTimeout = h
}

func (m *Manager) handlers() (AssignHandler, TimeoutHandler) {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()
	return m.onAssign, m.onTimeout
}

func (m *Manager) now() time.Time { return m.clock.Now().UTC() }

// SlotName returns the name of the n-th slot, e.g. "meetbot-slot-3"
func SlotName(prefix string, n int) string {
	return strcase.KebabCase(prefix) + "-slot-" + strconv.Itoa(n)
}

func (m *Manager) slotSpec(slotName string) platform.WorkloadSpec {
	env := maps.Clone(m.cfg.Env)
	if env == nil {
		env = make(map[string]string)
	}
	env["SLOT_NAME"] = slotName
	return platform.WorkloadSpec{
		Name:   slotName,
		Image:  m.cfg.Image,
		Env:    env,
		Labels: map[string]string{SlotLabel: slotName},
	}
}

// AssignSlot claims an idle slot for the bot, or queues the bot when none is free.
// Calling it again for a bot that already holds a slot or a queue entry returns that.
func (m *Manager) AssignSlot(ctx context.Context, bot *models.Bot) (*AssignResult, error) {
	if bot == nil || bot.ID == 0 {
		return nil, fmt.Errorf("%w: bot is required", database.ErrInvalidInput)
	}
	p := m.Platform()

	result, err := database.InTransactionT(ctx, m.db, func(ctx context.Context, tx pgx.Tx) (*AssignResult, error) {
		if slot, err := m.db.GetSlotByBot(ctx, tx, bot.ID); err == nil {
			return &AssignResult{Slot: slot}, nil
		} else if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}

		slot, err := m.db.ClaimIdleSlot(ctx, tx, p, bot.ID)
		switch {
		case err == nil:
			if entry, err := m.db.GetQueueEntryByBot(ctx, tx, bot.ID); err == nil {
				if err := m.db.DeleteQueueEntry(ctx, tx, entry.ID); err != nil {
					return nil, err
				}
			}
			return &AssignResult{Slot: slot}, nil
		case !errors.Is(err, database.ErrNotFound):
			return nil, fmt.Errorf("failed to claim slot: %w", err)
		}

		if entry, err := m.db.GetQueueEntryByBot(ctx, tx, bot.ID); err == nil {
			return &AssignResult{Queued: true, Entry: entry}, nil
		}

		now := m.now()
		entry := &models.QueueEntry{
			ID:        uuid.NewString(),
			BotID:     bot.ID,
			Priority:  bot.Priority,
			QueuedAt:  now,
			TimeoutAt: now.Add(m.cfg.QueueTimeout),
			Status:    models.QueueEntryWaiting,
		}
		if err := m.db.EnqueueBot(ctx, tx, entry); err != nil {
			return nil, fmt.Errorf("failed to queue bot: %w", err)
		}
		if err := m.db.UpdateBotStatus(ctx, tx, bot.ID, models.BotStatusQueued, ""); err != nil {
			return nil, err
		}
		return &AssignResult{Queued: true, Entry: entry}, nil
	})
	if err != nil {
		return nil, err
	}

	logger := log.FromContext(ctx).WithValues("botId", bot.ID)
	if result.Queued {
		logger.Info("No idle slot, bot queued", "timeoutAt", result.Entry.TimeoutAt)
	} else {
		logger.V(1).Info("Slot assigned", "slot", result.Slot.SlotName)
	}
	return result, nil
}

// ReleaseSlot records how the deployment onto a slot ended. A failed slot
// moves to ERROR without an assignment and waits for recovery.
func (m *Manager) ReleaseSlot(ctx context.Context, slotID string, outcome Outcome) error {
	return m.db.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		slot, err := m.db.GetSlot(ctx, tx, slotID)
		if err != nil {
			return err
		}
		if outcome.Success {
			if slot.AssignedBotID == nil {
				return fmt.Errorf("%w: slot %s has no assigned bot", database.ErrInvalidInput, slot.SlotName)
			}
			now := m.now()
			slot.Status = models.SlotStatusHealthy
			slot.LastUsedAt = &now
			slot.ErrorMessage = ""
		} else {
			slot.Status = models.SlotStatusError
			slot.AssignedBotID = nil
			slot.RecoveryAttempts++
			slot.ErrorMessage = "deployment failed"
			if outcome.Err != nil {
				slot.ErrorMessage = outcome.Err.Error()
			}
		}
		return m.db.UpdateSlot(ctx, tx, slot)
	})
}

// CompleteSlot returns the slot of a finished bot to the pool and serves the queue.
// A slot whose workload cannot be stopped goes to ERROR instead.
func (m *Manager) CompleteSlot(ctx context.Context, slotID string) error {
	logger := log.FromContext(ctx).WithValues("slotId", slotID)

	slot, err := m.db.GetSlot(ctx, nil, slotID)
	if err != nil {
		return err
	}

	stopErr := m.client.Stop(ctx, slot.WorkloadID)
	err = m.db.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		slot, err := m.db.GetSlot(ctx, tx, slotID)
		if err != nil {
			return err
		}
		now := m.now()
		slot.AssignedBotID = nil
		slot.LastUsedAt = &now
		if stopErr != nil {
			slot.Status = models.SlotStatusError
			slot.ErrorMessage = fmt.Sprintf("failed to stop workload: %v", stopErr)
			slot.RecoveryAttempts++
		} else {
			slot.Status = models.SlotStatusIdle
			slot.ErrorMessage = ""
		}
		return m.db.UpdateSlot(ctx, tx, slot)
	})
	if err != nil {
		return err
	}
	if stopErr != nil {
		logger.Error(stopErr, "Failed to stop slot workload, slot left for recovery", "slot", slot.SlotName)
		return nil
	}

	logger.V(1).Info("Slot returned to pool", "slot", slot.SlotName)
	if _, err := m.DrainQueue(ctx); err != nil {
		logger.Error(err, "Failed to drain queue")
	}
	return nil
}

// DeleteSlot removes a slot and its workload. Deleting a missing slot returns false without error.
func (m *Manager) DeleteSlot(ctx context.Context, slotID string) (bool, error) {
	slot, err := m.db.GetSlot(ctx, nil, slotID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	if err := m.client.Stop(ctx, slot.WorkloadID); err != nil {
		return false, fmt.Errorf("failed to stop workload %s: %w", slot.WorkloadID, err)
	}
	if err := m.client.Delete(ctx, slot.WorkloadID); err != nil {
		return false, fmt.Errorf("failed to delete workload %s: %w", slot.WorkloadID, err)
	}

	if err := m.db.DeleteSlot(ctx, nil, slotID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	log.FromContext(ctx).Info("Deleted pool slot", "slot", slot.SlotName, "workloadId", slot.WorkloadID)
	return true, nil
}

// ListSlots lists the slots of this pool, optionally by status
func (m *Manager) ListSlots(ctx context.Context, status *models.SlotStatus) ([]*models.PoolSlot, error) {
	p := m.Platform()
	return m.db.ListSlots(ctx, nil, &database.SlotFilter{Status: status, Platform: &p})
}

// Stats counts the slots of this pool by status
func (m *Manager) Stats(ctx context.Context) (*models.PoolStats, error) {
	slots, err := m.ListSlots(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats := &models.PoolStats{Total: len(slots), MaxSize: m.cfg.Size}
	for _, s := range slots {
		switch s.Status {
		case models.SlotStatusIdle:
			stats.Idle++
		case models.SlotStatusDeploying:
			stats.Deploying++
		case models.SlotStatusHealthy:
			stats.Healthy++
		case models.SlotStatusError:
			stats.Error++
		}
	}
	return stats, nil
}
