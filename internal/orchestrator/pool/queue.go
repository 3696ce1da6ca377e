package pool

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
)

const queueTimeoutMessage = "timed out waiting for a pool slot"

type drainAssignment struct {
	bot  *models.Bot
	slot *models.PoolSlot
}

// DrainQueue serves waiting bots in (priority, queuedAt) order. Expired entries
// are dropped and their bots marked FATAL; the rest are matched with idle slots
// until none are left. Assigned bots are passed to the assign handler.
func (m *Manager) DrainQueue(ctx context.Context) (*models.DrainResult, error) {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	logger := log.FromContext(ctx)
	onAssign, onTimeout := m.handlers()
	result := &models.DrainResult{Assigned: []int64{}, TimedOut: []int64{}}

	entries, err := m.db.ListQueueEntries(ctx, nil)
	if err != nil {
		return nil, err
	}

	p := m.Platform()
	slotsLeft := true
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		entryLogger := logger.WithValues("botId", entry.BotID, "queueEntry", entry.ID)

		if entry.Expired(m.now()) {
			if err := m.expireEntry(ctx, entry); err != nil {
				entryLogger.Error(err, "Failed to expire queue entry")
				continue
			}
			timeoutErr := &QueueTimeoutError{BotID: entry.BotID, QueuedAt: entry.QueuedAt, Timeout: entry.TimeoutAt.Sub(entry.QueuedAt)}
			entryLogger.Info("Queue entry timed out", "queuedAt", entry.QueuedAt)
			result.TimedOut = append(result.TimedOut, entry.BotID)
			if onTimeout != nil {
				onTimeout(ctx, entry, timeoutErr)
			}
			continue
		}
		if !slotsLeft {
			continue
		}

		assignment, err := database.InTransactionT(ctx, m.db, func(ctx context.Context, tx pgx.Tx) (*drainAssignment, error) {
			slot, err := m.db.ClaimIdleSlot(ctx, tx, p, entry.BotID)
			if errors.Is(err, database.ErrNotFound) {
				slotsLeft = false
				return nil, nil
			}
			if errors.Is(err, database.ErrAlreadyExists) {
				// the bot got a slot some other way; the entry is stale
				return nil, m.db.DeleteQueueEntry(ctx, tx, entry.ID)
			}
			if err != nil {
				return nil, err
			}
			if err := m.db.DeleteQueueEntry(ctx, tx, entry.ID); err != nil {
				return nil, err
			}
			if err := m.db.UpdateBotStatus(ctx, tx, entry.BotID, models.BotStatusDeploying, ""); err != nil {
				return nil, err
			}
			bot, err := m.db.GetBot(ctx, tx, entry.BotID)
			if err != nil {
				return nil, err
			}
			return &drainAssignment{bot: bot, slot: slot}, nil
		})
		if err != nil {
			entryLogger.Error(err, "Failed to assign slot to queued bot")
			continue
		}
		if assignment == nil {
			continue
		}

		entryLogger.Info("Assigned slot to queued bot", "slot", assignment.slot.SlotName)
		result.Assigned = append(result.Assigned, entry.BotID)
		if onAssign != nil {
			onAssign(ctx, assignment.bot, assignment.slot)
		}
	}
	return result, nil
}

func (m *Manager) expireEntry(ctx context.Context, entry *models.QueueEntry) error {
	return m.db.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := m.db.DeleteQueueEntry(ctx, tx, entry.ID); err != nil {
			return err
		}
		err := m.db.UpdateBotStatus(ctx, tx, entry.BotID, models.BotStatusFatal, queueTimeoutMessage)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	})
}

// QueueStats reports how many bots wait and for how long the oldest has waited
func (m *Manager) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	entries, err := m.db.ListQueueEntries(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats := &models.QueueStats{Waiting: len(entries)}
	now := m.now()
	for _, e := range entries {
		if wait := now.Sub(e.QueuedAt).Milliseconds(); wait > stats.LongestWaitMs {
			stats.LongestWaitMs = wait
		}
	}
	return stats, nil
}
