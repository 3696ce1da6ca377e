package pool

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/coordination"
	"github.com/meetbot-dev/meetbot/pkg/models"
)

// RecoverErroredSlots replaces the workload of every ERROR slot that has
// attempts left. Slots past the limit are reported as exhausted and kept.
// A failure on one slot never stops the sweep.
func (m *Manager) RecoverErroredSlots(ctx context.Context) (*models.RecoveryResult, error) {
	logger := log.FromContext(ctx)
	result := &models.RecoveryResult{Recovered: []string{}, Failed: []string{}, Exhausted: []string{}}

	status := models.SlotStatusError
	slots, err := m.ListSlots(ctx, &status)
	if err != nil {
		return nil, err
	}

	for _, slot := range slots {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		slotLogger := logger.WithValues("slot", slot.SlotName, "attempts", slot.RecoveryAttempts)

		if slot.RecoveryAttempts >= m.cfg.RecoveryMaxAttempts {
			exhausted := &RecoveryExhaustedError{
				SlotID:      slot.ID,
				SlotName:    slot.SlotName,
				Attempts:    slot.RecoveryAttempts,
				MaxAttempts: m.cfg.RecoveryMaxAttempts,
			}
			slotLogger.Error(exhausted, "Slot needs operator attention")
			result.Exhausted = append(result.Exhausted, slot.SlotName)
			continue
		}

		if err := m.recoverSlot(ctx, slot); err != nil {
			slotLogger.Error(err, "Slot recovery failed")
			result.Failed = append(result.Failed, slot.SlotName)
			continue
		}
		slotLogger.Info("Recovered slot")
		result.Recovered = append(result.Recovered, slot.SlotName)
	}

	if len(result.Recovered) > 0 {
		if _, err := m.DrainQueue(ctx); err != nil {
			logger.Error(err, "Failed to drain queue after recovery")
		}
	}
	return result, nil
}

// recoverSlot tears down the slot workload and provisions a replacement under the same slot name.
// It holds reconcileMu until the slot points at the replacement, so Sync never sees the
// new workload without its slot.
func (m *Manager) recoverSlot(ctx context.Context, slot *models.PoolSlot) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	workloadID, err := m.replaceWorkload(ctx, slot)
	if err != nil {
		if markErr := m.markRecoveryFailed(ctx, slot.ID, err); markErr != nil {
			return fmt.Errorf("%w (and failed to record it: %v)", err, markErr)
		}
		return err
	}

	return m.db.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := m.db.GetSlot(ctx, tx, slot.ID)
		if err != nil {
			return err
		}
		current.WorkloadID = workloadID
		current.Status = models.SlotStatusIdle
		current.AssignedBotID = nil
		current.ErrorMessage = ""
		return m.db.UpdateSlot(ctx, tx, current)
	})
}

func (m *Manager) replaceWorkload(ctx context.Context, slot *models.PoolSlot) (string, error) {
	if slot.WorkloadID != "" {
		if err := m.client.Stop(ctx, slot.WorkloadID); err != nil {
			return "", fmt.Errorf("failed to stop workload: %w", err)
		}
		if err := m.client.Delete(ctx, slot.WorkloadID); err != nil {
			return "", fmt.Errorf("failed to delete workload: %w", err)
		}
	}
	workloadID, err := m.client.CreateWorkload(ctx, m.slotSpec(slot.SlotName))
	if err != nil {
		return "", fmt.Errorf("failed to create replacement workload: %w", err)
	}
	return workloadID, nil
}

func (m *Manager) markRecoveryFailed(ctx context.Context, slotID string, cause error) error {
	return m.db.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		slot, err := m.db.GetSlot(ctx, tx, slotID)
		if err != nil {
			return err
		}
		slot.RecoveryAttempts++
		slot.ErrorMessage = cause.Error()
		return m.db.UpdateSlot(ctx, tx, slot)
	})
}

// EnsurePoolSize provisions slots until the pool holds the configured size.
// It returns the number of slots created.
func (m *Manager) EnsurePoolSize(ctx context.Context) (int, error) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	// the first provisioning of an image pulls it; hold the image lock like deployments do
	lease, err := m.locks.Acquire(ctx, coordination.LockKey(m.Platform(), m.cfg.Image))
	if err != nil {
		return 0, err
	}
	defer lease.Release()

	slots, err := m.ListSlots(ctx, nil)
	if err != nil {
		return 0, err
	}
	taken := make(map[string]bool, len(slots))
	for _, s := range slots {
		taken[s.SlotName] = true
	}

	logger := log.FromContext(ctx)
	created := 0
	for n := 1; len(slots)+created < m.cfg.Size; n++ {
		name := SlotName(m.cfg.SlotPrefix, n)
		if taken[name] {
			continue
		}
		workloadID, err := m.client.CreateWorkload(ctx, m.slotSpec(name))
		if err != nil {
			return created, fmt.Errorf("failed to create workload for slot %s: %w", name, err)
		}
		slot := &models.PoolSlot{
			ID:         uuid.NewString(),
			WorkloadID: workloadID,
			SlotName:   name,
			Platform:   m.Platform(),
			Status:     models.SlotStatusIdle,
		}
		if err := m.db.CreateSlot(ctx, nil, slot); err != nil {
			// leave nothing behind that Sync would have to clean up
			if delErr := m.client.Delete(ctx, workloadID); delErr != nil {
				logger.Error(delErr, "Failed to delete workload of unsaved slot", "workloadId", workloadID)
			}
			return created, fmt.Errorf("failed to save slot %s: %w", name, err)
		}
		logger.Info("Provisioned pool slot", "slot", name, "workloadId", workloadID)
		created++
	}
	return created, nil
}
