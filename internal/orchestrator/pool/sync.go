package pool

import (
	"context"
	"errors"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
)

// Sync reconciles slot records against the workloads that exist on the platform.
// Workloads without a slot are deleted from the platform; slots without a workload
// are deleted from the database, except ERROR slots, which belong to recovery and
// are kept once exhausted. Item failures are collected, not returned.
func (m *Manager) Sync(ctx context.Context) (*models.SyncResult, error) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	logger := log.FromContext(ctx)

	workloads, err := m.client.ListWorkloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list platform workloads: %w", err)
	}
	slots, err := m.ListSlots(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool slots: %w", err)
	}

	result := &models.SyncResult{
		TotalPlatformWorkloads: len(workloads),
		TotalDatabaseSlots:     len(slots),
		Errors:                 []models.SyncItemError{},
	}

	onPlatform := make(map[string]bool, len(workloads))
	for _, w := range workloads {
		onPlatform[w.ID] = true
	}
	inDatabase := make(map[string]bool, len(slots))
	for _, s := range slots {
		inDatabase[s.WorkloadID] = true
	}

	conflict := func(err *ReconciliationConflictError) {
		logger.Error(err, "Reconciliation conflict")
		result.Errors = append(result.Errors, models.SyncItemError{Kind: err.Kind, ID: err.ID, Error: err.Err.Error()})
	}

	for _, w := range workloads {
		if inDatabase[w.ID] {
			continue
		}
		if err := m.client.Delete(ctx, w.ID); err != nil {
			conflict(&ReconciliationConflictError{Kind: "platform", ID: w.ID, Err: err})
			continue
		}
		logger.Info("Deleted orphaned platform workload", "workloadId", w.ID, "name", w.Name)
		result.PlatformOrphansDeleted++
	}

	for _, s := range slots {
		if onPlatform[s.WorkloadID] {
			continue
		}
		if s.Status == models.SlotStatusError {
			logger.V(1).Info("Errored slot has no workload, leaving it to recovery", "slot", s.SlotName, "workloadId", s.WorkloadID)
			continue
		}
		err := m.db.DeleteSlot(ctx, nil, s.ID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			conflict(&ReconciliationConflictError{Kind: "database", ID: s.ID, Err: err})
			continue
		}
		logger.Info("Deleted slot whose workload is gone", "slot", s.SlotName, "workloadId", s.WorkloadID)
		result.DatabaseOrphansDeleted++
	}

	return result, nil
}
