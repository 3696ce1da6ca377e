package pool

import (
	"fmt"
	"time"
)

// QueueTimeoutError is reported for a bot whose queue entry expired before a slot freed up
type QueueTimeoutError struct {
	BotID    int64
	QueuedAt time.Time
	Timeout  time.Duration
}

func (e *QueueTimeoutError) Error() string {
	return fmt.Sprintf("bot %d timed out waiting for a pool slot after %s", e.BotID, e.Timeout)
}

// ReconciliationConflictError is a single failed item of a sync pass
type ReconciliationConflictError struct {
	// Kind is "platform" for a workload the database does not know,
	// "database" for a slot whose workload is gone.
	Kind string
	ID   string
	Err  error
}

func (e *ReconciliationConflictError) Error() string {
	return fmt.Sprintf("failed to reconcile %s orphan %s: %v", e.Kind, e.ID, e.Err)
}

func (e *ReconciliationConflictError) Unwrap() error { return e.Err }

// RecoveryExhaustedError marks a slot that failed recovery too often. The slot is kept for an operator.
type RecoveryExhaustedError struct {
	SlotID      string
	SlotName    string
	Attempts    int
	MaxAttempts int
}

func (e *RecoveryExhaustedError) Error() string {
	return fmt.Sprintf("slot %s exhausted recovery (%d/%d attempts)", e.SlotName, e.Attempts, e.MaxAttempts)
}
