package models

import "time"

// SlotStatus is the state of a pool slot
type SlotStatus string

const (
	SlotStatusIdle      SlotStatus = "IDLE"
	SlotStatusDeploying SlotStatus = "DEPLOYING"
	SlotStatusHealthy   SlotStatus = "HEALTHY"
	SlotStatusError     SlotStatus = "ERROR"
)

// ParseSlotStatus validates a slot status string
func ParseSlotStatus(s string) (SlotStatus, bool) {
	switch SlotStatus(s) {
	case SlotStatusIdle, SlotStatusDeploying, SlotStatusHealthy, SlotStatusError:
		return SlotStatus(s), true
	}
	return "", false
}

// IsAssigned reports whether a slot in this status must carry an assigned bot.
func (s SlotStatus) IsAssigned() bool {
	return s == SlotStatusDeploying || s == SlotStatusHealthy
}

// PoolSlot is a pre-provisioned platform workload held in reserve for reuse
type PoolSlot struct {
	ID               string       `json:"id"`
	WorkloadID       string       `json:"workloadId"`
	SlotName         string       `json:"slotName"`
	Platform         PlatformType `json:"platform"`
	Status           SlotStatus   `json:"status"`
	AssignedBotID    *int64       `json:"assignedBotId,omitempty"`
	LastUsedAt       *time.Time   `json:"lastUsedAt,omitempty"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
	RecoveryAttempts int          `json:"recoveryAttempts"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// QueueEntryStatus is the state of a queue entry
type QueueEntryStatus string

const (
	QueueEntryWaiting QueueEntryStatus = "WAITING"
)

// QueueEntry is a bot waiting for a free slot
type QueueEntry struct {
	ID        string           `json:"id"`
	BotID     int64            `json:"botId"`
	Priority  int              `json:"priority"`
	QueuedAt  time.Time        `json:"queuedAt"`
	TimeoutAt time.Time        `json:"timeoutAt"`
	Status    QueueEntryStatus `json:"status"`
}

// Expired reports whether the entry timed out as of now
func (e *QueueEntry) Expired(now time.Time) bool {
	return !now.Before(e.TimeoutAt)
}

// PoolStats summarizes slot counts by status
type PoolStats struct {
	Idle      int `json:"idle"`
	Deploying int `json:"deploying"`
	Healthy   int `json:"healthy"`
	Error     int `json:"error"`
	Total     int `json:"total"`
	MaxSize   int `json:"maxSize"`
}

// QueueStats summarizes the slot wait queue
type QueueStats struct {
	Waiting       int   `json:"waiting"`
	LongestWaitMs int64 `json:"longestWaitMs"`
}

// SyncItemError describes a single reconciliation failure
type SyncItemError struct {
	Kind  string `json:"kind"` // "platform" or "database"
	ID    string `json:"id"`
	Error string `json:"error"`
}

// SyncResult is the outcome of reconciling the pool against the platform
type SyncResult struct {
	PlatformOrphansDeleted int             `json:"platformOrphansDeleted"`
	DatabaseOrphansDeleted int             `json:"databaseOrphansDeleted"`
	TotalPlatformWorkloads int             `json:"totalPlatformWorkloads"`
	TotalDatabaseSlots     int             `json:"totalDatabaseSlots"`
	Errors                 []SyncItemError `json:"errors,omitempty"`
}

// RecoveryResult is the outcome of a recovery sweep over errored slots
type RecoveryResult struct {
	Recovered []string `json:"recovered"`
	Failed    []string `json:"failed"`
	Exhausted []string `json:"exhausted"`
}

// DrainResult is the outcome of a queue drain sweep
type DrainResult struct {
	Assigned []int64 `json:"assigned"`
	TimedOut []int64 `json:"timedOut"`
}
