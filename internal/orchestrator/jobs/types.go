// Package jobs tracks long-running pool maintenance operations started from the API.
package jobs

import (
	"time"
)

// JobID uniquely identifies a job.
type JobID string

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job types
const (
	SyncJobType       = "pool-sync"
	RecoverJobType    = "pool-recover"
	EnsureSizeJobType = "pool-ensure-size"
	ReapJobType       = "heartbeat-reap"
)

// JobProgress tracks the progress of a job.
type JobProgress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failures  int `json:"failures"`
}

// JobResult contains the final outcome of a job.
type JobResult struct {
	SlotsCreated     int      `json:"slotsCreated,omitempty"`
	SlotsRecovered   int      `json:"slotsRecovered,omitempty"`
	SlotsExhausted   int      `json:"slotsExhausted,omitempty"`
	WorkloadsRemoved int      `json:"workloadsRemoved,omitempty"`
	RecordsRemoved   int      `json:"recordsRemoved,omitempty"`
	BotsReaped       int      `json:"botsReaped,omitempty"`
	Failures         []string `json:"failures,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Job represents an async job with progress tracking.
type Job struct {
	ID        JobID       `json:"id"`
	Type      string      `json:"type"`
	Status    JobStatus   `json:"status"`
	Progress  JobProgress `json:"progress"`
	Result    *JobResult  `json:"result,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
