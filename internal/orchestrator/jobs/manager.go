package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// JobTTL is how long completed jobs are retained.
	JobTTL = 1 * time.Hour

	cleanupInterval = 10 * time.Minute
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyRunning is returned when a job of the same type is already running.
	ErrJobAlreadyRunning = errors.New("job already running")
)

// Func is the body of a job. It may report progress while it runs.
type Func func(ctx context.Context, report func(JobProgress)) (*JobResult, error)

// Manager manages async jobs in memory.
type Manager struct {
	mu    sync.RWMutex
	jobs  map[JobID]*Job
	clock clock.PassiveClock
	wg    sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the clock used for job timestamps
func WithClock(c clock.PassiveClock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a new job manager. Finished jobs are pruned until ctx is done.
func NewManager(ctx context.Context, opts ...Option) *Manager {
	m := &Manager{
		jobs:  make(map[JobID]*Job),
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	go wait.UntilWithContext(ctx, func(context.Context) { m.cleanup() }, cleanupInterval)
	return m
}

func (m *Manager) now() time.Time { return m.clock.Now().UTC() }

// CreateJob creates a new job of the given type.
// Returns ErrJobAlreadyRunning if a job of the same type is already running.
func (m *Manager) CreateJob(jobType string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Type == jobType && !job.IsTerminal() {
			return nil, ErrJobAlreadyRunning
		}
	}

	now := m.now()
	job := &Job{
		ID:        generateJobID(jobType, now),
		Type:      jobType,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job
	jobCopy := *job
	return &jobCopy, nil
}

// Start creates a job and runs fn in the background, detached from the caller's cancellation.
func (m *Manager) Start(ctx context.Context, jobType string, fn Func) (*Job, error) {
	job, err := m.CreateJob(jobType)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	logger := log.FromContext(ctx).WithValues("job", job.ID)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.StartJob(job.ID)
		result, err := fn(ctx, func(p JobProgress) { _ = m.UpdateProgress(job.ID, p) })
		if err != nil {
			logger.Error(err, "Job failed")
			_ = m.FailJob(job.ID, err.Error())
			return
		}
		logger.V(1).Info("Job completed")
		_ = m.CompleteJob(job.ID, result)
	}()
	return job, nil
}

// Wait blocks until every job started with Start has returned
func (m *Manager) Wait() {
	m.wg.Wait()
}

// GetJob retrieves a job by ID.
func (m *Manager) GetJob(id JobID) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	jobCopy := *job
	return &jobCopy, nil
}

// GetRunningJob returns the currently running job of the given type, if any.
func (m *Manager) GetRunningJob(jobType string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, job := range m.jobs {
		if job.Type == jobType && !job.IsTerminal() {
			jobCopy := *job
			return &jobCopy
		}
	}
	return nil
}

func (m *Manager) update(id JobID, fn func(job *Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = m.now()
	return nil
}

// StartJob transitions a job to running status.
func (m *Manager) StartJob(id JobID) error {
	return m.update(id, func(job *Job) { job.Status = JobStatusRunning })
}

// UpdateProgress updates the progress of a job.
func (m *Manager) UpdateProgress(id JobID, progress JobProgress) error {
	return m.update(id, func(job *Job) { job.Progress = progress })
}

// CompleteJob marks a job as completed with a result.
func (m *Manager) CompleteJob(id JobID, result *JobResult) error {
	return m.update(id, func(job *Job) {
		job.Status = JobStatusCompleted
		job.Result = result
	})
}

// FailJob marks a job as failed with an error message.
func (m *Manager) FailJob(id JobID, errMsg string) error {
	return m.update(id, func(job *Job) {
		job.Status = JobStatusFailed
		job.Result = &JobResult{Error: errMsg}
	})
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-JobTTL)
	for id, job := range m.jobs {
		if job.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}

func generateJobID(prefix string, now time.Time) JobID {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		// Fall back to timestamp-based ID
		return JobID(prefix + "-" + now.Format("20060102150405"))
	}
	return JobID(prefix + "-" + hex.EncodeToString(bytes))
}
