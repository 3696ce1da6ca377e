package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func TestCreateJobRejectsConcurrentJobsOfSameType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx)

	job, err := m.CreateJob(SyncJobType)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)

	_, err = m.CreateJob(SyncJobType)
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)

	_, err = m.CreateJob(RecoverJobType)
	assert.NoError(t, err)

	require.NoError(t, m.CompleteJob(job.ID, &JobResult{}))
	_, err = m.CreateJob(SyncJobType)
	assert.NoError(t, err)
}

func TestStartRunsJobToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx)

	job, err := m.Start(ctx, EnsureSizeJobType, func(ctx context.Context, report func(JobProgress)) (*JobResult, error) {
		report(JobProgress{Total: 2, Processed: 2})
		return &JobResult{SlotsCreated: 2}, nil
	})
	require.NoError(t, err)
	m.Wait()

	done, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.Progress.Processed)
	assert.Equal(t, 2, done.Result.SlotsCreated)
	assert.Nil(t, m.GetRunningJob(EnsureSizeJobType))
}

func TestStartRecordsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx)

	job, err := m.Start(ctx, SyncJobType, func(context.Context, func(JobProgress)) (*JobResult, error) {
		return nil, errors.New("platform unreachable")
	})
	require.NoError(t, err)
	m.Wait()

	failed, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, failed.Status)
	assert.Equal(t, "platform unreachable", failed.Result.Error)
}

func TestCleanupRemovesExpiredJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := testclock.NewFakePassiveClock(time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC))
	m := NewManager(ctx, WithClock(clk))

	finished, err := m.CreateJob(SyncJobType)
	require.NoError(t, err)
	require.NoError(t, m.CompleteJob(finished.ID, nil))
	running, err := m.CreateJob(RecoverJobType)
	require.NoError(t, err)

	clk.SetTime(clk.Now().Add(2 * JobTTL))
	m.cleanup()

	_, err = m.GetJob(finished.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = m.GetJob(running.ID)
	assert.NoError(t, err)
}
