package platform

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	DefaultWaitTimeout  = 30 * time.Minute
	DefaultPollInterval = 15 * time.Second
	DefaultGracePeriod  = 20 * time.Minute
)

// WaitOptions tunes WaitForDeployment. Zero values take the defaults.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	// GracePeriod applies to status polling only: transitional statuses seen
	// within it are not failures
	GracePeriod time.Duration
	Clock       clock.PassiveClock
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultWaitTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.GracePeriod < 0 {
		o.GracePeriod = 0
	} else if o.GracePeriod == 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// WaitResult is the outcome of WaitForDeployment. Err is nil only on success.
type WaitResult struct {
	Success      bool
	Status       Status
	NativeStatus string
	Err          error
}

// WaitForDeployment polls a workload until its deployment reaches a terminal
// status or the timeout elapses.
//
// Platforms with operation tracking are judged only by their latest operation.
// Other platforms are judged by workload status, where transitional statuses
// are tolerated for the grace period after polling starts.
func WaitForDeployment(ctx context.Context, c Client, workloadID string, opts WaitOptions) WaitResult {
	opts = opts.withDefaults()
	logger := log.FromContext(ctx).WithValues("platform", c.Name(), "workload", workloadID)
	vocab := c.Vocabulary()
	tracked := c.HasOperationTracking()
	started := opts.Clock.Now()

	result := WaitResult{Status: StatusQueued}
	var lastErr error

	waitErr := wait.PollUntilContextTimeout(ctx, opts.PollInterval, opts.Timeout, true, func(ctx context.Context) (bool, error) {
		native, err := observe(ctx, c, workloadID, tracked)
		if err != nil {
			if IsNotFound(err) {
				return false, err
			}
			lastErr = err
			logger.V(1).Info("Status check failed, retrying", "error", err.Error())
			return false, nil
		}
		lastErr = nil
		result.NativeStatus = native

		status := vocab.Normalize(native)
		if tracked && native == "" {
			status = StatusQueued
		}
		if !tracked && status == StatusInProgress && vocab.IsTransitional(native) {
			if opts.Clock.Since(started) >= opts.GracePeriod {
				status = StatusFailed
			}
		}
		result.Status = status
		logger.V(2).Info("Polled deployment", "native", native, "status", status)
		return status.IsTerminal(), nil
	})

	switch {
	case result.Status == StatusFinished:
		result.Success = true
		return result
	case result.Status == StatusFailed:
		result.Err = fmt.Errorf("%w: workload %s reported %q", ErrDeploymentFailed, workloadID, result.NativeStatus)
		return result
	case waitErr != nil && IsNotFound(waitErr):
		result.Status = StatusFailed
		result.Err = fmt.Errorf("%w: workload %s disappeared: %w", ErrDeploymentFailed, workloadID, waitErr)
		return result
	case ctx.Err() != nil:
		result.Err = ctx.Err()
		return result
	}

	if lastErr != nil {
		logger.Info("Deployment timed out after status errors", "lastError", lastErr.Error())
	}
	result.Status = StatusTimeout
	result.Err = &DeploymentTimeoutError{WorkloadID: workloadID, Timeout: opts.Timeout, LastStatus: result.NativeStatus}
	return result
}

func observe(ctx context.Context, c Client, workloadID string, tracked bool) (string, error) {
	if !tracked {
		return c.GetStatus(ctx, workloadID)
	}
	op, err := c.GetLatestOperation(ctx, workloadID)
	if err != nil {
		return "", err
	}
	if op == nil {
		return "", nil
	}
	return op.Status, nil
}
