package coordination

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultGateSize is the number of concurrent platform deployments allowed
const DefaultGateSize = 3

// Gate bounds how many deployments run against a platform at once
type Gate struct {
	sem      *semaphore.Weighted
	size     int64
	inFlight atomic.Int64
}

// NewGate creates a gate admitting size concurrent callers
func NewGate(size int) *Gate {
	if size <= 0 {
		size = DefaultGateSize
	}
	return &Gate{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Do runs fn once a permit is free. The permit is returned however fn exits, panics included.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	defer func() {
		g.inFlight.Add(-1)
		g.sem.Release(1)
	}()
	return fn(ctx)
}

// InFlight returns the number of callers currently inside Do
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Size returns the gate capacity
func (g *Gate) Size() int {
	return int(g.size)
}
