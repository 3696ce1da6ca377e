package coordination

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/meetbot-dev/meetbot/pkg/models"
)

func TestLockKey(t *testing.T) {
	assert.Equal(t,
		LockKey(models.PlatformCoolify, "nginx"),
		LockKey(models.PlatformCoolify, "index.docker.io/library/nginx:latest"))
	assert.NotEqual(t,
		LockKey(models.PlatformCoolify, "nginx"),
		LockKey(models.PlatformLocal, "nginx"))
	assert.Equal(t, "aws:not a ref", LockKey(models.PlatformAWS, "not a ref"))
}

func TestKeyedLockMutualExclusion(t *testing.T) {
	l := NewKeyedLock()
	ctx := context.Background()

	const callers = 8
	var (
		wg       sync.WaitGroup
		active   atomic.Int32
		maxSeen  atomic.Int32
		entered  atomic.Int32
		mu       sync.Mutex
		noWaiter int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			entered.Add(1)
			lease, err := l.Acquire(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			mu.Lock()
			if !lease.DidWait() {
				noWaiter++
			}
			mu.Unlock()
			if !lease.DidWait() {
				// hold the key until every other caller is blocked in Acquire
				for entered.Load() < callers {
					time.Sleep(time.Millisecond)
				}
				time.Sleep(20 * time.Millisecond)
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			lease.Release()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 1, noWaiter)
	assert.False(t, l.Held("k"))
}

func TestKeyedLockFirstCallerDoesNotWait(t *testing.T) {
	l := NewKeyedLock()
	ctx := context.Background()

	first, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.False(t, first.DidWait())

	acquired := make(chan *Lease)
	go func() {
		lease, err := l.Acquire(ctx, "k")
		assert.NoError(t, err)
		acquired <- lease
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	first.Release()
	second := <-acquired
	assert.True(t, second.DidWait())
	assert.False(t, second.Forced())

	// a repeated release must not free the key held by the second caller
	first.Release()
	assert.True(t, l.Held("k"))
	second.Release()
	second.Release()
	assert.False(t, l.Held("k"))
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	l := NewKeyedLock()
	a, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	b, err := l.Acquire(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, a.DidWait())
	assert.False(t, b.DidWait())
}

func TestKeyedLockContextCancel(t *testing.T) {
	l := NewKeyedLock()
	lease, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedLockForceBreak(t *testing.T) {
	clk := testclock.NewFakeClock(time.Now())
	l := NewKeyedLock(WithClock(clk), WithMaxWait(time.Minute))
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan *Lease)
	go func() {
		lease, err := l.Acquire(ctx, "k")
		assert.NoError(t, err)
		acquired <- lease
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(time.Minute)

	lease := <-acquired
	assert.True(t, lease.DidWait())
	assert.True(t, lease.Forced())

	// the broken holder releasing late must not free the new holder's key
	stale.Release()
	assert.True(t, l.Held("k"))
	lease.Release()
	assert.False(t, l.Held("k"))
}

func TestPulledImages(t *testing.T) {
	p := NewPulledImages()
	assert.False(t, p.Has("k"))
	p.Mark("k")
	assert.True(t, p.Has("k"))
}

func TestGateBoundsConcurrency(t *testing.T) {
	g := NewGate(2)
	assert.Equal(t, 2, g.Size())

	var (
		wg      sync.WaitGroup
		maxSeen atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(context.Context) error {
				n := int32(g.InFlight())
				for {
					cur := maxSeen.Load()
					if n <= cur || maxSeen.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
	assert.Equal(t, 0, g.InFlight())
}

func TestGateReleasesOnErrorAndPanic(t *testing.T) {
	g := NewGate(1)
	boom := errors.New("boom")

	assert.ErrorIs(t, g.Do(context.Background(), func(context.Context) error { return boom }), boom)
	assert.Equal(t, 0, g.InFlight())

	assert.Panics(t, func() {
		_ = g.Do(context.Background(), func(context.Context) error { panic("bad") })
	})
	assert.Equal(t, 0, g.InFlight())

	assert.NoError(t, g.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestGateContextCancel(t *testing.T) {
	g := NewGate(1)
	hold := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func(context.Context) error {
			<-hold
			return nil
		})
		close(done)
	}()
	require.Eventually(t, func() bool { return g.InFlight() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Do(ctx, func(context.Context) error { return nil }), context.Canceled)

	close(hold)
	<-done
}
