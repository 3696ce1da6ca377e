// Package coordination holds the process-local primitives that serialize
// deployments: a keyed operation lock and a bounded concurrency gate.
package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/meetbot-dev/meetbot/pkg/models"
)

// DefaultLockMaxWait is how long a holder may keep a key before a waiter breaks it.
const DefaultLockMaxWait = 10 * time.Minute

// LockKey builds the lock key for deploying an image on a platform.
// Equivalent references (e.g. "nginx" and "index.docker.io/library/nginx:latest") share a key.
func LockKey(p models.PlatformType, image string) string {
	if ref, err := name.ParseReference(image); err == nil {
		image = ref.Name()
	}
	return fmt.Sprintf("%s:%s", p, image)
}

// KeyedLock is a mutual exclusion lock per string key.
// Locks live in process memory only; two orchestrators sharing a platform account do not see each other.
type KeyedLock struct {
	mu      sync.Mutex
	holders map[string]*holder
	maxWait time.Duration
	clock   clock.Clock
}

type holder struct {
	acquiredAt time.Time
	// released is closed when the holder releases or is broken
	released chan struct{}
}

// KeyedLockOption configures a KeyedLock
type KeyedLockOption func(*KeyedLock)

// WithMaxWait sets how long a key may be held before it is force-broken
func WithMaxWait(d time.Duration) KeyedLockOption {
	return func(l *KeyedLock) {
		if d > 0 {
			l.maxWait = d
		}
	}
}

// WithClock replaces the real clock, for tests
func WithClock(c clock.Clock) KeyedLockOption {
	return func(l *KeyedLock) { l.clock = c }
}

// NewKeyedLock creates an empty lock table
func NewKeyedLock(opts ...KeyedLockOption) *KeyedLock {
	l := &KeyedLock{
		holders: make(map[string]*holder),
		maxWait: DefaultLockMaxWait,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lease is a held key. Release it exactly once; extra calls are ignored.
type Lease struct {
	lock    *KeyedLock
	key     string
	holder  *holder
	didWait bool
	forced  bool
	once    sync.Once
}

// Key returns the locked key
func (l *Lease) Key() string { return l.key }

// DidWait reports whether the caller found the key held when it arrived.
// A caller that waited should revalidate whatever the previous holder was doing.
func (l *Lease) DidWait() bool { return l.didWait }

// Forced reports whether the lease was obtained by breaking a stale holder
func (l *Lease) Forced() bool { return l.forced }

// Release frees the key and wakes all waiters
func (l *Lease) Release() {
	l.once.Do(func() {
		l.lock.mu.Lock()
		defer l.lock.mu.Unlock()
		// a broken holder no longer owns the key
		if l.lock.holders[l.key] == l.holder {
			delete(l.lock.holders, l.key)
			close(l.holder.released)
		}
	})
}

// Acquire blocks until the key is free, ctx is done, or the current holder
// has kept the key longer than the max wait and is broken.
func (l *KeyedLock) Acquire(ctx context.Context, key string) (*Lease, error) {
	logger := log.FromContext(ctx).WithValues("lockKey", key)
	waited, forced := false, false

	for {
		l.mu.Lock()
		h, held := l.holders[key]
		if !held {
			h = &holder{acquiredAt: l.clock.Now(), released: make(chan struct{})}
			l.holders[key] = h
			l.mu.Unlock()
			return &Lease{lock: l, key: key, holder: h, didWait: waited, forced: forced}, nil
		}

		heldFor := l.clock.Since(h.acquiredAt)
		if heldFor >= l.maxWait {
			delete(l.holders, key)
			close(h.released)
			l.mu.Unlock()
			logger.Error(nil, "Breaking stale lock holder", "heldFor", heldFor, "maxWait", l.maxWait)
			waited, forced = true, true
			continue
		}
		l.mu.Unlock()

		waited = true
		logger.V(1).Info("Waiting for lock holder", "heldFor", heldFor)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.released:
		case <-l.clock.After(l.maxWait - heldFor):
		}
	}
}

// Held reports whether the key is currently held
func (l *KeyedLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.holders[key]
	return ok
}

// PulledImages remembers which lock keys have completed a first deployment
type PulledImages struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewPulledImages creates an empty set
func NewPulledImages() *PulledImages {
	return &PulledImages{keys: make(map[string]struct{})}
}

func (p *PulledImages) Has(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.keys[key]
	return ok
}

func (p *PulledImages) Mark(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = struct{}{}
}
