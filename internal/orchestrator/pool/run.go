package pool

import (
	"context"

	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Sweep runs one maintenance pass: recover errored slots, drain the queue,
// then any extra steps in order.
func (m *Manager) Sweep(ctx context.Context, extra ...func(context.Context)) {
	logger := log.FromContext(ctx)
	if _, err := m.RecoverErroredSlots(ctx); err != nil {
		logger.Error(err, "Recovery sweep failed")
	}
	if _, err := m.DrainQueue(ctx); err != nil {
		logger.Error(err, "Queue drain failed")
	}
	for _, fn := range extra {
		fn(ctx)
	}
}

// Run sweeps every SweepInterval until ctx is done
func (m *Manager) Run(ctx context.Context, extra ...func(context.Context)) {
	log.FromContext(ctx).Info("Starting pool maintenance loop", "interval", m.cfg.SweepInterval, "platform", m.Platform())
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		m.Sweep(ctx, extra...)
	}, m.cfg.SweepInterval)
}
