package manager

import (
	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/observability/metrics"
	"github.com/zeusync/statesync/pkg/sequence"
)

type Option func(*Manager)

// WithMetrics reports measurements to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) {
		m.metrics = metrics.OrNop(r)
	}
}

// WithInboxCapacity sizes the inbound mailbox.
func WithInboxCapacity(n int) Option {
	return func(m *Manager) {
		m.inboxCapacity = n
	}
}

// WithInbox makes the manager drain mb instead of creating its own mailbox,
// so a transport can be built before the manager.
func WithInbox(mb *sequence.Mailbox[gamestate.Message]) Option {
	return func(m *Manager) {
		m.inbox = mb
	}
}

// WithPendingCapacity sizes the pending input and message queues.
func WithPendingCapacity(n int) Option {
	return func(m *Manager) {
		m.pendingCapacity = n
	}
}
