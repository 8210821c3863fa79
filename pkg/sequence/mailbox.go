package sequence

import "sync"

// Mailbox hands values from any number of producer goroutines to a single
// consumer. Post never blocks; the consumer takes everything at once with Drain.
type Mailbox[T any] struct {
	mu      sync.Mutex
	pending []T
	spare   []T
}

func NewMailbox[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{
		pending: make([]T, 0, capacity),
		spare:   make([]T, 0, capacity),
	}
}

func (m *Mailbox[T]) Post(value T) {
	m.mu.Lock()
	m.pending = append(m.pending, value)
	m.mu.Unlock()
}

// Drain returns everything posted since the last Drain, in post order. The
// returned slice is only valid until the next call to Drain.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	out := m.pending
	var zero T
	for i := range m.spare {
		m.spare[i] = zero
	}
	m.pending = m.spare[:0]
	m.spare = out
	m.mu.Unlock()
	return out
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
