// Package bus is a typed, in-process observer list with symmetric
// subscribe/unsubscribe. Delivery is synchronous, in subscription order, on
// the publishing goroutine.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type subscription[T any] struct {
	id      string
	handler Handler[T]
	active  atomic.Bool
	cancel  func()
}

func (s *subscription[T]) ID() string     { return s.id }
func (s *subscription[T]) IsActive() bool { return s.active.Load() }
func (s *subscription[T]) Cancel() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Bus fans one event type out to its subscribers. Subscribe and Unsubscribe
// are safe for concurrent use, including from inside a handler.
type Bus[T any] struct {
	mu        sync.RWMutex
	subs      []*subscription[T]
	metrics   Metrics
	observers map[Observer]struct{}
}

func New[T any]() *Bus[T] {
	return &Bus[T]{
		observers: make(map[Observer]struct{}),
	}
}

func (b *Bus[T]) Subscribe(handler Handler[T]) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscription[T]{id: uuid.NewString(), handler: handler}
	s.active.Store(true)
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !s.active.Swap(false) {
			return
		}
		for i, other := range b.subs {
			if other == s {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				break
			}
		}
		b.metrics.SubscribersActive--
	}
	b.subs = append(b.subs, s)
	b.metrics.SubscribersActive++
	return s
}

func (b *Bus[T]) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

// Publish delivers event to every active subscriber. Handler errors are
// joined; a failing handler does not stop delivery to the others.
func (b *Bus[T]) Publish(event T) error {
	b.mu.RLock()
	subs := b.subs
	observing := len(b.observers) > 0
	b.mu.RUnlock()

	if len(subs) == 0 && !observing {
		return nil
	}

	start := time.Now()
	var all error
	delivered := 0
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		delivered++
		if err := s.handler(event); err != nil {
			all = errors.Join(all, err)
		}
	}

	b.mu.Lock()
	b.metrics.Published++
	b.metrics.DeliveredHandlers += uint64(delivered)
	if all != nil {
		b.metrics.Errors++
	}
	observers := make([]Observer, 0, len(b.observers))
	for obs := range b.observers {
		observers = append(observers, obs)
	}
	b.mu.Unlock()

	took := time.Since(start)
	for _, obs := range observers {
		obs.OnDelivered(delivered, all, took)
	}
	return all
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus[T]) AddObserver(obs Observer) {
	b.mu.Lock()
	b.observers[obs] = struct{}{}
	b.mu.Unlock()
}

func (b *Bus[T]) RemoveObserver(obs Observer) {
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()
}

func (b *Bus[T]) GetMetrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}
