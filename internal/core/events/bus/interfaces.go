package bus

import "time"

// Handler is a subscriber callback invoked per published event. If it returns
// an error, Publish aggregates and returns it.
type Handler[T any] func(event T) error

// Subscription represents a registered handler.
// Use Cancel or Bus.Unsubscribe to stop receiving events.
type Subscription interface {
	// ID is a unique identifier for this subscription.
	ID() string
	// IsActive reports whether this subscription is still registered.
	IsActive() bool
	// Cancel de-registers the handler from the bus. Multiple calls are safe.
	Cancel() error
}

// Observer is notified about deliveries and errors. Implementations can
// export metrics or logs. Observers should return quickly.
type Observer interface {
	OnDelivered(handlers int, err error, took time.Duration)
}

// Metrics represents a minimal set of counters.
type Metrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
}
