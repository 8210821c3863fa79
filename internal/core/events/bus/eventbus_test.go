package bus

import (
	"errors"
	"testing"
	"time"
)

type testObserver struct {
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnDelivered(handlers int, err error, _ time.Duration) {
	o.deliveredCount += handlers
	o.lastErr = err
}

func TestBasicPublishSubscribe(t *testing.T) {
	b := New[int]()
	var got []int
	b.Subscribe(func(v int) error {
		got = append(got, v)
		return nil
	})
	if err := b.Publish(123); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != 123 {
		t.Fatalf("handler not called: %v", got)
	}
}

func TestDeliveryOrder(t *testing.T) {
	b := New[string]()
	var order []string
	b.Subscribe(func(string) error { order = append(order, "a"); return nil })
	b.Subscribe(func(string) error { order = append(order, "b"); return nil })
	b.Subscribe(func(string) error { order = append(order, "c"); return nil })

	_ = b.Publish("x")
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New[int]()
	count := 0
	sub := b.Subscribe(func(int) error { count++; return nil })
	_ = b.Publish(1)
	if err := b.Unsubscribe(sub); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if sub.IsActive() {
		t.Fatal("subscription still active")
	}
	_ = b.Publish(2)
	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
	// second cancel is a no-op
	if err := sub.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Len())
	}
	if err := b.Unsubscribe(nil); err != nil {
		t.Fatalf("nil unsubscribe: %v", err)
	}
}

func TestUnsubscribeFromHandler(t *testing.T) {
	b := New[int]()
	count := 0
	var sub Subscription
	sub = b.Subscribe(func(int) error {
		count++
		return sub.Cancel()
	})
	_ = b.Publish(1)
	_ = b.Publish(2)
	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}

func TestPublishJoinsErrors(t *testing.T) {
	b := New[int]()
	e1 := errors.New("one")
	e2 := errors.New("two")
	called := 0
	b.Subscribe(func(int) error { called++; return e1 })
	b.Subscribe(func(int) error { called++; return nil })
	b.Subscribe(func(int) error { called++; return e2 })

	err := b.Publish(0)
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if called != 3 {
		t.Fatalf("failing handler stopped delivery: %d", called)
	}
}

func TestObserverAndMetrics(t *testing.T) {
	b := New[int]()
	obs := &testObserver{}
	b.AddObserver(obs)
	handlerErr := errors.New("fail")
	b.Subscribe(func(int) error { return nil })
	b.Subscribe(func(int) error { return handlerErr })

	_ = b.Publish(1)
	if obs.deliveredCount != 2 {
		t.Fatalf("observer saw %d handlers", obs.deliveredCount)
	}
	if !errors.Is(obs.lastErr, handlerErr) {
		t.Fatalf("observer missed error: %v", obs.lastErr)
	}

	m := b.GetMetrics()
	if m.Published != 1 || m.DeliveredHandlers != 2 || m.Errors != 1 || m.SubscribersActive != 2 {
		t.Fatalf("unexpected metrics: %+v", m)
	}

	b.RemoveObserver(obs)
	_ = b.Publish(2)
	if obs.deliveredCount != 2 {
		t.Fatal("removed observer was notified")
	}
}
