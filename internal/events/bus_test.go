package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var got []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, event Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+event.Source)
			return nil
		}
	}
	bus.Subscribe(EventButton, "a", record("a"))
	bus.Subscribe(EventButton, "b", record("b"))
	bus.Subscribe(EventSessionReady, "c", record("c"))

	bus.Emit(context.Background(), Event{Type: EventButton, Source: "test"})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	bus.Subscribe(EventButton, "ok", func(ctx context.Context, event Event) error { return nil })
	bus.Subscribe(EventButton, "fail", func(ctx context.Context, event Event) error { return boom })

	if err := bus.EmitSync(context.Background(), Event{Type: EventButton}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	bus.Subscribe(EventButton, "panics", func(ctx context.Context, event Event) error { panic("bad handler") })
	bus.Subscribe(EventButton, "counts", func(ctx context.Context, event Event) error {
		calls.Add(1)
		return nil
	})

	if err := bus.EmitSync(context.Background(), Event{Type: EventButton}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected surviving handler to run once, ran %d", calls.Load())
	}
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()

	var calls atomic.Int32
	bus.Subscribe(EventButton, "h", func(ctx context.Context, event Event) error {
		calls.Add(1)
		return nil
	})
	if bus.HandlerCount(EventButton) != 1 {
		t.Fatalf("expected one handler")
	}
	bus.Unsubscribe(EventButton, "h")
	if bus.HandlerCount(EventButton) != 0 {
		t.Fatalf("expected handler removed")
	}

	bus.Subscribe(EventButton, "h", func(ctx context.Context, event Event) error {
		calls.Add(1)
		return nil
	})
	bus.Stop()
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventButton})
	bus.Wait()
	if calls.Load() != 0 {
		t.Fatalf("stopped bus delivered %d events", calls.Load())
	}
	select {
	case <-bus.StopCh():
	default:
		t.Fatalf("stop channel not closed")
	}
}
