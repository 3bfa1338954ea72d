package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/casetalink/casetalink/internal/util"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus implements an asynchronous publish-subscribe event system.
// Bridge traffic fans out from the connector to the journal, MQTT and
// anything else that subscribes.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
		logger:   util.ComponentLogger("event_bus"),
	}
}

// Subscribe registers a handler function for a specific event type.
// The name identifies the handler in logs and for Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	eb.logger.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered
}

// snapshot copies the handler list for an event type, or returns nil when
// the bus is stopped.
func (eb *EventBus) snapshot(eventType EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return nil
	}
	handlers := eb.handlers[eventType]
	if len(handlers) == 0 {
		return nil
	}
	out := make([]handlerEntry, len(handlers))
	copy(out, handlers)
	return out
}

// invoke runs one handler, converting a panic into a logged error.
func (eb *EventBus) invoke(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		eb.logger.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Emit publishes an event to all subscribed handlers asynchronously.
// Each handler runs in its own goroutine so a slow sink never stalls the
// bridge read loop.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	// The read lock is held across wg.Add so Stop cannot start waiting
	// between the stopped check and the handlers being counted.
	eb.mu.RLock()
	if eb.stopped || len(eb.handlers[event.Type]) == 0 {
		eb.mu.RUnlock()
		return
	}
	handlers := make([]handlerEntry, len(eb.handlers[event.Type]))
	copy(handlers, eb.handlers[event.Type])
	eb.wg.Add(len(handlers))
	eb.mu.RUnlock()

	eb.logger.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		h := h
		go func() {
			defer eb.wg.Done()
			eb.invoke(ctx, h, event)
		}()
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	handlers := eb.snapshot(event.Type)
	if handlers == nil {
		return nil
	}

	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup

	wg.Add(len(handlers))
	for _, h := range handlers {
		h := h
		go func() {
			defer wg.Done()
			if err := eb.invoke(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// Stop signals the EventBus to stop accepting new events and waits
// for all in-flight handlers to complete. Later calls are no-ops.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	eb.logger.Info().Msg("event bus stopped")
}

// Wait blocks until every handler started by Emit so far has returned.
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
