// Package connector talks to the Caseta Smart Bridge: it dials the telnet
// port, logs in, and turns the bridge's event stream into bus events.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/casetalink/casetalink/internal/config"
	"github.com/casetalink/casetalink/internal/events"
	"github.com/casetalink/casetalink/internal/protocol"
	"github.com/casetalink/casetalink/internal/util"
)

const sourceBridge = "bridge"

// BridgeStatus is a point-in-time view of the bridge connection.
type BridgeStatus struct {
	Host        string                `json:"host"`
	State       State                 `json:"state"`
	ConnectedAt time.Time             `json:"connected_at,omitempty"`
	LastEvent   *events.ButtonPayload `json:"last_event,omitempty"`
	Buttons     uint64                `json:"buttons"`
	Skipped     uint64                `json:"skipped"`
	LastError   string                `json:"last_error,omitempty"`
}

// BridgeConnector runs one session against the bridge and publishes what
// it receives on the event bus. It does not reconnect.
type BridgeConnector struct {
	mu sync.RWMutex

	cfg      *config.Config
	eventBus *events.EventBus
	provider Provider
	logger   zerolog.Logger
	now      func() time.Time

	status BridgeStatus
}

// NewBridgeConnector creates a connector for the configured bridge.
func NewBridgeConnector(cfg *config.Config, eventBus *events.EventBus) *BridgeConnector {
	bridge := cfg.GetBridge()
	return &BridgeConnector{
		cfg:      cfg,
		eventBus: eventBus,
		provider: &TCPProvider{
			Host:           bridge.Host,
			Port:           bridge.Port,
			ConnectTimeout: bridge.ConnectTimeout(),
		},
		logger: util.ComponentLogger("bridge").With().Str("host", bridge.Host).Logger(),
		now:    time.Now,
		status: BridgeStatus{Host: bridge.Host, State: StateUnopened},
	}
}

// SetProvider replaces the transport used by Run.
func (c *BridgeConnector) SetProvider(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = p
}

// Status returns a snapshot of the connection.
func (c *BridgeConnector) Status() BridgeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.status
	if st.LastEvent != nil {
		ev := *st.LastEvent
		st.LastEvent = &ev
	}
	return st
}

// Run logs in and forwards bridge events until the bridge closes the
// connection, an error ends the session, or ctx is cancelled. It returns
// nil on cancellation and protocol.ErrEndOfStream when the bridge hangs up.
func (c *BridgeConnector) Run(ctx context.Context) error {
	bridge := c.cfg.GetBridge()

	c.mu.RLock()
	guard := &streamGuard{provider: c.provider}
	c.mu.RUnlock()

	// Cancellation closes the stream underneath the session, which unblocks
	// any pending read; the session itself stays on this goroutine.
	stop := context.AfterFunc(ctx, guard.close)
	defer stop()

	session := NewSession(bridge.Username, bridge.Password, guard, Options{
		HandshakeTimeout: bridge.HandshakeTimeout(),
		IdleTimeout:      bridge.IdleTimeout(),
		WriteTimeout:     bridge.WriteTimeout(),
	})
	defer session.Close()

	c.logger.Info().Int("port", bridge.Port).Msg("connecting to bridge")
	c.setState(StateAwaitingLoginPrompt, nil)

	if err := session.Initialize(ctx); err != nil {
		if ctx.Err() != nil {
			c.finish(session, "shutdown", nil)
			return nil
		}
		c.finish(session, "login failed", err)
		return err
	}

	c.mu.Lock()
	c.status.State = StateReady
	c.status.ConnectedAt = c.now()
	c.mu.Unlock()

	c.logger.Info().Msg("logged in to bridge")
	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventSessionReady,
		Source: sourceBridge,
		Payload: events.SessionPayload{
			Host:  bridge.Host,
			State: StateReady.String(),
			At:    c.now(),
		},
	})

	for {
		msg, err := session.AwaitMessage(ctx)
		if err != nil {
			var decErr *protocol.DecodeError
			switch {
			case ctx.Err() != nil:
				c.finish(session, "shutdown", nil)
				return nil
			case errors.As(err, &decErr) && c.cfg.GetBridge().SkipUnrecognized:
				c.skip(ctx, decErr)
				continue
			case errors.As(err, &decErr):
				err = fmt.Errorf("unrecognized message from bridge: %w", err)
				c.finish(session, "unrecognized message", err)
				return err
			case errors.Is(err, protocol.ErrEndOfStream):
				c.logger.Info().Msg("bridge closed the connection")
				c.finish(session, "bridge closed the connection", nil)
				return err
			default:
				c.finish(session, "connection lost", err)
				return err
			}
		}

		c.handle(ctx, msg)
	}
}

// handle dispatches one steady-state message.
func (c *BridgeConnector) handle(ctx context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.ButtonEvent:
		payload := events.NewButtonPayload(m, c.now())

		c.mu.Lock()
		c.status.Buttons++
		c.status.LastEvent = &payload
		c.mu.Unlock()

		c.logger.Info().
			Uint8("remote", uint8(m.RemoteID)).
			Str("button", m.Button.String()).
			Str("action", m.Action.String()).
			Msg("button event")

		c.eventBus.Emit(ctx, events.Event{
			Type:    events.EventButton,
			Source:  sourceBridge,
			Payload: payload,
		})
	case protocol.LoggedIn:
		c.logger.Debug().Msg("bridge re-sent prompt")
	default:
		c.logger.Warn().Stringer("bridge_message", msg).Msg("ignoring unexpected message")
	}
}

func (c *BridgeConnector) skip(ctx context.Context, decErr *protocol.DecodeError) {
	c.mu.Lock()
	c.status.Skipped++
	c.mu.Unlock()

	c.logger.Warn().Str("raw", decErr.Raw).Str("reason", decErr.Reason).Msg("skipping unrecognized message")
	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventMessageSkipped,
		Source: sourceBridge,
		Payload: events.SkippedPayload{
			Raw:    decErr.Raw,
			Reason: decErr.Reason,
			At:     c.now(),
		},
	})
}

// finish records the terminal state and announces it. It uses a fresh
// context since the run context may already be cancelled.
func (c *BridgeConnector) finish(session *Session, reason string, err error) {
	session.Close()

	// Shutdown and a clean hang-up are not failures, however the last read
	// ended.
	state := StateClosed
	if err != nil {
		state = StateFailed
	}
	c.setState(state, err)

	if err != nil {
		c.logger.Error().Err(err).Str("state", state.String()).Msg("bridge session ended")
		reason = fmt.Sprintf("%s: %v", reason, err)
	}

	c.eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventSessionClosed,
		Source: sourceBridge,
		Payload: events.SessionPayload{
			Host:   c.cfg.GetBridge().Host,
			State:  state.String(),
			Reason: reason,
			At:     c.now(),
		},
	})
}

func (c *BridgeConnector) setState(state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.State = state
	if err != nil {
		c.status.LastError = err.Error()
	}
}

// streamGuard remembers the stream its provider opened so another
// goroutine can close it.
type streamGuard struct {
	provider Provider

	mu     sync.Mutex
	stream Stream
	closed bool
}

func (g *streamGuard) Open(ctx context.Context) (Stream, error) {
	stream, err := g.provider.Open(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		stream.Close()
		return nil, context.Canceled
	}
	g.stream = stream
	return stream, nil
}

func (g *streamGuard) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.stream != nil {
		g.stream.Close()
	}
}
