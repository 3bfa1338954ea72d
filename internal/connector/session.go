package connector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/casetalink/casetalink/internal/protocol"
	"github.com/casetalink/casetalink/internal/util"
)

// State is a step of the session lifecycle.
type State int

const (
	StateUnopened State = iota
	StateAwaitingLoginPrompt
	StateAwaitingPasswordPrompt
	StateAwaitingLoginConfirmation
	StateReady
	StateFailed
	StateClosed
)

var stateStrings = map[State]string{
	StateUnopened:                  "unopened",
	StateAwaitingLoginPrompt:       "awaiting_login_prompt",
	StateAwaitingPasswordPrompt:    "awaiting_password_prompt",
	StateAwaitingLoginConfirmation: "awaiting_login_confirmation",
	StateReady:                     "ready",
	StateFailed:                    "failed",
	StateClosed:                    "closed",
}

// String returns the string representation of State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes State as a JSON string (e.g. "ready").
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// Options tunes session timeouts. A zero duration disables that deadline.
type Options struct {
	// HandshakeTimeout bounds each read while logging in.
	HandshakeTimeout time.Duration
	// IdleTimeout bounds each read once logged in.
	IdleTimeout time.Duration
	// WriteTimeout bounds each credential write and flush.
	WriteTimeout time.Duration
}

// DefaultOptions returns the timeouts used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

// Session is one authenticated conversation with the bridge. It owns its
// stream exclusively and must be driven from a single goroutine.
type Session struct {
	username string
	password string
	provider Provider
	opts     Options
	logger   zerolog.Logger

	state  State
	stream Stream
	reader *protocol.LineReader
	writer *bufio.Writer
}

// NewSession creates a session that will authenticate with the given credentials.
func NewSession(username, password string, provider Provider, opts Options) *Session {
	return &Session{
		username: username,
		password: password,
		provider: provider,
		opts:     opts,
		logger:   util.ComponentLogger("session"),
		state:    StateUnopened,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Initialize opens the transport and runs the login handshake. On any
// failure the stream is closed and the session becomes unusable.
func (s *Session) Initialize(ctx context.Context) error {
	if s.state != StateUnopened {
		return ErrAlreadyInitialized
	}

	stream, err := s.provider.Open(ctx)
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("failed to open bridge connection: %w", err)
	}
	s.stream = stream
	s.reader = protocol.NewLineReader(stream)
	s.writer = bufio.NewWriter(stream)

	if err := s.logIn(ctx); err != nil {
		s.fail()
		return fmt.Errorf("bridge login failed: %w", err)
	}

	s.logger.Debug().Msg("logged in to bridge")
	return nil
}

func (s *Session) logIn(ctx context.Context) error {
	s.state = StateAwaitingLoginPrompt
	if err := s.expect(ctx, protocol.LoginPrompt{}); err != nil {
		return err
	}
	if err := s.writeLine(s.username); err != nil {
		return err
	}

	s.state = StateAwaitingPasswordPrompt
	if err := s.expect(ctx, protocol.PasswordPrompt{}); err != nil {
		return err
	}
	if err := s.writeLine(s.password); err != nil {
		return err
	}

	s.state = StateAwaitingLoginConfirmation
	if err := s.expect(ctx, protocol.LoggedIn{}); err != nil {
		return err
	}

	s.state = StateReady
	return nil
}

// expect reads one message and requires it to equal want.
func (s *Session) expect(ctx context.Context, want protocol.Message) error {
	msg, err := s.readMessage(ctx, s.opts.HandshakeTimeout)
	if err != nil {
		if errors.Is(err, protocol.ErrEndOfStream) {
			return &ProtocolViolation{State: s.state, Want: want, Cause: err}
		}
		return err
	}
	if msg != want {
		return &ProtocolViolation{State: s.state, Want: want, Got: msg}
	}
	s.logger.Debug().Str("state", s.state.String()).Stringer("bridge_message", msg).Msg("handshake step")
	return nil
}

// AwaitMessage blocks until the bridge sends the next message. It returns
// protocol.ErrEndOfStream when the bridge closes the connection cleanly. A
// *protocol.DecodeError leaves the session usable; every other error is
// terminal.
func (s *Session) AwaitMessage(ctx context.Context) (protocol.Message, error) {
	switch s.state {
	case StateReady:
	case StateUnopened:
		return nil, ErrUninitialized
	case StateFailed, StateClosed:
		return nil, ErrSessionClosed
	default:
		return nil, ErrUninitialized
	}

	msg, err := s.readMessage(ctx, s.opts.IdleTimeout)
	if err != nil {
		var decErr *protocol.DecodeError
		switch {
		case errors.As(err, &decErr):
			s.logger.Debug().Str("raw", decErr.Raw).Msg("undecodable frame")
			return nil, err
		case errors.Is(err, protocol.ErrEndOfStream):
			s.logger.Debug().Msg("bridge closed the stream")
			s.close(StateClosed)
			return nil, err
		default:
			s.fail()
			return nil, err
		}
	}

	s.logger.Trace().Stringer("bridge_message", msg).Msg("message received")
	return msg, nil
}

// readMessage frames and decodes one message, bounding the read by timeout.
func (s *Session) readMessage(ctx context.Context, timeout time.Duration) (protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Deadlines only matter when the stream is empty; a buffered frame
	// never touches the socket.
	if rd, ok := s.stream.(readDeadliner); ok {
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
			deadline = d
		}
		if err := rd.SetReadDeadline(deadline); err != nil {
			return nil, &TransportError{Op: "read", Err: err}
		}
	}

	frame, err := s.reader.ReadFrame()
	if err != nil {
		var framing *protocol.FramingError
		switch {
		case errors.Is(err, protocol.ErrEndOfStream), errors.As(err, &framing):
			return nil, err
		case isTimeout(err):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &TransportError{Op: "read", Err: fmt.Errorf("%w after %s: %v", ErrIdleTimeout, timeout, err)}
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &TransportError{Op: "read", Err: err}
		}
	}

	return protocol.Decode(frame)
}

// writeLine sends one CRLF-terminated line and flushes it.
func (s *Session) writeLine(line string) error {
	if wd, ok := s.stream.(writeDeadliner); ok {
		var deadline time.Time
		if s.opts.WriteTimeout > 0 {
			deadline = time.Now().Add(s.opts.WriteTimeout)
		}
		if err := wd.SetWriteDeadline(deadline); err != nil {
			return &TransportError{Op: "write", Err: err}
		}
	}

	if _, err := s.writer.WriteString(line + protocol.LineTerminator); err != nil {
		return &TransportError{Op: "write", Err: s.classifyWrite(err)}
	}
	if err := s.writer.Flush(); err != nil {
		return &TransportError{Op: "flush", Err: s.classifyWrite(err)}
	}
	return nil
}

func (s *Session) classifyWrite(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrWriteTimeout, err)
	}
	return err
}

// Close releases the stream. It is safe to call more than once.
func (s *Session) Close() error {
	if s.state == StateUnopened {
		s.state = StateClosed
		return nil
	}
	return s.close(StateClosed)
}

func (s *Session) fail() {
	s.close(StateFailed)
}

func (s *Session) close(final State) error {
	if s.state != StateFailed && s.state != StateClosed {
		s.state = final
	}
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}
