package connector

import (
	"errors"
	"fmt"
	"os"

	"github.com/casetalink/casetalink/internal/protocol"
)

var (
	ErrUninitialized      = errors.New("connector: session not initialized")
	ErrAlreadyInitialized = errors.New("connector: session already initialized")
	ErrSessionClosed      = errors.New("connector: session closed")
	ErrConnectTimeout     = errors.New("connector: connect timed out")
	ErrIdleTimeout        = errors.New("connector: read idle timeout")
	ErrWriteTimeout       = errors.New("connector: write timed out")

	errDeadlineExceeded = os.ErrDeadlineExceeded
)

// TransportError wraps a failure of the underlying stream.
type TransportError struct {
	Op   string // connect, read, write or flush
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("connector: %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("connector: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolViolation reports a message, or the end of the stream, arriving
// in a handshake state that does not accept it.
type ProtocolViolation struct {
	State State
	Want  protocol.Message
	Got   protocol.Message // nil when the stream ended
	Cause error
}

func (e *ProtocolViolation) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("connector: protocol violation in %s: expected %s, stream ended", e.State, e.Want)
	}
	return fmt.Sprintf("connector: protocol violation in %s: expected %s, got %s", e.State, e.Want, e.Got)
}

func (e *ProtocolViolation) Unwrap() error {
	return e.Cause
}
