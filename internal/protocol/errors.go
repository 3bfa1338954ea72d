package protocol

import (
	"errors"
	"fmt"
)

// ErrEndOfStream reports that the bridge closed the stream between frames.
// It is the only termination signal that is not a failure.
var ErrEndOfStream = errors.New("protocol: end of stream")

// FramingError reports bytes that could not be delimited into a frame,
// either because the stream ended mid-line or the line grew past MaxLineLength.
type FramingError struct {
	Partial string
	Reason  string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("protocol: framing error: %s (partial %q)", e.Reason, e.Partial)
}

// DecodeError reports a frame that does not match any known message shape.
type DecodeError struct {
	Raw    string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: %s: %q", e.Reason, e.Raw)
}
