package protocol

import (
	"bytes"
	"errors"
	"io"
)

// maxEmptyReads is how many consecutive (0, nil) reads are tolerated
// before giving up with io.ErrNoProgress.
const maxEmptyReads = 100

// LineReader splits a byte stream into bridge frames. Bytes are accumulated
// across reads, so a frame may arrive split over several reads or several
// frames may arrive in one read.
type LineReader struct {
	r       io.Reader
	scratch []byte
	pending []byte
	err     error
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{
		r:       r,
		scratch: make([]byte, InitialReadSize),
	}
}

// ReadFrame returns the next frame without its line terminator. Prompts are
// returned verbatim, trailing space included. At a clean end of stream it
// returns ErrEndOfStream; if the stream ends mid-line it returns a
// *FramingError.
func (lr *LineReader) ReadFrame() ([]byte, error) {
	empty := 0
	for {
		if frame, ok := lr.next(); ok {
			return frame, nil
		}

		if len(lr.pending) > MaxLineLength {
			partial := string(lr.pending[:32])
			lr.pending = nil
			return nil, &FramingError{Partial: partial, Reason: "line exceeds maximum length"}
		}

		// A read error is only reported once every complete frame that
		// arrived with it has been handed out.
		if lr.err != nil {
			return nil, lr.finish()
		}

		n, err := lr.r.Read(lr.scratch)
		if n > 0 {
			lr.pending = append(lr.pending, lr.scratch[:n]...)
			empty = 0
		}
		if err != nil {
			lr.err = err
			continue
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return nil, io.ErrNoProgress
			}
		}
	}
}

// next extracts one frame from the pending buffer if a complete one is there.
func (lr *LineReader) next() ([]byte, bool) {
	for {
		for _, marker := range prompts {
			if bytes.HasPrefix(lr.pending, []byte(marker)) {
				lr.pending = lr.pending[len(marker):]
				return []byte(marker), true
			}
		}

		idx := bytes.IndexByte(lr.pending, '\n')
		if idx < 0 {
			return nil, false
		}
		line := bytes.TrimSuffix(lr.pending[:idx], []byte("\r"))
		frame := make([]byte, len(line))
		copy(frame, line)
		lr.pending = lr.pending[idx+1:]
		if len(frame) == 0 {
			continue
		}
		return frame, true
	}
}

// finish converts the sticky read error into the caller-facing result.
func (lr *LineReader) finish() error {
	if !errors.Is(lr.err, io.EOF) {
		err := lr.err
		lr.err = nil
		return err
	}
	if len(lr.pending) == 0 {
		return ErrEndOfStream
	}
	partial := string(lr.pending)
	lr.pending = nil
	return &FramingError{Partial: partial, Reason: "stream ended mid-line"}
}
