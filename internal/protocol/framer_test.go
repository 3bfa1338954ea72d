package protocol

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkReader returns each chunk from one Read call, then io.EOF.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func readAll(t *testing.T, lr *LineReader) ([]string, error) {
	t.Helper()
	var frames []string
	for {
		frame, err := lr.ReadFrame()
		if err != nil {
			return frames, err
		}
		frames = append(frames, string(frame))
	}
}

func TestLineReaderPromptsWithoutTerminator(t *testing.T) {
	lr := NewLineReader(&chunkReader{chunks: []string{"login: ", "password: ", "\r\nGNET> "}})
	frames, err := readAll(t, lr)
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected end of stream, got %v", err)
	}
	want := []string{"login: ", "password: ", "GNET> "}
	if strings.Join(frames, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", frames, want)
	}
}

func TestLineReaderSplitAndCoalescedReads(t *testing.T) {
	lr := NewLineReader(&chunkReader{chunks: []string{
		"~DEV", "ICE,4,5,3\r", "\n~DEVICE,4,5,4\r\n~DEVICE,2,",
		"3,3\r\n",
	}})
	frames, err := readAll(t, lr)
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected end of stream, got %v", err)
	}
	want := []string{"~DEVICE,4,5,3", "~DEVICE,4,5,4", "~DEVICE,2,3,3"}
	if strings.Join(frames, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", frames, want)
	}
}

func TestLineReaderPromptCoalescedWithEvent(t *testing.T) {
	lr := NewLineReader(&chunkReader{chunks: []string{"GNET> ~DEVICE,4,5,3\r\n"}})
	frames, err := readAll(t, lr)
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected end of stream, got %v", err)
	}
	if len(frames) != 2 || frames[0] != MarkerLoggedIn || frames[1] != "~DEVICE,4,5,3" {
		t.Fatalf("unexpected frames %q", frames)
	}
}

func TestLineReaderLongLineAcrossManyReads(t *testing.T) {
	long := "~DEVICE," + strings.Repeat("1", 300)
	lr := NewLineReader(strings.NewReader(long + "\n"))
	frame, err := lr.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(frame) != long {
		t.Fatalf("frame mangled: %d bytes", len(frame))
	}
}

func TestLineReaderCleanClose(t *testing.T) {
	lr := NewLineReader(&chunkReader{})
	if _, err := lr.ReadFrame(); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected end of stream, got %v", err)
	}
	// Stays closed.
	if _, err := lr.ReadFrame(); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected end of stream again, got %v", err)
	}
}

func TestLineReaderTruncatedFrame(t *testing.T) {
	lr := NewLineReader(&chunkReader{chunks: []string{"~DEVICE,4,"}})
	_, err := lr.ReadFrame()
	var framing *FramingError
	if !errors.As(err, &framing) {
		t.Fatalf("expected *FramingError, got %v", err)
	}
	if framing.Partial != "~DEVICE,4," {
		t.Fatalf("unexpected partial %q", framing.Partial)
	}
}

func TestLineReaderOversizeLine(t *testing.T) {
	lr := NewLineReader(strings.NewReader(strings.Repeat("x", MaxLineLength+10)))
	_, err := lr.ReadFrame()
	var framing *FramingError
	if !errors.As(err, &framing) {
		t.Fatalf("expected *FramingError, got %v", err)
	}
}

type failingReader struct {
	data string
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, r.err
}

func TestLineReaderDeliversFramesBeforeError(t *testing.T) {
	boom := errors.New("boom")
	lr := NewLineReader(&failingReader{data: "~DEVICE,1,2,3\r\n", err: boom})
	frame, err := lr.ReadFrame()
	if err != nil || string(frame) != "~DEVICE,1,2,3" {
		t.Fatalf("got %q, %v", frame, err)
	}
	if _, err := lr.ReadFrame(); !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
}

type stalledReader struct{}

func (stalledReader) Read(p []byte) (int, error) { return 0, nil }

func TestLineReaderNoProgress(t *testing.T) {
	lr := NewLineReader(stalledReader{})
	if _, err := lr.ReadFrame(); !errors.Is(err, io.ErrNoProgress) {
		t.Fatalf("expected io.ErrNoProgress, got %v", err)
	}
}
