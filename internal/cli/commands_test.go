package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/casetalink/casetalink/internal/connector"
	"github.com/casetalink/casetalink/internal/db"
	"github.com/casetalink/casetalink/internal/events"
	"github.com/casetalink/casetalink/internal/protocol"
)

type fakeBridge struct{ status connector.BridgeStatus }

func (f fakeBridge) Status() connector.BridgeStatus { return f.status }

type fakeHistory struct {
	entries []db.Entry
	remotes []db.RemoteSummary
	err     error

	gotLimit, gotRemote int
}

func (f *fakeHistory) Recent(limit int, remote int) ([]db.Entry, error) {
	f.gotLimit, f.gotRemote = limit, remote
	return f.entries, f.err
}

func (f *fakeHistory) Remotes() ([]db.RemoteSummary, error) {
	return f.remotes, f.err
}

func run(t *testing.T, input string, bus *events.EventBus, bridge StatusSource, history History) string {
	t.Helper()
	if bus == nil {
		bus = events.NewEventBus()
	}
	var out bytes.Buffer
	c := NewCLI(bus, bridge, history, strings.NewReader(input), &out)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("CLI did not stop")
	}
	return out.String()
}

func TestStatusCommand(t *testing.T) {
	last := events.ButtonPayload{RemoteID: 2, Button: protocol.ButtonPowerOff, Action: protocol.ActionRelease}
	bridge := fakeBridge{status: connector.BridgeStatus{
		Host:      "192.168.1.20",
		State:     connector.StateReady,
		Buttons:   3,
		LastEvent: &last,
	}}

	out := run(t, "status\n", nil, bridge, nil)
	for _, want := range []string{"192.168.1.20", "ready", "Buttons:      3", "remote 2 power_off release"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	history := &fakeHistory{entries: []db.Entry{
		{ID: 1, RemoteID: 7, Button: protocol.ButtonFavorite, Action: protocol.ActionPress, ReceivedAt: time.Now()},
	}}

	out := run(t, "history 5 7\n", nil, fakeBridge{}, history)
	if history.gotLimit != 5 || history.gotRemote != 7 {
		t.Fatalf("arguments not forwarded: limit=%d remote=%d", history.gotLimit, history.gotRemote)
	}
	if !strings.Contains(out, "favorite") || !strings.Contains(out, "BUTTON") {
		t.Fatalf("expected table output:\n%s", out)
	}

	run(t, "history\n", nil, fakeBridge{}, history)
	if history.gotLimit != 20 || history.gotRemote != db.AllRemotes {
		t.Fatalf("unexpected defaults limit=%d remote=%d", history.gotLimit, history.gotRemote)
	}
}

func TestHistoryCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		history History
		want    string
	}{
		{"disabled", "history\n", nil, "event journal is disabled"},
		{"bad count", "history zero\n", &fakeHistory{}, "invalid count: zero"},
		{"bad remote", "history 5 300\n", &fakeHistory{}, "invalid remote id: 300"},
		{"query failure", "remotes\n", &fakeHistory{err: errors.New("database is locked")}, "database is locked"},
		{"empty", "history\n", &fakeHistory{}, "No button events recorded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, tt.input, nil, fakeBridge{}, tt.history)
			if !strings.Contains(out, tt.want) {
				t.Fatalf("expected %q in output:\n%s", tt.want, out)
			}
		})
	}
}

func TestRemotesCommand(t *testing.T) {
	history := &fakeHistory{remotes: []db.RemoteSummary{
		{RemoteID: 4, Presses: 9, Events: 18, LastButton: protocol.ButtonUp, LastSeen: time.Now()},
	}}
	out := run(t, "remotes\n", nil, fakeBridge{}, history)
	if !strings.Contains(out, "18") || !strings.Contains(out, "up") {
		t.Fatalf("expected remote summary:\n%s", out)
	}
}

func TestQuitEmitsShutdown(t *testing.T) {
	bus := events.NewEventBus()
	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, e events.Event) error {
		got <- e
		return nil
	})

	// Lines after quit are never executed.
	out := run(t, "quit\nstatus\n", bus, fakeBridge{}, nil)

	select {
	case e := <-got:
		if e.Source != "cli" {
			t.Fatalf("unexpected source %q", e.Source)
		}
	case <-time.After(time.Second):
		t.Fatalf("shutdown event not emitted")
	}
	if strings.Contains(out, "State:") {
		t.Fatalf("command after quit was executed:\n%s", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	out := run(t, "\nfrobnicate\n", nil, fakeBridge{}, nil)
	if !strings.Contains(out, "Unknown command: 'frobnicate'") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewCLI(events.NewEventBus(), fakeBridge{}, nil, r, io.Discard)

	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("CLI ignored cancellation")
	}
}
