package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/casetalink/casetalink/internal/events"
	"github.com/casetalink/casetalink/internal/protocol"
)

func openJournal(t *testing.T, retain int) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "data", "events.db"), retain)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func press(remote protocol.RemoteID, button protocol.ButtonID, action protocol.ButtonAction, at time.Time) events.ButtonPayload {
	return events.ButtonPayload{RemoteID: remote, Button: button, Action: action, ReceivedAt: at}
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := openJournal(t, 0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []events.ButtonPayload{
		press(2, protocol.ButtonPowerOn, protocol.ActionPress, base),
		press(2, protocol.ButtonPowerOn, protocol.ActionRelease, base.Add(time.Second)),
		press(5, protocol.ButtonDown, protocol.ActionPress, base.Add(2*time.Second)),
	}
	for _, r := range records {
		if err := j.Record(r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	all, err := j.Recent(10, AllRemotes)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].RemoteID != 5 || all[0].Button != protocol.ButtonDown {
		t.Fatalf("expected newest first, got %+v", all[0])
	}
	if !all[2].ReceivedAt.Equal(base) {
		t.Fatalf("timestamp not preserved: %v", all[2].ReceivedAt)
	}

	onlyTwo, err := j.Recent(10, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(onlyTwo) != 2 {
		t.Fatalf("expected 2 entries for remote 2, got %d", len(onlyTwo))
	}
	if onlyTwo[0].Action != protocol.ActionRelease {
		t.Fatalf("unexpected action %s", onlyTwo[0].Action)
	}

	limited, err := j.Recent(1, AllRemotes)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit not applied: %d entries (%v)", len(limited), err)
	}
}

func TestJournalRecentEmpty(t *testing.T) {
	j := openJournal(t, 0)
	entries, err := j.Recent(0, AllRemotes)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty, non-nil slice, got %#v", entries)
	}
}

func TestJournalRemotes(t *testing.T) {
	j := openJournal(t, 0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	j.Record(press(4, protocol.ButtonUp, protocol.ActionPress, base))
	j.Record(press(4, protocol.ButtonUp, protocol.ActionRelease, base.Add(time.Second)))
	j.Record(press(4, protocol.ButtonFavorite, protocol.ActionPress, base.Add(2*time.Second)))
	j.Record(press(1, protocol.ButtonPowerOff, protocol.ActionPress, base.Add(3*time.Second)))

	summaries, err := j.Remotes()
	if err != nil {
		t.Fatalf("remotes: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 remotes, got %d", len(summaries))
	}
	if summaries[0].RemoteID != 1 || summaries[1].RemoteID != 4 {
		t.Fatalf("unexpected order: %+v", summaries)
	}
	four := summaries[1]
	if four.Presses != 2 || four.Events != 3 || four.LastButton != protocol.ButtonFavorite {
		t.Fatalf("unexpected summary %+v", four)
	}
	if !four.LastSeen.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("unexpected last seen %v", four.LastSeen)
	}
}

func TestJournalPrune(t *testing.T) {
	j := openJournal(t, 0)
	for i := 0; i < 10; i++ {
		if err := j.Record(press(1, protocol.ButtonUp, protocol.ActionPress, time.Now())); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	removed, err := j.Prune(3)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 7 {
		t.Fatalf("expected 7 removed, got %d", removed)
	}
	if n, _ := j.Count(); n != 3 {
		t.Fatalf("expected 3 left, got %d", n)
	}
	if _, err := j.Prune(-1); err == nil {
		t.Fatalf("expected error for negative keep")
	}
}

func TestJournalRetentionSweep(t *testing.T) {
	j := openJournal(t, 10)
	for i := 0; i < pruneEvery; i++ {
		if err := j.Record(press(1, protocol.ButtonUp, protocol.ActionPress, time.Now())); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if n, _ := j.Count(); n != 10 {
		t.Fatalf("expected retention to keep 10, got %d", n)
	}
}

func TestJournalSubscribe(t *testing.T) {
	j := openJournal(t, 0)
	bus := events.NewEventBus()
	j.Subscribe(bus)

	p := press(9, protocol.ButtonPowerOn, protocol.ActionPress, time.Now())
	if err := bus.EmitSync(context.Background(), events.Event{Type: events.EventButton, Payload: p}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := bus.EmitSync(context.Background(), events.Event{Type: events.EventButton, Payload: "junk"}); err == nil {
		t.Fatalf("expected error for wrong payload type")
	}

	entries, err := j.Recent(10, 9)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry for remote 9, got %d (%v)", len(entries), err)
	}
	stats, err := j.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Events != 1 || stats.Recorded != 1 || stats.LastError != "" || stats.SchemaVersion != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := NewJournal(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	j.Record(press(3, protocol.ButtonDown, protocol.ActionPress, time.Now()))
	j.Close()

	j, err = NewJournal(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	if n, _ := j.Count(); n != 1 {
		t.Fatalf("expected persisted entry, got %d", n)
	}
}

func TestJournalSchemaMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := NewJournal(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if v := j.db.Version(); v != 1 {
		t.Fatalf("expected schema version 1, got %d", v)
	}
	j.Close()

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	var stored int
	if err := raw.QueryRow("SELECT version FROM schema_version").Scan(&stored); err != nil || stored != 1 {
		t.Fatalf("expected stored version 1, got %d (%v)", stored, err)
	}
	if _, err := raw.Exec("UPDATE schema_version SET version = 9"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	raw.Close()

	_, err = NewJournal(path, 0)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("expected newer-schema error, got %v", err)
	}
}

func TestOpenDatabaseAppliesPendingMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	first := []migration{{version: 1, stmts: "CREATE TABLE a (x INTEGER)"}}
	d, err := openDatabase(path, first)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d.Close()

	second := append(first, migration{version: 2, stmts: "CREATE TABLE b (y INTEGER)"})
	d, err = openDatabase(path, second)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	if d.Version() != 2 {
		t.Fatalf("expected version 2, got %d", d.Version())
	}
	if _, err := d.exec("INSERT INTO b (y) VALUES (1)"); err != nil {
		t.Fatalf("table from migration 2 missing: %v", err)
	}
	if n, err := d.scalar("SELECT COUNT(*) FROM b"); err != nil || n != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", n, err)
	}
}
