package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/casetalink/casetalink/internal/events"
	"github.com/casetalink/casetalink/internal/protocol"
	"github.com/casetalink/casetalink/internal/util"
)

const (
	// AllRemotes disables the remote filter in Recent.
	AllRemotes = -1

	// DefaultRecentLimit is used when Recent is asked for zero rows.
	DefaultRecentLimit = 50
	// MaxRecentLimit caps a single Recent query.
	MaxRecentLimit = 1000

	// pruneEvery is how many recorded events pass between retention sweeps.
	pruneEvery = 100
)

// Entry is one journaled button event.
type Entry struct {
	ID         int64                 `json:"id"`
	RemoteID   protocol.RemoteID     `json:"remote_id"`
	Button     protocol.ButtonID     `json:"button"`
	Action     protocol.ButtonAction `json:"action"`
	ReceivedAt time.Time             `json:"received_at"`
}

// RemoteSummary aggregates the journal for one remote.
type RemoteSummary struct {
	RemoteID   protocol.RemoteID `json:"remote_id"`
	Presses    int               `json:"presses"`
	Events     int               `json:"events"`
	LastButton protocol.ButtonID `json:"last_button"`
	LastSeen   time.Time         `json:"last_seen"`
}

// Journal persists button events in SQLite.
type Journal struct {
	db     *Database
	retain int
	logger zerolog.Logger

	mu         sync.Mutex
	sincePrune int
	lastErr    error
	recorded   uint64
}

// journalMigrations creates the button_events table. received_at is unix
// milliseconds.
var journalMigrations = []migration{
	{
		version: 1,
		stmts: `
			CREATE TABLE IF NOT EXISTS button_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				remote_id INTEGER NOT NULL,
				button INTEGER NOT NULL,
				action INTEGER NOT NULL,
				received_at INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_button_events_remote ON button_events(remote_id, id);
		`,
	},
}

// NewJournal opens the journal at path. Retain is the number of events
// kept; 0 keeps everything.
func NewJournal(path string, retain int) (*Journal, error) {
	database, err := openDatabase(path, journalMigrations)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &Journal{
		db:     database,
		retain: retain,
		logger: util.ComponentLogger("journal"),
	}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores one button event.
func (j *Journal) Record(p events.ButtonPayload) error {
	at := p.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := j.db.exec(
		"INSERT INTO button_events (remote_id, button, action, received_at) VALUES (?, ?, ?, ?)",
		int(p.RemoteID), int(p.Button.Code()), int(p.Action.Code()), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record button event: %w", err)
	}

	j.mu.Lock()
	j.recorded++
	j.sincePrune++
	due := j.retain > 0 && j.sincePrune >= pruneEvery
	if due {
		j.sincePrune = 0
	}
	j.mu.Unlock()

	if due {
		if n, err := j.Prune(j.retain); err != nil {
			j.logger.Warn().Err(err).Msg("journal prune failed")
		} else if n > 0 {
			j.logger.Debug().Int64("removed", n).Msg("journal pruned")
		}
	}
	return nil
}

// Recent returns up to limit events, newest first. Pass AllRemotes to see
// every remote.
func (j *Journal) Recent(limit int, remote int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	query := "SELECT id, remote_id, button, action, received_at FROM button_events"
	args := []interface{}{}
	if remote != AllRemotes {
		query += " WHERE remote_id = ?"
		args = append(args, remote)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	entries := []Entry{}
	err := j.db.each(query, args, func(rows *sql.Rows) error {
		var (
			e                     Entry
			remoteID, button, act int
			receivedAt            int64
		)
		if err := rows.Scan(&e.ID, &remoteID, &button, &act, &receivedAt); err != nil {
			return err
		}
		e.RemoteID = protocol.RemoteID(remoteID)
		e.Button = protocol.ButtonID(button)
		e.Action = protocol.ButtonAction(act)
		e.ReceivedAt = time.UnixMilli(receivedAt)
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return entries, nil
}

// Remotes summarizes every remote seen, ordered by remote id.
func (j *Journal) Remotes() ([]RemoteSummary, error) {
	query := `
		SELECT e.remote_id,
			SUM(CASE WHEN e.action = ? THEN 1 ELSE 0 END),
			COUNT(*),
			MAX(e.received_at),
			(SELECT l.button FROM button_events l
				WHERE l.remote_id = e.remote_id
				ORDER BY l.id DESC LIMIT 1)
		FROM button_events e
		GROUP BY e.remote_id
		ORDER BY e.remote_id
	`

	summaries := []RemoteSummary{}
	err := j.db.each(query, []interface{}{int(protocol.ActionPress.Code())}, func(rows *sql.Rows) error {
		var (
			s                RemoteSummary
			remoteID, button int
			lastSeen         int64
		)
		if err := rows.Scan(&remoteID, &s.Presses, &s.Events, &lastSeen, &button); err != nil {
			return err
		}
		s.RemoteID = protocol.RemoteID(remoteID)
		s.LastButton = protocol.ButtonID(button)
		s.LastSeen = time.UnixMilli(lastSeen)
		summaries = append(summaries, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize journal: %w", err)
	}
	return summaries, nil
}

// Count returns the number of journaled events.
func (j *Journal) Count() (int, error) {
	n, err := j.db.scalar("SELECT COUNT(*) FROM button_events")
	if err != nil {
		return 0, fmt.Errorf("failed to count journal: %w", err)
	}
	return int(n), nil
}

// Prune deletes all but the newest keep events and returns how many were removed.
func (j *Journal) Prune(keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep cannot be negative")
	}
	res, err := j.db.exec(`
		DELETE FROM button_events WHERE id NOT IN (
			SELECT id FROM button_events ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe records every button event published on bus.
func (j *Journal) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventButton, "journal.button", j.onButton)
}

func (j *Journal) onButton(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ButtonPayload)
	if !ok {
		return fmt.Errorf("unexpected button payload %T", event.Payload)
	}
	err := j.Record(p)

	j.mu.Lock()
	j.lastErr = err
	j.mu.Unlock()
	return err
}

// JournalStats describes the journal for status reporting.
type JournalStats struct {
	Events        int    `json:"events"`
	Recorded      uint64 `json:"recorded"`
	SchemaVersion int    `json:"schema_version"`
	LastError     string `json:"last_error,omitempty"`
}

// Stats reports the stored event count, how many events this process
// recorded and the last recording error, if any.
func (j *Journal) Stats() (JournalStats, error) {
	n, err := j.Count()
	if err != nil {
		return JournalStats{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	stats := JournalStats{
		Events:        n,
		Recorded:      j.recorded,
		SchemaVersion: j.db.Version(),
	}
	if j.lastErr != nil {
		stats.LastError = j.lastErr.Error()
	}
	return stats, nil
}
