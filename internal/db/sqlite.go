// Package db implements the SQLite event journal that keeps a history of
// button presses received from the bridge.
package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/casetalink/casetalink/internal/util"
)

// pragmas run on every open. Failures are logged, not fatal.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// migration moves the schema to version by running stmts.
type migration struct {
	version int
	stmts   string
}

// Database is a single-writer SQLite handle whose schema is brought up to
// date when it is opened.
type Database struct {
	mu      sync.Mutex
	db      *sql.DB
	version int
}

// openDatabase opens or creates the database at dbPath and applies every
// migration newer than the stored schema version. Migrations must be
// ordered by version.
func openDatabase(dbPath string, migrations []migration) (*Database, error) {
	if err := util.EnsureDir(filepath.Dir(dbPath)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// Pragmas are per connection, so keep exactly one.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			log.Warn().Err(err).Str("pragma", p).Msg("failed to apply pragma")
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	d := &Database{db: conn}
	if err := d.migrate(migrations); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", dbPath, err)
	}

	log.Info().Str("path", dbPath).Int("schema_version", d.version).Msg("database opened")
	return d, nil
}

// migrate applies pending migrations in one transaction.
func (d *Database) migrate(migrations []migration) error {
	latest := 0
	if n := len(migrations); n > 0 {
		latest = migrations[n-1].version
	}

	return d.transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
			return err
		}

		current := 0
		err := tx.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&current)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (0)"); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		if current > latest {
			return fmt.Errorf("schema version %d is newer than supported %d", current, latest)
		}

		for _, m := range migrations {
			if m.version <= current {
				continue
			}
			if _, err := tx.Exec(m.stmts); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			current = m.version
		}

		if _, err := tx.Exec("UPDATE schema_version SET version = ?", current); err != nil {
			return err
		}
		d.version = current
		return nil
	})
}

// Version returns the schema version after migration.
func (d *Database) Version() int {
	return d.version
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// exec runs a write statement under the writer lock.
func (d *Database) exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// each runs query and calls scan once per row. Rows are closed before it
// returns.
func (d *Database) each(query string, args []interface{}, scan func(*sql.Rows) error) error {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// scalar reads a single integer column from query.
func (d *Database) scalar(query string, args ...interface{}) (int64, error) {
	var n sql.NullInt64
	if err := d.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n.Int64, nil
}

// transaction runs fn inside a transaction under the writer lock.
func (d *Database) transaction(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
