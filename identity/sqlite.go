// Package identity implements the user identity map (spec.md §3): a
// durable (source, handle) -> person_id lookup table maintained outside
// the correlation core. The core only ever depends on evidence.IdentityMap;
// this package is one concrete backend for it.
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo

	"github.com/perfpulse/correlate/evidence"
)

// SQLiteIdentityMap is a durable evidence.IdentityMap backed by a small
// SQLite table, for deployments that maintain the handle-to-person mapping
// as an evolving, editable dataset rather than a fixed in-memory one.
type SQLiteIdentityMap struct {
	db *sql.DB
	mu sync.RWMutex

	resolveStmt *sql.Stmt
	upsertStmt  *sql.Stmt
	deleteStmt  *sql.Stmt
	listStmt    *sql.Stmt
}

// Config configures the SQLite identity map.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
	// BusyTimeout bounds how long a writer waits for the single-writer
	// lock before failing. Default: 5 seconds.
	BusyTimeout time.Duration
}

// Open creates or opens a SQLite-backed identity map at cfg.DBPath, using
// WAL mode for concurrent readers alongside the single writer.
func Open(cfg Config) (*SQLiteIdentityMap, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("identity: db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	m := &SQLiteIdentityMap{db: db}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := m.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *SQLiteIdentityMap) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identity_map (
		source TEXT NOT NULL,
		handle TEXT NOT NULL,
		person_id TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (source, handle)
	);

	CREATE INDEX IF NOT EXISTS idx_identity_person ON identity_map(person_id);
	`
	_, err := m.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("identity: init schema: %w", err)
	}
	return nil
}

func (m *SQLiteIdentityMap) prepareStatements() error {
	var err error

	m.resolveStmt, err = m.db.Prepare(`
		SELECT person_id FROM identity_map WHERE source = ? AND handle = ?
	`)
	if err != nil {
		return fmt.Errorf("identity: prepare resolve statement: %w", err)
	}

	m.upsertStmt, err = m.db.Prepare(`
		INSERT INTO identity_map (source, handle, person_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source, handle) DO UPDATE SET
			person_id = excluded.person_id,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("identity: prepare upsert statement: %w", err)
	}

	m.deleteStmt, err = m.db.Prepare(`
		DELETE FROM identity_map WHERE source = ? AND handle = ?
	`)
	if err != nil {
		return fmt.Errorf("identity: prepare delete statement: %w", err)
	}

	m.listStmt, err = m.db.Prepare(`
		SELECT source, handle, person_id FROM identity_map WHERE person_id = ?
	`)
	if err != nil {
		return fmt.Errorf("identity: prepare list statement: %w", err)
	}

	return nil
}

// Resolve implements evidence.IdentityMap.
func (m *SQLiteIdentityMap) Resolve(source, handle string) (evidence.PersonID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var personID string
	err := m.resolveStmt.QueryRow(source, handle).Scan(&personID)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		return "", false
	}
	return evidence.PersonID(personID), true
}

// Set records (or overwrites) the canonical person behind (source, handle).
func (m *SQLiteIdentityMap) Set(ctx context.Context, source, handle string, person evidence.PersonID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.upsertStmt.ExecContext(ctx, source, handle, string(person), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("identity: upsert mapping: %w", err)
	}
	return nil
}

// Unset removes a (source, handle) mapping, reverting it to unmapped.
func (m *SQLiteIdentityMap) Unset(ctx context.Context, source, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.deleteStmt.ExecContext(ctx, source, handle)
	if err != nil {
		return fmt.Errorf("identity: delete mapping: %w", err)
	}
	return nil
}

// Handle is one (source, handle) binding to a person.
type Handle struct {
	Source string
	Handle string
}

// HandlesFor returns every (source, handle) bound to person, for surfacing
// a person's known identities (e.g. in a CLI lookup command).
func (m *SQLiteIdentityMap) HandlesFor(ctx context.Context, person evidence.PersonID) ([]Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.listStmt.QueryContext(ctx, string(person))
	if err != nil {
		return nil, fmt.Errorf("identity: list handles: %w", err)
	}
	defer rows.Close()

	var handles []Handle
	for rows.Next() {
		var h Handle
		var personID string
		if err := rows.Scan(&h.Source, &h.Handle, &personID); err != nil {
			return nil, fmt.Errorf("identity: scan handle row: %w", err)
		}
		handles = append(handles, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: iterate handle rows: %w", err)
	}
	return handles, nil
}

// Close releases the underlying database connection.
func (m *SQLiteIdentityMap) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("identity: close database: %w", err)
	}
	return nil
}
