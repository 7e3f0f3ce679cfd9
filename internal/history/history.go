// Package history keeps a local journal of sync outcomes in
// SQLite. The journal is purely observational: dedup decisions
// always come from the server, never from here.
package history

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS syncs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    synced_at   TEXT NOT NULL,
    session_id  TEXT NOT NULL,
    hook_event  TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    file_hash   TEXT NOT NULL DEFAULT '',
    file_size   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_syncs_synced_at
    ON syncs(synced_at DESC);
`

// Outcomes recorded per invocation.
const (
	OutcomeUploaded = "uploaded"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Entry is one journal row.
type Entry struct {
	SyncedAt  time.Time
	SessionID string
	HookEvent string
	Outcome   string
	FileHash  string
	FileSize  int64
}

// DB wraps the journal database.
type DB struct {
	conn *sql.DB
}

func makeDSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	return path + "?" + params.Encode()
}

// Open creates or opens the journal at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", makeDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing journal: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Record appends one outcome. A nil DB discards the entry so the
// engine can record unconditionally.
func (db *DB) Record(e Entry) error {
	if db == nil {
		return nil
	}
	if e.SyncedAt.IsZero() {
		e.SyncedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(
		`INSERT INTO syncs
		    (synced_at, session_id, hook_event, outcome,
		     file_hash, file_size)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.SyncedAt.Format(time.RFC3339), e.SessionID,
		e.HookEvent, e.Outcome, e.FileHash, e.FileSize,
	)
	if err != nil {
		return fmt.Errorf("recording sync: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (db *DB) Recent(n int) ([]Entry, error) {
	if db == nil {
		return nil, nil
	}
	rows, err := db.conn.Query(
		`SELECT synced_at, session_id, hook_event, outcome,
		        file_hash, file_size
		   FROM syncs
		  ORDER BY id DESC
		  LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var syncedAt string
		if err := rows.Scan(
			&syncedAt, &e.SessionID, &e.HookEvent,
			&e.Outcome, &e.FileHash, &e.FileSize,
		); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		e.SyncedAt, _ = time.Parse(time.RFC3339, syncedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the journal.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	return db.conn.Close()
}
