// Package audit persists a small connect/disconnect/control-action trail
// for operator forensics, grounded on the teacher's internal/store use of
// modernc.org/sqlite and on internal/egg's session-activity auditing. No
// frame payload is ever written here; only event metadata.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded in the trail.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventControl    = "control"
)

// Log writes audit events to a local sqlite database. A nil *Log is valid
// and every method becomes a no-op, so callers can leave auditing disabled
// without branching at every call site.
type Log struct {
	db *sql.DB
}

// Open creates (or reuses) audit.db under stateDir and ensures its schema
// exists.
func Open(stateDir string) (*Log, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create state dir: %w", err)
	}
	path := filepath.Join(stateDir, "audit.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at DATETIME NOT NULL,
		session_id TEXT NOT NULL,
		remote_addr TEXT NOT NULL,
		event TEXT NOT NULL,
		detail TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends one event. Errors are the caller's to log; auditing must
// never block or fail a connection.
func (l *Log) Record(sessionID, remoteAddr, event, detail string) error {
	if l == nil {
		return nil
	}
	_, err := l.db.Exec(
		`INSERT INTO session_events (occurred_at, session_id, remote_addr, event, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), sessionID, remoteAddr, event, detail,
	)
	return err
}
