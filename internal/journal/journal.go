package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Journal configuration constants.
const (
	// dirPermissions is the permission mode for the journal directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the journal file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying journal connectivity.
	connectionTimeout = 5 * time.Second

	// connMaxIdleTime is how long idle connections are kept open.
	connMaxIdleTime = 30 * time.Minute
)

// Event kinds recorded to the journal.
const (
	EventConnected        = "connected"
	EventDisconnected     = "disconnected"
	EventReconnectAttempt = "reconnect_attempt"
	EventRecovered        = "recovered"
	EventGivenUp          = "given_up"
	EventFrameDropped     = "frame_dropped"
)

// schema is applied on open; idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    ended_at   TIMESTAMP,
    end_reason TEXT
);

CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    at         TIMESTAMP NOT NULL,
    kind       TEXT NOT NULL,
    detail     TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
`

// Config contains journal configuration options.
// These map to the journal section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite journal file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging for better concurrent access.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int
}

// Event is one journal entry.
type Event struct {
	ID        int64
	SessionID string
	At        time.Time
	Kind      string
	Detail    string
}

// Journal is a local SQLite record of connection lifecycle events, kept for
// post-mortem diagnostics on long-lived installs.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates the journal, applying the schema if needed.
//
// It performs the following setup:
//  1. Creates the journal directory if it doesn't exist
//  2. Opens the database file (creates if not present)
//  3. Configures WAL mode and busy timeout
//  4. Applies the schema
//  5. Verifies the connection with a ping
//
// Parameters:
//   - cfg: Journal configuration
//
// Returns:
//   - *Journal: Ready for writes
//   - error: If connection or schema setup fails
func Open(cfg Config) (*Journal, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}

	// Owner read/write only; ignore error on first run before the file exists.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // Intentional

	return &Journal{db: db, path: cfg.Path}, nil
}

// SessionStarted records the beginning of a hub session.
func (j *Journal) SessionStarted(ctx context.Context, sessionID string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, started_at) VALUES (?, ?)`,
		sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording session start: %w", err)
	}
	return j.Record(ctx, sessionID, EventConnected, "")
}

// SessionEnded closes out a session with its end reason (empty for an
// intentional stop).
func (j *Journal) SessionEnded(ctx context.Context, sessionID, reason string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, end_reason = ? WHERE id = ?`,
		time.Now().UTC(), reason, sessionID)
	if err != nil {
		return fmt.Errorf("recording session end: %w", err)
	}
	return j.Record(ctx, sessionID, EventDisconnected, reason)
}

// Record appends one event. sessionID may be empty for events outside a
// session (reconnect attempts, give-ups).
func (j *Journal) Record(ctx context.Context, sessionID, kind, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (session_id, at, kind, detail) VALUES (?, ?, ?, ?)`,
		sessionID, time.Now().UTC(), kind, detail)
	if err != nil {
		return fmt.Errorf("recording %s event: %w", kind, err)
	}
	return nil
}

// Recent returns the newest events, most recent first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - limit: Maximum number of events to return
//
// Returns:
//   - []Event: Up to limit events, newest first
//   - error: If the query fails
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, at, kind, detail
         FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.At, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the journal is accessible.
func (j *Journal) HealthCheck(ctx context.Context) error {
	var result int
	if err := j.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("journal health check failed: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the journal file.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the journal gracefully.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}
