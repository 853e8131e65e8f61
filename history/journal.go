// Package history keeps a journal of supervisor events in a local SQLite database so
// past reloads and restarts can be inspected with `devhost history`.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// EventType represents the type of supervisor event
type EventType string

const (
	EventReloadFailed  EventType = "reload_failed"
	EventRestart       EventType = "restart"
	EventRestartFailed EventType = "restart_failed"
	EventPromoted      EventType = "promoted"
	EventShutdown      EventType = "shutdown"
)

// Event represents a journal entry in the database
type Event struct {
	ID         string `db:"id"`
	EventType  string `db:"event_type"`
	Timestamp  int64  `db:"timestamp"` // Unix milliseconds
	InstanceID string `db:"instance_id"`
	Preset     string `db:"preset"`
	Port       int    `db:"port"`
	DurationMS int64  `db:"duration_ms"`
	Path       string `db:"path"`
	Error      string `db:"error"`
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Journal records supervisor events. A nil *Journal discards everything, which is how
// the journal is disabled.
type Journal struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at path, creating it and its directory if needed.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}
	j, err := NewJournal(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewJournal creates a journal on an existing connection
func NewJournal(db *sqlx.DB) (*Journal, error) {
	if err := DBInit(db); err != nil {
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// DBInit initializes the supervisor events table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS supervisor_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		instance_id TEXT NOT NULL DEFAULT '',
		preset TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_supervisor_events_timestamp ON supervisor_events(timestamp)`)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Record inserts an event, filling in its ID and timestamp when they are empty.
func (j *Journal) Record(ctx context.Context, event Event) error {
	if j == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	_, err := j.db.NamedExecContext(ctx, `
		INSERT INTO supervisor_events (
			id, event_type, timestamp, instance_id, preset, port, duration_ms, path, error
		) VALUES (
			:id, :event_type, :timestamp, :instance_id, :preset, :port, :duration_ms, :path, :error
		)`, event)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", event.EventType, err)
	}
	return nil
}

// LogReloadFailed logs a config reload that did not produce an app definition
func (j *Journal) LogReloadFailed(ctx context.Context, path string, reloadErr error) error {
	return j.Record(ctx, Event{EventType: string(EventReloadFailed), Path: path, Error: errString(reloadErr)})
}

// LogRestart logs a completed restart
func (j *Journal) LogRestart(ctx context.Context, instanceID, preset string, port int, duration time.Duration) error {
	return j.Record(ctx, Event{
		EventType:  string(EventRestart),
		InstanceID: instanceID,
		Preset:     preset,
		Port:       port,
		DurationMS: duration.Milliseconds(),
	})
}

// LogRestartFailed logs a restart whose close, create or listen step failed
func (j *Journal) LogRestartFailed(ctx context.Context, preset string, port int, duration time.Duration, restartErr error) error {
	return j.Record(ctx, Event{
		EventType:  string(EventRestartFailed),
		Preset:     preset,
		Port:       port,
		DurationMS: duration.Milliseconds(),
		Error:      errString(restartErr),
	})
}

// LogPromoted logs the switch from the bootstrap watcher to the persistent one
func (j *Journal) LogPromoted(ctx context.Context, path string) error {
	return j.Record(ctx, Event{EventType: string(EventPromoted), Path: path})
}

// LogShutdown logs an orderly shutdown of the current instance
func (j *Journal) LogShutdown(ctx context.Context, instanceID string) error {
	return j.Record(ctx, Event{EventType: string(EventShutdown), InstanceID: instanceID})
}

// List returns up to limit events, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	var events []Event
	err := j.db.SelectContext(ctx, &events, `
		SELECT id, event_type, timestamp, instance_id, preset, port, duration_ms, path, error
		FROM supervisor_events
		ORDER BY timestamp DESC, rowid DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return events, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
