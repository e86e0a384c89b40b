// Package journal keeps an append-only activity log in SQLite.
//
// The journal records what happened to tasks, resources and operations so
// an agent can ask "what changed recently?". It is auxiliary: the task and
// resource files stay the source of truth, and a journal failure never
// fails the operation being journaled.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Event kinds.
const (
	KindResourceCreated  = "resource_created"
	KindResourceUpdated  = "resource_updated"
	KindResourceDeleted  = "resource_deleted"
	KindTaskAdded        = "task_added"
	KindTaskStatus       = "task_status"
	KindTaskRemoved      = "task_removed"
	KindSubtaskRemoved   = "subtask_removed"
	KindDependencyAdded  = "dependency_added"
	KindDependencyRemove = "dependency_removed"
	KindDependencyFixed  = "dependency_fixed"
	KindOperationDone    = "operation_finished"
	KindExternalEdit     = "external_edit"
	KindBackupRestored   = "backup_restored"
)

// DefaultFile is the journal's filename inside the data dir.
const DefaultFile = "journal.db"

// DefaultRecentLimit caps Recent when the caller passes no limit.
const DefaultRecentLimit = 20

// Event is one journal entry. Data is free-form and stored as JSON.
type Event struct {
	ID        int64          `json:"id"`
	Kind      string         `json:"kind"`
	Subject   string         `json:"subject"`
	Summary   string         `json:"summary"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Store is the journal database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the journal at path, enables WAL mode
// and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migration: %w", err)
	}
	return s, nil
}

// Close closes the database. Closing a nil Store is a no-op.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			subject    TEXT NOT NULL DEFAULT '',
			summary    TEXT NOT NULL DEFAULT '',
			data       TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, id);
		CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends e and returns its id. CreatedAt defaults to now.
// Recording into a nil Store is a no-op, so callers can hold a disabled
// journal without checking.
func (s *Store) Record(ctx context.Context, e Event) (int64, error) {
	if s == nil {
		return 0, nil
	}
	if e.Kind == "" {
		return 0, fmt.Errorf("journal: event kind is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	var data sql.NullString
	if len(e.Data) > 0 {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return 0, fmt.Errorf("journal: encode data: %w", err)
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (kind, subject, summary, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Kind, e.Subject, e.Summary, data, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("journal: insert event: %w", err)
	}
	return res.LastInsertId()
}

// Query filters Recent. Empty fields match everything.
type Query struct {
	Kind    string
	Subject string
	Limit   int
}

// Recent returns the newest events first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Event, error) {
	if s == nil {
		return []Event{}, nil
	}
	if q.Limit <= 0 {
		q.Limit = DefaultRecentLimit
	}

	query := `SELECT id, kind, subject, summary, data, created_at FROM events WHERE 1=1`
	args := []any{}
	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, q.Kind)
	}
	if q.Subject != "" {
		query += " AND subject = ?"
		args = append(args, q.Subject)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e       Event
			data    sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Summary, &data, &created); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("journal: decode data of event %d: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("journal: parse time of event %d: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
