// Package journal keeps a local SQLite history of the operations chkit ran.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// Fixed width so that timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Status values.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id          TEXT PRIMARY KEY,
	command     TEXT NOT NULL,
	target      TEXT NOT NULL,
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_at);
`

// Entry is one recorded operation.
type Entry struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Target     string     `json:"target"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the operation ran, zero while it is still running.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Journal is an open history database. A nil *Journal records nothing.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// One writer; the CLI is a single process.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(timeLayout)
}

// Start records a running operation and returns its id.
func (j *Journal) Start(ctx context.Context, command, target string) (string, error) {
	if j == nil {
		return "", nil
	}
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO operations (id, command, target, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, command, target, StatusRunning, j.timestamp())
	if err != nil {
		return "", fmt.Errorf("recording %s: %w", command, err)
	}
	return id, nil
}

// Finish marks the operation done. A nil opErr records success and detail
// as is; otherwise the operation is failed and the error text is the detail.
func (j *Journal) Finish(ctx context.Context, id string, opErr error, detail string) error {
	if j == nil || id == "" {
		return nil
	}
	status := StatusSuccess
	if opErr != nil {
		status = StatusFailed
		detail = opErr.Error()
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, detail = ?, finished_at = ? WHERE id = ?`,
		status, detail, j.timestamp(), id)
	if err != nil {
		return fmt.Errorf("finishing operation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing operation %s: no such operation", id)
	}
	return nil
}

// List returns the newest operations first, at most limit (all when limit <= 0).
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	q := `SELECT id, command, target, status, detail, started_at, finished_at FROM operations ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Command, &e.Target, &e.Status, &e.Detail, &started, &finished); err != nil {
			return nil, fmt.Errorf("listing operations: %w", err)
		}
		if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("operation %s: %w", e.ID, err)
		}
		if finished.Valid {
			ts, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("operation %s: %w", e.ID, err)
			}
			e.FinishedAt = &ts
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return out, nil
}
