package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS projects (
	project_id    TEXT PRIMARY KEY,
	project_path  TEXT NOT NULL,
	project_name  TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	last_accessed TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ai_sessions (
	session_id    TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	ai_name       TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	last_accessed TIMESTAMP NOT NULL,
	cleared       INTEGER NOT NULL DEFAULT 0,
	UNIQUE (project_id, ai_name)
);

CREATE TABLE IF NOT EXISTS clear_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL REFERENCES projects(project_id),
	ai_name    TEXT,
	cleared_at TIMESTAMP NOT NULL,
	cleared_by TEXT NOT NULL
);
`

// SQLiteBackend is the durable tier of the session registry.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens (creating if needed) the registry database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Acquire returns the active session for a (project, AI) pair, creating
// one when absent or cleared. Concurrent first-access races converge on a
// single winning session id: the upsert keeps the incumbent id unless the
// row was cleared.
func (b *SQLiteBackend) Acquire(ctx context.Context, project Project, aiName, candidateID string) (*ProjectSession, error) {
	now := time.Now().UTC()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (project_id, project_path, project_name, created_at, last_accessed)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET last_accessed = excluded.last_accessed`,
		project.ID, project.Path, project.Name, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert project: %w", err)
	}

	var s ProjectSession
	row := tx.QueryRowContext(ctx,
		`INSERT INTO ai_sessions (session_id, project_id, ai_name, created_at, last_accessed, cleared)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT(project_id, ai_name) DO UPDATE SET
			session_id = CASE WHEN ai_sessions.cleared THEN excluded.session_id ELSE ai_sessions.session_id END,
			created_at = CASE WHEN ai_sessions.cleared THEN excluded.created_at ELSE ai_sessions.created_at END,
			last_accessed = excluded.last_accessed,
			cleared = 0
		 RETURNING session_id, project_id, ai_name, created_at, last_accessed, cleared`,
		candidateID, project.ID, aiName, now, now)
	if err := row.Scan(&s.SessionID, &s.ProjectID, &s.AIName, &s.CreatedAt, &s.LastAccessed, &s.Cleared); err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &s, nil
}

// Clear marks the pair's session cleared and appends a ClearEvent. Returns
// the cleared session id, or ErrNoSession when no active session exists.
func (b *SQLiteBackend) Clear(ctx context.Context, projectID, aiName, clearedBy string) (string, error) {
	now := time.Now().UTC()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sessionID string
	err = tx.QueryRowContext(ctx,
		`UPDATE ai_sessions SET cleared = 1
		 WHERE project_id = ? AND ai_name = ? AND cleared = 0
		 RETURNING session_id`, projectID, aiName).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("mark session cleared: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO clear_events (project_id, ai_name, cleared_at, cleared_by)
		 VALUES (?, ?, ?, ?)`, projectID, aiName, now, clearedBy)
	if err != nil {
		return "", fmt.Errorf("append clear event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return sessionID, nil
}

// Touch bumps a session's last-accessed time.
func (b *SQLiteBackend) Touch(ctx context.Context, sessionID string) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE ai_sessions SET last_accessed = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Project returns one project row.
func (b *SQLiteBackend) Project(ctx context.Context, projectID string) (*Project, error) {
	var p Project
	err := b.db.QueryRowContext(ctx,
		`SELECT project_id, project_path, project_name, created_at, last_accessed
		 FROM projects WHERE project_id = ?`, projectID).
		Scan(&p.ID, &p.Path, &p.Name, &p.CreatedAt, &p.LastAccessed)
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	return &p, nil
}

// Sessions lists every session row for a project, cleared ones included.
func (b *SQLiteBackend) Sessions(ctx context.Context, projectID string) ([]ProjectSession, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT session_id, project_id, ai_name, created_at, last_accessed, cleared
		 FROM ai_sessions WHERE project_id = ? ORDER BY ai_name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ProjectSession
	for rows.Next() {
		var s ProjectSession
		if err := rows.Scan(&s.SessionID, &s.ProjectID, &s.AIName, &s.CreatedAt, &s.LastAccessed, &s.Cleared); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ClearEvents returns the most recent clear events for a project.
func (b *SQLiteBackend) ClearEvents(ctx context.Context, projectID string, limit int) ([]ClearEvent, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, project_id, ai_name, cleared_at, cleared_by
		 FROM clear_events WHERE project_id = ? ORDER BY id DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list clear events: %w", err)
	}
	defer rows.Close()

	var events []ClearEvent
	for rows.Next() {
		var (
			e  ClearEvent
			ai sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &ai, &e.ClearedAt, &e.ClearedBy); err != nil {
			return nil, fmt.Errorf("scan clear event: %w", err)
		}
		e.AIName = ai.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// SweepInactive marks sessions cleared whose last access predates cutoff.
// Returns the session ids swept.
func (b *SQLiteBackend) SweepInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`UPDATE ai_sessions SET cleared = 1
		 WHERE cleared = 0 AND last_accessed < ?
		 RETURNING session_id`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("sweep sessions: %w", err)
	}
	defer rows.Close()

	var swept []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan swept session: %w", err)
		}
		swept = append(swept, id)
	}
	return swept, rows.Err()
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
