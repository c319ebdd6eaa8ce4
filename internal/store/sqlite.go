package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	session_id TEXT PRIMARY KEY,
	user_id    TEXT,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES conversations(session_id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	timestamp  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

CREATE TABLE IF NOT EXISTS project_contexts (
	session_id   TEXT PRIMARY KEY REFERENCES conversations(session_id),
	project_data TEXT NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
`

// SQLiteStore is the durable tier backed by a local SQLite database.
type SQLiteStore struct {
	db          *sql.DB
	maxMessages int
}

var _ Durable = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the conversation database at path.
func OpenSQLite(path string, maxMessages int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, maxMessages: maxMessages}, nil
}

// Load reconstructs a conversation context from its rows. Returns
// ErrNotFound when no conversation exists for the session.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Context, error) {
	var (
		c        Context
		userID   sql.NullString
		metaJSON string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, metadata, created_at, updated_at
		 FROM conversations WHERE session_id = ?`, sessionID)
	if err := row.Scan(&c.SessionID, &userID, &metaJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	c.UserID = userID.String
	if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode conversation metadata: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, metadata, timestamp
		 FROM messages WHERE session_id = ? ORDER BY timestamp, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m       Message
			msgMeta string
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &msgMeta, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if msgMeta != "" && msgMeta != "{}" {
			if err := json.Unmarshal([]byte(msgMeta), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	var projectJSON string
	err = s.db.QueryRowContext(ctx,
		`SELECT project_data FROM project_contexts WHERE session_id = ?`, sessionID).
		Scan(&projectJSON)
	switch err {
	case nil:
		var p ProjectInfo
		if err := json.Unmarshal([]byte(projectJSON), &p); err != nil {
			return nil, fmt.Errorf("decode project data: %w", err)
		}
		c.Project = &p
	case sql.ErrNoRows:
	default:
		return nil, fmt.Errorf("load project data: %w", err)
	}

	return &c, nil
}

// Persist writes a context, inserting only messages not already present.
// Re-persisting the same messages is a no-op; the conflict target is the
// message id.
func (s *SQLiteStore) Persist(ctx context.Context, c *Context) error {
	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode conversation metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (session_id, user_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		c.SessionID, nullable(c.UserID), string(metaJSON), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	for _, m := range c.Messages {
		msgMeta, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("encode message metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, content, metadata, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			m.ID, c.SessionID, string(m.Role), m.Content, string(msgMeta), m.Timestamp)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if s.maxMessages > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM messages WHERE session_id = ? AND id NOT IN (
				SELECT id FROM messages WHERE session_id = ?
				ORDER BY timestamp DESC, rowid DESC LIMIT ?)`,
			c.SessionID, c.SessionID, s.maxMessages)
		if err != nil {
			return fmt.Errorf("trim messages: %w", err)
		}
	}

	if c.Project != nil {
		projectJSON, err := json.Marshal(c.Project)
		if err != nil {
			return fmt.Errorf("encode project data: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO project_contexts (session_id, project_data, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT(session_id) DO UPDATE SET
				project_data = excluded.project_data,
				updated_at = excluded.updated_at`,
			c.SessionID, string(projectJSON), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("upsert project data: %w", err)
		}
	}

	return tx.Commit()
}

// Delete removes all rows for a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM project_contexts WHERE session_id = ?`,
		`DELETE FROM conversations WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
			return fmt.Errorf("delete conversation rows: %w", err)
		}
	}
	return tx.Commit()
}

// Stats reports row counts for diagnostics.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.Conversations); err != nil {
		return Stats{}, fmt.Errorf("count conversations: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	return st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
