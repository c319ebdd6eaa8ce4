// Package session maps (project path, AI identity) pairs to stable session
// ids and implements the cross-AI clear synchronization protocol.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

var (
	// ErrNoSession indicates no active session exists for a pair.
	ErrNoSession = errors.New("no active session")

	// ErrProjectNotFound indicates an unknown project id.
	ErrProjectNotFound = errors.New("project not found")
)

// Project is one tracked project directory.
type Project struct {
	ID           string    `json:"project_id"`
	Path         string    `json:"project_path"`
	Name         string    `json:"project_name"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// ProjectSession binds one AI identity to one project. At most one
// non-cleared session exists per (project, AI) pair at any time.
type ProjectSession struct {
	SessionID    string    `json:"session_id"`
	ProjectID    string    `json:"project_id"`
	AIName       string    `json:"ai_name"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	Cleared      bool      `json:"cleared"`
}

// ClearEvent is one entry in the append-only clear audit log. An empty
// AIName means the clear covered every identity.
type ClearEvent struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	AIName    string    `json:"ai_name,omitempty"`
	ClearedAt time.Time `json:"cleared_at"`
	ClearedBy string    `json:"cleared_by"`
}

// ClearNotice is the best-effort notification fanned out to subscribers
// when a clear fires.
type ClearNotice struct {
	ProjectID string    `json:"project_id"`
	AIName    string    `json:"ai_name,omitempty"`
	ClearedBy string    `json:"cleared_by"`
	ClearedAt time.Time `json:"cleared_at"`
}

// ProjectIDFor derives the stable project id from a path: the first 16 hex
// characters of the SHA-256 of the cleaned absolute form. Same path, same
// id, across runs.
func ProjectIDFor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16], nil
}

// projectName is the last path element of the project directory.
func projectName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.Base(abs)
}
