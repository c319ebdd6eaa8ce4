// Package store persists per-session conversation history behind a
// cache-aside pattern: a volatile TTL cache in front of a durable store.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates no conversation exists for a session id.
	ErrNotFound = errors.New("conversation not found")

	// ErrClosed indicates the store has been shut down.
	ErrClosed = errors.New("store closed")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversational turn. Immutable once created.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(role Role, content string, metadata map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// ProjectInfo describes the project a conversation belongs to.
type ProjectInfo struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	WorkingFiles []string `json:"working_files,omitempty"`
}

// Context is the ordered message history for one session. Messages are
// append-only; the oldest are dropped when the retention cap is exceeded.
type Context struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Messages  []Message      `json:"messages"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Project   *ProjectInfo   `json:"project,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewContext builds an empty conversation context for a session.
func NewContext(sessionID string) *Context {
	now := time.Now().UTC()
	return &Context{
		SessionID: sessionID,
		Messages:  []Message{},
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message and bumps the update time.
func (c *Context) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now().UTC()
}

// Trim drops the oldest messages so at most max remain. No-op when max
// is not positive or the history already fits.
func (c *Context) Trim(max int) {
	if max <= 0 || len(c.Messages) <= max {
		return
	}
	c.Messages = append([]Message(nil), c.Messages[len(c.Messages)-max:]...)
}

// clone returns a deep enough copy that callers can mutate the message
// slice without disturbing the cached value.
func (c *Context) clone() *Context {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	return &cp
}

// Stats summarizes the durable store, for diagnostics.
type Stats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
}
