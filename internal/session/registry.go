package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

// Backend is the durable tier of the registry.
type Backend interface {
	Acquire(ctx context.Context, project Project, aiName, candidateID string) (*ProjectSession, error)
	Clear(ctx context.Context, projectID, aiName, clearedBy string) (string, error)
	Touch(ctx context.Context, sessionID string) error
	Project(ctx context.Context, projectID string) (*Project, error)
	Sessions(ctx context.Context, projectID string) ([]ProjectSession, error)
	ClearEvents(ctx context.Context, projectID string, limit int) ([]ClearEvent, error)
	SweepInactive(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}

// ContextEvictor lets the registry drop conversation state when sessions
// are cleared or swept, without depending on the store package's concrete
// type.
type ContextEvictor interface {
	Evict(sessionID string)
	Delete(ctx context.Context, sessionID string) error
}

// Registry resolves (project path, AI identity) pairs to sessions and
// drives the clear protocol. The in-memory active index is a read-through
// cache over the durable tier, which remains the source of truth.
type Registry struct {
	backend       Backend
	contexts      ContextEvictor
	logger        *zap.Logger
	broadcasters  []Broadcaster
	inactiveAfter time.Duration

	mu     sync.RWMutex
	active map[string]*ProjectSession
}

// NewRegistry builds a registry over the given backend. Broadcasters
// receive best-effort clear notices.
func NewRegistry(backend Backend, contexts ContextEvictor, cfg config.SessionConfig, logger *zap.Logger, broadcasters ...Broadcaster) *Registry {
	return &Registry{
		backend:       backend,
		contexts:      contexts,
		logger:        logger.Named("session"),
		broadcasters:  broadcasters,
		inactiveAfter: cfg.InactiveAfter.Duration(),
		active:        make(map[string]*ProjectSession),
	}
}

// AddBroadcaster registers an additional notice sink. Not safe to call
// once clears may be in flight; wire broadcasters during composition.
func (r *Registry) AddBroadcaster(b Broadcaster) {
	r.broadcasters = append(r.broadcasters, b)
}

func activeKey(projectID, aiName string) string {
	return projectID + ":" + aiName
}

// GetOrCreate returns the active session for an AI and project path,
// creating one when none exists or the previous one was cleared.
func (r *Registry) GetOrCreate(ctx context.Context, aiName, projectPath string) (*ProjectSession, error) {
	if !isSupported(aiName) {
		return nil, fmt.Errorf("unsupported ai identity %q", aiName)
	}

	projectID, err := ProjectIDFor(projectPath)
	if err != nil {
		return nil, err
	}
	key := activeKey(projectID, aiName)

	r.mu.RLock()
	s, ok := r.active[key]
	r.mu.RUnlock()
	if ok {
		if err := r.backend.Touch(ctx, s.SessionID); err != nil {
			r.logger.Warn("touch session failed", zap.String("session_id", s.SessionID), zap.Error(err))
		}
		return s, nil
	}

	project := Project{
		ID:   projectID,
		Path: projectPath,
		Name: projectName(projectPath),
	}
	s, err = r.backend.Acquire(ctx, project, aiName, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	r.mu.Lock()
	r.active[key] = s
	r.mu.Unlock()

	r.logger.Debug("session resolved",
		zap.String("project_id", projectID),
		zap.String("ai", aiName),
		zap.String("session_id", s.SessionID))
	return s, nil
}

// Clear marks one AI's session cleared for a project: the durable row is
// flagged, the active index entry and the cached context are dropped, a
// ClearEvent is appended, and subscribers are notified. History stays in
// durable storage under the old session id. Returns ErrNoSession when
// nothing was active.
func (r *Registry) Clear(ctx context.Context, aiName, projectPath, clearedBy string) (string, error) {
	projectID, err := ProjectIDFor(projectPath)
	if err != nil {
		return "", err
	}
	return r.clearOne(ctx, projectID, aiName, clearedBy, true)
}

// ClearAll clears every supported AI identity under one project. One
// ClearEvent is appended per identity that had an active session, then a
// single aggregate notice is broadcast. Returns the identities cleared.
func (r *Registry) ClearAll(ctx context.Context, projectPath, clearedBy string) ([]string, error) {
	projectID, err := ProjectIDFor(projectPath)
	if err != nil {
		return nil, err
	}

	var cleared []string
	for _, aiName := range config.SupportedAIs {
		if _, err := r.clearOne(ctx, projectID, aiName, clearedBy, false); err != nil {
			if errors.Is(err, ErrNoSession) {
				continue
			}
			return cleared, err
		}
		cleared = append(cleared, aiName)
	}

	r.broadcast(ClearNotice{
		ProjectID: projectID,
		ClearedBy: clearedBy,
		ClearedAt: time.Now().UTC(),
	})
	return cleared, nil
}

func (r *Registry) clearOne(ctx context.Context, projectID, aiName, clearedBy string, notify bool) (string, error) {
	sessionID, err := r.backend.Clear(ctx, projectID, aiName, clearedBy)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	delete(r.active, activeKey(projectID, aiName))
	r.mu.Unlock()

	r.contexts.Evict(sessionID)

	if notify {
		r.broadcast(ClearNotice{
			ProjectID: projectID,
			AIName:    aiName,
			ClearedBy: clearedBy,
			ClearedAt: time.Now().UTC(),
		})
	}

	r.logger.Info("session cleared",
		zap.String("project_id", projectID),
		zap.String("ai", aiName),
		zap.String("session_id", sessionID),
		zap.String("cleared_by", clearedBy))
	return sessionID, nil
}

// broadcast fans a notice out to every broadcaster. Best-effort only.
func (r *Registry) broadcast(notice ClearNotice) {
	for _, b := range r.broadcasters {
		b.Publish(notice)
	}
}

// HandleRemoteClear applies a clear notice originating in another process:
// the local active index and context cache are dropped so the next access
// re-reads durable state.
func (r *Registry) HandleRemoteClear(notice ClearNotice) {
	names := config.SupportedAIs
	if notice.AIName != "" {
		names = []string{notice.AIName}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, aiName := range names {
		key := activeKey(notice.ProjectID, aiName)
		if s, ok := r.active[key]; ok {
			delete(r.active, key)
			r.contexts.Evict(s.SessionID)
		}
	}
}

// ProjectStatus describes one project's sessions and recent clears.
type ProjectStatus struct {
	Project     Project          `json:"project"`
	Sessions    []ProjectSession `json:"sessions"`
	ClearEvents []ClearEvent     `json:"clear_events,omitempty"`
}

// Status reports the registry's view of one project path. Returns
// ErrProjectNotFound when the path was never seen.
func (r *Registry) Status(ctx context.Context, projectPath string) (*ProjectStatus, error) {
	projectID, err := ProjectIDFor(projectPath)
	if err != nil {
		return nil, err
	}

	project, err := r.backend.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sessions, err := r.backend.Sessions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	events, err := r.backend.ClearEvents(ctx, projectID, 10)
	if err != nil {
		return nil, err
	}

	return &ProjectStatus{Project: *project, Sessions: sessions, ClearEvents: events}, nil
}

// SweepInactive clears sessions idle past the configured threshold and
// deletes their conversation contexts. Returns the number swept.
func (r *Registry) SweepInactive(ctx context.Context) (int, error) {
	if r.inactiveAfter <= 0 {
		return 0, nil
	}

	swept, err := r.backend.SweepInactive(ctx, time.Now().Add(-r.inactiveAfter))
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	for key, s := range r.active {
		for _, id := range swept {
			if s.SessionID == id {
				delete(r.active, key)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, id := range swept {
		if err := r.contexts.Delete(ctx, id); err != nil {
			r.logger.Warn("delete swept context failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	return len(swept), nil
}

// RunSweeper runs the retention sweep on an interval until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.SweepInactive(ctx)
			if err != nil {
				r.logger.Warn("retention sweep failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("retention sweep", zap.Int("cleared", n))
			}
		}
	}
}

func isSupported(aiName string) bool {
	for _, ai := range config.SupportedAIs {
		if ai == aiName {
			return true
		}
	}
	return false
}
