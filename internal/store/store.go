package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

// Durable is the persistent tier behind the cache. Persist must be
// idempotent under retry: re-writing already persisted messages is a no-op.
type Durable interface {
	Load(ctx context.Context, sessionID string) (*Context, error)
	Persist(ctx context.Context, c *Context) error
	Delete(ctx context.Context, sessionID string) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

const persistTimeout = 30 * time.Second

// Store serves conversation contexts cache-aside: reads hit the cache
// first and fall through to the durable tier; saves write through to the
// cache and schedule the durable write without blocking the caller.
type Store struct {
	cache       *cache
	durable     Durable
	logger      *zap.Logger
	maxMessages int

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// New builds a Store over the given durable tier.
func New(durable Durable, cfg config.CacheConfig, logger *zap.Logger) *Store {
	return &Store{
		cache:       newCache(cfg.TTL.Duration(), cfg.MaxEntries),
		durable:     durable,
		logger:      logger.Named("store"),
		maxMessages: cfg.MaxMessages,
	}
}

// Get returns the context for a session, or (nil, false) when absent.
// Storage trouble is logged and reported as absence; a missing context is
// the normal empty state, not a failure.
func (s *Store) Get(ctx context.Context, sessionID string) (*Context, bool) {
	if c := s.cache.get(sessionID); c != nil {
		return c.clone(), true
	}

	c, err := s.durable.Load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("durable load failed, treating context as absent",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, false
	}

	s.cache.put(sessionID, c.clone())
	return c, true
}

// Save trims the context to the retention cap, writes it through to the
// cache, and schedules the durable write. The durable write does not block
// the caller; failures are logged, and the cache keeps serving the saved
// state until it expires.
func (s *Store) Save(ctx context.Context, c *Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	c.Trim(s.maxMessages)
	snapshot := c.clone()
	s.cache.put(c.SessionID, snapshot)

	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.durable.Persist(pctx, snapshot); err != nil {
			s.logger.Error("durable persist failed",
				zap.String("session_id", snapshot.SessionID), zap.Error(err))
		}
	}()
	return nil
}

// AppendMessage appends one turn to a session, creating the conversation
// when absent, and saves the result. Returns the created message.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role Role, content string, metadata map[string]any) (Message, error) {
	c, ok := s.Get(ctx, sessionID)
	if !ok {
		c = NewContext(sessionID)
	}

	msg := NewMessage(role, content, metadata)
	c.Append(msg)

	if err := s.Save(ctx, c); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Evict drops a session's cache entry without touching durable state.
func (s *Store) Evict(sessionID string) {
	s.cache.evict(sessionID)
}

// Delete removes a session's context from both tiers.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.cache.evict(sessionID)
	if err := s.durable.Delete(ctx, sessionID); err != nil {
		return err
	}
	return nil
}

// Stats reports durable-tier counts plus the live cache size.
func (s *Store) Stats(ctx context.Context) (Stats, int, error) {
	st, err := s.durable.Stats(ctx)
	if err != nil {
		return Stats{}, 0, err
	}
	return st, s.cache.len(), nil
}

// Flush blocks until all scheduled durable writes have completed.
func (s *Store) Flush() {
	s.pending.Wait()
}

// Close waits for in-flight durable writes and closes the durable tier.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.pending.Wait()
	return s.durable.Close()
}
