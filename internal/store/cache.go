package store

import (
	"sync"
	"time"
)

// cacheEntry holds one cached context with expiry bookkeeping.
type cacheEntry struct {
	ctx          *Context
	expiresAt    time.Time
	lastAccessed time.Time
}

// cache is a TTL cache with LRU eviction over conversation contexts.
// Expiry is lazy: an expired entry is dropped on the read that finds it.
type cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
}

func newCache(ttl time.Duration, maxEntries int) *cache {
	return &cache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// get returns the cached context for a session, or nil on miss or expiry.
func (c *cache) get(sessionID string) *Context {
	c.mu.RLock()
	entry, ok := c.entries[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock; a put may have refreshed it.
		if cur, ok := c.entries[sessionID]; ok && now.After(cur.expiresAt) {
			delete(c.entries, sessionID)
		}
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	entry.lastAccessed = now
	c.mu.Unlock()
	return entry.ctx
}

// put stores a context, evicting the least recently used entry when full.
func (c *cache) put(sessionID string, ctx *Context) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[sessionID]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}
	c.entries[sessionID] = &cacheEntry{
		ctx:          ctx,
		expiresAt:    now.Add(c.ttl),
		lastAccessed: now,
	}
}

// evict removes a session's entry if present.
func (c *cache) evict(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}

// len reports the number of live entries, expired or not.
func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLRU drops the least recently accessed entry. Caller holds the lock.
func (c *cache) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccessed.Before(oldest) {
			oldestKey = key
			oldest = entry.lastAccessed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
