package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// FileStore is a file-backed durable tier: one JSON document per session
// under a data directory. Writes are atomic (temp file, fsync, rename) and
// guarded by advisory locks plus a per-file in-process mutex. Lock
// acquisition failure degrades to an unlocked best-effort access, logged,
// so concurrent writers from other processes can interleave; the SQLite
// tier is the primary store and does not share this weakness.
type FileStore struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	files map[string]*sync.Mutex
}

var _ Durable = (*FileStore)(nil)

// OpenFileStore creates the data directory and returns a store over it.
func OpenFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger.Named("filestore"),
		files:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *FileStore) Load(_ context.Context, sessionID string) (*Context, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockFile(path)
	defer unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open context file: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err != nil {
		s.logger.Warn("shared lock unavailable, reading unlocked",
			zap.String("path", path), zap.Error(err))
	} else {
		defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}

	var c Context
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode context file: %w", err)
	}
	return &c, nil
}

func (s *FileStore) Persist(_ context.Context, c *Context) error {
	path, err := s.path(c.SessionID)
	if err != nil {
		return err
	}

	unlock := s.lockFile(path)
	defer unlock()

	// The advisory lock lives on the destination file so other processes
	// contend on a stable inode even though the write goes through a temp
	// file and rename.
	lock, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open context file: %w", err)
	}
	defer lock.Close()

	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		s.logger.Warn("exclusive lock unavailable, writing unlocked",
			zap.String("path", path), zap.Error(err))
	} else {
		defer syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".context-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace context file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}

	unlock := s.lockFile(path)
	defer unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove context file: %w", err)
	}
	return nil
}

func (s *FileStore) Stats(_ context.Context) (Stats, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Stats{}, fmt.Errorf("read data directory: %w", err)
	}

	var st Stats
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		st.Conversations++

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var c Context
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		st.Messages += len(c.Messages)
	}
	return st, nil
}

func (s *FileStore) Close() error {
	return nil
}

// path maps a session id to its document. Ids that would escape the data
// directory are rejected.
func (s *FileStore) path(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || strings.Contains(sessionID, "..") {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.dir, sessionID+".json"), nil
}

// lockFile serializes in-process access to one document and returns the
// release function.
func (s *FileStore) lockFile(path string) func() {
	s.mu.Lock()
	m, ok := s.files[path]
	if !ok {
		m = &sync.Mutex{}
		s.files[path] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
