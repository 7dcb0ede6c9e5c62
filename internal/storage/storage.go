// Package storage is a key-prefixed JSON store over a local state directory.
// It is the persistence layer for session records and never fails hard: when
// the directory is unavailable the store degrades to a no-op and the rest of
// the system operates purely in memory.
package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Prefix namespaces every key owned by this system so Clear can purge exactly
// our keys without touching anything else in the directory.
const Prefix = "bt_"

// Store persists small JSON documents under prefixed keys.
type Store struct {
	dir       string
	available bool
	log       *zap.Logger
}

// DefaultDir returns the state directory for persisted records:
// $XDG_STATE_HOME/bugrelay or ~/.local/state/bugrelay. Like Open, it never
// fails; without a resolvable home it falls back to the temp directory.
func DefaultDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "bugrelay")
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "bugrelay")
}

// Open prepares a store rooted at dir. A directory that cannot be created
// leaves the store unavailable rather than returning an error; all reads then
// miss and all writes are dropped.
func Open(dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{dir: dir, log: log}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("state directory unavailable, operating in memory only",
			zap.String("dir", dir), zap.Error(err))
		return s
	}
	s.available = true
	return s
}

// Available reports whether the backing directory is usable.
func (s *Store) Available() bool { return s.available }

// Dir returns the backing directory path.
func (s *Store) Dir() string { return s.dir }

// FileName returns the on-disk file name for a key. Exposed so callers can
// watch the file for changes made by other processes.
func (s *Store) FileName(key string) string {
	return Prefix + sanitize(key) + ".json"
}

// Set marshals value to JSON and writes it atomically via a temp file +
// os.Rename. Failures are logged and swallowed.
func (s *Store) Set(key string, value any) {
	if !s.available {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.log.Warn("storage: marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	path := filepath.Join(s.dir, s.FileName(key))

	tmp, err := os.CreateTemp(s.dir, Prefix+"*.tmp")
	if err != nil {
		s.log.Warn("storage: write failed", zap.String("key", key), zap.Error(err))
		return
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.log.Warn("storage: write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		s.log.Warn("storage: write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		s.log.Warn("storage: write failed", zap.String("key", key), zap.Error(err))
	}
}

// Get reads a key into out and reports whether a valid record was found.
// A missing or corrupted record reads as absent; corrupted records are
// removed so the next writer starts clean.
func (s *Store) Get(key string, out any) bool {
	if !s.available {
		return false
	}
	path := filepath.Join(s.dir, s.FileName(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("storage: read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.log.Warn("storage: corrupted record, discarding", zap.String("key", key), zap.Error(err))
		os.Remove(path)
		return false
	}
	return true
}

// Remove deletes a key. Missing keys are not an error.
func (s *Store) Remove(key string) {
	if !s.available {
		return
	}
	path := filepath.Join(s.dir, s.FileName(key))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("storage: remove failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear enumerates the directory and removes every key under our prefix,
// leaving unrelated files untouched.
func (s *Store) Clear() {
	if !s.available {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("storage: clear failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), Prefix) {
			continue
		}
		os.Remove(filepath.Join(s.dir, e.Name()))
	}
}

// sanitize keeps keys filesystem-safe.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
}
