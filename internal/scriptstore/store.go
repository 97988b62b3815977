// File: internal/scriptstore/store.go

// Package scriptstore is the live-editable script source the asset engine
// consults before falling back to the on-disk asset tree. It mirrors the
// proxy's script subsystem: operators can override any served HUD file at
// runtime without touching the filesystem.
package scriptstore

import "sync"

// Source provides script contents by logical path. A miss is not an error;
// the caller falls back to its static location.
type Source interface {
	Contents(path string) (string, bool)
}

// MemoryStore is a concurrency-safe in-memory Source.
type MemoryStore struct {
	mu      sync.RWMutex
	scripts map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scripts: make(map[string]string)}
}

// Contents returns the stored script for path, if any.
func (s *MemoryStore) Contents(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.scripts[path]
	return c, ok
}

// Put stores or replaces the script for path.
func (s *MemoryStore) Put(path, contents string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[path] = contents
}

// Delete removes the script for path, restoring the static fallback.
func (s *MemoryStore) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scripts, path)
}
