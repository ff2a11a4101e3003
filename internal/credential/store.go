// Package credential provides persistence for the single bearer/session token.
package credential

import (
	"context"
	"sync"
)

// Store holds at most one credential token.
// Get returns "" when no credential is present.
type Store interface {
	// Get returns the current token, or "" if absent.
	Get(ctx context.Context) (string, error)

	// Set replaces the current token.
	Set(ctx context.Context, token string) error

	// Clear removes the token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process Store, used by tests and ephemeral sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the current token.
func (s *MemoryStore) Get(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Set replaces the current token.
func (s *MemoryStore) Set(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// Clear removes the token.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// Present reports whether store currently holds a non-empty token.
// Read errors count as absent.
func Present(ctx context.Context, store Store) bool {
	token, err := store.Get(ctx)
	return err == nil && token != ""
}
