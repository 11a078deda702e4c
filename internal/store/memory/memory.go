// Package memory implements an in-process transcript log.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/kaudio/internal/store"
)

// Store keeps entries in a map keyed by session ID. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]store.Entry
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string][]store.Entry)}
}

// Append implements [store.Appender].
func (s *Store) Append(_ context.Context, e store.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[e.SessionID] = append(s.sessions[e.SessionID], e)
	return nil
}

// List implements [store.Store].
func (s *Store) List(_ context.Context, sessionID string) ([]store.Entry, error) {
	s.mu.RLock()
	out := slices.Clone(s.sessions[sessionID])
	s.mu.RUnlock()

	if out == nil {
		return []store.Entry{}, nil
	}
	slices.SortStableFunc(out, func(a, b store.Entry) int { return a.Seq - b.Seq })
	return out, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store].
func (s *Store) Close() error { return nil }
