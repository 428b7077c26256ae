// Package memory is the map-backed session store used when no database is
// configured and in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"sdabot/internal/domain"
	"sdabot/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.SessionState
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]domain.SessionState)}
}

func (s *Store) SaveSession(_ context.Context, account string, state domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[account] = state
	return nil
}

func (s *Store) LoadSession(_ context.Context, account string) (domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[account]
	if !ok {
		return domain.SessionState{}, store.ErrNotFound
	}
	return state, nil
}

func (s *Store) DeleteSession(_ context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, account)
	return nil
}

func (s *Store) LastUpdate(_ context.Context, account string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[account]
	if !ok {
		return time.Time{}, store.ErrNotFound
	}
	return state.UpdatedAt, nil
}
