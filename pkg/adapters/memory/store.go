package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/alexhamidi/anyheart/pkg/domain"
)

// Store keeps sessions in a map. Sessions are copied on the way in and out
// so callers never share round slices with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*domain.Session)}
}

func (s *Store) Save(_ context.Context, session *domain.Session) error {
	snap := session.Snapshot()
	s.mu.Lock()
	s.sessions[snap.ID] = snap
	s.mu.Unlock()
	return nil
}

func (s *Store) Load(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.Snapshot(), nil
}

func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// List returns the stored session ids in order.
func (s *Store) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.sessions)), nil
}
