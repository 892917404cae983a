// Package memory provides the in-memory session store
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/storage"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

// InMemorySessionStore implements storage.SessionStore using an in-memory map
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	now      func() time.Time
}

var _ storage.SessionStore = (*InMemorySessionStore)(nil)

// NewInMemorySessionStore creates a new in-memory session store
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]*types.Session),
		now:      time.Now,
	}
}

// GetSession retrieves session by ID
func (s *InMemorySessionStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if sessionID == "" {
		return nil, storage.ErrSessionIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, nil
	}

	// Return a copy to prevent external modifications
	return session.Clone(), nil
}

// SaveSession stores a copy of the session, replacing any previous version
func (s *InMemorySessionStore) SaveSession(ctx context.Context, session *types.Session) error {
	if err := storage.ValidateSession(session); err != nil {
		return err
	}

	stored := session.Clone()
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastActive.IsZero() {
		stored.LastActive = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = stored
	return nil
}

// DeleteSession removes a session (idempotent - no error if not found)
func (s *InMemorySessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return storage.ErrSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// UpdateSessionActivity updates the LastActive timestamp for a session
func (s *InMemorySessionStore) UpdateSessionActivity(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return storage.ErrSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return storage.ErrSessionNotFound
	}
	session.LastActive = s.now()
	return nil
}

// ListStaleSessions returns the IDs of sessions whose LastActive is before the cutoff
func (s *InMemorySessionStore) ListStaleSessions(ctx context.Context, before time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []string
	for id, session := range s.sessions {
		if session.LastActive.Before(before) {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

// Len returns the number of stored sessions
func (s *InMemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close is a no-op for the in-memory store
func (s *InMemorySessionStore) Close(ctx context.Context) error {
	return nil
}
