package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// SessionStore holds the 1:1 match sessions.
type SessionStore interface {
	Save(s *models.Session) error
	GetByMatch(matchID string) (*models.Session, error)
	// End marks the session inactive; ending an already-ended session
	// is a no-op so terminal transitions stay idempotent.
	End(matchID string, at time.Time) (*models.Session, error)
}

type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session // keyed by match id
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*models.Session)}
}

func (m *MemorySessionStore) Save(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.MatchID] = &cp
	return nil
}

func (m *MemorySessionStore) GetByMatch(matchID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: session for match %s", models.ErrNotFound, matchID)
	}
	cp := *s
	return &cp, nil
}

func (m *MemorySessionStore) End(matchID string, at time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: session for match %s", models.ErrNotFound, matchID)
	}
	if s.Active {
		s.Active = false
		t := at
		s.EndedAt = &t
	}
	cp := *s
	return &cp, nil
}
