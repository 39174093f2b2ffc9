package storage

import (
	"sync"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// SanctionStore persists per-user warning counters and locks. Get on an
// unknown user returns the zero state, not an error; the engine treats
// every user as starting clean.
type SanctionStore interface {
	Get(userID string) (models.UserSanction, error)
	Put(s models.UserSanction) error
}

type MemorySanctionStore struct {
	mu    sync.RWMutex
	users map[string]models.UserSanction
}

func NewMemorySanctionStore() *MemorySanctionStore {
	return &MemorySanctionStore{users: make(map[string]models.UserSanction)}
}

func (m *MemorySanctionStore) Get(userID string) (models.UserSanction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.users[userID]
	if !ok {
		return models.UserSanction{UserID: userID}, nil
	}
	return s, nil
}

func (m *MemorySanctionStore) Put(s models.UserSanction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[s.UserID] = s
	return nil
}
