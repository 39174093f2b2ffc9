package storage

import (
	"sync"
	"time"
)

// VerificationStore tracks temporary verification records (OTP codes,
// pending phone checks) that expire and get swept by the cleanup job.
type VerificationStore interface {
	Put(id string, expiresAt time.Time)
	DeleteExpired(now time.Time) (int, error)
	Count() int
}

type MemoryVerificationStore struct {
	mu      sync.Mutex
	records map[string]time.Time
}

func NewMemoryVerificationStore() *MemoryVerificationStore {
	return &MemoryVerificationStore{records: make(map[string]time.Time)}
}

func (s *MemoryVerificationStore) Put(id string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = expiresAt
}

func (s *MemoryVerificationStore) DeleteExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, exp := range s.records {
		if !exp.After(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryVerificationStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
