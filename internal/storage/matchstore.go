package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// MatchStore persists matches and owns every status transition. Each
// transition is atomic at the granularity of the single match (plus the
// per-driver exclusivity index); unrelated matches never contend.
type MatchStore interface {
	// Create stores a new WAITING match. It fails with ErrValidation if
	// the requester already has a non-terminal match.
	Create(m *models.Match) error
	Get(id string) (*models.Match, error)
	// Accept is the WAITING -> ACCEPTED compare-and-set. Exactly one
	// concurrent caller wins; losers get ErrMatchAlreadyTaken. A driver
	// already bound to another active match is refused with ErrValidation.
	Accept(id, driverID string, at time.Time) (*models.Match, error)
	Start(id, driverID string, at time.Time) (*models.Match, error)
	Complete(id, driverID string, at time.Time) (*models.Match, error)
	Cancel(id string, at time.Time) (*models.Match, error)
}

type matchEntry struct {
	mu sync.Mutex
	m  models.Match
}

// MemoryMatchStore keeps matches in process memory with one mutex per
// match. The index mutex guards only the requester/driver uniqueness
// maps and is never held across a transition.
type MemoryMatchStore struct {
	mu      sync.RWMutex
	matches map[string]*matchEntry

	idxMu             sync.Mutex
	activeByRequester map[string]string // requester id -> match id
	activeByDriver    map[string]string // driver id -> match id
}

func NewMemoryMatchStore() *MemoryMatchStore {
	return &MemoryMatchStore{
		matches:           make(map[string]*matchEntry),
		activeByRequester: make(map[string]string),
		activeByDriver:    make(map[string]string),
	}
}

func (s *MemoryMatchStore) Create(m *models.Match) error {
	s.idxMu.Lock()
	if existing, ok := s.activeByRequester[m.RequesterID]; ok {
		s.idxMu.Unlock()
		return fmt.Errorf("%w: requester already has active match %s", models.ErrValidation, existing)
	}
	s.activeByRequester[m.RequesterID] = m.ID
	s.idxMu.Unlock()

	s.mu.Lock()
	s.matches[m.ID] = &matchEntry{m: *m}
	s.mu.Unlock()
	return nil
}

func (s *MemoryMatchStore) Get(id string) (*models.Match, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.m
	return &cp, nil
}

func (s *MemoryMatchStore) Accept(id, driverID string, at time.Time) (*models.Match, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.m.Status {
	case models.MatchWaiting:
		// fall through to the assignment
	case models.MatchCancelled:
		return nil, models.NewInvalidTransition(e.m.Status, "accept")
	default:
		// another driver got there first
		return nil, models.ErrMatchAlreadyTaken
	}

	// driver exclusivity: reserve the driver inside the same critical
	// section that flips the match status
	s.idxMu.Lock()
	if other, busy := s.activeByDriver[driverID]; busy {
		s.idxMu.Unlock()
		return nil, fmt.Errorf("%w: driver %s already assigned to match %s", models.ErrValidation, driverID, other)
	}
	s.activeByDriver[driverID] = id
	s.idxMu.Unlock()

	e.m.DriverID = driverID
	e.m.Status = models.MatchAccepted
	t := at
	e.m.AcceptedAt = &t
	cp := e.m
	return &cp, nil
}

func (s *MemoryMatchStore) Start(id, driverID string, at time.Time) (*models.Match, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.m.Status != models.MatchAccepted {
		return nil, models.NewInvalidTransition(e.m.Status, "start")
	}
	if e.m.DriverID != driverID {
		return nil, models.ErrUnauthorized
	}
	e.m.Status = models.MatchInProgress
	t := at
	e.m.StartedAt = &t
	cp := e.m
	return &cp, nil
}

func (s *MemoryMatchStore) Complete(id, driverID string, at time.Time) (*models.Match, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.m.Status != models.MatchInProgress {
		return nil, models.NewInvalidTransition(e.m.Status, "complete")
	}
	if e.m.DriverID != driverID {
		return nil, models.ErrUnauthorized
	}
	e.m.Status = models.MatchCompleted
	t := at
	e.m.CompletedAt = &t
	s.release(&e.m)
	cp := e.m
	return &cp, nil
}

func (s *MemoryMatchStore) Cancel(id string, at time.Time) (*models.Match, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.m.Status != models.MatchWaiting && e.m.Status != models.MatchAccepted {
		return nil, models.NewInvalidTransition(e.m.Status, "cancel")
	}
	e.m.Status = models.MatchCancelled
	t := at
	e.m.CancelledAt = &t
	s.release(&e.m)
	cp := e.m
	return &cp, nil
}

// release frees the requester slot and, if assigned, the driver slot.
// Caller holds the match entry lock.
func (s *MemoryMatchStore) release(m *models.Match) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if s.activeByRequester[m.RequesterID] == m.ID {
		delete(s.activeByRequester, m.RequesterID)
	}
	if m.DriverID != "" && s.activeByDriver[m.DriverID] == m.ID {
		delete(s.activeByDriver, m.DriverID)
	}
}

func (s *MemoryMatchStore) entry(id string) (*matchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", models.ErrNotFound, id)
	}
	return e, nil
}
