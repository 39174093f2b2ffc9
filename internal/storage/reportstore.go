package storage

import (
	"fmt"
	"sync"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// ReportStore persists abuse reports. Resolve serializes per report so
// two admins racing on the same report see exactly one resolution.
type ReportStore interface {
	Create(r *models.Report) error
	Get(id string) (*models.Report, error)
	ListByReporter(reporterID string) ([]models.Report, error)
	// Update runs mutate under the report's lock; the mutation is
	// applied only if mutate returns nil.
	Update(id string, mutate func(*models.Report) error) (*models.Report, error)
}

type reportEntry struct {
	mu sync.Mutex
	r  models.Report
}

type MemoryReportStore struct {
	mu      sync.RWMutex
	reports map[string]*reportEntry
}

func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{reports: make(map[string]*reportEntry)}
}

func (s *MemoryReportStore) Create(r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = &reportEntry{r: *r}
	return nil
}

func (s *MemoryReportStore) Get(id string) (*models.Report, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.r
	return &cp, nil
}

func (s *MemoryReportStore) ListByReporter(reporterID string) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Report
	for _, e := range s.reports {
		e.mu.Lock()
		if e.r.ReporterID == reporterID {
			out = append(out, e.r)
		}
		e.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryReportStore) Update(id string, mutate func(*models.Report) error) (*models.Report, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	draft := e.r
	if err := mutate(&draft); err != nil {
		return nil, err
	}
	e.r = draft
	cp := e.r
	return &cp, nil
}

func (s *MemoryReportStore) entry(id string) (*reportEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, id)
	}
	return e, nil
}
