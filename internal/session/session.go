package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phihocnguyen/ridemate-server/internal/models"
	"github.com/phihocnguyen/ridemate-server/internal/storage"
)

// Manager owns the communication session bound 1:1 to each match. The
// dispatcher creates one the instant a match enters WAITING and ends it
// when the match reaches a terminal state.
type Manager struct {
	Store  storage.SessionStore
	Logger *slog.Logger
	Now    func() time.Time
}

func NewManager(store storage.SessionStore, logger *slog.Logger) *Manager {
	return &Manager{Store: store, Logger: logger, Now: time.Now}
}

func (m *Manager) Create(matchID string) (*models.Session, error) {
	s := &models.Session{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		StartedAt: m.Now(),
		Active:    true,
	}
	if err := m.Store.Save(s); err != nil {
		return nil, err
	}
	m.Logger.Info("session created", "session_id", s.ID, "match_id", matchID)
	return s, nil
}

func (m *Manager) GetByMatch(matchID string) (*models.Session, error) {
	return m.Store.GetByMatch(matchID)
}

// End is idempotent: ending an already-ended session returns it as-is.
func (m *Manager) End(matchID string) (*models.Session, error) {
	s, err := m.Store.End(matchID, m.Now())
	if err != nil {
		return nil, err
	}
	m.Logger.Info("session ended", "session_id", s.ID, "match_id", matchID)
	return s, nil
}
