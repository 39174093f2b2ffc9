package sanction

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phihocnguyen/ridemate-server/internal/models"
	"github.com/phihocnguyen/ridemate-server/internal/observability"
	"github.com/phihocnguyen/ridemate-server/internal/storage"
)

const (
	warningsBeforeLock = 3
	autoLockDuration   = 7 * 24 * time.Hour
	lock7Days          = 7 * 24 * time.Hour
	lock30Days         = 30 * 24 * time.Hour
)

// lockForever is the sentinel for permanent locks.
var lockForever = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Engine evaluates report resolutions and escalates account locks. It
// only sets sanction state; the auth layer is responsible for refusing
// access while lockedUntil is in the future. Warning counters and locks
// live in the SanctionStore; each user's read-modify-write is serialized
// by a per-user mutex so resolutions against different users never
// contend.
type Engine struct {
	Reports storage.ReportStore
	States  storage.SanctionStore
	Logger  *slog.Logger
	Now     func() time.Time

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func NewEngine(reports storage.ReportStore, states storage.SanctionStore, logger *slog.Logger) *Engine {
	return &Engine{
		Reports: reports,
		States:  states,
		Logger:  logger,
		Now:     time.Now,
		users:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) CreateReport(reporterID, reportedUserID, matchID, title, description string, category models.ReportCategory) (*models.Report, error) {
	if title == "" || description == "" {
		return nil, fmt.Errorf("%w: title and description are required", models.ErrValidation)
	}
	r := &models.Report{
		ID:             uuid.NewString(),
		ReporterID:     reporterID,
		ReportedUserID: reportedUserID,
		MatchID:        matchID,
		Title:          title,
		Description:    description,
		Category:       category,
		Status:         models.ReportPending,
		CreatedAt:      e.Now(),
	}
	if err := e.Reports.Create(r); err != nil {
		return nil, err
	}
	e.Logger.Info("report created", "report_id", r.ID, "reporter_id", reporterID, "category", category)
	return r, nil
}

func (e *Engine) GetReport(id string) (*models.Report, error) {
	return e.Reports.Get(id)
}

// ReportsBy lists the reports a user has filed.
func (e *Engine) ReportsBy(reporterID string) ([]models.Report, error) {
	return e.Reports.ListByReporter(reporterID)
}

// Process moves a PENDING report into PROCESSING while an admin works it.
func (e *Engine) Process(reportID, notes string) (*models.Report, error) {
	return e.Reports.Update(reportID, func(r *models.Report) error {
		if r.Status != models.ReportPending {
			return models.NewInvalidTransition(r.Status, "process")
		}
		r.Status = models.ReportProcessing
		if notes != "" {
			r.Notes = notes
		}
		return nil
	})
}

// Resolve applies a sanction action and closes the report. The warning
// escalation happens inside the same resolution: the third unresolved
// warning converts to a 7-day lock and resets the counter.
func (e *Engine) Resolve(reportID string, action models.SanctionAction, notes, resolver string) (*models.Report, error) {
	switch action {
	case models.ActionWarning, models.ActionLock7Days, models.ActionLock30Days, models.ActionLockPermanent:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", models.ErrValidation, action)
	}

	report, err := e.Reports.Update(reportID, func(r *models.Report) error {
		if r.Status.Terminal() {
			return models.NewInvalidTransition(r.Status, "resolve")
		}
		now := e.Now()
		r.Status = models.ReportResolved
		r.Action = action
		r.Notes = notes
		r.ResolvedBy = resolver
		r.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if report.ReportedUserID != "" {
		e.apply(report.ReportedUserID, action)
	}
	observability.SanctionsAppliedTotal.WithLabelValues(string(action)).Inc()
	return report, nil
}

// Reject dismisses a report without sanctioning anyone.
func (e *Engine) Reject(reportID, reason, resolver string) (*models.Report, error) {
	return e.Reports.Update(reportID, func(r *models.Report) error {
		if r.Status.Terminal() {
			return models.NewInvalidTransition(r.Status, "reject")
		}
		now := e.Now()
		r.Status = models.ReportRejected
		r.Notes = reason
		r.ResolvedBy = resolver
		r.ResolvedAt = &now
		return nil
	})
}

func (e *Engine) apply(userID string, action models.SanctionAction) {
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()

	u, err := e.States.Get(userID)
	if err != nil {
		e.Logger.Error("sanction state load failed", "user_id", userID, "error", err)
		return
	}

	now := e.Now()
	switch action {
	case models.ActionWarning:
		u.Warnings++
		e.Logger.Info("warning issued", "user_id", userID, "warnings", u.Warnings)
		if u.Warnings >= warningsBeforeLock {
			until := now.Add(autoLockDuration)
			u.LockedUntil = &until
			u.Warnings = 0
			e.Logger.Warn("warning threshold reached, account locked",
				"user_id", userID, "locked_until", until)
		}
	case models.ActionLock7Days:
		until := now.Add(lock7Days)
		u.LockedUntil = &until
	case models.ActionLock30Days:
		until := now.Add(lock30Days)
		u.LockedUntil = &until
	case models.ActionLockPermanent:
		forever := lockForever
		u.LockedUntil = &forever
	}
	if u.LockedUntil != nil && action != models.ActionWarning {
		e.Logger.Warn("account locked", "user_id", userID, "action", action, "locked_until", *u.LockedUntil)
	}
	if err := e.States.Put(u); err != nil {
		e.Logger.Error("sanction state save failed", "user_id", userID, "error", err)
	}
}

// IsLocked reports whether the user is currently locked. An expired
// lock is cleared on the way out, matching the auth layer's auto-unlock.
func (e *Engine) IsLocked(userID string) bool {
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()

	u, err := e.States.Get(userID)
	if err != nil {
		e.Logger.Error("sanction state load failed", "user_id", userID, "error", err)
		return false
	}
	if u.LockedUntil == nil {
		return false
	}
	if e.Now().Before(*u.LockedUntil) {
		return true
	}
	u.LockedUntil = nil
	if err := e.States.Put(u); err != nil {
		e.Logger.Error("sanction state save failed", "user_id", userID, "error", err)
	}
	return false
}

// Warnings returns the user's current unresolved warning count.
func (e *Engine) Warnings(userID string) int {
	u, err := e.States.Get(userID)
	if err != nil {
		e.Logger.Error("sanction state load failed", "user_id", userID, "error", err)
		return 0
	}
	return u.Warnings
}

// LockedUntil returns the lock expiry, if any.
func (e *Engine) LockedUntil(userID string) (time.Time, bool) {
	u, err := e.States.Get(userID)
	if err != nil || u.LockedUntil == nil {
		return time.Time{}, false
	}
	return *u.LockedUntil, true
}

func (e *Engine) userMu(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.users[userID] = mu
	}
	return mu
}
