package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/phihocnguyen/ridemate-server/internal/observability"
	"github.com/phihocnguyen/ridemate-server/internal/storage"
)

// Sweeper periodically deletes expired temporary verification records.
// The sweep is advisory and idempotent: a failed tick is logged and the
// next tick proceeds with no carried-over state.
type Sweeper struct {
	Store    storage.VerificationStore
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewSweeper(store storage.VerificationStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{Store: store, Interval: interval, Logger: logger, Now: time.Now}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

func (s *Sweeper) SweepOnce() {
	observability.CleanupRunsTotal.Inc()
	n, err := s.Store.DeleteExpired(s.Now())
	if err != nil {
		observability.CleanupErrorsTotal.Inc()
		s.Logger.Error("verification cleanup failed", "error", err)
		return
	}
	if n > 0 {
		s.Logger.Info("expired verifications removed", "count", n)
	}
}
