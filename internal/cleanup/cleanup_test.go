package cleanup

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/phihocnguyen/ridemate-server/internal/storage"
)

func TestSweepOnce_RemovesOnlyExpired(t *testing.T) {
	store := storage.NewMemoryVerificationStore()
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	store.Put("expired-1", now.Add(-time.Minute))
	store.Put("expired-2", now)
	store.Put("live", now.Add(time.Hour))

	s := NewSweeper(store, time.Minute, slog.Default())
	s.Now = func() time.Time { return now }

	s.SweepOnce()
	if store.Count() != 1 {
		t.Fatalf("records left = %d, want 1", store.Count())
	}

	// a second sweep with nothing expired is a no-op
	s.SweepOnce()
	if store.Count() != 1 {
		t.Fatalf("records left = %d after idle sweep, want 1", store.Count())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := storage.NewMemoryVerificationStore()
	s := NewSweeper(store, time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
