package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

func newWaitingMatch(t *testing.T, s MatchStore, id, requester string) *models.Match {
	t.Helper()
	m := &models.Match{
		ID:          id,
		RequesterID: requester,
		Pickup:      models.Coord{Lat: 10.762, Lon: 106.660},
		Destination: models.Coord{Lat: 10.776, Lon: 106.700},
		Fare:        35,
		Status:      models.MatchWaiting,
		CreatedAt:   time.Now(),
	}
	if err := s.Create(m); err != nil {
		t.Fatalf("create: %v", err)
	}
	return m
}

func TestAccept_ExactlyOneWinner(t *testing.T) {
	s := NewMemoryMatchStore()
	newWaitingMatch(t, s, "m1", "rider-1")

	const drivers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	losers := 0
	var winnerID string

	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			driverID := fmt.Sprintf("driver-%d", n)
			_, err := s.Accept("m1", driverID, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
				winnerID = driverID
			case errors.Is(err, models.ErrMatchAlreadyTaken):
				losers++
			default:
				t.Errorf("unexpected error for %s: %v", driverID, err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("want exactly 1 winner, got %d", winners)
	}
	if losers != drivers-1 {
		t.Fatalf("want %d losers, got %d", drivers-1, losers)
	}

	m, err := s.Get("m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Status != models.MatchAccepted {
		t.Fatalf("status = %v, want ACCEPTED", m.Status)
	}
	if m.DriverID != winnerID {
		t.Fatalf("assigned driver %s, but %s won the race", m.DriverID, winnerID)
	}
	if m.AcceptedAt == nil {
		t.Fatal("AcceptedAt not set")
	}
}

func TestAccept_DriverExclusivity(t *testing.T) {
	s := NewMemoryMatchStore()
	newWaitingMatch(t, s, "m1", "rider-1")
	newWaitingMatch(t, s, "m2", "rider-2")

	if _, err := s.Accept("m1", "d1", time.Now()); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := s.Accept("m2", "d1", time.Now())
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("busy driver accept: got %v, want validation error", err)
	}

	// completing the first trip frees the driver
	if _, err := s.Start("m1", "d1", time.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Complete("m1", "d1", time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.Accept("m2", "d1", time.Now()); err != nil {
		t.Fatalf("accept after completion: %v", err)
	}
}

func TestAccept_ConcurrentDriverOnTwoMatches(t *testing.T) {
	s := NewMemoryMatchStore()
	newWaitingMatch(t, s, "m1", "rider-1")
	newWaitingMatch(t, s, "m2", "rider-2")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{"m1", "m2"} {
		wg.Add(1)
		go func(i int, matchID string) {
			defer wg.Done()
			_, results[i] = s.Accept(matchID, "d1", time.Now())
		}(i, id)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else if !errors.Is(err, models.ErrValidation) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("driver won %d matches, want 1", ok)
	}
}

func TestAccept_CancelledMatchIsInvalidTransition(t *testing.T) {
	s := NewMemoryMatchStore()
	newWaitingMatch(t, s, "m1", "rider-1")
	if _, err := s.Cancel("m1", time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err := s.Accept("m1", "d1", time.Now())
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("accept on cancelled: got %v, want invalid transition", err)
	}
	if errors.Is(err, models.ErrMatchAlreadyTaken) {
		t.Fatal("cancelled match must not be reported as taken")
	}
}

func TestCancel_RaceWithAccept(t *testing.T) {
	// whichever of cancel/accept wins, the loser must see a typed
	// conflict and the final state must be consistent
	for round := 0; round < 50; round++ {
		s := NewMemoryMatchStore()
		newWaitingMatch(t, s, "m1", "rider-1")

		var wg sync.WaitGroup
		var acceptErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = s.Accept("m1", "d1", time.Now())
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = s.Cancel("m1", time.Now())
		}()
		wg.Wait()

		m, err := s.Get("m1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		switch {
		case acceptErr == nil && cancelErr == nil:
			// accept then cancel is a legal sequence (cancel of ACCEPTED)
			if m.Status != models.MatchCancelled {
				t.Fatalf("both succeeded but status = %v", m.Status)
			}
		case acceptErr == nil:
			if m.Status != models.MatchAccepted {
				t.Fatalf("accept won but status = %v", m.Status)
			}
			if !errors.Is(cancelErr, models.ErrInvalidTransition) && cancelErr != nil {
				t.Fatalf("cancel loser error: %v", cancelErr)
			}
		case cancelErr == nil:
			if m.Status != models.MatchCancelled {
				t.Fatalf("cancel won but status = %v", m.Status)
			}
			if !errors.Is(acceptErr, models.ErrInvalidTransition) {
				t.Fatalf("accept loser error: %v", acceptErr)
			}
		default:
			t.Fatalf("both failed: accept=%v cancel=%v", acceptErr, cancelErr)
		}
	}
}

func TestCreate_RequesterAlreadyActive(t *testing.T) {
	s := NewMemoryMatchStore()
	newWaitingMatch(t, s, "m1", "rider-1")

	err := s.Create(&models.Match{ID: "m2", RequesterID: "rider-1", Status: models.MatchWaiting})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("second active match: got %v, want validation error", err)
	}

	// terminal match frees the slot
	if _, err := s.Cancel("m1", time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.Create(&models.Match{ID: "m3", RequesterID: "rider-1", Status: models.MatchWaiting}); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestTransitions_FullLifecycle(t *testing.T) {
	s := NewMemoryMatchStore()
	newWaitingMatch(t, s, "m1", "rider-1")

	if _, err := s.Start("m1", "d1", time.Now()); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("start from WAITING: got %v", err)
	}
	if _, err := s.Complete("m1", "d1", time.Now()); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("complete from WAITING: got %v", err)
	}

	if _, err := s.Accept("m1", "d1", time.Now()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := s.Start("m1", "d2", time.Now()); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("start by wrong driver: got %v", err)
	}
	if _, err := s.Start("m1", "d1", time.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Cancel("m1", time.Now()); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("cancel of IN_PROGRESS: got %v", err)
	}
	m, err := s.Complete("m1", "d1", time.Now())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if m.Status != models.MatchCompleted || m.CompletedAt == nil {
		t.Fatalf("completed match malformed: %+v", m)
	}

	if _, err := s.Cancel("m1", time.Now()); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("cancel of COMPLETED: got %v", err)
	}
	got, _ := s.Get("m1")
	if got.Status != models.MatchCompleted {
		t.Fatalf("terminal status mutated to %v", got.Status)
	}
}

func TestCancel_RecordsCancelledAt(t *testing.T) {
	s := NewMemoryMatchStore()
	newWaitingMatch(t, s, "m1", "rider-1")

	at := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	m, err := s.Cancel("m1", at)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if m.CancelledAt == nil || !m.CancelledAt.Equal(at) {
		t.Fatalf("cancelled_at = %v, want %v", m.CancelledAt, at)
	}
	if m.CompletedAt != nil {
		t.Fatalf("cancel must not set completed_at, got %v", m.CompletedAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := NewMemoryMatchStore()
	if _, err := s.Get("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}
