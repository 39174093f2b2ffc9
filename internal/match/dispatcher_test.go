package match

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/phihocnguyen/ridemate-server/internal/fare"
	"github.com/phihocnguyen/ridemate-server/internal/models"
	"github.com/phihocnguyen/ridemate-server/internal/scoring"
	"github.com/phihocnguyen/ridemate-server/internal/session"
	"github.com/phihocnguyen/ridemate-server/internal/storage"
)

// fakeDirectory serves a fixed driver list and records metric calls.
type fakeDirectory struct {
	mu          sync.Mutex
	drivers     []models.Driver
	accepts     []string
	completions []string
	statuses    map[string]models.DriverStatus
}

func (f *fakeDirectory) Upsert(d models.Driver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drivers = append(f.drivers, d)
}

func (f *fakeDirectory) OnlineEligible(vehicleType string) []models.Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Driver, 0, len(f.drivers))
	for _, d := range f.drivers {
		if vehicleType == "" || d.VehicleType == vehicleType {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeDirectory) RecordAccept(driverID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepts = append(f.accepts, driverID)
}

func (f *fakeDirectory) RecordCompletion(driverID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, driverID)
}

func (f *fakeDirectory) SetStatus(driverID string, status models.DriverStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[string]models.DriverStatus)
	}
	f.statuses[driverID] = status
}

type fakeNotifier struct {
	mu        sync.Mutex
	offers    int
	accepted  []string
	cancelled []string
}

func (f *fakeNotifier) NotifyDrivers(matchID string, offers []models.DriverCandidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
}

func (f *fakeNotifier) NotifyMatchAccepted(matchID, driverID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, matchID)
}

func (f *fakeNotifier) NotifyMatchCancelled(matchID, cancelledBy string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, matchID)
}

type fakeSettler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSettler) Settle(riderID, driverID string, fare int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s->%s:%d", riderID, driverID, fare))
	return f.err
}

type fakeLocks struct{ locked map[string]bool }

func (f *fakeLocks) IsLocked(userID string) bool { return f.locked[userID] }

func onlineDriver(id string, lat, lon float64) models.Driver {
	return models.Driver{
		ID: id, Loc: models.Coord{Lat: lat, Lon: lon},
		VehicleType: "CAR", Rating: 4.0, AcceptanceRate: 80, CompletionRate: 90,
		RidesAccepted: 10, RidesCompleted: 9, Status: models.DriverOnline,
	}
}

func newTestDispatcher() (*Dispatcher, *fakeDirectory, *fakeNotifier, *fakeSettler) {
	dir := &fakeDirectory{}
	notifier := &fakeNotifier{}
	settler := &fakeSettler{}
	d := &Dispatcher{
		Store:    storage.NewMemoryMatchStore(),
		Sessions: session.NewManager(storage.NewMemorySessionStore(), slog.Default()),
		Scorer: &scoring.Scorer{
			Weights:       scoring.DefaultWeights(),
			AvgSpeedKmh:   scoring.DefaultAvgSpeedKmh,
			MaxCandidates: scoring.DefaultMaxCandidates,
		},
		Fares:     &fare.Calculator{BaseCoin: fare.DefaultBaseCoin, CoinPerKm: fare.DefaultCoinPerKm},
		Directory: dir,
		Notifier:  notifier,
		Settler:   settler,
		Locks:     &fakeLocks{locked: map[string]bool{}},
		Logger:    slog.Default(),
		Now:       time.Now,
	}
	return d, dir, notifier, settler
}

func bookingReq(requester string) CreateRequest {
	return CreateRequest{
		RequesterID: requester,
		Pickup:      models.Coord{Lat: 10.762, Lon: 106.660},
		Destination: models.Coord{Lat: 10.776, Lon: 106.700},
		VehicleType: "CAR",
	}
}

func TestCreate_PricesAndOpensSession(t *testing.T) {
	d, _, _, _ := newTestDispatcher()

	m, err := d.Create(bookingReq("rider-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Status != models.MatchWaiting {
		t.Fatalf("status = %v, want WAITING", m.Status)
	}
	want := d.Fares.FareBetween(m.Pickup, m.Destination)
	if m.Fare != want {
		t.Fatalf("fare = %d, want %d", m.Fare, want)
	}
	sess, err := d.Sessions.GetByMatch(m.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !sess.Active {
		t.Fatal("session must open active")
	}
}

func TestCreate_Validation(t *testing.T) {
	d, _, _, _ := newTestDispatcher()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing requester", CreateRequest{Pickup: models.Coord{Lat: 1, Lon: 1}, Destination: models.Coord{Lat: 2, Lon: 2}}},
		{"nan pickup", func() CreateRequest {
			r := bookingReq("rider-1")
			r.Pickup.Lat = math.NaN()
			return r
		}()},
		{"latitude out of range", func() CreateRequest {
			r := bookingReq("rider-1")
			r.Destination.Lat = 91
			return r
		}()},
	}
	for _, tc := range cases {
		if _, err := d.Create(tc.req); !errors.Is(err, models.ErrValidation) {
			t.Errorf("%s: got %v, want validation error", tc.name, err)
		}
	}
}

func TestCreate_LockedRequesterRefused(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	d.Locks = &fakeLocks{locked: map[string]bool{"rider-1": true}}

	if _, err := d.Create(bookingReq("rider-1")); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("got %v, want unauthorized", err)
	}
}

func TestBroadcast_RanksAndNotifies(t *testing.T) {
	d, dir, notifier, _ := newTestDispatcher()
	near := onlineDriver("near", 10.763, 106.661)
	far := onlineDriver("far", 10.900, 106.900)
	dir.Upsert(far)
	dir.Upsert(near)
	dir.Upsert(models.Driver{ID: "bike", Loc: near.Loc, VehicleType: "BIKE", Status: models.DriverOnline})

	m, err := d.Create(bookingReq("rider-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	offers, err := d.Broadcast(m.ID)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("offers = %d, want 2 (vehicle type filtered)", len(offers))
	}
	if offers[0].DriverID != "near" {
		t.Fatalf("top offer = %s, want near", offers[0].DriverID)
	}
	if notifier.offers != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.offers)
	}

	// broadcast is repeatable while WAITING
	if _, err := d.Broadcast(m.ID); err != nil {
		t.Fatalf("second broadcast: %v", err)
	}
}

func TestBroadcast_NonWaitingRefused(t *testing.T) {
	d, dir, _, _ := newTestDispatcher()
	dir.Upsert(onlineDriver("d1", 10.763, 106.661))
	m, _ := d.Create(bookingReq("rider-1"))
	if _, err := d.Accept(m.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := d.Broadcast(m.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("broadcast of accepted match: got %v", err)
	}
}

func TestAccept_RecordsMetricsAndNotifies(t *testing.T) {
	d, dir, notifier, _ := newTestDispatcher()
	m, _ := d.Create(bookingReq("rider-1"))

	got, err := d.Accept(m.ID, "d1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.DriverID != "d1" || got.Status != models.MatchAccepted {
		t.Fatalf("accepted match malformed: %+v", got)
	}
	if len(dir.accepts) != 1 || dir.accepts[0] != "d1" {
		t.Fatalf("accept not recorded: %v", dir.accepts)
	}
	if len(notifier.accepted) != 1 {
		t.Fatalf("acceptance not notified: %v", notifier.accepted)
	}
}

func TestAccept_LockedDriverRefused(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	d.Locks = &fakeLocks{locked: map[string]bool{"d1": true}}
	m, _ := d.Create(bookingReq("rider-1"))

	if _, err := d.Accept(m.ID, "d1"); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("got %v, want unauthorized", err)
	}
}

func TestComplete_SettlesFareAndClosesSession(t *testing.T) {
	d, dir, _, settler := newTestDispatcher()
	m, _ := d.Create(bookingReq("rider-1"))
	if _, err := d.Accept(m.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := d.Start(m.ID, "d1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	got, err := d.Complete(m.ID, "d1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != models.MatchCompleted {
		t.Fatalf("status = %v", got.Status)
	}
	want := fmt.Sprintf("rider-1->d1:%d", m.Fare)
	if len(settler.calls) != 1 || settler.calls[0] != want {
		t.Fatalf("settlement calls = %v, want [%s]", settler.calls, want)
	}
	if len(dir.completions) != 1 {
		t.Fatalf("completion not recorded: %v", dir.completions)
	}
	sess, err := d.Sessions.GetByMatch(m.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.Active || sess.EndedAt == nil {
		t.Fatalf("session not closed: %+v", sess)
	}
}

func TestComplete_SettlementFailureKeepsTripCompleted(t *testing.T) {
	d, _, _, settler := newTestDispatcher()
	settler.err = fmt.Errorf("%w: have 0, need 35", models.ErrInsufficientBalance)

	m, _ := d.Create(bookingReq("rider-1"))
	_, _ = d.Accept(m.ID, "d1")
	_, _ = d.Start(m.ID, "d1")

	got, err := d.Complete(m.ID, "d1")
	if !errors.Is(err, models.ErrInsufficientBalance) {
		t.Fatalf("got %v, want insufficient balance", err)
	}
	if got == nil || got.Status != models.MatchCompleted {
		t.Fatalf("trip must stay completed, got %+v", got)
	}
	stored, _ := d.Store.Get(m.ID)
	if stored.Status != models.MatchCompleted {
		t.Fatalf("stored status = %v", stored.Status)
	}
}

func TestCancel_ParticipantsOnly(t *testing.T) {
	d, _, notifier, _ := newTestDispatcher()
	m, _ := d.Create(bookingReq("rider-1"))

	if _, err := d.Cancel(m.ID, "stranger"); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("stranger cancel: got %v", err)
	}

	got, err := d.Cancel(m.ID, "rider-1")
	if err != nil {
		t.Fatalf("rider cancel: %v", err)
	}
	if got.Status != models.MatchCancelled {
		t.Fatalf("status = %v", got.Status)
	}
	if len(notifier.cancelled) != 1 {
		t.Fatalf("cancellation not notified: %v", notifier.cancelled)
	}
}

func TestCancel_AssignedDriverFreedAndBackOnline(t *testing.T) {
	d, dir, _, _ := newTestDispatcher()
	m, _ := d.Create(bookingReq("rider-1"))
	if _, err := d.Accept(m.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := d.Cancel(m.ID, "d1"); err != nil {
		t.Fatalf("driver cancel: %v", err)
	}
	if dir.statuses["d1"] != models.DriverOnline {
		t.Fatalf("driver status = %v, want ONLINE", dir.statuses["d1"])
	}

	// the rider can book again and the driver can accept again
	m2, err := d.Create(bookingReq("rider-1"))
	if err != nil {
		t.Fatalf("rebook: %v", err)
	}
	if _, err := d.Accept(m2.ID, "d1"); err != nil {
		t.Fatalf("re-accept: %v", err)
	}
}

func TestAccept_RaceThroughDispatcher(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	m, _ := d.Create(bookingReq("rider-1"))

	const drivers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := d.Accept(m.ID, fmt.Sprintf("driver-%d", n))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if !errors.Is(err, models.ErrMatchAlreadyTaken) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
}
