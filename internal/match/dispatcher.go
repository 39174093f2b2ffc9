package match

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/phihocnguyen/ridemate-server/internal/fare"
	"github.com/phihocnguyen/ridemate-server/internal/geo"
	"github.com/phihocnguyen/ridemate-server/internal/models"
	"github.com/phihocnguyen/ridemate-server/internal/notify"
	"github.com/phihocnguyen/ridemate-server/internal/observability"
	"github.com/phihocnguyen/ridemate-server/internal/scoring"
	"github.com/phihocnguyen/ridemate-server/internal/session"
	"github.com/phihocnguyen/ridemate-server/internal/storage"
)

// Settler is the fare settlement hook invoked when a trip completes.
type Settler interface {
	Settle(riderID, driverID string, fare int) error
}

// LockChecker answers whether a user is currently sanctioned. The
// sanction engine implements it.
type LockChecker interface {
	IsLocked(userID string) bool
}

// Dispatcher orchestrates the request -> offer -> accept race and owns
// the match state machine. All status mutations flow through the
// store's atomic transitions; the dispatcher sequences side effects
// (sessions, notifications, driver metrics, settlement) around them.
type Dispatcher struct {
	Store     storage.MatchStore
	Sessions  *session.Manager
	Scorer    *scoring.Scorer
	Fares     *fare.Calculator
	Directory geo.Directory
	Notifier  notify.Notifier
	Settler   Settler
	Locks     LockChecker
	Logger    *slog.Logger
	Now       func() time.Time
}

// CreateRequest is the rider's booking input.
type CreateRequest struct {
	RequesterID        string       `json:"requester_id"`
	Pickup             models.Coord `json:"pickup"`
	Destination        models.Coord `json:"destination"`
	PickupAddress      string       `json:"pickup_address"`
	DestinationAddress string       `json:"destination_address"`
	VehicleType        string       `json:"vehicle_type"`
}

// Create validates the request, prices the trip, stores the match in
// WAITING and opens its session. It is the only producer of match ids.
func (d *Dispatcher) Create(req CreateRequest) (*models.Match, error) {
	if req.RequesterID == "" {
		return nil, fmt.Errorf("%w: requester id is required", models.ErrValidation)
	}
	if err := validateCoord(req.Pickup, "pickup"); err != nil {
		return nil, err
	}
	if err := validateCoord(req.Destination, "destination"); err != nil {
		return nil, err
	}
	if d.Locks != nil && d.Locks.IsLocked(req.RequesterID) {
		return nil, fmt.Errorf("%w: account is locked", models.ErrUnauthorized)
	}

	m := &models.Match{
		ID:                 uuid.NewString(),
		RequesterID:        req.RequesterID,
		Pickup:             req.Pickup,
		Destination:        req.Destination,
		PickupAddress:      req.PickupAddress,
		DestinationAddress: req.DestinationAddress,
		VehicleType:        req.VehicleType,
		Fare:               d.Fares.FareBetween(req.Pickup, req.Destination),
		Status:             models.MatchWaiting,
		CreatedAt:          d.Now(),
	}
	if err := d.Store.Create(m); err != nil {
		return nil, err
	}
	if _, err := d.Sessions.Create(m.ID); err != nil {
		// match exists without a session only if session storage is
		// down; surface it, the caller can retry via Broadcast
		return nil, err
	}
	observability.MatchesCreatedTotal.Inc()
	d.Logger.Info("match created", "match_id", m.ID, "requester_id", m.RequesterID, "fare", m.Fare)
	return m, nil
}

func (d *Dispatcher) Get(matchID string) (*models.Match, error) {
	return d.Store.Get(matchID)
}

// Broadcast ranks the currently-online eligible drivers and sends them
// the offer. It never mutates the match and may be called repeatedly
// while the match is WAITING.
func (d *Dispatcher) Broadcast(matchID string) ([]models.DriverCandidate, error) {
	m, err := d.Store.Get(matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MatchWaiting {
		return nil, models.NewInvalidTransition(m.Status, "broadcast")
	}
	drivers := d.Directory.OnlineEligible(m.VehicleType)
	offers := d.Scorer.Rank(m.Pickup, drivers)
	if len(offers) == 0 {
		d.Logger.Warn("no drivers available", "match_id", matchID, "vehicle_type", m.VehicleType)
		return offers, nil
	}
	d.Notifier.NotifyDrivers(matchID, offers)
	observability.OffersBroadcastTotal.Inc()
	d.Logger.Info("offers broadcast", "match_id", matchID, "candidates", len(offers),
		"top_driver", offers[0].DriverID, "top_score", offers[0].MatchScore)
	return offers, nil
}

// Accept resolves the acceptance race. The store's compare-and-set
// guarantees exactly one winner; everyone else gets MatchAlreadyTaken.
func (d *Dispatcher) Accept(matchID, driverID string) (*models.Match, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", models.ErrValidation)
	}
	if d.Locks != nil && d.Locks.IsLocked(driverID) {
		return nil, fmt.Errorf("%w: account is locked", models.ErrUnauthorized)
	}
	m, err := d.Store.Accept(matchID, driverID, d.Now())
	if err != nil {
		if errors.Is(err, models.ErrMatchAlreadyTaken) {
			observability.AcceptConflictsTotal.Inc()
		}
		return nil, err
	}
	d.Directory.RecordAccept(driverID)
	d.Notifier.NotifyMatchAccepted(matchID, driverID)
	observability.MatchesAcceptedTotal.Inc()
	d.Logger.Info("match accepted", "match_id", matchID, "driver_id", driverID)
	return m, nil
}

// Start moves ACCEPTED -> IN_PROGRESS; only the assigned driver may do it.
func (d *Dispatcher) Start(matchID, driverID string) (*models.Match, error) {
	m, err := d.Store.Start(matchID, driverID, d.Now())
	if err != nil {
		return nil, err
	}
	d.Logger.Info("trip started", "match_id", matchID, "driver_id", driverID)
	return m, nil
}

// Complete finishes the trip, closes the session, updates driver
// metrics and settles the fare. Settlement failure does not reopen the
// trip: the match stays COMPLETED and the error is surfaced so the
// outer layer can flag the unpaid fare.
func (d *Dispatcher) Complete(matchID, driverID string) (*models.Match, error) {
	m, err := d.Store.Complete(matchID, driverID, d.Now())
	if err != nil {
		return nil, err
	}
	if _, err := d.Sessions.End(matchID); err != nil {
		d.Logger.Error("session close failed", "match_id", matchID, "error", err)
	}
	d.Directory.RecordCompletion(driverID)
	observability.TripsCompletedTotal.Inc()
	d.Logger.Info("trip completed", "match_id", matchID, "driver_id", driverID, "fare", m.Fare)

	if err := d.Settler.Settle(m.RequesterID, driverID, m.Fare); err != nil {
		d.Logger.Error("fare settlement failed", "match_id", matchID,
			"rider_id", m.RequesterID, "fare", m.Fare, "error", err)
		return m, err
	}
	return m, nil
}

// Cancel aborts a WAITING or ACCEPTED match. Only a participant may
// cancel; cancelling a terminal match is an InvalidTransition, not a
// silent no-op.
func (d *Dispatcher) Cancel(matchID, actorID string) (*models.Match, error) {
	current, err := d.Store.Get(matchID)
	if err != nil {
		return nil, err
	}
	if actorID != current.RequesterID && (current.DriverID == "" || actorID != current.DriverID) {
		return nil, fmt.Errorf("%w: %s is not a participant of match %s", models.ErrUnauthorized, actorID, matchID)
	}

	m, err := d.Store.Cancel(matchID, d.Now())
	if err != nil {
		return nil, err
	}
	if _, err := d.Sessions.End(matchID); err != nil {
		d.Logger.Error("session close failed", "match_id", matchID, "error", err)
	}
	if m.DriverID != "" {
		d.Directory.SetStatus(m.DriverID, models.DriverOnline)
	}
	d.Notifier.NotifyMatchCancelled(matchID, actorID)
	observability.MatchesCancelledTotal.Inc()
	d.Logger.Info("match cancelled", "match_id", matchID, "actor_id", actorID)
	return m, nil
}

func validateCoord(c models.Coord, field string) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return fmt.Errorf("%w: %s coordinates are NaN", models.ErrValidation, field)
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: %s coordinates out of range", models.ErrValidation, field)
	}
	return nil
}
