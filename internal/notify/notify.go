package notify

import (
	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// Notifier is how the dispatcher reaches drivers and riders. Delivery
// is fire-and-forget; the dispatcher never waits on confirmation.
type Notifier interface {
	NotifyDrivers(matchID string, offers []models.DriverCandidate)
	NotifyMatchAccepted(matchID, driverID string)
	NotifyMatchCancelled(matchID, cancelledBy string)
}

// Nop drops every notification. Used in tests and when no transport is
// configured.
type Nop struct{}

func (Nop) NotifyDrivers(string, []models.DriverCandidate) {}
func (Nop) NotifyMatchAccepted(string, string)             {}
func (Nop) NotifyMatchCancelled(string, string)            {}

// Fanout delivers to every configured notifier in order.
type Fanout []Notifier

func (f Fanout) NotifyDrivers(matchID string, offers []models.DriverCandidate) {
	for _, n := range f {
		n.NotifyDrivers(matchID, offers)
	}
}

func (f Fanout) NotifyMatchAccepted(matchID, driverID string) {
	for _, n := range f {
		n.NotifyMatchAccepted(matchID, driverID)
	}
}

func (f Fanout) NotifyMatchCancelled(matchID, cancelledBy string) {
	for _, n := range f {
		n.NotifyMatchCancelled(matchID, cancelledBy)
	}
}
