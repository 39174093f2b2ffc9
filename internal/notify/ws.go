package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// WSSession is one connected client. Writes are serialized per
// connection; gorilla/websocket allows only one concurrent writer.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

type offerMessage struct {
	Type    string                  `json:"type"`
	MatchID string                  `json:"match_id"`
	Offer   *models.DriverCandidate `json:"offer,omitempty"`
}

type statusMessage struct {
	Type     string `json:"type"`
	MatchID  string `json:"match_id"`
	DriverID string `json:"driver_id,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// WSNotifier pushes offers over each target driver's websocket. Drivers
// without a live socket are skipped; the push fallback covers them.
type WSNotifier struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSNotifier(logger *slog.Logger) *WSNotifier {
	return &WSNotifier{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSNotifier) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = &WSSession{conn: conn}
}

func (r *WSNotifier) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

func (r *WSNotifier) NotifyDrivers(matchID string, offers []models.DriverCandidate) {
	for i := range offers {
		offer := offers[i]
		s := r.session(offer.DriverID)
		if s == nil {
			continue
		}
		if err := s.send(offerMessage{Type: "ride_offer", MatchID: matchID, Offer: &offer}); err != nil {
			r.logger.Warn("ws offer send failed", "driver_id", offer.DriverID, "error", err)
		}
	}
}

func (r *WSNotifier) NotifyMatchAccepted(matchID, driverID string) {
	r.broadcast(statusMessage{Type: "match_accepted", MatchID: matchID, DriverID: driverID})
}

func (r *WSNotifier) NotifyMatchCancelled(matchID, cancelledBy string) {
	r.broadcast(statusMessage{Type: "match_cancelled", MatchID: matchID, Actor: cancelledBy})
}

func (r *WSNotifier) broadcast(msg statusMessage) {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	for _, s := range targets {
		if err := s.send(msg); err != nil {
			r.logger.Warn("ws broadcast send failed", "type", msg.Type, "error", err)
		}
	}
}

func (r *WSNotifier) session(userID string) *WSSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}
