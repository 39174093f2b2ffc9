package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// PushNotifier posts notification payloads to a provider HTTP endpoint
// (FCM proxy or similar). Failures are swallowed: delivery is best
// effort and the dispatcher never blocks on it.
type PushNotifier struct {
	Endpoint string
	Client   *http.Client
}

func NewPushNotifier(endpoint string) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushNotifier) NotifyDrivers(matchID string, offers []models.DriverCandidate) {
	p.post(map[string]interface{}{"type": "ride_offer", "match_id": matchID, "offers": offers})
}

func (p *PushNotifier) NotifyMatchAccepted(matchID, driverID string) {
	p.post(map[string]interface{}{"type": "match_accepted", "match_id": matchID, "driver_id": driverID})
}

func (p *PushNotifier) NotifyMatchCancelled(matchID, cancelledBy string) {
	p.post(map[string]interface{}{"type": "match_cancelled", "match_id": matchID, "actor": cancelledBy})
}

func (p *PushNotifier) post(payload map[string]interface{}) {
	b, _ := json.Marshal(payload)
	resp, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
