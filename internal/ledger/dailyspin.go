package ledger

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// SpinResult is what the wheel returns: the reward credited and the day
// it was claimed for.
type SpinResult struct {
	UserID string    `json:"user_id"`
	Reward int       `json:"reward"`
	Date   string    `json:"date"` // YYYY-MM-DD
	SpunAt time.Time `json:"spun_at"`
}

var spinRewards = []int{100, 200, 300, 400, 500}

// DailySpin credits one random reward per user per calendar day.
type DailySpin struct {
	Ledger *Ledger
	Now    func() time.Time
	Rand   *rand.Rand

	mu    sync.Mutex
	spins map[string]SpinResult // user id + date -> result
}

func NewDailySpin(l *Ledger) *DailySpin {
	return &DailySpin{
		Ledger: l,
		Now:    time.Now,
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		spins:  make(map[string]SpinResult),
	}
}

func (d *DailySpin) CanSpin(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, spun := d.spins[d.key(userID)]
	return !spun
}

func (d *DailySpin) Spin(userID string) (*SpinResult, error) {
	d.mu.Lock()
	key := d.key(userID)
	if _, spun := d.spins[key]; spun {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: already spun today", models.ErrValidation)
	}
	reward := spinRewards[d.Rand.Intn(len(spinRewards))]
	result := SpinResult{
		UserID: userID,
		Reward: reward,
		Date:   d.Now().Format("2006-01-02"),
		SpunAt: d.Now(),
	}
	// record before crediting so a concurrent spin cannot double-claim
	d.spins[key] = result
	d.mu.Unlock()

	if _, err := d.Ledger.Credit(userID, reward); err != nil {
		return nil, err
	}
	return &result, nil
}

func (d *DailySpin) key(userID string) string {
	return userID + ":" + d.Now().Format("2006-01-02")
}
