package fare

import (
	"math"

	"github.com/phihocnguyen/ridemate-server/internal/geo"
	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// Calculator prices a trip in coins from its distance. Rounding is
// always upward so the platform never under-charges.
//
//	coin = ceil(BaseCoin + km * CoinPerKm)
//
// A non-positive or unavailable distance falls back to BaseCoin: that
// is the minimum charge policy, not an error.
type Calculator struct {
	BaseCoin  int
	CoinPerKm int
}

const (
	DefaultBaseCoin  = 10
	DefaultCoinPerKm = 5
)

func NewCalculator() *Calculator {
	return &Calculator{BaseCoin: DefaultBaseCoin, CoinPerKm: DefaultCoinPerKm}
}

func (c *Calculator) Fare(distanceKm float64) int {
	if math.IsNaN(distanceKm) || distanceKm <= 0 {
		return c.BaseCoin
	}
	raw := float64(c.BaseCoin) + distanceKm*float64(c.CoinPerKm)
	return int(math.Ceil(raw))
}

// FareBetween composes the great-circle distance with the coin formula.
func (c *Calculator) FareBetween(pickup, destination models.Coord) int {
	return c.Fare(geo.DistanceKm(pickup, destination))
}
