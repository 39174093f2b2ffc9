package scoring

import (
	"math"
	"sort"

	"github.com/phihocnguyen/ridemate-server/internal/geo"
	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// Weights for the multi-factor candidate score. Proximity must carry
// the dominant weight; the rest shade the ordering between drivers at
// comparable distance.
type Weights struct {
	Distance   float64
	Rating     float64
	Acceptance float64
	ETA        float64
	Completion float64
}

func DefaultWeights() Weights {
	return Weights{Distance: 0.40, Rating: 0.25, Acceptance: 0.20, ETA: 0.10, Completion: 0.05}
}

// Scorer ranks driver candidates for a pickup. Rank is a pure function
// of its input: same drivers, same pickup, same order out.
type Scorer struct {
	Weights       Weights
	AvgSpeedKmh   float64
	MaxCandidates int
}

const (
	DefaultAvgSpeedKmh   = 30.0
	DefaultMaxCandidates = 5

	// Cold-start drivers get neutral metrics rather than the floor so
	// new drivers are not starved of offers.
	neutralRating = 2.5
	neutralRate   = 50.0
)

func New(w Weights, avgSpeedKmh float64, maxCandidates int) *Scorer {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultAvgSpeedKmh
	}
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Scorer{Weights: w, AvgSpeedKmh: avgSpeedKmh, MaxCandidates: maxCandidates}
}

// Rank computes distance, ETA and score for every driver and returns
// the top candidates ordered by descending score. Ties break by rating,
// then completion rate, then driver id. An empty driver list yields an
// empty ranked list.
func (s *Scorer) Rank(pickup models.Coord, drivers []models.Driver) []models.DriverCandidate {
	cands := make([]models.DriverCandidate, 0, len(drivers))
	for _, d := range drivers {
		dist := geo.DistanceKm(d.Loc, pickup)
		if math.IsNaN(dist) {
			continue
		}
		c := models.DriverCandidate{
			DriverID:         d.ID,
			Loc:              d.Loc,
			DistanceToPickup: dist,
			Rating:           d.Rating,
			AcceptanceRate:   d.AcceptanceRate,
			CompletionRate:   d.CompletionRate,
			RidesCompleted:   d.RidesCompleted,
			ETAMinutes:       s.etaMinutes(dist),
		}
		if d.RidesCompleted == 0 {
			if c.Rating == 0 {
				c.Rating = neutralRating
			}
			if c.AcceptanceRate == 0 {
				c.AcceptanceRate = neutralRate
			}
			if c.CompletionRate == 0 {
				c.CompletionRate = neutralRate
			}
		}
		c.MatchScore = s.score(c)
		cands = append(cands, c)
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.CompletionRate != b.CompletionRate {
			return a.CompletionRate > b.CompletionRate
		}
		return a.DriverID < b.DriverID
	})

	if len(cands) > s.MaxCandidates {
		cands = cands[:s.MaxCandidates]
	}
	return cands
}

// etaMinutes floors at one minute; riders never see "arriving in 0".
func (s *Scorer) etaMinutes(distanceKm float64) int {
	m := int(math.Ceil(distanceKm / s.AvgSpeedKmh * 60))
	if m < 1 {
		m = 1
	}
	return m
}

func (s *Scorer) score(c models.DriverCandidate) float64 {
	// each factor normalized to 0..1. Proximity and ETA use inverse
	// normalization (1 km -> 1.0, 10 km -> 0.1) so they keep separating
	// drivers across the whole pickup range instead of saturating;
	// rating alone must never outrank a materially closer driver.
	distScore := 1.0 / math.Max(c.DistanceToPickup, 1.0)
	ratingScore := c.Rating / 5.0
	acceptScore := c.AcceptanceRate / 100.0
	etaScore := 1.0 / math.Max(float64(c.ETAMinutes), 1.0)
	completionScore := c.CompletionRate / 100.0

	w := s.Weights
	return w.Distance*distScore +
		w.Rating*ratingScore +
		w.Acceptance*acceptScore +
		w.ETA*etaScore +
		w.Completion*completionScore
}
