package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// Directory is the driver lookup surface the dispatcher needs: online
// drivers eligible for a vehicle type, plus the metric upkeep hooks the
// trip lifecycle fires as drivers accept and complete rides.
type Directory interface {
	Upsert(d models.Driver)
	OnlineEligible(vehicleType string) []models.Driver
	RecordAccept(driverID string)
	RecordCompletion(driverID string)
	SetStatus(driverID string, status models.DriverStatus)
}

// Index is the in-memory Directory. Production deployments point the
// dispatcher at RedisIndex instead; this one backs tests and local runs.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(d models.Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	if d.Status == "" {
		d.Status = models.DriverOnline
	}
	g.drivers[d.ID] = d
}

// OnlineEligible returns a snapshot of ONLINE drivers for the vehicle
// type, sorted by id so callers see a stable order. An empty vehicle
// type matches everything.
func (g *Index) OnlineEligible(vehicleType string) []models.Driver {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Driver, 0, len(g.drivers))
	for _, d := range g.drivers {
		if d.Status != models.DriverOnline {
			continue
		}
		if vehicleType != "" && d.VehicleType != vehicleType {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Index) RecordAccept(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return
	}
	d.RidesAccepted++
	d.Status = models.DriverBusy
	g.drivers[driverID] = d
}

func (g *Index) RecordCompletion(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return
	}
	d.RidesCompleted++
	if d.RidesAccepted > 0 {
		d.CompletionRate = float64(d.RidesCompleted) / float64(d.RidesAccepted) * 100
	}
	d.Status = models.DriverOnline
	g.drivers[driverID] = d
}

func (g *Index) SetStatus(driverID string, status models.DriverStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return
	}
	d.Status = status
	g.drivers[driverID] = d
}

func (g *Index) Get(driverID string) (models.Driver, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[driverID]
	return d, ok
}

// DistanceKm is the great-circle distance between two coordinates.
// NaN inputs propagate as NaN; callers validate upstream.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Haversine distance in kilometers, Earth radius 6371 km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
