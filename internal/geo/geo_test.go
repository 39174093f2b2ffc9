package geo

import (
	"math"
	"testing"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(10.762, 106.66, 10.762, 106.66); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := models.Coord{Lat: 10.762622, Lon: 106.660172}
	b := models.Coord{Lat: 10.776889, Lon: 106.700806}
	if diff := math.Abs(DistanceKm(a, b) - DistanceKm(b, a)); diff > 1e-9 {
		t.Fatalf("asymmetric by %g", diff)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is about 111.19 km
	d := Haversine(0, 0, 1, 0)
	if d < 111 || d > 112 {
		t.Fatalf("expected ~111.19 km, got %f", d)
	}
}

func TestHaversineNaNPropagates(t *testing.T) {
	if d := Haversine(math.NaN(), 0, 1, 1); !math.IsNaN(d) {
		t.Fatalf("expected NaN, got %f", d)
	}
}

func TestIndexOnlineEligible(t *testing.T) {
	g := NewIndex()
	g.Upsert(models.Driver{ID: "d1", VehicleType: "car", Status: models.DriverOnline})
	g.Upsert(models.Driver{ID: "d2", VehicleType: "bike", Status: models.DriverOnline})
	g.Upsert(models.Driver{ID: "d3", VehicleType: "car", Status: models.DriverBusy})
	g.Upsert(models.Driver{ID: "d4", VehicleType: "car", Status: models.DriverOffline})

	got := g.OnlineEligible("car")
	if len(got) != 1 || got[0].ID != "d1" {
		t.Fatalf("expected [d1], got %v", got)
	}
	if all := g.OnlineEligible(""); len(all) != 2 {
		t.Fatalf("expected 2 online drivers, got %d", len(all))
	}
}

func TestIndexLifecycleMetrics(t *testing.T) {
	g := NewIndex()
	g.Upsert(models.Driver{ID: "d1", Status: models.DriverOnline})

	g.RecordAccept("d1")
	d, _ := g.Get("d1")
	if d.Status != models.DriverBusy || d.RidesAccepted != 1 {
		t.Fatalf("after accept: %+v", d)
	}

	g.RecordCompletion("d1")
	d, _ = g.Get("d1")
	if d.Status != models.DriverOnline || d.RidesCompleted != 1 {
		t.Fatalf("after completion: %+v", d)
	}
	if d.CompletionRate != 100 {
		t.Fatalf("expected completion rate 100, got %f", d.CompletionRate)
	}
}
