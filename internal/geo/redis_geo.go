package geo

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// RedisIndex implements Directory on Redis GEO commands plus a hash of
// driver metadata per entry. The location consumer keeps it current.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(d models.Driver) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}).Result()
	if d.Status == "" {
		d.Status = models.DriverOnline
	}
	_ = r.client.HSet(r.ctx, metaKey(d.ID), driverMeta(d)).Err()
}

// OnlineEligible scans the geo set within a generous radius around the
// set's members and filters by the metadata hash. The dispatcher does
// the real ranking; this only narrows by status and vehicle type.
func (r *RedisIndex) OnlineEligible(vehicleType string) []models.Driver {
	ids, err := r.client.ZRange(r.ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Driver, 0, len(ids))
	for _, id := range ids {
		d, ok := r.load(id)
		if !ok || d.Status != models.DriverOnline {
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

func (r *RedisIndex) RecordAccept(driverID string) {
	_ = r.client.HIncrBy(r.ctx, metaKey(driverID), "rides_accepted", 1).Err()
	_ = r.client.HSet(r.ctx, metaKey(driverID), "status", string(models.DriverBusy)).Err()
}

func (r *RedisIndex) RecordCompletion(driverID string) {
	completed, err := r.client.HIncrBy(r.ctx, metaKey(driverID), "rides_completed", 1).Result()
	if err == nil {
		if accepted, err := r.client.HGet(r.ctx, metaKey(driverID), "rides_accepted").Int64(); err == nil && accepted > 0 {
			rate := float64(completed) / float64(accepted) * 100
			_ = r.client.HSet(r.ctx, metaKey(driverID), "completion_rate", strconv.FormatFloat(rate, 'f', 2, 64)).Err()
		}
	}
	_ = r.client.HSet(r.ctx, metaKey(driverID), "status", string(models.DriverOnline)).Err()
}

func (r *RedisIndex) SetStatus(driverID string, status models.DriverStatus) {
	_ = r.client.HSet(r.ctx, metaKey(driverID), "status", string(status)).Err()
}

func (r *RedisIndex) load(id string) (models.Driver, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, id).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Driver{}, false
	}
	d := models.Driver{ID: id, Loc: models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}}
	m, err := r.client.HGetAll(r.ctx, metaKey(id)).Result()
	if err != nil {
		return models.Driver{}, false
	}
	d.Status = models.DriverStatus(m["status"])
	d.VehicleType = m["vehicle_type"]
	d.Rating = parseFloat(m["rating"])
	d.AcceptanceRate = parseFloat(m["acceptance_rate"])
	d.CompletionRate = parseFloat(m["completion_rate"])
	d.RidesAccepted = parseInt(m["rides_accepted"])
	d.RidesCompleted = parseInt(m["rides_completed"])
	return d, true
}

func driverMeta(d models.Driver) map[string]interface{} {
	return map[string]interface{}{
		"status":          string(d.Status),
		"vehicle_type":    d.VehicleType,
		"rating":          strconv.FormatFloat(d.Rating, 'f', 2, 64),
		"acceptance_rate": strconv.FormatFloat(d.AcceptanceRate, 'f', 2, 64),
		"completion_rate": strconv.FormatFloat(d.CompletionRate, 'f', 2, 64),
		"rides_accepted":  d.RidesAccepted,
		"rides_completed": d.RidesCompleted,
		"updated":         time.Now().Format(time.RFC3339),
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func metaKey(id string) string { return "driver:meta:" + id }
