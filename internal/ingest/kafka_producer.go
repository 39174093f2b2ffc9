package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

const defaultWriteTimeout = 2 * time.Second

// locationUpdate is the wire shape for a driver ping. Field names match
// models.Driver so the geo-index consumer can decode messages directly;
// the dispatch metrics (rating, acceptance, completion) ride along so
// the consumer can refresh the candidate metadata hash in one write.
type locationUpdate struct {
	DriverID       string              `json:"id"`
	Loc            models.Coord        `json:"loc"`
	VehicleType    string              `json:"vehicle_type"`
	Rating         float64             `json:"rating"`
	AcceptanceRate float64             `json:"acceptance_rate"`
	CompletionRate float64             `json:"completion_rate"`
	RidesAccepted  int                 `json:"rides_accepted"`
	RidesCompleted int                 `json:"rides_completed"`
	Status         models.DriverStatus `json:"status"`
	Updated        time.Time           `json:"updated"`
}

// encodeLocation validates a ping and renders the wire payload. Drivers
// without an ID cannot be keyed into the geo index; an empty status
// means the driver just came online.
func encodeLocation(d models.Driver, now time.Time) ([]byte, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("%w: driver id is required", models.ErrValidation)
	}
	u := locationUpdate{
		DriverID:       d.ID,
		Loc:            d.Loc,
		VehicleType:    d.VehicleType,
		Rating:         d.Rating,
		AcceptanceRate: d.AcceptanceRate,
		CompletionRate: d.CompletionRate,
		RidesAccepted:  d.RidesAccepted,
		RidesCompleted: d.RidesCompleted,
		Status:         d.Status,
		Updated:        d.Updated,
	}
	if u.Status == "" {
		u.Status = models.DriverOnline
	}
	if u.Updated.IsZero() {
		u.Updated = now
	}
	return json.Marshal(u)
}

// KafkaProducer publishes driver location updates for the consumer
// that maintains the Redis geo index. Messages are keyed by driver ID
// so every driver's pings land on one partition in order.
type KafkaProducer struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w, timeout: defaultWriteTimeout}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, d models.Driver) error {
	b, err := encodeLocation(d, time.Now().UTC())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(d.ID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
