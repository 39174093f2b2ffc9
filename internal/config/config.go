package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are loaded from environment variables with sane defaults so
// the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// scoring weights; proximity must stay dominant
	WeightDistance   float64
	WeightRating     float64
	WeightAcceptance float64
	WeightETA        float64
	WeightCompletion float64

	AvgSpeedKmh   float64
	MaxCandidates int

	FareBaseCoin  int
	FareCoinPerKm int

	CleanupInterval time.Duration

	PushEndpoint string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "drivers_geo",
		KafkaTopic:       "driver-locations",
		WeightDistance:   0.40,
		WeightRating:     0.25,
		WeightAcceptance: 0.20,
		WeightETA:        0.10,
		WeightCompletion: 0.05,
		AvgSpeedKmh:      30,
		MaxCandidates:    5,
		FareBaseCoin:     10,
		FareCoinPerKm:    5,
		CleanupInterval:  10 * time.Minute,
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.WeightDistance, "SCORE_WEIGHT_DISTANCE", &errs)
	setFloatFromEnv(&cfg.WeightRating, "SCORE_WEIGHT_RATING", &errs)
	setFloatFromEnv(&cfg.WeightAcceptance, "SCORE_WEIGHT_ACCEPTANCE", &errs)
	setFloatFromEnv(&cfg.WeightETA, "SCORE_WEIGHT_ETA", &errs)
	setFloatFromEnv(&cfg.WeightCompletion, "SCORE_WEIGHT_COMPLETION", &errs)
	setFloatFromEnv(&cfg.AvgSpeedKmh, "SCORER_AVG_SPEED_KMH", &errs)
	setIntFromEnv(&cfg.MaxCandidates, "SCORER_MAX_CANDIDATES", &errs)

	setIntFromEnv(&cfg.FareBaseCoin, "FARE_BASE_COIN", &errs)
	setIntFromEnv(&cfg.FareCoinPerKm, "FARE_COIN_PER_KM", &errs)

	setDurationFromEnv(&cfg.CleanupInterval, "CLEANUP_INTERVAL", &errs)

	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MaxCandidates <= 0 {
		errs = append(errs, fmt.Errorf("SCORER_MAX_CANDIDATES must be > 0"))
	}
	if cfg.AvgSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("SCORER_AVG_SPEED_KMH must be > 0"))
	}
	for _, w := range []float64{cfg.WeightRating, cfg.WeightAcceptance, cfg.WeightETA, cfg.WeightCompletion} {
		if w > cfg.WeightDistance {
			errs = append(errs, fmt.Errorf("SCORE_WEIGHT_DISTANCE must be the dominant weight"))
			break
		}
	}
	if cfg.WeightDistance <= 0 {
		errs = append(errs, fmt.Errorf("SCORE_WEIGHT_DISTANCE must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
