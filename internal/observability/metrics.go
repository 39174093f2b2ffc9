package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesCreatedTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "matches_created_total", Help: "Matches created"})
	OffersBroadcastTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "offers_broadcast_total", Help: "Offer rounds broadcast to drivers"})
	MatchesAcceptedTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "matches_accepted_total", Help: "Matches accepted by a driver"})
	AcceptConflictsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "accept_conflicts_total", Help: "Accept attempts that lost the race"})
	TripsCompletedTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "trips_completed_total", Help: "Trips completed"})
	MatchesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "matches_cancelled_total", Help: "Matches cancelled"})
	DriversOnline         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ridemate", Name: "drivers_online", Help: "Drivers currently online"})

	LedgerDeductsTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "ledger_deducts_total", Help: "Successful coin deductions"})
	LedgerCreditsTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "ledger_credits_total", Help: "Successful coin credits"})
	LedgerInsufficientTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "ledger_insufficient_total", Help: "Deductions refused for insufficient balance"})

	SanctionsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridemate", Name: "sanctions_applied_total", Help: "Sanctions applied by action"},
		[]string{"action"},
	)

	CleanupRunsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "cleanup_runs_total", Help: "Verification cleanup sweeps"})
	CleanupErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridemate", Name: "cleanup_errors_total", Help: "Verification cleanup failures"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridemate", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ridemate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveHTTPRequest records one served request in the counter and
// latency histogram.
func ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	HTTPRequestsTotal.With(labels).Inc()
	HTTPRequestDuration.With(labels).Observe(d.Seconds())
}
