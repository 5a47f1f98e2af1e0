// Package metrics registers the gateway's Prometheus collectors
// (SPEC_FULL.md §C), grounded on the corpus's internal/app/metrics
// registry-plus-instrumented-handler pattern.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aegix", Subsystem: "http",
		Name: "inflight_requests",
		Help: "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegix", Subsystem: "http",
		Name: "requests_total",
		Help: "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aegix", Subsystem: "http",
		Name:    "request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	// BudgetReservations counts budgetledger.ValidateAndReserve outcomes
	// (SPEC_FULL.md §C).
	BudgetReservations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegix", Subsystem: "budget",
		Name: "reservations_total",
		Help: "Total BudgetLedger reservation attempts by result.",
	}, []string{"result"})

	// PaymentSessions counts PaymentEngine outcomes by method and terminal
	// status (SPEC_FULL.md §C).
	PaymentSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegix", Subsystem: "payment",
		Name: "sessions_total",
		Help: "Total payment sessions by method and status.",
	}, []string{"method", "status"})

	// IndexerPollDuration records how long M2_WaitIndex's compressed-balance
	// poll loop ran before observing the expected balance or giving up
	// (SPEC_FULL.md §C, §4.6.3).
	IndexerPollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aegix", Subsystem: "payment",
		Name:    "indexer_poll_duration_seconds",
		Help:    "Duration of the compressed-balance indexer poll loop.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})

	// CleanupSweepDuration records one CleanupScheduler tick's wall time
	// (SPEC_FULL.md §C, §4.9).
	CleanupSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aegix", Subsystem: "cleanup",
		Name:    "sweep_duration_seconds",
		Help:    "Duration of one CleanupScheduler sweep.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	// VaultUnlocks counts KeyVault.WithPoolSecret attempts by result
	// (SPEC_FULL.md §C); UnlockPool does not increment it.
	VaultUnlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegix", Subsystem: "vault",
		Name: "unlock_total",
		Help: "Total KeyVault unlock attempts by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		BudgetReservations,
		PaymentSessions,
		IndexerPollDuration,
		CleanupSweepDuration,
		VaultUnlocks,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with in-flight/request-count/duration
// collection, skipping the /metrics route itself.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, r.URL.Path, statusLabel(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
