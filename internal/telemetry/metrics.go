// Package telemetry provides observability for the chatgate runtime.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts handled inbound messages by terminal outcome
	// (done, quota_exceeded, transport_error, storage_error, rate_limited).
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_requests_total",
			Help: "Total inbound messages handled, by outcome",
		},
		[]string{"outcome"},
	)

	// TokensTotal counts tokens charged to the ledger, split by turn kind.
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_tokens_total",
			Help: "Total tokens charged to the daily ledger",
		},
		[]string{"kind"},
	)

	// CacheEventsTotal counts hits and misses per cache.
	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_cache_events_total",
			Help: "Cache lookups by cache name and result",
		},
		[]string{"cache", "event"},
	)

	// RemoteCallSeconds tracks outbound completion call duration.
	RemoteCallSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatgate_remote_call_seconds",
			Help:    "Duration of outbound completion calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

// AdminHandler returns the mux for the admin listener: Prometheus metrics
// and a liveness probe.
func AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
