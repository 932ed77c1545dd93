package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairstats_events_applied_total",
		Help: "Pair events applied per kind",
	}, []string{"kind"})

	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairstats_events_duplicate_total",
		Help: "Events dropped by the dedupe gate",
	})

	RevertsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairstats_reverts_detected_total",
		Help: "Transactions found missing from the confirmed set",
	})

	USDLookupDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairstats_usd_lookup_degraded_total",
		Help: "USD price lookups that fell back to zero",
	})

	RollupRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairstats_rollup_refreshes_total",
		Help: "Scheduled full rollup recomputes",
	})

	ApplyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pairstats_apply_duration_seconds",
		Help:    "End-to-end latency of one event apply",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
