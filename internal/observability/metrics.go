package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PageFetchLatency records page fetch latency by collection.
	PageFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedsync_page_fetch_latency_seconds",
		Help:    "Latency of paginated collection fetches in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"collection"})

	// PageFetchTotal counts page fetches by collection and outcome.
	PageFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_page_fetch_total",
		Help: "Total number of page fetches by outcome",
	}, []string{"collection", "outcome"})

	// PageCacheTotal counts page cache lookups by result.
	PageCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_page_cache_total",
		Help: "Total page cache lookups by result",
	}, []string{"result"})

	// MutationTotal counts follow-state mutations by operation and outcome.
	MutationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_mutation_total",
		Help: "Total follow/unfollow mutations by outcome",
	}, []string{"op", "outcome"})

	// StaleDiscards counts responses dropped because their generation was superseded.
	StaleDiscards = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_stale_discards_total",
		Help: "Total responses discarded for a superseded generation",
	}, []string{"component"})

	// PatchFanout records how many copies a single profile patch touched.
	PatchFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedsync_patch_fanout",
		Help:    "Number of entity copies updated by one profile patch",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})
)

// TrackPageFetch returns a function that records fetch latency and outcome when called.
func TrackPageFetch(collection string) func(err error) {
	start := time.Now()
	return func(err error) {
		PageFetchLatency.WithLabelValues(collection).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		PageFetchTotal.WithLabelValues(collection, outcome).Inc()
	}
}

// RecordMutation increments the mutation counter.
func RecordMutation(op, outcome string) {
	MutationTotal.WithLabelValues(op, outcome).Inc()
}

// RecordStaleDiscard increments the stale discard counter for the component.
func RecordStaleDiscard(component string) {
	StaleDiscards.WithLabelValues(component).Inc()
}
