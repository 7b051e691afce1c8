package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cardsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneiroi_cards_generated_total",
			Help: "Total number of card generations by artifact kind and failure reason.",
		},
		[]string{"kind", "reason"}, // kind: real|fallback; reason: none|policy|timeout|...
	)
	pollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oneiroi_generation_poll_attempts",
		Help:    "Number of status polls issued per generation job.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 30},
	})
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oneiroi_generation_stage_duration_seconds",
		Help:    "Duration of each generation stage.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"}) // submit, poll, materialize, fallback
	proxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oneiroi_proxy_requests_total",
		Help: "Total number of proxy fetch requests by result.",
	}, []string{"result"}) // ok, rejected, upstream_error, error
)

// ObserveOutcome records the artifact kind produced by one invocation
func ObserveOutcome(kind, reason string) {
	cardsGenerated.WithLabelValues(kind, reason).Inc()
}

// ObservePollAttempts records how many status calls a job needed
func ObservePollAttempts(n int) {
	pollAttempts.Observe(float64(n))
}

// ObserveStage records the duration of a pipeline stage started at start
func ObserveStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ObserveProxy records a proxy route result
func ObserveProxy(result string) {
	proxyRequests.WithLabelValues(result).Inc()
}
