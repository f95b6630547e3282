package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	InFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "client_ops_inflight", Help: "Operations currently executing"})
	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "client_ops_queued", Help: "Operations waiting for an execution slot"})
	QueueCancels    = prometheus.NewCounter(prometheus.CounterOpts{Name: "client_ops_cancelled_total", Help: "Queued operations rejected by ClearQueue"})
	CacheHits       = prometheus.NewCounter(prometheus.CounterOpts{Name: "client_cache_hits_total", Help: "Response cache hits"})
	CacheMisses     = prometheus.NewCounter(prometheus.CounterOpts{Name: "client_cache_misses_total", Help: "Response cache misses"})
	RetryAttempts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "client_retry_attempts_total", Help: "Re-invocations after a transient failure"})
	Rollbacks       = prometheus.NewCounter(prometheus.CounterOpts{Name: "client_rollbacks_total", Help: "Optimistic mutations rolled back"})
	PollTimeouts    = prometheus.NewCounter(prometheus.CounterOpts{Name: "client_poll_timeouts_total", Help: "Async jobs abandoned after the attempt budget"})
)

// Handler exposes /metrics with a singleton registration.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			InFlightGauge,
			QueueDepthGauge,
			QueueCancels,
			CacheHits,
			CacheMisses,
			RetryAttempts,
			Rollbacks,
			PollTimeouts,
		)
	})
	return promhttp.Handler()
}
