package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the router's operational counters. A nil *Metrics is
// accepted everywhere so tests and metrics-disabled runs skip registration.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	rateLimitsTotal *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	selectionsTotal *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "RPC calls attempted, by provider.",
		}, []string{"provider"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_failures_total",
			Help: "RPC calls failed, by provider and error kind.",
		}, []string{"provider", "kind"}),
		rateLimitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_rate_limits_total",
			Help: "Rate-limit responses observed, by provider.",
		}, []string{"provider"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpc_request_duration_seconds",
			Help:    "Latency of successful RPC calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		selectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_selections_total",
			Help: "Provider selections, by strategy and provider.",
		}, []string{"strategy", "provider"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_cache_hits_total",
			Help: "Cache hits, by cache.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_cache_misses_total",
			Help: "Cache misses, by cache.",
		}, []string{"cache"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpc_queue_depth",
			Help: "Requests waiting in the queue.",
		}),
	}
	reg.MustRegister(
		m.requestsTotal, m.failuresTotal, m.rateLimitsTotal, m.requestLatency,
		m.selectionsTotal, m.cacheHits, m.cacheMisses, m.queueDepth,
	)
	return m
}

// ObserveRequest records one call attempt outcome.
func (m *Metrics) ObserveRequest(provider string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(provider).Inc()
	if err != nil {
		kind := KindOf(err)
		m.failuresTotal.WithLabelValues(provider, string(kind)).Inc()
		if kind == KindRateLimited {
			m.rateLimitsTotal.WithLabelValues(provider).Inc()
		}
		return
	}
	m.requestLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// ObserveSelection records a selector decision.
func (m *Metrics) ObserveSelection(strategy, provider string) {
	if m == nil {
		return
	}
	m.selectionsTotal.WithLabelValues(strategy, provider).Inc()
}

// ObserveCache records a cache lookup outcome.
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.WithLabelValues(cache).Inc()
	} else {
		m.cacheMisses.WithLabelValues(cache).Inc()
	}
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
