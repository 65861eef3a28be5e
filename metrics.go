package reqorch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors an Orchestrator reports to.
// WithMetrics and WithMetricsRegistry each build one via NewMetrics; no
// option accepts an existing Metrics value.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
	cacheHitsTotal   *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
	queueDepth       prometheus.Gauge
	rateLimitWaitSec prometheus.Histogram
}

// NewMetrics registers a fresh set of collectors against reg (or the
// default registry when reg is nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqorch",
			Name:      "requests_total",
			Help:      "Total requests processed, labeled by outcome.",
		}, []string{"outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reqorch",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration including queue wait and retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqorch",
			Name:      "retries_total",
			Help:      "Total retry attempts, labeled by reason.",
		}, []string{"reason"}),
		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqorch",
			Name:      "cache_results_total",
			Help:      "Cache lookup results, labeled by result (hit, stale, miss).",
		}, []string{"result"}),
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reqorch",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open).",
		}, []string{"name"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqorch",
			Name:      "queue_depth",
			Help:      "Number of requests currently waiting for a concurrency slot.",
		}),
		rateLimitWaitSec: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reqorch",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting on the per-host rate limiter.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) observeRetry(reason string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeCache(result string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) setCircuitState(name string, state CircuitState) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) observeRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWaitSec.Observe(d.Seconds())
}
