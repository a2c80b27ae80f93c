// Package metrics exposes Prometheus collectors for the browser pool, the
// retry engine, and the status API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/browserpool"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/retry"
)

// Metrics owns the collectors registered against one registry.
type Metrics struct {
	registry *prometheus.Registry

	poolResources *prometheus.GaugeVec
	poolWaiting   prometheus.Gauge
	poolUsable    prometheus.Gauge
	poolEvents    *prometheus.CounterVec
	poolCounters  *prometheus.GaugeVec

	retryAttempts *prometheus.CounterVec
	retryWait     *prometheus.HistogramVec

	rateLimitWait *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector with reg. A nil reg uses a fresh registry,
// which Handler then serves.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		poolResources: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_pool_resources",
			Help: "Browser instances by pool state.",
		}, []string{"state"}),
		poolWaiting: f.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_pool_waiting",
			Help: "Callers queued in Acquire.",
		}),
		poolUsable: f.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_pool_initialized_instances",
			Help: "Instances that launched during the last initialization.",
		}),
		poolEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_pool_events_total",
			Help: "Pool state transitions by kind.",
		}, []string{"kind"}),
		poolCounters: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_pool_lifetime",
			Help: "Cumulative pool counters (created, disconnected, errors, requests).",
		}, []string{"counter"}),
		retryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_retry_attempts_total",
			Help: "Failed attempts that were followed by a retry, by operation.",
		}, []string{"op"}),
		retryWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_retry_wait_seconds",
			Help:    "Backoff waits scheduled between attempts.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"op"}),
		rateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_render_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the per-site render budget.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_http_requests_total",
			Help: "Status API requests by method and code.",
		}, []string{"method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_http_request_duration_seconds",
			Help:    "Status API latency by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registerer lets other components add collectors served by Handler.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// ObservePool is a browserpool.Subscriber that mirrors pool state into
// gauges.
func (m *Metrics) ObservePool(evt browserpool.Event) {
	m.poolEvents.WithLabelValues(string(evt.Kind)).Inc()
	switch evt.Kind {
	case browserpool.EventInitialized:
		m.poolUsable.Set(float64(evt.TotalUsable))
	case browserpool.EventAcquired, browserpool.EventReleased:
		m.SetPoolStats(evt.Stats)
	case browserpool.EventClosed:
		m.SetPoolStats(browserpool.Stats{})
	}
}

// SetPoolStats copies a stats snapshot into the pool gauges.
func (m *Metrics) SetPoolStats(s browserpool.Stats) {
	m.poolResources.WithLabelValues("available").Set(float64(s.Available))
	m.poolResources.WithLabelValues("busy").Set(float64(s.Busy))
	m.poolResources.WithLabelValues("quarantined").Set(float64(s.Quarantined))
	m.poolWaiting.Set(float64(s.Waiting))
	m.poolCounters.WithLabelValues("created").Set(float64(s.Created))
	m.poolCounters.WithLabelValues("disconnected").Set(float64(s.Disconnected))
	m.poolCounters.WithLabelValues("errors").Set(float64(s.Errors))
	m.poolCounters.WithLabelValues("requests").Set(float64(s.TotalRequests))
}

// InstrumentRetry chains a metrics hook in front of opts.OnRetry.
func (m *Metrics) InstrumentRetry(op string, opts retry.Options) retry.Options {
	next := opts.OnRetry
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		m.retryAttempts.WithLabelValues(op).Inc()
		m.retryWait.WithLabelValues(op).Observe(wait.Seconds())
		if next != nil {
			next(attempt, err, wait)
		}
	}
	return opts
}

// ObserveRateLimitWait records time spent waiting on a site's render budget.
func (m *Metrics) ObserveRateLimitWait(site string, d time.Duration) {
	m.rateLimitWait.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveHTTPRequest records one status API request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
