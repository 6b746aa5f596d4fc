package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for Traceloom. It satisfies the
// search executor's MetricsSink interface.
type Metrics struct {
	searchesTotal  *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	cacheHitsTotal *prometheus.CounterVec

	dbQueriesTotal  *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		searchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traceloom_searches_total",
				Help: "Total number of trace search calls",
			},
			[]string{"result"},
		),
		searchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "traceloom_search_duration_seconds",
				Help:    "Trace search latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"cached"},
		),
		cacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traceloom_search_cache_total",
				Help: "Search result cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		dbQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traceloom_db_queries_total",
				Help: "Total number of database queries by operation",
			},
			[]string{"operation"},
		),
		dbQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "traceloom_db_query_duration_seconds",
				Help:    "Database query latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traceloom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "traceloom_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordSearch records one search call's duration and cache outcome.
func (m *Metrics) RecordSearch(duration time.Duration, cached bool, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.searchesTotal.WithLabelValues(result).Inc()

	cachedLabel := "false"
	outcome := "miss"
	if cached {
		cachedLabel = "true"
		outcome = "hit"
	}
	m.searchDuration.WithLabelValues(cachedLabel).Observe(duration.Seconds())
	if err == nil {
		m.cacheHitsTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordDBQuery records one database query's duration. It satisfies the
// database layer's MetricsSink interface.
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration) {
	m.dbQueriesTotal.WithLabelValues(operation).Inc()
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns a Fiber handler that serves the Prometheus metrics endpoint.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Middleware returns a Fiber middleware that records request counts and
// latency. Labels use the matched route pattern, not the raw path, so
// parameterized routes stay at fixed cardinality.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		m.RecordHTTPRequest(
			c.Method(),
			c.Route().Path,
			statusClass(c.Response().StatusCode()),
			time.Since(start),
		)
		return err
	}
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
