// Package metrics exports ORM query timings and request counts to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modelkit"

// Collector records query and request metrics on its own registry, so
// several collectors can live in one process (tests, multiple servers).
type Collector struct {
	registry *prometheus.Registry

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	requests      *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orm",
			Name:      "queries_total",
			Help:      "Queries executed, by operation, table and result.",
		}, []string{"operation", "table", "result"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orm",
			Name:      "query_duration_seconds",
			Help:      "Query latency by operation and table.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "table"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "Responses written by the request handler, by status code.",
		}, []string{"code"}),
	}
	c.registry.MustRegister(c.queries, c.queryDuration, c.requests)
	return c
}

// RecordOperation satisfies orm.MetricsCollector.
func (c *Collector) RecordOperation(operation, table string, duration time.Duration, hasError bool) {
	result := "ok"
	if hasError {
		result = "error"
	}
	c.queries.WithLabelValues(operation, table, result).Inc()
	c.queryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordResponse counts one response with the given status.
func (c *Collector) RecordResponse(status int) {
	c.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Registry exposes the underlying registry for additional collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware counts responses written by next.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.RecordResponse(rec.status)
	})
}
