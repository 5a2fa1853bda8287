package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Consumer metrics
	MessagesProcessedTotal    *prometheus.CounterVec
	MessageProcessingDuration *prometheus.HistogramVec
	MessagesPublishedTotal    *prometheus.CounterVec
	QueueDepth                *prometheus.GaugeVec

	// Job metrics
	JobsFinishedTotal *prometheus.CounterVec
	JobsCreatedTotal  *prometheus.CounterVec

	// Indexing metrics
	EntitiesIndexedTotal *prometheus.CounterVec
	IndexErrorsTotal     *prometheus.CounterVec
	IndexWriteDuration   *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reindexer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reindexer_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		MessagesProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reindexer_messages_processed_total",
				Help: "Total number of consumed messages by topic and verdict",
			},
			[]string{"topic", "verdict"},
		),
		MessageProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reindexer_message_processing_duration_seconds",
				Help:    "Time spent processing a single message",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"topic"},
		),
		MessagesPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reindexer_messages_published_total",
				Help: "Total number of published messages by topic",
			},
			[]string{"topic"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reindexer_queue_depth",
				Help: "Number of messages per queue list",
			},
			[]string{"list"},
		),

		JobsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reindexer_jobs_finished_total",
				Help: "Total number of jobs reaching a terminal status",
			},
			[]string{"status"},
		),
		JobsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reindexer_jobs_created_total",
				Help: "Total number of created jobs by kind",
			},
			[]string{"kind"},
		),

		EntitiesIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reindexer_entities_indexed_total",
				Help: "Total number of entities written to the search index",
			},
			[]string{"entity_class"},
		),
		IndexErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reindexer_index_errors_total",
				Help: "Total number of failed range indexing attempts",
			},
			[]string{"entity_class", "reason"},
		),
		IndexWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reindexer_index_write_duration_seconds",
				Help:    "Index write duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reindexer_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reindexer_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reindexer_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MessagesProcessedTotal,
		m.MessageProcessingDuration,
		m.MessagesPublishedTotal,
		m.QueueDepth,
		m.JobsFinishedTotal,
		m.JobsCreatedTotal,
		m.EntitiesIndexedTotal,
		m.IndexErrorsTotal,
		m.IndexWriteDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// The Record helpers below are safe to call on a nil *Metrics so that
// components can be constructed without a registry in tests.

// RecordMessage records the verdict and duration of one consumed message
func (m *Metrics) RecordMessage(topic, verdict string, duration time.Duration) {
	if m == nil {
		return
	}
	m.MessagesProcessedTotal.WithLabelValues(topic, verdict).Inc()
	m.MessageProcessingDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordPublish records a published message
func (m *Metrics) RecordPublish(topic string) {
	if m == nil {
		return
	}
	m.MessagesPublishedTotal.WithLabelValues(topic).Inc()
}

// RecordQueueDepth sets the length of a queue list
func (m *Metrics) RecordQueueDepth(list string, depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(list).Set(float64(depth))
}

// RecordJobCreated counts a created root or child job
func (m *Metrics) RecordJobCreated(kind string) {
	if m == nil {
		return
	}
	m.JobsCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordJobFinished counts a job reaching a terminal status
func (m *Metrics) RecordJobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsFinishedTotal.WithLabelValues(status).Inc()
}

// RecordIndexed records a successful index write
func (m *Metrics) RecordIndexed(backend, entityClass string, count int, duration time.Duration) {
	if m == nil {
		return
	}
	m.EntitiesIndexedTotal.WithLabelValues(entityClass).Add(float64(count))
	m.IndexWriteDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordIndexError records a failed range indexing attempt
func (m *Metrics) RecordIndexError(entityClass, reason string) {
	if m == nil {
		return
	}
	m.IndexErrorsTotal.WithLabelValues(entityClass, reason).Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// MetricsHandler returns the /metrics handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
