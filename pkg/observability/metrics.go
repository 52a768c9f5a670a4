package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// View tracking
	ViewsRecordedTotal  *prometheus.CounterVec
	RecordFailuresTotal *prometheus.CounterVec
	RecordDuration      prometheus.Histogram
	DedupDecisionsTotal *prometheus.CounterVec

	// Presence
	PresenceSubscribers  prometheus.Gauge
	PresenceTopics       prometheus.Gauge
	PresenceEventsTotal  *prometheus.CounterVec
	PresenceDroppedTotal prometheus.Counter
	PresenceExpiredTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Retention
	RetentionPurgedTotal prometheus.Counter
	RetentionRunsTotal   *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioviews_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bioviews_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		ViewsRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioviews_views_recorded_total",
				Help: "Profile views persisted, by write path",
			},
			[]string{"path"},
		),
		RecordFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioviews_record_failures_total",
				Help: "Failed view recordings, by the stage that failed",
			},
			[]string{"stage"},
		),
		RecordDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bioviews_record_duration_seconds",
				Help:    "Time spent recording a single view",
				Buckets: prometheus.DefBuckets,
			},
		),
		DedupDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioviews_dedup_decisions_total",
				Help: "Cooldown guard decisions",
			},
			[]string{"decision"},
		),

		PresenceSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bioviews_presence_subscribers",
				Help: "Open presence subscriptions on this instance",
			},
		),
		PresenceTopics: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bioviews_presence_topics",
				Help: "Presence topics with at least one local subscriber",
			},
		),
		PresenceEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioviews_presence_events_total",
				Help: "Presence events published, by type",
			},
			[]string{"type"},
		),
		PresenceDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bioviews_presence_dropped_events_total",
				Help: "Presence events dropped because a subscriber buffer was full",
			},
		),
		PresenceExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bioviews_presence_expired_entries_total",
				Help: "Presence entries removed by the liveness sweep",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioviews_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioviews_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		RetentionPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bioviews_retention_purged_views_total",
				Help: "Profile view rows removed by the retention job",
			},
		),
		RetentionRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioviews_retention_runs_total",
				Help: "Retention job runs, by outcome",
			},
			[]string{"status"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bioviews_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bioviews_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ViewsRecordedTotal,
		m.RecordFailuresTotal,
		m.RecordDuration,
		m.DedupDecisionsTotal,
		m.PresenceSubscribers,
		m.PresenceTopics,
		m.PresenceEventsTotal,
		m.PresenceDroppedTotal,
		m.PresenceExpiredTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RetentionPurgedTotal,
		m.RetentionRunsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// MirrorToOTel forwards view, dedup, presence and HTTP observations to o as well.
func (m *Metrics) MirrorToOTel(o *OTelMetrics) {
	if m == nil {
		return
	}
	m.otel = o
}

// ObserveRecord counts a persisted view and how long it took.
func (m *Metrics) ObserveRecord(path string, took time.Duration) {
	if m == nil {
		return
	}
	m.ViewsRecordedTotal.WithLabelValues(path).Inc()
	m.RecordDuration.Observe(took.Seconds())
	m.otel.RecordView(context.Background(), path, took)
}

// ObserveRecordFailure counts a recording that failed at the given stage.
func (m *Metrics) ObserveRecordFailure(stage string) {
	if m == nil {
		return
	}
	m.RecordFailuresTotal.WithLabelValues(stage).Inc()
	m.otel.RecordFailure(context.Background(), stage)
}

// ObserveDedup counts a cooldown decision.
func (m *Metrics) ObserveDedup(tracked bool) {
	if m == nil {
		return
	}
	decision := "skip"
	if tracked {
		decision = "track"
	}
	m.DedupDecisionsTotal.WithLabelValues(decision).Inc()
	m.otel.RecordDedup(context.Background(), decision)
}

// ObservePresenceEvent counts a published presence event.
func (m *Metrics) ObservePresenceEvent(eventType string) {
	if m == nil {
		return
	}
	m.PresenceEventsTotal.WithLabelValues(eventType).Inc()
	m.otel.RecordPresenceEvent(context.Background(), eventType)
}

// ObservePresenceDropped counts an event that could not be delivered to a slow subscriber.
func (m *Metrics) ObservePresenceDropped() {
	if m == nil {
		return
	}
	m.PresenceDroppedTotal.Inc()
}

// ObservePresenceExpired counts entries removed by the liveness sweep.
func (m *Metrics) ObservePresenceExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PresenceExpiredTotal.Add(float64(n))
}

// SetPresenceLoad records the local subscriber and topic counts.
func (m *Metrics) SetPresenceLoad(subscribers, topics int) {
	if m == nil {
		return
	}
	m.PresenceSubscribers.Set(float64(subscribers))
	m.PresenceTopics.Set(float64(topics))
}

// ObserveCache counts a hit or miss for the named cache.
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// ObserveRetention records the outcome of one retention run.
func (m *Metrics) ObserveRetention(purged int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RetentionRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.RetentionRunsTotal.WithLabelValues("success").Inc()
	m.RetentionPurgedTotal.Add(float64(purged))
}

// UpdateDBStats copies database pool stats into gauges.
func (m *Metrics) UpdateDBStats(active, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(active))
	m.DBConnectionsIdle.Set(float64(idle))
}

// HTTPMetricsMiddleware records request counts and latency. It is meant to be installed
// with mux.Router.Use so the matched route template is available as a low-cardinality label.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			took := time.Since(start)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(took.Seconds())
			metrics.otel.RecordHTTPRequest(r.Context(), r.Method, route, rw.statusCode, took)
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers behind this middleware can stream.
func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsHandler returns the Prometheus HTTP handler for the given registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
