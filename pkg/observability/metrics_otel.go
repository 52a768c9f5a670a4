package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the view, dedup and presence counters to the global OTel meter
// provider so they reach the OTLP collector alongside traces. A nil *OTelMetrics
// records nothing.
type OTelMetrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// View tracking
	viewsRecorded  metric.Int64Counter
	recordDuration metric.Float64Histogram
	recordFailures metric.Int64Counter
	dedupDecisions metric.Int64Counter

	// Presence
	presenceEvents metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(TracerName)

	m := &OTelMetrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.viewsRecorded, err = meter.Int64Counter(
		"bioviews.views.recorded",
		metric.WithDescription("Profile views persisted, by write path"),
		metric.WithUnit("{view}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create views recorded counter: %w", err)
	}

	m.recordDuration, err = meter.Float64Histogram(
		"bioviews.record.duration",
		metric.WithDescription("Time spent recording a single view"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create record duration histogram: %w", err)
	}

	m.recordFailures, err = meter.Int64Counter(
		"bioviews.record.failures",
		metric.WithDescription("Failed view recordings, by the stage that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create record failures counter: %w", err)
	}

	m.dedupDecisions, err = meter.Int64Counter(
		"bioviews.dedup.decisions",
		metric.WithDescription("Cooldown guard decisions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup decisions counter: %w", err)
	}

	m.presenceEvents, err = meter.Int64Counter(
		"bioviews.presence.events",
		metric.WithDescription("Presence events published, by type"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create presence events counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one served request.
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.String("http.status_code", strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordView records a persisted view.
func (m *OTelMetrics) RecordView(ctx context.Context, path string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("path", path))
	m.viewsRecorded.Add(ctx, 1, attrs)
	m.recordDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordFailure records a recording that failed at stage.
func (m *OTelMetrics) RecordFailure(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.recordFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordDedup records a cooldown decision.
func (m *OTelMetrics) RecordDedup(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	m.dedupDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// RecordPresenceEvent records a published presence event.
func (m *OTelMetrics) RecordPresenceEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.presenceEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}
