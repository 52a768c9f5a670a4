package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeterProvider creates a test meter provider with a manual reader
func setupTestMeterProvider(t *testing.T) *metric.ManualReader {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

// sums collects every Int64 sum data point keyed by instrument name.
func sums(t *testing.T, reader *metric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestOTelMetrics_MirroredFromPrometheusHelpers(t *testing.T) {
	reader := setupTestMeterProvider(t)

	o, err := NewOTelMetrics()
	require.NoError(t, err)

	m := NewMetrics(prometheus.NewRegistry())
	m.MirrorToOTel(o)

	m.ObserveRecord("atomic", 10*time.Millisecond)
	m.ObserveRecord("atomic", 20*time.Millisecond)
	m.ObserveRecordFailure("insert")
	m.ObserveDedup(true)
	m.ObserveDedup(false)
	m.ObservePresenceEvent("join")

	got := sums(t, reader)
	assert.Equal(t, int64(2), got["bioviews.views.recorded"])
	assert.Equal(t, int64(1), got["bioviews.record.failures"])
	assert.Equal(t, int64(2), got["bioviews.dedup.decisions"])
	assert.Equal(t, int64(1), got["bioviews.presence.events"])
}

func TestOTelMetrics_HTTPMiddleware(t *testing.T) {
	reader := setupTestMeterProvider(t)

	o, err := NewOTelMetrics()
	require.NoError(t, err)
	m := NewMetrics(prometheus.NewRegistry())
	m.MirrorToOTel(o)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/profiles/{id}/views", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/profiles/alesta/views", nil))

	assert.Equal(t, int64(1), sums(t, reader)["http.server.requests"])
}

func TestOTelMetrics_NilIsSafe(t *testing.T) {
	var o *OTelMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		o.RecordHTTPRequest(ctx, http.MethodGet, "/", http.StatusOK, time.Millisecond)
		o.RecordView(ctx, "atomic", time.Millisecond)
		o.RecordFailure(ctx, "insert")
		o.RecordDedup(ctx, "track")
		o.RecordPresenceEvent(ctx, "join")
	})

	m := NewMetrics(prometheus.NewRegistry())
	m.MirrorToOTel(nil)
	assert.NotPanics(t, func() { m.ObserveRecord("atomic", time.Millisecond) })
}
