package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumValue(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected an int64 sum")
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// TestSyncTelemetry_RecordPass tests pass counters and the pending gauge
func TestSyncTelemetry_RecordPass(t *testing.T) {
	// Arrange
	reader, provider := newTestMeter()
	pending := 4
	st, err := NewSyncTelemetry(provider.Meter("test"), func(ctx context.Context) (int, error) {
		return pending, nil
	})
	require.NoError(t, err)
	defer st.Close()

	// Act
	st.RecordPass(context.Background(), "partial", 120*time.Millisecond, 2, 1, 0)
	st.RecordPass(context.Background(), "skipped", 0, 0, 0, 0)

	// Assert
	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumValue(t, metrics["sync_passes_total"]))
	assert.Equal(t, int64(2), sumValue(t, metrics["sync_mutations_confirmed_total"]))
	assert.Equal(t, int64(1), sumValue(t, metrics["sync_mutations_retried_total"]))

	gauge, ok := metrics["sync_pending_mutations"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)

	hist, ok := metrics["sync_pass_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count, "Skipped passes should not record a duration")
}

// TestSyncTelemetry_NilSafe tests that a nil recorder is a no-op
func TestSyncTelemetry_NilSafe(t *testing.T) {
	var st *SyncTelemetry
	assert.NotPanics(t, func() {
		st.RecordPass(context.Background(), "success", time.Second, 1, 0, 0)
		_ = st.Close()
	})
}

// TestTelemetryMiddleware_RecordsRequests tests request and error counters through a router
func TestTelemetryMiddleware_RecordsRequests(t *testing.T) {
	// Arrange
	reader, provider := newTestMeter()
	apiTelemetry, err := NewApiTelemetry(provider.Meter("test"), "backend")
	require.NoError(t, err)

	router := mux.NewRouter()
	mw := NewTelemetryMiddleware(apiTelemetry, func(r *http.Request) string {
		if route := mux.CurrentRoute(r); route != nil {
			tpl, _ := route.GetPathTemplate()
			return tpl
		}
		return ""
	})
	router.Use(mw.Middleware)
	router.HandleFunc("/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "missing" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	// Act
	for _, path := range []string{"/v1/items/a", "/v1/items/b", "/v1/items/missing"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	// Assert
	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumValue(t, metrics["http_requests_total"]))
	assert.Equal(t, int64(1), sumValue(t, metrics["http_errors_total"]))

	sum := metrics["http_requests_total"].(metricdata.Sum[int64])
	endpoint, ok := sum.DataPoints[0].Attributes.Value("endpoint")
	require.True(t, ok)
	assert.Equal(t, "/v1/items/{id}", endpoint.AsString())
}

// TestInitMetrics_None tests that disabled metrics still hand out a usable meter
func TestInitMetrics_None(t *testing.T) {
	tel := InitMetrics(context.Background(), "test", ExporterNone, "", nil)
	defer tel.Shutdown(context.Background())

	st, err := NewSyncTelemetry(tel.Meter(), nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { st.RecordPass(context.Background(), "success", time.Second, 1, 0, 0) })
}

// TestNormalizeClientIP tests IP categorization
func TestNormalizeClientIP(t *testing.T) {
	assert.Equal(t, "unknown", NormalizeClientIP(""))
	assert.Equal(t, "invalid", NormalizeClientIP("not-an-ip"))
	assert.Equal(t, "localhost", NormalizeClientIP("127.0.0.1"))
	assert.Equal(t, "internal", NormalizeClientIP("192.168.1.20"))
	assert.Equal(t, "external", NormalizeClientIP("8.8.8.8"))
}

// TestCategorizeError tests error grouping
func TestCategorizeError(t *testing.T) {
	assert.Equal(t, "not_found", categorizeError("Not Found"))
	assert.Equal(t, "invalid_request", categorizeError("Bad Request"))
	assert.Equal(t, "unavailable", categorizeError("Service Unavailable"))
	assert.Equal(t, "unknown", categorizeError(""))
}
