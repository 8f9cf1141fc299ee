package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			out[md.Name] = md
		}
	}
	return out
}

func sumBy(t *testing.T, md metricdata.Metrics, key string) map[string]int64 {
	t.Helper()
	sum, ok := md.Data.(metricdata.Sum[int64])
	require.True(t, ok, md.Name)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestAPIMetrics_Middleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	e := echo.New()
	e.Use(newAPIMetrics(mp.Meter(instrumentationName), zap.NewNop()).middleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/field", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]float64{"coherence": 75})
	})
	e.POST("/api/v1/oracle", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no oracle")
	})
	e.POST(routeStartCeremony, func(c echo.Context) error {
		switch c.Param("id") {
		case "dawn":
			return c.JSON(http.StatusAccepted, map[string]string{"id": "dawn"})
		case "dusk":
			return echo.NewHTTPError(http.StatusConflict, "already running")
		case "noon":
			return errors.New("boom")
		default:
			return echo.NewHTTPError(http.StatusNotFound, "unknown ceremony")
		}
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/field", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/oracle", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/ceremonies/dawn/start", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/ceremonies/dusk/start", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/ceremonies/nope/start", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/ceremonies/noon/start", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	metrics := collect(t, reader)

	requests, ok := metrics["councild.api.requests_total"]
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"ops": 1, "field": 1, "council": 1, "ceremonies": 4}, sumBy(t, requests, "surface"))
	assert.Equal(t, int64(4), sumBy(t, requests, "route")[routeStartCeremony], "parameterized routes share one label")
	assert.Equal(t, map[string]int64{"2xx": 3, "4xx": 2, "5xx": 2}, sumBy(t, requests, "status_class"),
		"handler errors are counted with the status the client receives")

	starts, ok := metrics["councild.api.ceremony_starts_total"]
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"started": 1, "conflict": 1, "not_found": 1, "error": 1}, sumBy(t, starts, "outcome"))

	_, ok = metrics["councild.api.request_duration_seconds"]
	assert.True(t, ok)
}

func TestAPIMetrics_EventStreamNotInLatency(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	e := echo.New()
	e.Use(newAPIMetrics(mp.Meter(instrumentationName), zap.NewNop()).middleware())

	var open int64
	e.GET(routeEvents, func(c echo.Context) error {
		metrics := collect(t, reader)
		sum, ok := metrics["councild.api.event_streams"].Data.(metricdata.Sum[int64])
		require.True(t, ok)
		for _, dp := range sum.DataPoints {
			open += dp.Value
		}
		return c.NoContent(http.StatusOK)
	})
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, routeEvents, nil))

	assert.Equal(t, int64(1), open, "stream counted while open")

	metrics := collect(t, reader)
	assert.Equal(t, map[string]int64{"events": 0}, sumBy(t, metrics["councild.api.event_streams"], "surface"))
	assert.Equal(t, map[string]int64{"events": 1}, sumBy(t, metrics["councild.api.requests_total"], "surface"))
	_, ok := metrics["councild.api.request_duration_seconds"]
	assert.False(t, ok, "no latency recorded for the event stream")
}

func TestSurfaceOf(t *testing.T) {
	tests := []struct {
		route string
		want  string
	}{
		{"", "unmatched"},
		{"/health", "ops"},
		{"/metrics", "ops"},
		{"/api/v1/status", "ops"},
		{"/api/v1/field", "field"},
		{"/api/v1/ceremonies", "ceremonies"},
		{routeStartCeremony, "ceremonies"},
		{"/api/v1/messages", "messages"},
		{"/api/v1/oracle", "council"},
		{"/api/v1/council", "council"},
		{"/api/v1/wisdom", "wisdom"},
		{routeEvents, "events"},
		{"/api/v1/unknown", "other"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			assert.Equal(t, tt.want, surfaceOf(tt.route))
		})
	}
}

func TestStatusClassAndOutcome(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusAccepted))
	assert.Equal(t, "5xx", statusClass(http.StatusServiceUnavailable))
	assert.Equal(t, "unknown", statusClass(0))
	assert.Equal(t, "unmatched", routeLabel(""))

	assert.Equal(t, "started", startOutcome(http.StatusAccepted))
	assert.Equal(t, "unavailable", startOutcome(http.StatusServiceUnavailable))
	assert.Equal(t, "error", startOutcome(http.StatusOK))
}
