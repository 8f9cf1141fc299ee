package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/councild/internal/http"

const (
	routeEvents        = "/api/v1/events"
	routeStartCeremony = "/api/v1/ceremonies/:id/start"
)

// apiMetrics instruments the REST surface. Requests carry the surface they
// touch (ceremonies, council, field, ...) and the route template. The event
// stream is long-lived, so it is tracked as open streams and kept out of
// the latency histogram.
type apiMetrics struct {
	requests       metric.Int64Counter
	latency        metric.Float64Histogram
	streams        metric.Int64UpDownCounter
	ceremonyStarts metric.Int64Counter
}

func newAPIMetrics(meter metric.Meter, logger *zap.Logger) *apiMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &apiMetrics{}
	var err error

	m.requests, err = meter.Int64Counter("councild.api.requests_total",
		metric.WithDescription("API requests by surface, route template, method and status class."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create api requests counter", zap.Error(err))
	}

	// Oracle and council calls wait on providers, hence the long tail.
	m.latency, err = meter.Float64Histogram("councild.api.request_duration_seconds",
		metric.WithDescription("API request latency by surface and route template, excluding the event stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create api latency histogram", zap.Error(err))
	}

	m.streams, err = meter.Int64UpDownCounter("councild.api.event_streams",
		metric.WithDescription("Open server-sent event streams."),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		logger.Warn("failed to create event stream gauge", zap.Error(err))
	}

	m.ceremonyStarts, err = meter.Int64Counter("councild.api.ceremony_starts_total",
		metric.WithDescription("Manual ceremony start requests by outcome (started, not_found, conflict, unavailable, error)."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create ceremony start counter", zap.Error(err))
	}
	return m
}

func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			route := c.Path()
			surface := attribute.String("surface", surfaceOf(route))

			if route == routeEvents && m.streams != nil {
				m.streams.Add(ctx, 1, metric.WithAttributes(surface))
				defer m.streams.Add(ctx, -1, metric.WithAttributes(surface))
			}

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			status := responseStatus(c, err)
			attrs := metric.WithAttributes(
				surface,
				attribute.String("route", routeLabel(route)),
				attribute.String("method", c.Request().Method),
				attribute.String("status_class", statusClass(status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if route != routeEvents && m.latency != nil {
				m.latency.Record(ctx, elapsed.Seconds(), attrs)
			}
			if route == routeStartCeremony && m.ceremonyStarts != nil {
				m.ceremonyStarts.Add(ctx, 1, metric.WithAttributes(
					attribute.String("outcome", startOutcome(status)),
				))
			}
			return err
		}
	}
}

// responseStatus is the status the client will see. Echo writes handler
// errors after the middleware chain returns, so the recorder still reads
// 200 for them.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// surfaceOf groups a route template by the part of the hub it serves.
func surfaceOf(route string) string {
	switch {
	case route == "":
		return "unmatched"
	case route == "/health", route == "/metrics", route == "/api/v1/status":
		return "ops"
	case !strings.HasPrefix(route, "/api/v1/"):
		return "other"
	}
	head, _, _ := strings.Cut(strings.TrimPrefix(route, "/api/v1/"), "/")
	switch head {
	case "ceremonies", "field", "wisdom", "events", "messages":
		return head
	case "oracle", "council":
		return "council"
	default:
		return "other"
	}
}

func routeLabel(route string) string {
	if route == "" {
		return "unmatched"
	}
	return route
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

func startOutcome(status int) string {
	switch status {
	case http.StatusAccepted:
		return "started"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}
