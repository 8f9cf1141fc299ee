package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/ceremony"
)

const instrumentationName = "github.com/fyrsmithlabs/councild/internal/mcp"

// toolMetrics records MCP tool calls by tool, category and outcome. One
// counter carries every outcome, so the failure rate of council_deliberate
// or ceremony_start is a ratio over a single series.
type toolMetrics struct {
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter, logger *zap.Logger) *toolMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &toolMetrics{}
	var err error

	m.calls, err = meter.Int64Counter("councild.mcp.tool_calls_total",
		metric.WithDescription("MCP tool calls by tool, category and outcome (ok, not_found, conflict, unavailable, invalid, timeout, error)."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create tool calls counter", zap.Error(err))
	}

	// Council tools wait on every agent's provider.
	m.latency, err = meter.Float64Histogram("councild.mcp.tool_duration_seconds",
		metric.WithDescription("MCP tool call latency by tool and category."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		logger.Warn("failed to create tool latency histogram", zap.Error(err))
	}

	m.inFlight, err = meter.Int64UpDownCounter("councild.mcp.tool_calls_in_flight",
		metric.WithDescription("MCP tool calls in progress by category."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create in-flight gauge", zap.Error(err))
	}
	return m
}

// begin marks a call in flight and returns the func that records it.
func (m *toolMetrics) begin(ctx context.Context, tool string, category ToolCategory) func(error) {
	cat := attribute.String("category", string(category))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, metric.WithAttributes(cat))
	}
	start := time.Now()
	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, metric.WithAttributes(cat))
		}
		name := attribute.String("tool", tool)
		if m.calls != nil {
			m.calls.Add(ctx, 1, metric.WithAttributes(name, cat, attribute.String("outcome", outcomeOf(err))))
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(name, cat))
		}
	}
}

// outcomeOf maps a tool error to a low-cardinality outcome label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ceremony.ErrUnknownDefinition):
		return "not_found"
	case errors.Is(err, ceremony.ErrOverlapRejected):
		return "conflict"
	case errors.Is(err, ceremony.ErrTransportUnavailable), errors.Is(err, ceremony.ErrShutdown), errors.Is(err, ErrArchiveDisabled):
		return "unavailable"
	case errors.Is(err, archive.ErrEmptyQuery), errors.Is(err, errRequired):
		return "invalid"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
