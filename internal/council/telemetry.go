package council

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/councild/internal/council"

// Metrics provides OpenTelemetry metrics for the council.
type Metrics struct {
	queriesTotal        metric.Int64Counter
	deliberationsTotal  metric.Int64Counter
	providerErrorsTotal metric.Int64Counter
	deliberationTime    metric.Float64Histogram
	coherenceScore      metric.Float64Histogram

	initialized bool
}

// NewMetrics creates a new Metrics instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.queriesTotal, err = meter.Int64Counter(
		"councild.council.queries.total",
		metric.WithDescription("Total number of quick oracle queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	m.deliberationsTotal, err = meter.Int64Counter(
		"councild.council.deliberations.total",
		metric.WithDescription("Total number of completed deliberations"),
		metric.WithUnit("{deliberation}"),
	)
	if err != nil {
		return nil, err
	}

	m.providerErrorsTotal, err = meter.Int64Counter(
		"councild.council.provider.errors.total",
		metric.WithDescription("Total number of failed agent provider calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.deliberationTime, err = meter.Float64Histogram(
		"councild.council.deliberation.duration",
		metric.WithDescription("Deliberation wall time including pacing"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.coherenceScore, err = meter.Float64Histogram(
		"councild.council.coherence.score",
		metric.WithDescription("Coherence score of completed deliberations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordQuery records a quick query.
func (m *Metrics) RecordQuery(ctx context.Context, agentID string, fallback bool) {
	if m == nil || !m.initialized {
		return
	}
	m.queriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.Bool("fallback", fallback),
	))
}

// RecordProviderError records a failed agent call.
func (m *Metrics) RecordProviderError(ctx context.Context, agentID, operation string) {
	if m == nil || !m.initialized {
		return
	}
	m.providerErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("operation", operation),
	))
}

// RecordDeliberation records a completed deliberation.
func (m *Metrics) RecordDeliberation(ctx context.Context, agents int, score float64, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("agents", agents))
	m.deliberationsTotal.Add(ctx, 1, attrs)
	m.deliberationTime.Record(ctx, duration.Seconds(), attrs)
	m.coherenceScore.Record(ctx, score, attrs)
}

// Tracer returns a tracer for the council package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
