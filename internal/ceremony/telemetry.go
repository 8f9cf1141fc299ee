package ceremony

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/councild/internal/ceremony"

// Metrics provides OpenTelemetry metrics for ceremonies.
type Metrics struct {
	startedTotal      metric.Int64Counter
	completedTotal    metric.Int64Counter
	rejectedTotal     metric.Int64Counter
	phasesTotal       metric.Int64Counter
	activeCount       metric.Int64UpDownCounter
	ceremonyDuration  metric.Float64Histogram
	participantsCount metric.Int64Histogram

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

	m.startedTotal, err = meter.Int64Counter(
		"councild.ceremony.started.total",
		metric.WithDescription("Total number of ceremonies started"),
		metric.WithUnit("{ceremony}"),
	)
	if err != nil {
		return nil, err
	}

	m.completedTotal, err = meter.Int64Counter(
		"councild.ceremony.completed.total",
		metric.WithDescription("Total number of ceremonies completed"),
		metric.WithUnit("{ceremony}"),
	)
	if err != nil {
		return nil, err
	}

	m.rejectedTotal, err = meter.Int64Counter(
		"councild.ceremony.rejected.total",
		metric.WithDescription("Total number of ceremony starts that were refused"),
		metric.WithUnit("{ceremony}"),
	)
	if err != nil {
		return nil, err
	}

	m.phasesTotal, err = meter.Int64Counter(
		"councild.ceremony.phases.total",
		metric.WithDescription("Total number of ceremony phases started"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		return nil, err
	}

	m.activeCount, err = meter.Int64UpDownCounter(
		"councild.ceremony.active",
		metric.WithDescription("Number of ceremonies in progress"),
		metric.WithUnit("{ceremony}"),
	)
	if err != nil {
		return nil, err
	}

	m.ceremonyDuration, err = meter.Float64Histogram(
		"councild.ceremony.duration",
		metric.WithDescription("Ceremony duration from announcement to completion"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.participantsCount, err = meter.Int64Histogram(
		"councild.ceremony.participants",
		metric.WithDescription("Participants per completed ceremony"),
		metric.WithUnit("{participant}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordStarted records an announced ceremony.
func (m *Metrics) RecordStarted(ctx context.Context, definitionID string) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(attribute.String("definition_id", definitionID))
	m.startedTotal.Add(ctx, 1, attrs)
	m.activeCount.Add(ctx, 1, attrs)
}

// RecordRejected records a refused start with its reason.
func (m *Metrics) RecordRejected(ctx context.Context, definitionID, reason string) {
	if m == nil || !m.initialized {
		return
	}
	m.rejectedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition_id", definitionID),
		attribute.String("reason", reason),
	))
}

// RecordPhase records a phase start.
func (m *Metrics) RecordPhase(ctx context.Context, definitionID string) {
	if m == nil || !m.initialized {
		return
	}
	m.phasesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("definition_id", definitionID)))
}

// RecordCompleted records a completion.
func (m *Metrics) RecordCompleted(ctx context.Context, definitionID string, forced bool, participants int, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("definition_id", definitionID),
		attribute.Bool("forced", forced),
	)
	m.completedTotal.Add(ctx, 1, attrs)
	m.activeCount.Add(ctx, -1, metric.WithAttributes(attribute.String("definition_id", definitionID)))
	m.ceremonyDuration.Record(ctx, duration.Seconds(), attrs)
	m.participantsCount.Record(ctx, int64(participants), attrs)
}

// Tracer returns a tracer for the ceremony package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
