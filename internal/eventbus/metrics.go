package eventbus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the OTEL scope for bus metrics.
const InstrumentationName = "github.com/fyrsmithlabs/councild/internal/eventbus"

// Metrics records bus throughput and handler faults.
type Metrics struct {
	published metric.Int64Counter
	delivered metric.Int64Counter
	faults    metric.Int64Counter

	initialized bool
}

// NewMetrics creates bus metrics on meter, or on the global provider if nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.published, err = meter.Int64Counter(
		"councild.bus.events.published.total",
		metric.WithDescription("Total number of events published on the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	m.delivered, err = meter.Int64Counter(
		"councild.bus.events.delivered.total",
		metric.WithDescription("Total number of handler invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	m.faults, err = meter.Int64Counter(
		"councild.bus.handler.faults.total",
		metric.WithDescription("Total number of handler errors and panics"),
		metric.WithUnit("{fault}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordPublished counts one publish fanned out to n handlers.
func (m *Metrics) RecordPublished(ctx context.Context, topic Topic, n int) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(attribute.String("topic", string(topic)))
	m.published.Add(ctx, 1, attrs)
	if n > 0 {
		m.delivered.Add(ctx, int64(n), attrs)
	}
}

// RecordFault counts a handler fault.
func (m *Metrics) RecordFault(ctx context.Context, topic Topic, panicked bool) {
	if m == nil || !m.initialized {
		return
	}
	m.faults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", string(topic)),
		attribute.Bool("panic", panicked),
	))
}
