// Package metrics exposes Prometheus collectors for the hub, fed from the
// event bus.
package metrics

import (
	"context"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/eventbus"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the hub's Prometheus collectors.
type Metrics struct {
	FieldCoherence   prometheus.Gauge
	ActiveCeremonies prometheus.Gauge

	CeremoniesStarted   *prometheus.CounterVec
	CeremoniesCompleted *prometheus.CounterVec
	PhasesStarted       *prometheus.CounterVec

	DeliberationsTotal    prometheus.Counter
	DeliberationCoherence prometheus.Histogram

	ActivityTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on the default registry.
// Registration happens once per process; later calls return the same set.
//
// Metrics:
//   - councild_field_coherence - current field coherence (0-100)
//   - councild_ceremonies_active - running ceremony instances
//   - councild_ceremonies_started_total{definition}
//   - councild_ceremonies_completed_total{definition, forced}
//   - councild_ceremony_phases_started_total{definition}
//   - councild_deliberations_total
//   - councild_deliberation_coherence - histogram of synthesis scores
//   - councild_activity_total{source}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			FieldCoherence: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "councild",
				Name:      "field_coherence",
				Help:      "Current field coherence on a 0-100 scale",
			}),
			ActiveCeremonies: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "councild",
				Name:      "ceremonies_active",
				Help:      "Number of ceremony instances currently running",
			}),
			CeremoniesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "councild",
				Name:      "ceremonies_started_total",
				Help:      "Total ceremony instances announced",
			}, []string{"definition"}),
			CeremoniesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "councild",
				Name:      "ceremonies_completed_total",
				Help:      "Total ceremony instances completed, by whether completion was forced",
			}, []string{"definition", "forced"}),
			PhasesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "councild",
				Name:      "ceremony_phases_started_total",
				Help:      "Total ceremony phases started",
			}, []string{"definition"}),
			DeliberationsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "councild",
				Name:      "deliberations_total",
				Help:      "Total council deliberations completed",
			}),
			DeliberationCoherence: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "councild",
				Name:      "deliberation_coherence",
				Help:      "Coherence score of completed deliberations",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			}),
			ActivityTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "councild",
				Name:      "activity_total",
				Help:      "Total activity signals recorded",
			}, []string{"source"}),
		}
	})

	return globalMetrics
}

// Sink updates Metrics from bus events.
type Sink struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewSink creates a Sink over m.
func NewSink(m *Metrics, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{metrics: m, logger: logger.Named("metrics")}
}

// Attach subscribes the sink to every topic.
func (s *Sink) Attach(bus *eventbus.Bus) ([]eventbus.Subscription, error) {
	return bus.SubscribeAll(s.handle)
}

func (s *Sink) handle(_ context.Context, ev eventbus.Event) error {
	m := s.metrics
	if m == nil {
		return nil
	}

	switch e := ev.(type) {
	case eventbus.CeremonyAnnounced:
		m.CeremoniesStarted.WithLabelValues(e.DefinitionID).Inc()
		m.ActiveCeremonies.Inc()
	case eventbus.CeremonyPhaseStarted:
		m.PhasesStarted.WithLabelValues(e.DefinitionID).Inc()
	case eventbus.CeremonyCompleted:
		m.CeremoniesCompleted.WithLabelValues(e.DefinitionID, strconv.FormatBool(e.Forced)).Inc()
		m.ActiveCeremonies.Dec()
	case eventbus.DeliberationCompleted:
		m.DeliberationsTotal.Inc()
		m.DeliberationCoherence.Observe(e.CoherenceScore)
	case eventbus.FieldUpdated:
		m.FieldCoherence.Set(e.Coherence)
	case eventbus.ActivityRecorded:
		m.ActivityTotal.WithLabelValues(e.Source).Inc()
	}
	return nil
}

// SetCoherence seeds the coherence gauge before the first field update.
func (m *Metrics) SetCoherence(v float64) {
	m.FieldCoherence.Set(v)
}
