package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/eventbus"
)

func TestNewMetrics_Singleton(t *testing.T) {
	assert.Same(t, NewMetrics(), NewMetrics())
}

func TestSink_UpdatesCollectors(t *testing.T) {
	m := NewMetrics()
	bus, err := eventbus.New(zap.NewNop())
	require.NoError(t, err)

	subs, err := NewSink(m, zap.NewNop()).Attach(bus)
	require.NoError(t, err)
	defer bus.Unsubscribe(subs...)

	started := testutil.ToFloat64(m.CeremoniesStarted.WithLabelValues("sink-test"))
	completed := testutil.ToFloat64(m.CeremoniesCompleted.WithLabelValues("sink-test", "true"))
	phases := testutil.ToFloat64(m.PhasesStarted.WithLabelValues("sink-test"))
	active := testutil.ToFloat64(m.ActiveCeremonies)
	deliberations := testutil.ToFloat64(m.DeliberationsTotal)
	activity := testutil.ToFloat64(m.ActivityTotal.WithLabelValues("sink-test"))

	ctx := context.Background()
	now := time.Now()
	bus.Publish(ctx, eventbus.CeremonyAnnounced{DefinitionID: "sink-test", StartedAt: now})
	bus.Publish(ctx, eventbus.CeremonyPhaseStarted{DefinitionID: "sink-test", StartedAt: now})
	assert.Equal(t, active+1, testutil.ToFloat64(m.ActiveCeremonies))

	bus.Publish(ctx, eventbus.CeremonyCompleted{DefinitionID: "sink-test", Forced: true, CompletedAt: now})
	bus.Publish(ctx, eventbus.DeliberationCompleted{CoherenceScore: 42})
	bus.Publish(ctx, eventbus.FieldUpdated{Coherence: 81.5})
	bus.Publish(ctx, eventbus.ActivityRecorded{Source: "sink-test", Delta: 1})

	assert.Equal(t, started+1, testutil.ToFloat64(m.CeremoniesStarted.WithLabelValues("sink-test")))
	assert.Equal(t, completed+1, testutil.ToFloat64(m.CeremoniesCompleted.WithLabelValues("sink-test", "true")))
	assert.Equal(t, phases+1, testutil.ToFloat64(m.PhasesStarted.WithLabelValues("sink-test")))
	assert.Equal(t, active, testutil.ToFloat64(m.ActiveCeremonies))
	assert.Equal(t, deliberations+1, testutil.ToFloat64(m.DeliberationsTotal))
	assert.Equal(t, 81.5, testutil.ToFloat64(m.FieldCoherence))
	assert.Equal(t, activity+1, testutil.ToFloat64(m.ActivityTotal.WithLabelValues("sink-test")))
}

func TestSink_NilMetrics(t *testing.T) {
	s := NewSink(nil, nil)
	assert.NoError(t, s.handle(context.Background(), eventbus.FieldTick{}))
}
