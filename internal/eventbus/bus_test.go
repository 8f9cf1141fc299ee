package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestBus(t *testing.T, opts ...Option) *Bus {
	t.Helper()
	b, err := New(zap.NewNop(), opts...)
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	t.Run("requires logger", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(t, err, ErrNilLogger)
	})

	t.Run("creates bus", func(t *testing.T) {
		b, err := New(zap.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, b)
		assert.Zero(t, b.HandlerCount(TopicFieldUpdated))
	})
}

func TestPublish_SubscriptionOrder(t *testing.T) {
	b := newTestBus(t)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		_, err := b.Subscribe("x", func(ctx context.Context, ev Event) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
	}

	b.Publish(context.Background(), FieldTick{At: time.Unix(0, 0)})
	assert.Empty(t, order, "handlers on other topics must not run")

	_, err := b.Subscribe(TopicFieldTick, func(ctx context.Context, ev Event) error {
		order = append(order, 99)
		return nil
	})
	require.NoError(t, err)

	b.Publish(context.Background(), FieldTick{})
	assert.Equal(t, []int{99}, order)

	b.Publish(context.Background(), testEvent{})
	assert.Equal(t, []int{99, 1, 2, 3}, order)
}

func TestPublish_DeliversTypedPayload(t *testing.T) {
	b := newTestBus(t)

	var got CeremonyCompleted
	_, err := b.Subscribe(TopicCeremonyCompleted, func(ctx context.Context, ev Event) error {
		switch e := ev.(type) {
		case CeremonyCompleted:
			got = e
		default:
			t.Fatalf("unexpected event %T", ev)
		}
		return nil
	})
	require.NoError(t, err)

	b.Publish(context.Background(), CeremonyCompleted{InstanceID: "morning-1", TotalFieldShift: 4.5})
	assert.Equal(t, "morning-1", got.InstanceID)
	assert.InDelta(t, 4.5, got.TotalFieldShift, 0.0001)
}

func TestPublish_PanickingHandlerIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var faults []*HandlerFault
	b, err := New(zap.New(core), WithFaultHook(func(f *HandlerFault) {
		faults = append(faults, f)
	}))
	require.NoError(t, err)

	_, err = b.Subscribe("x", func(ctx context.Context, ev Event) error {
		panic("h1 exploded")
	})
	require.NoError(t, err)

	h2Called := false
	_, err = b.Subscribe("x", func(ctx context.Context, ev Event) error {
		h2Called = true
		return nil
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		b.Publish(context.Background(), testEvent{})
	})
	assert.True(t, h2Called)

	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], ErrHandlerFault)
	assert.Equal(t, "h1 exploded", faults[0].Recovered)
	assert.Equal(t, 1, logs.FilterMessage("event handler fault").Len())
}

func TestPublish_ErroringHandlerIsIsolated(t *testing.T) {
	var faults []*HandlerFault
	b := newTestBus(t, WithFaultHook(func(f *HandlerFault) {
		faults = append(faults, f)
	}))

	boom := errors.New("boom")
	_, err := b.Subscribe("x", func(ctx context.Context, ev Event) error { return boom })
	require.NoError(t, err)

	calls := 0
	_, err = b.Subscribe("x", func(ctx context.Context, ev Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	b.Publish(context.Background(), testEvent{})
	b.Publish(context.Background(), testEvent{})

	assert.Equal(t, 2, calls)
	require.Len(t, faults, 2)
	assert.ErrorIs(t, faults[0], boom)
	assert.Nil(t, faults[0].Recovered)
}

func TestPublish_DoesNotWaitForHandlerGoroutines(t *testing.T) {
	b := newTestBus(t)

	release := make(chan struct{})
	done := make(chan struct{})
	_, err := b.Subscribe("x", func(ctx context.Context, ev Event) error {
		go func() {
			<-release
			close(done)
		}()
		return nil
	})
	require.NoError(t, err)

	returned := make(chan struct{})
	go func() {
		b.Publish(context.Background(), testEvent{})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on handler continuation")
	}

	close(release)
	<-done
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus(t)

	calls := 0
	sub, err := b.Subscribe("x", func(ctx context.Context, ev Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Topic("x"), sub.Topic())

	b.Publish(context.Background(), testEvent{})
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // idempotent
	b.Publish(context.Background(), testEvent{})

	assert.Equal(t, 1, calls)
	assert.Zero(t, b.HandlerCount("x"))
}

func TestSubscribe_NilHandler(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Subscribe("x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestSubscribeAll(t *testing.T) {
	b := newTestBus(t)

	var seen []Topic
	subs, err := b.SubscribeAll(func(ctx context.Context, ev Event) error {
		seen = append(seen, ev.Topic())
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, subs, len(Topics()))

	b.Publish(context.Background(), FieldUpdated{Coherence: 80})
	b.Publish(context.Background(), ActivityRecorded{Delta: 1})
	assert.Equal(t, []Topic{TopicFieldUpdated, TopicActivityRecorded}, seen)
}

func TestPublish_ConcurrentSubscribe(t *testing.T) {
	b := newTestBus(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub, err := b.Subscribe(TopicFieldTick, func(ctx context.Context, ev Event) error { return nil })
			if err == nil {
				b.Unsubscribe(sub)
			}
		}()
		go func() {
			defer wg.Done()
			b.Publish(context.Background(), FieldTick{})
		}()
	}
	wg.Wait()
	assert.Zero(t, b.HandlerCount(TopicFieldTick))
}

// testEvent publishes on the ad-hoc topic "x".
type testEvent struct{}

func (testEvent) Topic() Topic { return "x" }
func (testEvent) event()       {}
