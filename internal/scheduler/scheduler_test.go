package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// advanceUntil steps the mock clock until cond holds.
func advanceUntil(t *testing.T, mock *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		mock.Add(step)
		return cond()
	}, 5*time.Second, time.Millisecond)
}

func newTestScheduler(t *testing.T) (*Scheduler, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	s, err := New(mock, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.StopAll)
	return s, mock
}

func TestNew(t *testing.T) {
	_, err := New(clock.NewMock(), nil)
	assert.Error(t, err)

	s, err := New(nil, zap.NewNop())
	require.NoError(t, err)
	s.StopAll()
}

func TestParse(t *testing.T) {
	for _, expr := range []string{"0 6 * * *", "0 10 * * 0", "*/5 * * * *", "@hourly"} {
		_, err := Parse(expr)
		assert.NoError(t, err, expr)
	}

	_, err := Parse("not a cron")
	assert.ErrorIs(t, err, ErrInvalidExpression)
}

func TestSchedule_Validation(t *testing.T) {
	s, _ := newTestScheduler(t)
	noop := func(context.Context, string) {}

	assert.ErrorIs(t, s.Schedule("bad", "61 * * * *", noop), ErrInvalidExpression)
	assert.Error(t, s.Schedule("nil", "* * * * *", nil))

	require.NoError(t, s.Schedule("dup", "* * * * *", noop))
	assert.ErrorIs(t, s.Schedule("dup", "* * * * *", noop), ErrAlreadyScheduled)
}

func TestSchedule_FiresOnEachTick(t *testing.T) {
	s, mock := newTestScheduler(t)

	var fired atomic.Int32
	var lastID atomic.Value
	require.NoError(t, s.Schedule("midday-presence", "* * * * *", func(ctx context.Context, id string) {
		lastID.Store(id)
		fired.Add(1)
	}))

	advanceUntil(t, mock, time.Minute, func() bool { return fired.Load() >= 3 })
	assert.Equal(t, "midday-presence", lastID.Load())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.GreaterOrEqual(t, entries[0].Fired, 3)
}

func TestSchedule_Next(t *testing.T) {
	s, mock := newTestScheduler(t)

	require.NoError(t, s.Schedule("morning-coherence", "0 6 * * *", func(context.Context, string) {}))
	require.NoError(t, s.Schedule("evening-integration", "0 18 * * *", func(context.Context, string) {}))

	schedule, err := Parse("0 6 * * *")
	require.NoError(t, err)

	next, ok := s.Next("morning-coherence")
	require.True(t, ok)
	assert.Equal(t, schedule.Next(mock.Now()), next)

	_, ok = s.Next("unknown")
	assert.False(t, ok)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.False(t, entries[1].Next.Before(entries[0].Next))
}

func TestUnschedule(t *testing.T) {
	s, mock := newTestScheduler(t)

	var fired atomic.Int32
	require.NoError(t, s.Schedule("midday-presence", "* * * * *", func(context.Context, string) {
		fired.Add(1)
	}))
	assert.True(t, s.Unschedule("midday-presence"))
	assert.False(t, s.Unschedule("midday-presence"))

	for i := 0; i < 5; i++ {
		mock.Add(time.Minute)
	}
	assert.Equal(t, int32(0), fired.Load())
	assert.Empty(t, s.Entries())
	_, ok := s.Next("midday-presence")
	assert.False(t, ok)

	require.NoError(t, s.Schedule("midday-presence", "* * * * *", func(context.Context, string) {
		fired.Add(1)
	}))
	advanceUntil(t, mock, time.Minute, func() bool { return fired.Load() >= 1 })
}

func TestSchedule_PanicDoesNotStopSchedule(t *testing.T) {
	s, mock := newTestScheduler(t)

	var calls atomic.Int32
	require.NoError(t, s.Schedule("innovation-ceremony", "* * * * *", func(context.Context, string) {
		if calls.Add(1) == 1 {
			panic("first run exploded")
		}
	}))

	advanceUntil(t, mock, time.Minute, func() bool { return calls.Load() >= 2 })
}

func TestStopAll_NoFiresAfterReturn(t *testing.T) {
	s, mock := newTestScheduler(t)

	var calls atomic.Int32
	require.NoError(t, s.Schedule("healing-circle", "* * * * *", func(context.Context, string) {
		calls.Add(1)
	}))
	advanceUntil(t, mock, time.Minute, func() bool { return calls.Load() >= 1 })

	s.StopAll()
	s.StopAll() // idempotent
	before := calls.Load()

	for i := 0; i < 10; i++ {
		mock.Add(time.Minute)
	}
	assert.Equal(t, before, calls.Load())

	assert.ErrorIs(t, s.Schedule("late", "* * * * *", func(context.Context, string) {}), ErrStopped)
	_, ok := s.Next("healing-circle")
	assert.False(t, ok)
}
