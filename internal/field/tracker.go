// Package field tracks the collective field coherence: one scalar clamped to
// [0,100] plus a trend, moved only by bus events.
package field

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/eventbus"
)

// Bounds of the coherence scalar.
const (
	MinCoherence = 0.0
	MaxCoherence = 100.0
)

// Trend is the direction of the most recent mutation.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// TrendOf derives a trend from an applied delta.
func TrendOf(delta float64) Trend {
	switch {
	case delta > 0:
		return TrendRising
	case delta < 0:
		return TrendFalling
	default:
		return TrendStable
	}
}

// State is a snapshot of the field.
type State struct {
	Coherence float64   `json:"coherence"`
	Trend     Trend     `json:"trend"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config tunes the tracker.
type Config struct {
	Initial              float64       `koanf:"initial" json:"initial"`
	Baseline             float64       `koanf:"baseline" json:"baseline"`
	MaxActivityDelta     float64       `koanf:"max_activity_delta" json:"max_activity_delta"`
	MaxTickDelta         float64       `koanf:"max_tick_delta" json:"max_tick_delta"`
	MaterialityThreshold float64       `koanf:"materiality_threshold" json:"materiality_threshold"`
	TickInterval         time.Duration `koanf:"tick_interval" json:"tick_interval"`
}

// DefaultConfig returns the defaults used by the hub.
func DefaultConfig() Config {
	return Config{
		Initial:              75,
		Baseline:             75,
		MaxActivityDelta:     1,
		MaxTickDelta:         0.5,
		MaterialityThreshold: 0.5,
		TickInterval:         time.Minute,
	}
}

// Validate checks config bounds.
func (c Config) Validate() error {
	if c.Initial < MinCoherence || c.Initial > MaxCoherence {
		return fmt.Errorf("initial coherence must be within [0,100], got %v", c.Initial)
	}
	if c.Baseline < MinCoherence || c.Baseline > MaxCoherence {
		return fmt.Errorf("baseline must be within [0,100], got %v", c.Baseline)
	}
	if c.MaxActivityDelta < 0 || c.MaxTickDelta < 0 {
		return fmt.Errorf("delta bounds must be non-negative")
	}
	if c.MaterialityThreshold < 0 {
		return fmt.Errorf("materiality threshold must be non-negative")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	return nil
}

// Drift supplies the natural fluctuation applied on each self-tick.
type Drift interface {
	Delta(coherence float64) float64
}

// BaselineDrift relaxes coherence toward Baseline by at most Step per tick.
type BaselineDrift struct {
	Baseline float64
	Step     float64
}

// Delta implements Drift.
func (d BaselineDrift) Delta(coherence float64) float64 {
	diff := d.Baseline - coherence
	if math.Abs(diff) <= d.Step {
		return diff
	}
	if diff > 0 {
		return d.Step
	}
	return -d.Step
}

// Tracker owns the field state.
type Tracker struct {
	bus    *eventbus.Bus
	clock  clock.Clock
	logger *zap.Logger
	drift  Drift
	config Config

	mu            sync.Mutex
	state         State
	lastPublished float64
	subs          []eventbus.Subscription

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for timestamps and the tick loop.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithDrift replaces the default baseline drift.
func WithDrift(d Drift) Option {
	return func(t *Tracker) {
		t.drift = d
	}
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(t *Tracker) {
		t.config = cfg
	}
}

// New creates a Tracker. Call Attach to start consuming bus events.
func New(bus *eventbus.Bus, logger *zap.Logger, opts ...Option) (*Tracker, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	t := &Tracker{
		bus:    bus,
		clock:  clock.New(),
		logger: logger.Named("field"),
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field config: %w", err)
	}
	if t.drift == nil {
		t.drift = BaselineDrift{Baseline: t.config.Baseline, Step: t.config.MaxTickDelta}
	}

	t.state = State{
		Coherence: t.config.Initial,
		Trend:     TrendStable,
		UpdatedAt: t.clock.Now(),
	}
	t.lastPublished = t.config.Initial
	return t, nil
}

// Attach subscribes the tracker to activity, ceremony completion and ticks.
func (t *Tracker) Attach() error {
	topics := []eventbus.Topic{
		eventbus.TopicActivityRecorded,
		eventbus.TopicCeremonyCompleted,
		eventbus.TopicFieldTick,
	}

	subs := make([]eventbus.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := t.bus.Subscribe(topic, t.handle)
		if err != nil {
			t.bus.Unsubscribe(subs...)
			return err
		}
		subs = append(subs, sub)
	}

	t.mu.Lock()
	t.subs = subs
	t.mu.Unlock()
	return nil
}

// Detach removes the tracker's subscriptions.
func (t *Tracker) Detach() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	t.bus.Unsubscribe(subs...)
}

// State returns the current field state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start runs the self-tick loop until ctx is cancelled or Stop is called.
func (t *Tracker) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.cancel != nil {
		return fmt.Errorf("field tracker is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	done := make(chan struct{})
	t.done = done
	ticker := t.clock.Ticker(t.config.TickInterval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.bus.Publish(ctx, eventbus.FieldTick{At: now})
			}
		}
	}()

	t.logger.Info("field tracker started",
		zap.Duration("tick_interval", t.config.TickInterval),
		zap.Float64("coherence", t.State().Coherence),
	)
	return nil
}

// Stop ends the tick loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Tracker) handle(ctx context.Context, ev eventbus.Event) error {
	switch e := ev.(type) {
	case eventbus.ActivityRecorded:
		t.apply(ctx, fixed(boundAbs(e.Delta, t.config.MaxActivityDelta)), e.Topic())
	case eventbus.CeremonyCompleted:
		t.apply(ctx, fixed(math.Max(0, finite(e.TotalFieldShift))), e.Topic())
	case eventbus.FieldTick:
		t.apply(ctx, func(coherence float64) float64 {
			return boundAbs(t.drift.Delta(coherence), t.config.MaxTickDelta)
		}, e.Topic())
	}
	return nil
}

func fixed(delta float64) func(float64) float64 {
	return func(float64) float64 { return delta }
}

// apply computes a delta from the current coherence and applies it under
// one lock, then publishes outside the lock when the change since the last
// publication reaches the materiality threshold.
func (t *Tracker) apply(ctx context.Context, deltaFn func(coherence float64) float64, cause eventbus.Topic) {
	t.mu.Lock()
	prev := t.state.Coherence
	next := Clamp(prev + finite(deltaFn(prev)))
	applied := next - prev

	t.state = State{
		Coherence: next,
		Trend:     TrendOf(applied),
		UpdatedAt: t.clock.Now(),
	}

	var update *eventbus.FieldUpdated
	if applied != 0 && math.Abs(next-t.lastPublished) >= t.config.MaterialityThreshold {
		update = &eventbus.FieldUpdated{
			Coherence: next,
			Previous:  t.lastPublished,
			Delta:     next - t.lastPublished,
			Trend:     string(TrendOf(next - t.lastPublished)),
			Cause:     cause,
			UpdatedAt: t.state.UpdatedAt,
		}
		t.lastPublished = next
	}
	t.mu.Unlock()

	if update != nil {
		t.logger.Debug("field updated",
			zap.Float64("coherence", update.Coherence),
			zap.String("trend", update.Trend),
			zap.String("cause", string(cause)),
		)
		t.bus.Publish(ctx, *update)
	}
}

// Clamp bounds v to [MinCoherence, MaxCoherence].
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinCoherence
	}
	return math.Max(MinCoherence, math.Min(MaxCoherence, v))
}

func boundAbs(v, limit float64) float64 {
	v = finite(v)
	return math.Max(-limit, math.Min(limit, v))
}

// finite maps NaN to zero; infinities are left for the caller's bounds.
func finite(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
