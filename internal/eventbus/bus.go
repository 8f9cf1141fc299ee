// Package eventbus is the in-process publish/subscribe hub that every
// councild component talks through.
//
// Dispatch is synchronous: Publish calls each handler of the topic in
// subscription order and returns once they have all returned. A handler that
// needs to do slow work starts its own goroutine and returns early; the bus
// does not wait for it. Handler errors and panics are recovered per handler
// and reported as *HandlerFault, so one broken subscriber never affects the
// others or the publisher.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one event. A returned error is logged as a handler fault.
type Handler func(ctx context.Context, ev Event) error

// Subscription identifies one registered handler.
type Subscription struct {
	id    uint64
	topic Topic
}

// ID returns the subscription's unique id.
func (s Subscription) ID() uint64 { return s.id }

// Topic returns the subscribed topic.
func (s Subscription) Topic() Topic { return s.topic }

type subscriber struct {
	id uint64
	fn Handler
}

// Bus dispatches events to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Topic][]subscriber

	logger    *zap.Logger
	metrics   *Metrics
	faultHook func(*HandlerFault)
}

// Option configures a Bus.
type Option func(*Bus)

// WithMetrics sets OTEL metrics for the bus.
func WithMetrics(m *Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithFaultHook registers a callback invoked for every handler fault.
func WithFaultHook(hook func(*HandlerFault)) Option {
	return func(b *Bus) {
		b.faultHook = hook
	}
}

// New creates a Bus.
func New(logger *zap.Logger, opts ...Option) (*Bus, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}

	b := &Bus{
		handlers: make(map[Topic][]subscriber),
		logger:   logger.Named("eventbus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics, _ = NewMetrics(nil)
	}
	return b, nil
}

// Subscribe registers h for topic. Handlers of one topic run in the order
// they subscribed.
func (b *Bus) Subscribe(topic Topic, h Handler) (Subscription, error) {
	if h == nil {
		return Subscription{}, ErrNilHandler
	}

	b.mu.Lock()
	b.nextID++
	sub := Subscription{id: b.nextID, topic: topic}
	b.handlers[topic] = append(b.handlers[topic], subscriber{id: sub.id, fn: h})
	b.mu.Unlock()

	b.logger.Debug("handler subscribed",
		zap.String("topic", string(topic)),
		zap.Uint64("subscription_id", sub.id),
	)
	return sub, nil
}

// SubscribeAll registers h on every topic in Topics.
func (b *Bus) SubscribeAll(h Handler) ([]Subscription, error) {
	topics := Topics()
	subs := make([]Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := b.Subscribe(topic, h)
		if err != nil {
			b.Unsubscribe(subs...)
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Unsubscribe removes the given subscriptions. Unknown handles are ignored.
func (b *Bus) Unsubscribe(subs ...Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range subs {
		current := b.handlers[sub.topic]
		for i, s := range current {
			if s.id != sub.id {
				continue
			}
			// Copy so in-flight Publish snapshots are not mutated.
			next := make([]subscriber, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			if len(next) == 0 {
				delete(b.handlers, sub.topic)
			} else {
				b.handlers[sub.topic] = next
			}
			break
		}
	}
}

// Publish delivers ev to every handler currently subscribed to its topic.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev == nil {
		return
	}
	topic := ev.Topic()

	b.mu.RLock()
	subs := b.handlers[topic]
	b.mu.RUnlock()

	b.metrics.RecordPublished(ctx, topic, len(subs))

	for _, s := range subs {
		b.dispatch(ctx, topic, s, ev)
	}
}

// HandlerCount returns the number of handlers subscribed to topic.
func (b *Bus) HandlerCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

func (b *Bus) dispatch(ctx context.Context, topic Topic, s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.fault(ctx, &HandlerFault{Topic: topic, SubscriptionID: s.id, Recovered: r}, zap.Stack("stack"))
		}
	}()

	if err := s.fn(ctx, ev); err != nil {
		b.fault(ctx, &HandlerFault{Topic: topic, SubscriptionID: s.id, Cause: err})
	}
}

func (b *Bus) fault(ctx context.Context, f *HandlerFault, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("topic", string(f.Topic)),
		zap.Uint64("subscription_id", f.SubscriptionID),
		zap.Error(f),
	}, extra...)
	if f.Recovered != nil {
		fields = append(fields, zap.Any("panic", f.Recovered))
	}
	b.logger.Error("event handler fault", fields...)
	b.metrics.RecordFault(ctx, f.Topic, f.Recovered != nil)

	if b.faultHook != nil {
		b.faultHook(f)
	}
}
