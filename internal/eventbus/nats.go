package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the NATS subject prefix for mirrored events.
const DefaultSubjectPrefix = "councild.events"

// Envelope is the JSON wire form of a mirrored event.
type Envelope struct {
	Topic       Topic           `json:"topic"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Subject maps a topic onto a NATS subject under prefix.
//
//	ceremony:phase-started -> <prefix>.ceremony.phase-started
func Subject(prefix string, topic Topic) string {
	return prefix + "." + strings.ReplaceAll(string(topic), ":", ".")
}

// Encode wraps ev in an Envelope and marshals it.
func Encode(ev Event, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Topic(), err)
	}
	return json.Marshal(Envelope{
		Topic:       ev.Topic(),
		PublishedAt: at,
		Payload:     payload,
	})
}

// NATSMirror republishes every bus event as JSON on NATS so that external
// consumers (archivers, dashboards, other hubs) can follow the field.
type NATSMirror struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	bus  *Bus
	subs []Subscription
}

// NewNATSMirror creates a mirror publishing under prefix.
func NewNATSMirror(nc *nats.Conn, prefix string, logger *zap.Logger) (*NATSMirror, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSMirror{
		conn:   nc,
		prefix: prefix,
		logger: logger.Named("nats-mirror"),
		now:    time.Now,
	}, nil
}

// Attach subscribes the mirror to every topic on b.
func (m *NATSMirror) Attach(b *Bus) error {
	subs, err := b.SubscribeAll(m.handle)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.bus = b
	m.subs = subs
	m.mu.Unlock()

	m.logger.Info("mirroring bus events to nats", zap.String("prefix", m.prefix))
	return nil
}

// Detach unsubscribes the mirror and flushes pending publishes.
func (m *NATSMirror) Detach() {
	m.mu.Lock()
	bus, subs := m.bus, m.subs
	m.bus, m.subs = nil, nil
	m.mu.Unlock()

	if bus != nil {
		bus.Unsubscribe(subs...)
	}
	if err := m.conn.Flush(); err != nil {
		m.logger.Warn("nats flush failed", zap.Error(err))
	}
}

func (m *NATSMirror) handle(_ context.Context, ev Event) error {
	data, err := Encode(ev, m.now())
	if err != nil {
		return err
	}
	subject := Subject(m.prefix, ev.Topic())
	if err := m.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
