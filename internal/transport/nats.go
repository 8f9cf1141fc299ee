package transport

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

// DefaultNATSPrefix is the subject root shared with the chat bridge.
const DefaultNATSPrefix = "chat"

// Outbound is the wire form of a post published to the bridge.
type Outbound struct {
	Channel Channel   `json:"channel"`
	Message Message   `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// PresenceUpdate is the wire form of a presence change.
type PresenceUpdate struct {
	Text   string `json:"text"`
	Online bool   `json:"online"`
}

// NATSConfig configures a NATSTransport.
type NATSConfig struct {
	Prefix   string
	Channels []string
	Buffer   int
}

// NATSTransport exchanges chat traffic with an external bridge over NATS:
//
//	<prefix>.inbound            bridge -> hub, JSON Inbound
//	<prefix>.outbound.<channel> hub -> bridge, JSON Outbound
//	<prefix>.presence           hub -> bridge, JSON PresenceUpdate
//
// Channels are known from config or learned from inbound traffic.
type NATSTransport struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger

	mu       sync.Mutex
	channels map[string]Channel
	closed   bool

	sub      *nats.Subscription
	inMu     sync.RWMutex
	inClosed bool
	inbound  chan Inbound
}

// NewNATSTransport subscribes to the inbound subject and returns the
// transport.
func NewNATSTransport(nc *nats.Conn, cfg NATSConfig, logger *zap.Logger) (*NATSTransport, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultNATSPrefix
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}

	t := &NATSTransport{
		conn:     nc,
		prefix:   cfg.Prefix,
		logger:   logger.Named("nats-transport"),
		channels: make(map[string]Channel, len(cfg.Channels)),
		inbound:  make(chan Inbound, cfg.Buffer),
	}
	for _, name := range cfg.Channels {
		t.channels[name] = Channel{ID: name, Name: name}
	}

	sub, err := nc.Subscribe(t.InboundSubject(), t.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.InboundSubject(), err)
	}
	t.sub = sub
	return t, nil
}

// InboundSubject is where the bridge publishes chat messages.
func (t *NATSTransport) InboundSubject() string {
	return t.prefix + ".inbound"
}

// OutboundSubject is where posts for channel name are published.
func (t *NATSTransport) OutboundSubject(name string) string {
	return t.prefix + ".outbound." + subjectToken(name)
}

// PresenceSubject carries presence updates.
func (t *NATSTransport) PresenceSubject() string {
	return t.prefix + ".presence"
}

// ResolveChannel implements Transport.
func (t *NATSTransport) ResolveChannel(ctx context.Context, name string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Channel{}, ErrClosed
	}
	ch, ok := t.channels[name]
	if !ok {
		return Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	return ch, nil
}

// Send implements Transport.
func (t *NATSTransport) Send(ctx context.Context, ch Channel, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Empty() {
		return ErrEmptyMessage
	}
	if t.isClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(Outbound{Channel: ch, Message: msg, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal outbound: %w", err)
	}
	subject := t.OutboundSubject(ch.Name)
	if err := t.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// SetPresence implements PresenceSetter.
func (t *NATSTransport) SetPresence(_ context.Context, text string, online bool) error {
	if t.isClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(PresenceUpdate{Text: text, Online: online})
	if err != nil {
		return err
	}
	return t.conn.Publish(t.PresenceSubject(), data)
}

// Messages implements Transport.
func (t *NATSTransport) Messages() <-chan Inbound {
	return t.inbound
}

// Close unsubscribes and closes the inbound stream. The NATS connection is
// owned by the caller and stays open.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	var err error
	if t.sub != nil {
		err = t.sub.Unsubscribe()
	}

	t.inMu.Lock()
	t.inClosed = true
	close(t.inbound)
	t.inMu.Unlock()
	return err
}

func (t *NATSTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// receive runs on the NATS delivery goroutine.
func (t *NATSTransport) receive(msg *nats.Msg) {
	var in Inbound
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		t.logger.Warn("dropping malformed inbound message",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return
	}
	if in.ChannelName == "" {
		t.logger.Warn("dropping inbound message without channel", zap.String("author_id", in.AuthorID))
		return
	}
	if in.ChannelID == "" {
		in.ChannelID = in.ChannelName
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if _, ok := t.channels[in.ChannelName]; !ok {
		t.channels[in.ChannelName] = in.Channel()
	}
	t.mu.Unlock()

	t.inMu.RLock()
	defer t.inMu.RUnlock()
	if t.inClosed {
		return
	}
	select {
	case t.inbound <- in:
	default:
		t.logger.Warn("inbound buffer full, dropping message",
			zap.String("channel", in.ChannelName),
			zap.String("author_id", in.AuthorID),
		)
	}
}

// subjectToken makes a channel name safe for use as one subject token.
func subjectToken(name string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return r.Replace(name)
}
