package transport

import (
	"context"
	"fmt"
	"sync"
)

// Sent is one recorded outbound post.
type Sent struct {
	Channel Channel `json:"channel"`
	Message Message `json:"message"`
}

// Memory is an in-process Transport. Channels must be created up front;
// everything sent is recorded and can be read back with Sent.
type Memory struct {
	mu       sync.Mutex
	channels map[string]Channel
	sent     []Sent
	presence string
	online   bool
	closed   bool

	inMu     sync.RWMutex
	inClosed bool
	inbound  chan Inbound
	notify   func(Sent)
}

// MemoryOption configures a Memory transport.
type MemoryOption func(*Memory)

// WithChannels pre-creates channels by name.
func WithChannels(names ...string) MemoryOption {
	return func(m *Memory) {
		for _, name := range names {
			m.channels[name] = Channel{ID: name, Name: name}
		}
	}
}

// WithSendHook calls fn for every successful Send.
func WithSendHook(fn func(Sent)) MemoryOption {
	return func(m *Memory) {
		m.notify = fn
	}
}

// WithInboundBuffer sets the inbound queue size (default 256).
func WithInboundBuffer(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.inbound = make(chan Inbound, n)
		}
	}
}

// NewMemory creates an in-memory transport.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		channels: make(map[string]Channel),
		inbound:  make(chan Inbound, 256),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateChannel adds a channel and returns it.
func (m *Memory) CreateChannel(name string) Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := Channel{ID: name, Name: name}
	m.channels[name] = ch
	return ch
}

// RemoveChannel deletes a channel; later lookups return ErrChannelNotFound.
func (m *Memory) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// ResolveChannel implements Transport.
func (m *Memory) ResolveChannel(ctx context.Context, name string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Channel{}, ErrClosed
	}
	ch, ok := m.channels[name]
	if !ok {
		return Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	return ch, nil
}

// Send implements Transport.
func (m *Memory) Send(ctx context.Context, ch Channel, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Empty() {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s := Sent{Channel: ch, Message: msg}
	m.sent = append(m.sent, s)
	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		notify(s)
	}
	return nil
}

// Messages implements Transport.
func (m *Memory) Messages() <-chan Inbound {
	return m.inbound
}

// Deliver queues an inbound message. It blocks when the buffer is full.
func (m *Memory) Deliver(ctx context.Context, in Inbound) error {
	m.inMu.RLock()
	defer m.inMu.RUnlock()
	if m.inClosed {
		return ErrClosed
	}

	select {
	case m.inbound <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPresence implements PresenceSetter.
func (m *Memory) SetPresence(_ context.Context, text string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence, m.online = text, online
	return nil
}

// Presence returns the last presence line set.
func (m *Memory) Presence() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presence, m.online
}

// Sent returns everything posted to the named channel, or to every channel
// when name is empty.
func (m *Memory) Sent(name string) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sent
	for _, s := range m.sent {
		if name == "" || s.Channel.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Close implements Transport. Safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.inMu.Lock()
	defer m.inMu.Unlock()
	if !m.inClosed {
		m.inClosed = true
		close(m.inbound)
	}
	return nil
}
