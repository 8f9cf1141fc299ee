// Package transport defines the chat boundary of the hub and ships two
// implementations: an in-memory transport for tests and embedded use, and a
// NATS transport that exchanges JSON messages with an external chat bridge.
package transport

import (
	"context"
	"errors"
	"time"
)

// Transport errors.
var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrClosed          = errors.New("transport is closed")
	ErrEmptyMessage    = errors.New("message has no content")
)

// Channel is a resolved chat venue.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is a structured outbound post. Transports render it however the
// underlying chat supports (embeds, markdown, plain text).
type Message struct {
	Title   string `json:"title,omitempty"`
	Author  string `json:"author,omitempty"`
	Text    string `json:"text"`
	Footer  string `json:"footer,omitempty"`
	Color   string `json:"color,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// Empty reports whether the message carries nothing to show.
func (m Message) Empty() bool {
	return m.Title == "" && m.Text == ""
}

// Inbound is a chat message delivered to the hub.
type Inbound struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name,omitempty"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Bot         bool      `json:"bot,omitempty"`
}

// Channel returns the venue the message arrived on.
func (in Inbound) Channel() Channel {
	return Channel{ID: in.ChannelID, Name: in.ChannelName}
}

// Transport is the chat adapter the hub talks through.
type Transport interface {
	// ResolveChannel looks a channel up by name. Returns ErrChannelNotFound
	// when the venue does not exist.
	ResolveChannel(ctx context.Context, name string) (Channel, error)

	// Send posts msg to ch.
	Send(ctx context.Context, ch Channel, msg Message) error

	// Messages streams inbound chat messages. The channel is closed by Close.
	Messages() <-chan Inbound

	Close() error
}

// PresenceSetter is implemented by transports that can show a status line.
type PresenceSetter interface {
	SetPresence(ctx context.Context, text string, online bool) error
}
