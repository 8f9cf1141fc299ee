package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/eventbus"
)

const (
	sseBuffer    = 64
	sseHeartbeat = 30 * time.Second
)

// handleEvents streams bus events via Server-Sent Events until the client
// disconnects. An optional comma-separated topic query narrows the stream.
//
//	GET /api/v1/events?topic=field:updated,ceremony:completed
//
//	event: field:updated
//	data: {"topic":"field:updated","published_at":"...","payload":{...}}
//
// Events are dropped for a client that cannot keep up.
func (s *Server) handleEvents(c echo.Context) error {
	bus := s.registry.Bus()
	topics, err := parseTopics(c.QueryParam("topic"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	events := make(chan eventbus.Event, sseBuffer)
	handler := func(_ context.Context, ev eventbus.Event) error {
		select {
		case events <- ev:
		default:
			s.logger.Debug("sse client lagging, event dropped", zap.String("topic", string(ev.Topic())))
		}
		return nil
	}

	var subs []eventbus.Subscription
	for _, topic := range topics {
		sub, err := bus.Subscribe(topic, handler)
		if err != nil {
			bus.Unsubscribe(subs...)
			return err
		}
		subs = append(subs, sub)
	}
	defer bus.Unsubscribe(subs...)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	fmt.Fprint(res, ": connected\n\n")
	res.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			data, err := eventbus.Encode(ev, time.Now())
			if err != nil {
				s.logger.Warn("encoding sse event", zap.Error(err))
				continue
			}
			fmt.Fprintf(res, "event: %s\n", ev.Topic())
			fmt.Fprintf(res, "data: %s\n\n", data)
			res.Flush()

		case <-ticker.C:
			fmt.Fprint(res, ": heartbeat\n\n")
			res.Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// parseTopics resolves the topic filter; empty means every topic.
func parseTopics(raw string) ([]eventbus.Topic, error) {
	all := eventbus.Topics()
	if strings.TrimSpace(raw) == "" {
		return all, nil
	}

	known := make(map[eventbus.Topic]bool, len(all))
	for _, t := range all {
		known[t] = true
	}

	var out []eventbus.Topic
	seen := make(map[eventbus.Topic]bool)
	for _, part := range strings.Split(raw, ",") {
		t := eventbus.Topic(strings.TrimSpace(part))
		if t == "" || seen[t] {
			continue
		}
		if !known[t] {
			return nil, fmt.Errorf("unknown topic %q", t)
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}
