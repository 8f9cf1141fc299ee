package archive

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/eventbus"
)

// Attach subscribes the archive to completed ceremonies and deliberations.
func (a *Archive) Attach(bus *eventbus.Bus) ([]eventbus.Subscription, error) {
	c, err := bus.Subscribe(eventbus.TopicCeremonyCompleted, a.onCeremony)
	if err != nil {
		return nil, err
	}
	d, err := bus.Subscribe(eventbus.TopicDeliberationCompleted, a.onDeliberation)
	if err != nil {
		bus.Unsubscribe(c)
		return nil, err
	}
	return []eventbus.Subscription{c, d}, nil
}

func (a *Archive) onCeremony(ctx context.Context, ev eventbus.Event) error {
	e, ok := ev.(eventbus.CeremonyCompleted)
	if !ok {
		return nil
	}

	text := strings.Join(e.KeyInsights, "\n")
	if text == "" {
		text = fmt.Sprintf("%s gathered %d participants and shifted the field by %.2f.",
			e.Name, e.ParticipantCount, e.TotalFieldShift)
	}
	_, err := a.Add(ctx, Entry{
		Kind:   KindCeremony,
		Title:  e.Name,
		Text:   text,
		Source: e.InstanceID,
		Score:  e.TotalFieldShift,
		At:     e.CompletedAt,
	})
	return err
}

func (a *Archive) onDeliberation(ctx context.Context, ev eventbus.Event) error {
	e, ok := ev.(eventbus.DeliberationCompleted)
	if !ok {
		return nil
	}
	if e.SynthesisText == "" {
		a.logger.Debug("skipping empty deliberation", zap.String("session_id", e.SessionID))
		return nil
	}
	_, err := a.Add(ctx, Entry{
		Kind:   KindDeliberation,
		Title:  e.Subject,
		Text:   e.SynthesisText,
		Source: e.SessionID,
		Score:  e.CoherenceScore,
		At:     e.CompletedAt,
	})
	return err
}

// Format renders an entry for chat.
func Format(e Entry) string {
	if e.Title == "" {
		return e.Text
	}
	return fmt.Sprintf("**%s**\n%s", e.Title, e.Text)
}
