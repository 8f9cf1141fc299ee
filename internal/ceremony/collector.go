package ceremony

import (
	"context"
	"math"
	"time"

	"github.com/fyrsmithlabs/councild/internal/transport"
)

// Venue is the part of the chat transport a ceremony needs.
type Venue interface {
	ResolveChannel(ctx context.Context, name string) (transport.Channel, error)
	Send(ctx context.Context, ch transport.Channel, msg transport.Message) error
}

// InsightCollector produces the wisdom record at the end of each phase. The
// orchestrator treats the returned FieldShift as opaque input and only
// clamps it to be non-negative.
type InsightCollector interface {
	CollectPhaseWisdom(ctx context.Context, instanceID string, phase Phase) (PhaseWisdom, error)
}

// Guidance is one lead agent's words for a phase.
type Guidance struct {
	Author string
	Color  string
	Text   string
}

// PhaseGuide supplies lead-agent guidance when a phase starts. Failures are
// the guide's to handle; an empty result just skips the guidance post.
type PhaseGuide interface {
	PhaseGuidance(ctx context.Context, phase Phase, at time.Time) []Guidance
}

// ParticipationSource reports who took part in the current phase of an
// instance. The Orchestrator implements it.
type ParticipationSource interface {
	PhaseParticipation(instanceID string) (participants int, contributions []string)
}

// ParticipationCollector derives phase wisdom from recorded participation:
// contributions become key insights and the field shift grows with the
// number of participants. The shift formula is a deterministic placeholder.
type ParticipationCollector struct {
	Source              ParticipationSource
	BaseShift           float64
	ShiftPerParticipant float64
	MaxShift            float64
	MaxInsights         int
	MaxInsightLength    int
}

// NewParticipationCollector returns a collector with the default weights.
func NewParticipationCollector(src ParticipationSource) *ParticipationCollector {
	return &ParticipationCollector{
		Source:              src,
		BaseShift:           0.5,
		ShiftPerParticipant: 0.25,
		MaxShift:            5,
		MaxInsights:         3,
		MaxInsightLength:    200,
	}
}

// CollectPhaseWisdom implements InsightCollector.
func (c *ParticipationCollector) CollectPhaseWisdom(_ context.Context, instanceID string, phase Phase) (PhaseWisdom, error) {
	count, contributions := c.Source.PhaseParticipation(instanceID)

	shift := c.BaseShift + c.ShiftPerParticipant*float64(count)
	shift = math.Max(0, math.Min(c.MaxShift, shift))

	var insights []string
	for _, text := range contributions {
		if c.MaxInsights > 0 && len(insights) >= c.MaxInsights {
			break
		}
		insights = append(insights, truncate(text, c.MaxInsightLength))
	}

	return PhaseWisdom{
		PhaseName:        phase.Name,
		ParticipantCount: count,
		KeyInsights:      insights,
		FieldShift:       shift,
	}, nil
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
