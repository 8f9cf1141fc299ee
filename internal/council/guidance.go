package council

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/ceremony"
)

var _ ceremony.PhaseGuide = (*Coordinator)(nil)

// ResolveLeads maps a phase lead to agents. "all" is the whole council,
// "rotating" picks one agent by day since the Unix epoch, anything else is
// an agent id. Unknown ids resolve to nothing.
func (c *Coordinator) ResolveLeads(lead string, at time.Time) []Agent {
	switch lead {
	case "":
		return nil
	case ceremony.LeadAll:
		return c.Agents()
	case ceremony.LeadRotating:
		days := at.Unix() / 86400
		idx := int(days % int64(len(c.agents)))
		if idx < 0 {
			idx += len(c.agents)
		}
		return []Agent{c.agents[idx]}
	}
	if a, ok := c.Agent(lead); ok {
		return []Agent{a}
	}
	return nil
}

// PhaseGuidance asks the phase leads for guidance. Failing leads are skipped.
func (c *Coordinator) PhaseGuidance(ctx context.Context, phase ceremony.Phase, at time.Time) []ceremony.Guidance {
	leads := c.ResolveLeads(phase.Lead, at)
	if len(leads) == 0 {
		if phase.Lead != "" {
			c.logger.Warn("unknown phase lead", zap.String("phase", phase.Name), zap.String("lead", phase.Lead))
		}
		return nil
	}

	out := make([]ceremony.Guidance, 0, len(leads))
	for _, agent := range leads {
		text, err := c.call(ctx, agent, GuidancePrompt(agent.Name, phase.Name))
		if err != nil {
			c.providerFailed(ctx, err, "guidance")
			continue
		}
		out = append(out, ceremony.Guidance{Author: agent.Name, Color: agent.Color, Text: text})
	}
	return out
}
