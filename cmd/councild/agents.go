package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/ceremony"
	"github.com/fyrsmithlabs/councild/internal/config"
	"github.com/fyrsmithlabs/councild/internal/council"
	"github.com/fyrsmithlabs/councild/internal/provider"
)

// buildAgents merges the configured agents onto the built-in council and
// attaches providers. A configured agent with a built-in ID overrides the
// fields it sets; any other ID joins the council.
func buildAgents(cc config.CouncilConfig, overrides []config.AgentConfig, logger *zap.Logger) ([]council.Agent, error) {
	agents := council.DefaultAgents()
	index := make(map[string]int, len(agents))
	for i, a := range agents {
		index[a.ID] = i
	}

	for _, o := range overrides {
		i, ok := index[o.ID]
		if !ok {
			agents = append(agents, council.Agent{ID: o.ID, Name: o.ID})
			i = len(agents) - 1
			index[o.ID] = i
		}
		a := &agents[i]
		if o.Name != "" {
			a.Name = o.Name
		}
		if o.Harmony != "" {
			a.Harmony = o.Harmony
		}
		if o.Color != "" {
			a.Color = o.Color
		}
		if o.SystemPrompt != "" {
			a.SystemPrompt = o.SystemPrompt
		}
		if a.SystemPrompt == "" {
			a.SystemPrompt = fmt.Sprintf("You are %s, a member of the council. Respond with care and brevity.", a.Name)
		}
	}

	if cc.Provider == "" || cc.Provider == provider.KindStatic {
		for i := range agents {
			agents[i].Provider = provider.NewStatic(agents[i].Name)
		}
		return agents, nil
	}

	// One LLM shares its rate limiter across the council.
	llm, err := provider.New(provider.Config{
		Kind:       cc.Provider,
		Model:      cc.Model,
		APIKey:     cc.APIKey,
		BaseURL:    cc.BaseURL,
		Timeout:    cc.Timeout.Duration(),
		RateLimit:  cc.RateLimit,
		Burst:      cc.Burst,
		MaxRetries: cc.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", cc.Provider, err)
	}
	for i := range agents {
		agents[i].Provider = llm
	}
	return agents, nil
}

// buildDefinitions converts the configured ceremonies, falling back to the
// built-in calendar when none are configured.
func buildDefinitions(cfgs []config.CeremonyConfig) ([]ceremony.Definition, error) {
	if len(cfgs) == 0 {
		return ceremony.DefaultDefinitions(), nil
	}

	defs := make([]ceremony.Definition, 0, len(cfgs))
	for _, c := range cfgs {
		d := ceremony.Definition{
			ID:            c.ID,
			Name:          c.Name,
			Description:   c.Description,
			Schedule:      c.Schedule,
			Channel:       c.Channel,
			LeadAgents:    c.LeadAgents,
			ClosingWisdom: c.ClosingWisdom,
			AllowOverlap:  c.AllowOverlap,
		}
		for _, p := range c.Phases {
			d.Phases = append(d.Phases, ceremony.Phase{
				Name:     p.Name,
				Duration: p.Duration.Duration(),
				Prompt:   p.Prompt,
				Lead:     p.Lead,
			})
		}
		d = d.Normalize()
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("ceremony %q: %w", c.ID, err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}
