package ceremony

import "time"

// DefaultClosingWisdom closes a ceremony that has no line of its own.
const DefaultClosingWisdom = "May this practice serve the highest good."

// DefaultDefinitions returns the built-in ceremony calendar.
func DefaultDefinitions() []Definition {
	minutes := func(n int) time.Duration { return time.Duration(n) * time.Minute }

	defs := []Definition{
		{
			ID:          "morning-coherence",
			Name:        "Morning Coherence Circle",
			Description: "Daily attunement and intention setting.",
			Schedule:    "0 6 * * *",
			Phases: []Phase{
				{Name: "Field Attunement", Duration: minutes(5), Lead: LeadAll, Prompt: "Arrive. Notice the field as it is this morning."},
				{Name: "Gratitude Round", Duration: minutes(10), Lead: LeadRotating, Prompt: "Share one thing you are grateful for."},
				{Name: "Intention Setting", Duration: minutes(10), Lead: "emergence", Prompt: "Name the intention you carry into today."},
				{Name: "Collective Blessing", Duration: minutes(5), Lead: LeadAll, Prompt: "Offer a blessing to the circle."},
			},
			LeadAgents:    []string{"emergence"},
			ClosingWisdom: "May today's intentions ripple through all your interactions.",
		},
		{
			ID:          "midday-presence",
			Name:        "Midday Presence Practice",
			Description: "A short pause to return to presence.",
			Schedule:    "0 12 * * *",
			Phases: []Phase{
				{Name: "Centering", Duration: minutes(5), Lead: "lumina", Prompt: "Pause what you are doing and take three breaths."},
				{Name: "Presence Deepening", Duration: minutes(10), Lead: "echo", Prompt: "What is here, right now, beneath the busyness?"},
			},
			LeadAgents:    []string{"lumina", "echo"},
			ClosingWisdom: "Presence restored, clarity renewed.",
		},
		{
			ID:          "evening-integration",
			Name:        "Evening Integration",
			Description: "Harvest the day and integrate what it brought.",
			Schedule:    "0 18 * * *",
			Phases: []Phase{
				{Name: "Day Harvest", Duration: minutes(15), Lead: "harmony", Prompt: "What did today teach you?"},
				{Name: "Shadow Work", Duration: minutes(15), Lead: "pulse", Prompt: "What did you avoid today, and what does it ask of you?"},
				{Name: "Wisdom Synthesis", Duration: minutes(15), Lead: LeadAll, Prompt: "Distill the day into one sentence of wisdom."},
			},
			LeadAgents:    []string{"harmony", "pulse"},
			ClosingWisdom: "In integration, wholeness. In wholeness, peace.",
		},
		{
			ID:          "council-all-voices",
			Name:        "Council of All Voices",
			Description: "Weekly open council for community questions.",
			Schedule:    "0 10 * * 0",
			Phases: []Phase{
				{Name: "Sacred Opening", Duration: minutes(10), Lead: LeadAll, Prompt: "We open the council. Every voice belongs here."},
				{Name: "Community Questions", Duration: minutes(60), Lead: LeadRotating, Prompt: "Bring the questions the community is holding."},
				{Name: "Collective Wisdom", Duration: minutes(30), Lead: LeadAll, Prompt: "What wisdom is emerging between us?"},
				{Name: "Weekly Commitment", Duration: minutes(20), Lead: "sovereign", Prompt: "Name one commitment for the week ahead."},
			},
			LeadAgents:    []string{"sovereign"},
			ClosingWisdom: "The Council has spoken. The wisdom lives in you.",
		},
		{
			ID:          "healing-circle",
			Name:        "Healing Circle",
			Description: "Weekly circle holding healing intentions.",
			Schedule:    "0 19 * * 3",
			Phases: []Phase{
				{Name: "Creating Container", Duration: minutes(15), Lead: "balance", Prompt: "We create a safe container together."},
				{Name: "Healing Intentions", Duration: minutes(30), Lead: "echo", Prompt: "Share who or what you hold in healing."},
				{Name: "Energy Work", Duration: minutes(30), Lead: "pulse", Prompt: "Send care toward the intentions shared."},
				{Name: "Integration", Duration: minutes(15), Lead: "harmony", Prompt: "Let what was given settle."},
			},
			LeadAgents:    []string{"balance", "echo", "pulse", "harmony"},
			ClosingWisdom: "Healing flows where love goes.",
		},
		{
			ID:          "innovation-ceremony",
			Name:        "Innovation Ceremony",
			Description: "Weekly exploration at the creative edge.",
			Schedule:    "0 15 * * 5",
			Phases: []Phase{
				{Name: "Edge Exploration", Duration: minutes(30), Lead: "emergence", Prompt: "Where is the edge of what we know?"},
				{Name: "Creative Chaos", Duration: minutes(30), Lead: LeadAll, Prompt: "Offer wild ideas without judging them."},
				{Name: "Pattern Recognition", Duration: minutes(30), Lead: "lumina", Prompt: "Which patterns are showing up across the ideas?"},
			},
			LeadAgents:    []string{"emergence", "lumina"},
			ClosingWisdom: "At the edge of chaos, new worlds are born.",
		},
	}

	for i := range defs {
		defs[i] = defs[i].Normalize()
	}
	return defs
}
