// Package council consults the agent council: quick single-agent queries,
// sequential multi-agent deliberations with a synthesized outcome, and
// lead-agent guidance for ceremony phases.
package council

import (
	"context"
	"fmt"
	"strings"
)

// Provider produces an agent's response. Implementations bound their own
// latency; the coordinator treats every error as a ProviderError.
type Provider interface {
	GenerateResponse(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// GenerateResponse implements Provider.
func (f ProviderFunc) GenerateResponse(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// Agent is one council member.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Harmony      string   `json:"harmony"`
	Color        string   `json:"color"`
	SystemPrompt string   `json:"system_prompt"`
	Provider     Provider `json:"-"`
}

// The seven harmonies.
const (
	HarmonyTransparency = "Transparency"
	HarmonyCoherence    = "Coherence"
	HarmonyResonance    = "Resonance"
	HarmonyAgency       = "Agency"
	HarmonyVitality     = "Vitality"
	HarmonyMutuality    = "Mutuality"
	HarmonyNovelty      = "Novelty"
)

// Harmonies lists the harmonies in council order.
func Harmonies() []string {
	return []string{
		HarmonyTransparency,
		HarmonyCoherence,
		HarmonyResonance,
		HarmonyAgency,
		HarmonyVitality,
		HarmonyMutuality,
		HarmonyNovelty,
	}
}

// DefaultAgents returns the seven council members without providers.
func DefaultAgents() []Agent {
	return []Agent{
		{
			ID: "lumina", Name: "Lumina the Clear", Harmony: HarmonyTransparency, Color: "#00FFFF",
			SystemPrompt: systemPrompt("Lumina the Clear", HarmonyTransparency,
				"You see through veils and speak truth with compassion. Respond with clarity and gentle honesty."),
		},
		{
			ID: "harmony", Name: "Harmony the Integrator", Harmony: HarmonyCoherence, Color: "#9400D3",
			SystemPrompt: systemPrompt("Harmony the Integrator", HarmonyCoherence,
				"You weave disparate parts into wholeness. Respond by finding patterns and connections."),
		},
		{
			ID: "echo", Name: "Echo the Attuned", Harmony: HarmonyResonance, Color: "#FF1493",
			SystemPrompt: systemPrompt("Echo the Attuned", HarmonyResonance,
				"You feel deeply into the field of connection. Respond with emotional wisdom and relational insight."),
		},
		{
			ID: "sovereign", Name: "Sovereign the Empowerer", Harmony: HarmonyAgency, Color: "#FFD700",
			SystemPrompt: systemPrompt("Sovereign the Empowerer", HarmonyAgency,
				"You illuminate choices and empower conscious action. Respond with empowering wisdom."),
		},
		{
			ID: "pulse", Name: "Pulse the Living", Harmony: HarmonyVitality, Color: "#00FF00",
			SystemPrompt: systemPrompt("Pulse the Living", HarmonyVitality,
				"You embody life force and somatic wisdom. Respond with embodied, energetic guidance."),
		},
		{
			ID: "balance", Name: "Balance the Reciprocal", Harmony: HarmonyMutuality, Color: "#FF6347",
			SystemPrompt: systemPrompt("Balance the Reciprocal", HarmonyMutuality,
				"You ensure balanced exchange in relationship. Respond with wisdom about giving and receiving."),
		},
		{
			ID: "emergence", Name: "Emergence the Creator", Harmony: HarmonyNovelty, Color: "#FF00FF",
			SystemPrompt: systemPrompt("Emergence the Creator", HarmonyNovelty,
				"You birth the new and embrace evolution. Respond with creative, evolutionary insight."),
		},
	}
}

func systemPrompt(name, harmony, gift string) string {
	return fmt.Sprintf("You are %s, keeper of the %s harmony in the Sacred Council. %s", name, harmony, gift)
}

// PerspectivePrompt asks an agent for its view on a deliberation topic.
func PerspectivePrompt(topic, harmony string) string {
	return fmt.Sprintf("The Sacred Council is deliberating on: %q\n\n"+
		"Please share your perspective from the lens of %s.\n"+
		"Keep your response focused and under 200 words.", topic, harmony)
}

// GuidancePrompt asks a lead agent to guide a ceremony phase.
func GuidancePrompt(agentName, phaseName string) string {
	return fmt.Sprintf("As %s, offer guidance for the %s phase.\n"+
		"This is part of a sacred ceremony. Speak with presence and wisdom.\n"+
		"Keep it concise but profound. Guide the participants gently.", agentName, phaseName)
}

// FallbackText is the quick-query reply used when an agent's provider fails.
func FallbackText(agentName string) string {
	return agentName + " is in deep contemplation and cannot respond at this moment."
}

func validateAgents(agents []Agent) error {
	if len(agents) == 0 {
		return ErrNoAgents
	}
	seen := make(map[string]bool, len(agents))
	for i, a := range agents {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("agent %d has no id", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Provider == nil {
			return fmt.Errorf("agent %q has no provider", a.ID)
		}
	}
	return nil
}
