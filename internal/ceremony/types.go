// Package ceremony runs scheduled, multi-phase ceremonies.
//
// Each started ceremony is an Instance driven by its own goroutine through
// Announced -> Phase(0) -> ... -> Phase(n-1) -> Completed. Phase waits use
// the injected clock and are measured from the previous phase deadline, so
// the observed phase durations always add up to the declared total.
package ceremony

import (
	"fmt"
	"time"
)

// Phase lead values besides a plain agent id.
const (
	LeadAll      = "all"
	LeadRotating = "rotating"
)

// Phase is one timed step of a ceremony.
type Phase struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Prompt   string        `json:"prompt,omitempty"`
	Lead     string        `json:"lead,omitempty"`
}

// Definition is an immutable ceremony template.
type Definition struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Schedule      string        `json:"schedule"`
	Duration      time.Duration `json:"duration"`
	Phases        []Phase       `json:"phases"`
	LeadAgents    []string      `json:"lead_agents,omitempty"`
	Channel       string        `json:"channel"`
	ClosingWisdom string        `json:"closing_wisdom,omitempty"`
	AllowOverlap  bool          `json:"allow_overlap"`
}

// ChannelName returns the configured channel or the ceremony-<id> default.
func (d Definition) ChannelName() string {
	if d.Channel != "" {
		return d.Channel
	}
	return "ceremony-" + d.ID
}

// PhaseTotal sums the phase durations.
func (d Definition) PhaseTotal() time.Duration {
	var total time.Duration
	for _, p := range d.Phases {
		total += p.Duration
	}
	return total
}

// Normalize fills defaults: Channel from the id, Duration from the phases,
// and ClosingWisdom from DefaultClosingWisdom.
func (d Definition) Normalize() Definition {
	d.Channel = d.ChannelName()
	if d.Duration == 0 {
		d.Duration = d.PhaseTotal()
	}
	if d.ClosingWisdom == "" {
		d.ClosingWisdom = DefaultClosingWisdom
	}
	d.Phases = append([]Phase(nil), d.Phases...)
	d.LeadAgents = append([]string(nil), d.LeadAgents...)
	return d
}

// Validate checks a normalized definition.
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidDefinition, d.ID)
	}
	if len(d.Phases) == 0 {
		return fmt.Errorf("%w: %s: at least one phase is required", ErrInvalidDefinition, d.ID)
	}
	for i, p := range d.Phases {
		if p.Name == "" {
			return fmt.Errorf("%w: %s: phase %d has no name", ErrInvalidDefinition, d.ID, i)
		}
		if p.Duration <= 0 {
			return fmt.Errorf("%w: %s: phase %q must have a positive duration", ErrInvalidDefinition, d.ID, p.Name)
		}
	}
	if total := d.PhaseTotal(); d.Duration != total {
		return fmt.Errorf("%w: %s: declared duration %s does not match phase total %s",
			ErrInvalidDefinition, d.ID, d.Duration, total)
	}
	return nil
}

// Status is the lifecycle state of an instance.
type Status string

const (
	StatusAnnounced Status = "announced"
	StatusInPhase   Status = "in_phase"
	StatusCompleted Status = "completed"
)

// ValidTransitions defines allowed state transitions. InPhase -> InPhase is
// the advance to the next phase.
var ValidTransitions = map[Status][]Status{
	StatusAnnounced: {StatusInPhase, StatusCompleted},
	StatusInPhase:   {StatusInPhase, StatusCompleted},
	StatusCompleted: {}, // terminal
}

// CanTransitionTo checks if a transition from current status to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// PhaseWisdom is the record collected at the end of a phase.
type PhaseWisdom struct {
	PhaseIndex       int       `json:"phase_index"`
	PhaseName        string    `json:"phase_name"`
	ParticipantCount int       `json:"participant_count"`
	KeyInsights      []string  `json:"key_insights,omitempty"`
	FieldShift       float64   `json:"field_shift"`
	CollectedAt      time.Time `json:"collected_at"`
}

// Instance is a point-in-time snapshot of a running ceremony.
type Instance struct {
	ID           string        `json:"id"`
	DefinitionID string        `json:"definition_id"`
	Name         string        `json:"name"`
	Channel      string        `json:"channel"`
	ChannelID    string        `json:"channel_id"`
	Status       Status        `json:"status"`
	PhaseIndex   int           `json:"phase_index"`
	PhaseName    string        `json:"phase_name,omitempty"`
	PhaseCount   int           `json:"phase_count"`
	Participants []string      `json:"participants"`
	Wisdom       []PhaseWisdom `json:"wisdom"`
	StartedAt    time.Time     `json:"started_at"`
}
