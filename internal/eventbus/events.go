package eventbus

import "time"

// Topic names a bus channel.
type Topic string

// Published topics.
const (
	TopicCeremonyAnnounced     Topic = "ceremony:announced"
	TopicCeremonyPhaseStarted  Topic = "ceremony:phase-started"
	TopicCeremonyCompleted     Topic = "ceremony:completed"
	TopicDeliberationCompleted Topic = "deliberation:completed"
	TopicFieldUpdated          Topic = "field:updated"
	TopicActivityRecorded      Topic = "activity:recorded"
	TopicFieldTick             Topic = "field:tick"
)

// Topics returns every topic the hub publishes.
func Topics() []Topic {
	return []Topic{
		TopicCeremonyAnnounced,
		TopicCeremonyPhaseStarted,
		TopicCeremonyCompleted,
		TopicDeliberationCompleted,
		TopicFieldUpdated,
		TopicActivityRecorded,
		TopicFieldTick,
	}
}

// Event is the closed set of bus payloads. Subscribers type-switch on the
// concrete variants below; no type outside this package can satisfy it.
type Event interface {
	// Topic returns the topic the event is published on.
	Topic() Topic
	event()
}

// CeremonyAnnounced is published when a ceremony instance is created.
type CeremonyAnnounced struct {
	InstanceID   string        `json:"instance_id"`
	DefinitionID string        `json:"definition_id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Channel      string        `json:"channel"`
	PhaseCount   int           `json:"phase_count"`
	Duration     time.Duration `json:"duration"`
	LeadAgents   []string      `json:"lead_agents,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
}

// CeremonyPhaseStarted is published at the start of every phase.
type CeremonyPhaseStarted struct {
	InstanceID   string        `json:"instance_id"`
	DefinitionID string        `json:"definition_id"`
	PhaseIndex   int           `json:"phase_index"`
	PhaseName    string        `json:"phase_name"`
	Prompt       string        `json:"prompt"`
	Duration     time.Duration `json:"duration"`
	Lead         string        `json:"lead,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
}

// CeremonyCompleted is published exactly once per instance.
type CeremonyCompleted struct {
	InstanceID       string        `json:"instance_id"`
	DefinitionID     string        `json:"definition_id"`
	Name             string        `json:"name"`
	ParticipantCount int           `json:"participant_count"`
	TotalFieldShift  float64       `json:"total_field_shift"`
	DurationActual   time.Duration `json:"duration_actual"`
	PhasesCompleted  int           `json:"phases_completed"`
	Forced           bool          `json:"forced"`
	KeyInsights      []string      `json:"key_insights,omitempty"`
	CompletedAt      time.Time     `json:"completed_at"`
}

// DeliberationCompleted carries a council synthesis.
type DeliberationCompleted struct {
	SessionID               string    `json:"session_id"`
	Subject                 string    `json:"topic"`
	CoherenceScore          float64   `json:"coherence_score"`
	ParticipatingAgentCount int       `json:"participating_agent_count"`
	AgentIDs                []string  `json:"agent_ids,omitempty"`
	SynthesisText           string    `json:"synthesis_text"`
	CompletedAt             time.Time `json:"completed_at"`
}

// FieldUpdated is published when coherence moves past the materiality threshold.
type FieldUpdated struct {
	Coherence float64   `json:"coherence"`
	Previous  float64   `json:"previous"`
	Delta     float64   `json:"delta"`
	Trend     string    `json:"trend"`
	Cause     Topic     `json:"cause"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActivityRecorded is the generic activity signal (one per inbound message).
type ActivityRecorded struct {
	Source    string    `json:"source"`
	AuthorID  string    `json:"author_id,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Delta     float64   `json:"delta"`
	At        time.Time `json:"at"`
}

// FieldTick is the field tracker's periodic self-tick.
type FieldTick struct {
	At time.Time `json:"at"`
}

func (CeremonyAnnounced) Topic() Topic     { return TopicCeremonyAnnounced }
func (CeremonyPhaseStarted) Topic() Topic  { return TopicCeremonyPhaseStarted }
func (CeremonyCompleted) Topic() Topic     { return TopicCeremonyCompleted }
func (DeliberationCompleted) Topic() Topic { return TopicDeliberationCompleted }
func (FieldUpdated) Topic() Topic          { return TopicFieldUpdated }
func (ActivityRecorded) Topic() Topic      { return TopicActivityRecorded }
func (FieldTick) Topic() Topic             { return TopicFieldTick }

func (CeremonyAnnounced) event()     {}
func (CeremonyPhaseStarted) event()  {}
func (CeremonyCompleted) event()     {}
func (DeliberationCompleted) event() {}
func (FieldUpdated) event()          {}
func (ActivityRecorded) event()      {}
func (FieldTick) event()             {}
