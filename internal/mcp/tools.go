package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/field"
)

const (
	defaultWisdomLimit = 5
	maxWisdomLimit     = 50
)

var (
	// ErrArchiveDisabled is returned by wisdom_search when no archive is configured.
	ErrArchiveDisabled = errors.New("wisdom archive is disabled")

	errRequired = errors.New("required")
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerCouncilTools()
	s.registerCeremonyTools()
	s.registerFieldTools()
	s.registerWisdomTools()
	s.registerSearchTools()
}

// instrumented wraps a tool handler with invocation metrics.
func instrumented[In, Out any](s *Server, meta *ToolMetadata, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.begin(ctx, meta.Name, meta.Category)
		res, out, err := h(ctx, req, in)
		done(err)
		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", meta.Name), zap.Error(err))
		}
		return res, out, err
	}
}

// addTool registers a handler with the MCP server and its metadata with the
// tool registry.
func addTool[In, Out any](s *Server, meta *ToolMetadata, h mcp.ToolHandlerFor[In, Out]) {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: meta.Name, Description: meta.Description}, instrumented(s, meta, h))
	s.toolRegistry.Register(meta)
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// ===== COUNCIL TOOLS =====

type oracleQueryInput struct {
	Question string `json:"question" jsonschema:"The question to put to a randomly chosen council agent"`
}

type oracleQueryOutput struct {
	AgentID   string `json:"agent_id" jsonschema:"ID of the agent that answered"`
	AgentName string `json:"agent_name" jsonschema:"Display name of the agent"`
	Harmony   string `json:"harmony" jsonschema:"The agent's harmonic frequency"`
	Text      string `json:"text" jsonschema:"The answer"`
	Fallback  bool   `json:"fallback" jsonschema:"True when the provider failed and a fallback answer was used"`
}

type councilDeliberateInput struct {
	Topic string `json:"topic" jsonschema:"The topic every council agent reflects on"`
}

type perspectiveOutput struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Harmony   string `json:"harmony"`
	Text      string `json:"text"`
}

type councilDeliberateOutput struct {
	SessionID       string              `json:"session_id" jsonschema:"Deliberation session ID"`
	Topic           string              `json:"topic" jsonschema:"Topic deliberated"`
	Perspectives    []perspectiveOutput `json:"perspectives" jsonschema:"Agent perspectives in consultation order"`
	Synthesis       string              `json:"synthesis" jsonschema:"Synthesized council wisdom"`
	CoherenceScore  float64             `json:"coherence_score" jsonschema:"Harmonic coherence score between 0 and 100"`
	DurationSeconds float64             `json:"duration_seconds" jsonschema:"Deliberation wall time"`
}

func (s *Server) registerCouncilTools() {
	addTool(s, &ToolMetadata{
		Name:        "oracle_query",
		Description: "Ask one council agent a question and get a single perspective",
		Category:    CategoryCouncil,
		Keywords:    []string{"oracle", "ask", "question", "agent"},
	}, s.oracleQuery)

	addTool(s, &ToolMetadata{
		Name:        "council_deliberate",
		Description: "Consult every council agent on a topic and synthesize their perspectives",
		Category:    CategoryCouncil,
		Keywords:    []string{"council", "deliberation", "synthesis", "perspectives"},
	}, s.councilDeliberate)
}

func (s *Server) oracleQuery(ctx context.Context, _ *mcp.CallToolRequest, in oracleQueryInput) (*mcp.CallToolResult, oracleQueryOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, oracleQueryOutput{}, fmt.Errorf("question is %w", errRequired)
	}

	r := s.registry.Council().QuickQuery(ctx, question)
	out := oracleQueryOutput{
		AgentID:   r.AgentID,
		AgentName: r.AgentName,
		Harmony:   r.Harmony,
		Text:      r.Text,
		Fallback:  r.Fallback,
	}
	return textResult("%s (%s): %s", r.AgentName, r.Harmony, r.Text), out, nil
}

func (s *Server) councilDeliberate(ctx context.Context, _ *mcp.CallToolRequest, in councilDeliberateInput) (*mcp.CallToolResult, councilDeliberateOutput, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, councilDeliberateOutput{}, fmt.Errorf("topic is %w", errRequired)
	}

	session, syn := s.registry.Council().Deliberate(ctx, topic)
	out := councilDeliberateOutput{
		SessionID:       session.ID,
		Topic:           session.Topic,
		Perspectives:    make([]perspectiveOutput, 0, len(session.Perspectives)),
		Synthesis:       syn.Text,
		CoherenceScore:  syn.CoherenceScore,
		DurationSeconds: syn.Duration.Seconds(),
	}
	for _, p := range session.Perspectives {
		out.Perspectives = append(out.Perspectives, perspectiveOutput{
			AgentID:   p.AgentID,
			AgentName: p.AgentName,
			Harmony:   p.Harmony,
			Text:      p.Text,
		})
	}
	return textResult("%s\n\nCoherence: %.2f", syn.Text, syn.CoherenceScore), out, nil
}

// ===== CEREMONY TOOLS =====

type ceremonyStartInput struct {
	DefinitionID string `json:"definition_id" jsonschema:"ID of the ceremony definition to start"`
}

type ceremonyStartOutput struct {
	InstanceID string `json:"instance_id" jsonschema:"ID of the started ceremony instance"`
	Channel    string `json:"channel" jsonschema:"Channel the ceremony runs in"`
}

type ceremonyListInput struct{}

type definitionOutput struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Schedule        string   `json:"schedule,omitempty"`
	Channel         string   `json:"channel"`
	Phases          []string `json:"phases"`
	DurationSeconds float64  `json:"duration_seconds"`
	Next            string   `json:"next,omitempty" jsonschema:"Next scheduled start in RFC 3339"`
}

type instanceOutput struct {
	ID           string `json:"id"`
	DefinitionID string `json:"definition_id"`
	Name         string `json:"name"`
	Channel      string `json:"channel"`
	Status       string `json:"status"`
	PhaseName    string `json:"phase_name,omitempty"`
	PhaseIndex   int    `json:"phase_index"`
	PhaseCount   int    `json:"phase_count"`
	Participants int    `json:"participants"`
	StartedAt    string `json:"started_at"`
}

type ceremonyListOutput struct {
	Definitions []definitionOutput `json:"definitions" jsonschema:"Registered ceremony definitions"`
	Active      []instanceOutput   `json:"active" jsonschema:"Ceremonies in progress"`
}

func (s *Server) registerCeremonyTools() {
	addTool(s, &ToolMetadata{
		Name:        "ceremony_start",
		Description: "Start a ceremony now, outside its schedule",
		Category:    CategoryCeremony,
		Keywords:    []string{"ceremony", "start", "ritual", "manual"},
	}, s.ceremonyStart)

	addTool(s, &ToolMetadata{
		Name:        "ceremony_list",
		Description: "List ceremony definitions with their next scheduled start and the ceremonies in progress",
		Category:    CategoryCeremony,
		Keywords:    []string{"ceremony", "schedule", "active", "list"},
	}, s.ceremonyList)
}

func (s *Server) ceremonyStart(ctx context.Context, _ *mcp.CallToolRequest, in ceremonyStartInput) (*mcp.CallToolResult, ceremonyStartOutput, error) {
	id := strings.TrimSpace(in.DefinitionID)
	if id == "" {
		return nil, ceremonyStartOutput{}, fmt.Errorf("definition_id is %w", errRequired)
	}

	orch := s.registry.Ceremonies()
	instanceID, err := orch.Start(ctx, id)
	if err != nil {
		return nil, ceremonyStartOutput{}, fmt.Errorf("starting ceremony %q: %w", id, err)
	}

	def, _ := orch.Definition(id)
	out := ceremonyStartOutput{InstanceID: instanceID, Channel: def.Channel}
	return textResult("%s started in #%s (%s)", def.Name, def.Channel, instanceID), out, nil
}

func (s *Server) ceremonyList(_ context.Context, _ *mcp.CallToolRequest, _ ceremonyListInput) (*mcp.CallToolResult, ceremonyListOutput, error) {
	orch := s.registry.Ceremonies()
	sched := s.registry.Scheduler()

	defs := orch.Definitions()
	active := orch.ActiveInstances()
	out := ceremonyListOutput{
		Definitions: make([]definitionOutput, 0, len(defs)),
		Active:      make([]instanceOutput, 0, len(active)),
	}

	for _, d := range defs {
		do := definitionOutput{
			ID:              d.ID,
			Name:            d.Name,
			Description:     d.Description,
			Schedule:        d.Schedule,
			Channel:         d.Channel,
			DurationSeconds: d.Duration.Seconds(),
		}
		for _, p := range d.Phases {
			do.Phases = append(do.Phases, p.Name)
		}
		if sched != nil {
			if next, ok := sched.Next(d.ID); ok {
				do.Next = next.UTC().Format(time.RFC3339)
			}
		}
		out.Definitions = append(out.Definitions, do)
	}

	for _, inst := range active {
		out.Active = append(out.Active, instanceOutput{
			ID:           inst.ID,
			DefinitionID: inst.DefinitionID,
			Name:         inst.Name,
			Channel:      inst.Channel,
			Status:       string(inst.Status),
			PhaseName:    inst.PhaseName,
			PhaseIndex:   inst.PhaseIndex,
			PhaseCount:   inst.PhaseCount,
			Participants: len(inst.Participants),
			StartedAt:    inst.StartedAt.UTC().Format(time.RFC3339),
		})
	}

	return textResult("%d ceremonies defined, %d in progress", len(out.Definitions), len(out.Active)), out, nil
}

// ===== FIELD TOOLS =====

type fieldStateInput struct{}

type fieldStateOutput struct {
	Coherence float64 `json:"coherence" jsonschema:"Field coherence between 0 and 100"`
	Trend     string  `json:"trend" jsonschema:"Direction of the last change: rising, falling or stable"`
	Presence  string  `json:"presence" jsonschema:"Presence line shown in chat"`
	Online    bool    `json:"online" jsonschema:"True when coherence is above the online threshold"`
	UpdatedAt string  `json:"updated_at" jsonschema:"Time of the last change in RFC 3339"`
}

func (s *Server) registerFieldTools() {
	addTool(s, &ToolMetadata{
		Name:        "field_state",
		Description: "Read the current field coherence, its trend and the presence line",
		Category:    CategoryField,
		Keywords:    []string{"field", "coherence", "presence", "trend"},
	}, s.fieldState)
}

func (s *Server) fieldState(_ context.Context, _ *mcp.CallToolRequest, _ fieldStateInput) (*mcp.CallToolResult, fieldStateOutput, error) {
	st := s.registry.Field().State()
	p := field.PresenceFor(st)
	out := fieldStateOutput{
		Coherence: st.Coherence,
		Trend:     string(st.Trend),
		Presence:  p.Text,
		Online:    p.Online,
		UpdatedAt: st.UpdatedAt.UTC().Format(time.RFC3339),
	}
	return textResult("%s (%s)", p.Text, st.Trend), out, nil
}

// ===== WISDOM TOOLS =====

type wisdomSearchInput struct {
	Query string `json:"query,omitempty" jsonschema:"Semantic search query; empty lists the most recent wisdom"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type wisdomOutput struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	Similarity float32 `json:"similarity,omitempty"`
	At         string  `json:"at"`
}

type wisdomSearchOutput struct {
	Query   string         `json:"query,omitempty" jsonschema:"Search query used"`
	Results []wisdomOutput `json:"results" jsonschema:"Archived wisdom, best match or newest first"`
	Count   int            `json:"count" jsonschema:"Number of results returned"`
}

func (s *Server) registerWisdomTools() {
	addTool(s, &ToolMetadata{
		Name:        "wisdom_search",
		Description: "Search archived ceremony and council wisdom, or list the most recent entries",
		Category:    CategoryWisdom,
		Keywords:    []string{"wisdom", "archive", "history", "semantic"},
	}, s.wisdomSearch)
}

func (s *Server) wisdomSearch(ctx context.Context, _ *mcp.CallToolRequest, in wisdomSearchInput) (*mcp.CallToolResult, wisdomSearchOutput, error) {
	arch := s.registry.Archive()
	if arch == nil {
		return nil, wisdomSearchOutput{}, ErrArchiveDisabled
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultWisdomLimit
	}
	limit = min(limit, maxWisdomLimit)

	out := wisdomSearchOutput{Query: strings.TrimSpace(in.Query), Results: []wisdomOutput{}}
	if out.Query == "" {
		for _, e := range arch.Recent(limit) {
			out.Results = append(out.Results, wisdomOutput{
				ID: e.ID, Kind: e.Kind, Title: e.Title, Text: e.Text,
				At: e.At.UTC().Format(time.RFC3339),
			})
		}
	} else {
		results, err := arch.Search(ctx, out.Query, limit)
		if err != nil {
			return nil, wisdomSearchOutput{}, fmt.Errorf("wisdom search failed: %w", err)
		}
		for _, r := range results {
			out.Results = append(out.Results, wisdomOutput{
				ID: r.ID, Kind: r.Kind, Title: r.Title, Text: r.Text,
				Similarity: r.Similarity,
				At:         r.At.UTC().Format(time.RFC3339),
			})
		}
	}
	out.Count = len(out.Results)

	if out.Count == 0 {
		return textResult("No wisdom found."), out, nil
	}
	var b strings.Builder
	for _, r := range out.Results {
		fmt.Fprintf(&b, "**%s**\n%s\n\n", r.Title, r.Text)
	}
	return textResult("%s", strings.TrimSpace(b.String())), out, nil
}
