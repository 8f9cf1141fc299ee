package council

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/eventbus"
	"github.com/fyrsmithlabs/councild/internal/logging"
)

// DefaultPacing is the pause between agents in a deliberation.
const DefaultPacing = 2 * time.Second

// excerptLength is the per-perspective excerpt size in a synthesis.
const excerptLength = 100

// Perspective is one agent's contribution to a session.
type Perspective struct {
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Harmony   string    `json:"harmony"`
	Color     string    `json:"color,omitempty"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Session is a deliberation in consultation order. It is discarded once the
// completion event is published.
type Session struct {
	ID           string        `json:"id"`
	Topic        string        `json:"topic"`
	Perspectives []Perspective `json:"perspectives"`
	StartedAt    time.Time     `json:"started_at"`
}

// Synthesis is the outcome of a deliberation.
type Synthesis struct {
	Text           string        `json:"text"`
	CoherenceScore float64       `json:"coherence_score"`
	AgentIDs       []string      `json:"agent_ids"`
	Duration       time.Duration `json:"duration"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// QuickResult is a single-agent answer.
type QuickResult struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Harmony   string `json:"harmony"`
	Color     string `json:"color,omitempty"`
	Text      string `json:"text"`
	Fallback  bool   `json:"fallback"`
}

// PerspectiveFunc observes perspectives as they arrive.
type PerspectiveFunc func(Perspective)

// Coordinator consults the council.
type Coordinator struct {
	agents  []Agent
	byID    map[string]int
	bus     *eventbus.Bus
	clock   clock.Clock
	logger  *zap.Logger
	scoring ScoringStrategy
	pacing  time.Duration
	metrics *Metrics
	tracer  trace.Tracer
	newID   func() string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for pacing and timestamps.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// WithRand sets the source for quick-query agent selection.
func WithRand(r *rand.Rand) Option {
	return func(co *Coordinator) {
		co.rng = r
	}
}

// WithScoring replaces HarmonicScoring.
func WithScoring(s ScoringStrategy) Option {
	return func(co *Coordinator) {
		co.scoring = s
	}
}

// WithPacing sets the pause between agents. Zero disables it.
func WithPacing(d time.Duration) Option {
	return func(co *Coordinator) {
		co.pacing = d
	}
}

// WithMetrics sets OTEL metrics.
func WithMetrics(m *Metrics) Option {
	return func(co *Coordinator) {
		co.metrics = m
	}
}

// WithTracer sets the tracer for council.deliberate spans.
func WithTracer(t trace.Tracer) Option {
	return func(co *Coordinator) {
		co.tracer = t
	}
}

// WithSessionIDs overrides session id generation.
func WithSessionIDs(fn func() string) Option {
	return func(co *Coordinator) {
		co.newID = fn
	}
}

// New creates a Coordinator over agents, consulted in the given order.
func New(agents []Agent, bus *eventbus.Bus, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if err := validateAgents(agents); err != nil {
		return nil, err
	}
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	c := &Coordinator{
		agents:  append([]Agent(nil), agents...),
		byID:    make(map[string]int, len(agents)),
		bus:     bus,
		clock:   clock.New(),
		logger:  logger.Named("council"),
		scoring: NewHarmonicScoring(),
		pacing:  DefaultPacing,
		tracer:  Tracer(),
		newID:   uuid.NewString,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i, a := range c.agents {
		c.byID[a.ID] = i
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Agents returns the council in consultation order.
func (c *Coordinator) Agents() []Agent {
	return append([]Agent(nil), c.agents...)
}

// Agent looks an agent up by id.
func (c *Coordinator) Agent(id string) (Agent, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Agent{}, false
	}
	return c.agents[i], true
}

// QuickQuery asks one uniformly chosen agent. It never fails: a provider
// error yields the agent's fallback text.
func (c *Coordinator) QuickQuery(ctx context.Context, prompt string) QuickResult {
	c.rngMu.Lock()
	agent := c.agents[c.rng.Intn(len(c.agents))]
	c.rngMu.Unlock()

	res := QuickResult{
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Harmony:   agent.Harmony,
		Color:     agent.Color,
	}

	text, err := c.call(ctx, agent, prompt)
	if err != nil {
		c.providerFailed(ctx, err, "quick_query")
		res.Text = FallbackText(agent.Name)
		res.Fallback = true
	} else {
		res.Text = text
	}

	c.metrics.RecordQuery(ctx, agent.ID, res.Fallback)
	return res
}

// Deliberate consults every agent in order and synthesizes the result.
func (c *Coordinator) Deliberate(ctx context.Context, topic string) (*Session, Synthesis) {
	return c.DeliberateWith(ctx, topic, nil)
}

// DeliberateWith is Deliberate with a callback invoked after each successful
// perspective, in consultation order.
//
// Agents are consulted one at a time with the pacing pause in between.
// Failing agents are logged and left out of the session. Exactly one
// deliberation:completed event is published per call.
func (c *Coordinator) DeliberateWith(ctx context.Context, topic string, onPerspective PerspectiveFunc) (*Session, Synthesis) {
	session := &Session{
		ID:        c.newID(),
		Topic:     topic,
		StartedAt: c.clock.Now(),
	}

	ctx, span := c.tracer.Start(ctx, "council.deliberate", trace.WithAttributes(
		attribute.String("deliberation.session", session.ID),
		attribute.Int("council.agents", len(c.agents)),
	))
	defer span.End()

	ctx = logging.WithDeliberationSession(ctx, session.ID)
	logger := c.logger.With(logging.ContextFields(ctx)...)
	logger.Info("deliberation started", zap.Int("agents", len(c.agents)), logging.MemberText("topic", topic))

	for i, agent := range c.agents {
		if i > 0 && !c.pause(ctx) {
			logger.Warn("deliberation interrupted", zap.Error(ctx.Err()))
			break
		}

		text, err := c.call(ctx, agent, PerspectivePrompt(topic, agent.Harmony))
		if err != nil {
			c.providerFailed(ctx, err, "deliberate")
			continue
		}

		p := Perspective{
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Harmony:   agent.Harmony,
			Color:     agent.Color,
			Text:      text,
			At:        c.clock.Now(),
		}
		session.Perspectives = append(session.Perspectives, p)
		if onPerspective != nil {
			onPerspective(p)
		}
	}

	synthesis := c.synthesize(topic, session)
	span.SetAttributes(
		attribute.Int("council.perspectives", len(session.Perspectives)),
		attribute.Float64("council.coherence", synthesis.CoherenceScore),
	)

	c.metrics.RecordDeliberation(ctx, len(session.Perspectives), synthesis.CoherenceScore, synthesis.Duration)
	logger.Info("deliberation completed",
		zap.Int("perspectives", len(session.Perspectives)),
		zap.Float64("coherence", synthesis.CoherenceScore),
	)

	c.bus.Publish(ctx, eventbus.DeliberationCompleted{
		SessionID:               session.ID,
		Subject:                 topic,
		CoherenceScore:          synthesis.CoherenceScore,
		ParticipatingAgentCount: len(session.Perspectives),
		AgentIDs:                synthesis.AgentIDs,
		SynthesisText:           synthesis.Text,
		CompletedAt:             synthesis.CompletedAt,
	})
	return session, synthesis
}

func (c *Coordinator) synthesize(topic string, session *Session) Synthesis {
	parts := make([]string, 0, len(session.Perspectives))
	ids := make([]string, 0, len(session.Perspectives))
	for _, p := range session.Perspectives {
		parts = append(parts, fmt.Sprintf("**%s**: %s...", p.Harmony, excerpt(p.Text, excerptLength)))
		ids = append(ids, p.AgentID)
	}

	var score float64
	if len(session.Perspectives) > 0 {
		score = ClampScore(c.scoring.Score(topic, session.Perspectives))
	}

	now := c.clock.Now()
	return Synthesis{
		Text:           strings.Join(parts, "\n\n"),
		CoherenceScore: score,
		AgentIDs:       ids,
		Duration:       now.Sub(session.StartedAt),
		CompletedAt:    now,
	}
}

// call runs one provider request and normalizes failures to ProviderError.
func (c *Coordinator) call(ctx context.Context, agent Agent, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ProviderError{AgentID: agent.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	text, err = agent.Provider.GenerateResponse(ctx, agent.SystemPrompt, prompt)
	if err != nil {
		return "", &ProviderError{AgentID: agent.ID, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ProviderError{AgentID: agent.ID, Err: ErrEmptyText}
	}
	return text, nil
}

func (c *Coordinator) providerFailed(ctx context.Context, err error, operation string) {
	agentID := ""
	if pe, ok := err.(*ProviderError); ok {
		agentID = pe.AgentID
	}
	c.metrics.RecordProviderError(ctx, agentID, operation)
	c.logger.Warn("agent provider failed",
		zap.String("agent_id", agentID),
		zap.String("operation", operation),
		zap.Error(err),
	)
}

// pause waits out the pacing interval; false if ctx ended first.
func (c *Coordinator) pause(ctx context.Context) bool {
	if c.pacing <= 0 {
		return ctx.Err() == nil
	}
	timer := c.clock.Timer(c.pacing)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
