package ceremony

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/eventbus"
	"github.com/fyrsmithlabs/councild/internal/logging"
	"github.com/fyrsmithlabs/councild/internal/transport"
)

// errInstanceDone stops a runner whose instance was force-completed under it.
var errInstanceDone = errors.New("instance already completed")

// instance is the mutable runtime state behind an Instance snapshot. All
// fields after def are guarded by Orchestrator.mu.
type instance struct {
	id      string
	def     Definition
	channel transport.Channel
	started time.Time

	status       Status
	phase        int
	participants map[string]struct{}
	notes        []string
	wisdom       []PhaseWisdom
	done         bool
}

func (in *instance) snapshot() Instance {
	participants := make([]string, 0, len(in.participants))
	for p := range in.participants {
		participants = append(participants, p)
	}
	sort.Strings(participants)

	s := Instance{
		ID:           in.id,
		DefinitionID: in.def.ID,
		Name:         in.def.Name,
		Channel:      in.channel.Name,
		ChannelID:    in.channel.ID,
		Status:       in.status,
		PhaseIndex:   in.phase,
		PhaseCount:   len(in.def.Phases),
		Participants: participants,
		Wisdom:       append([]PhaseWisdom(nil), in.wisdom...),
		StartedAt:    in.started,
	}
	if in.phase >= 0 && in.phase < len(in.def.Phases) {
		s.PhaseName = in.def.Phases[in.phase].Name
	}
	return s
}

// Orchestrator owns every in-flight ceremony instance.
type Orchestrator struct {
	bus       *eventbus.Bus
	venue     Venue
	clock     clock.Clock
	logger    *zap.Logger
	collector InsightCollector
	guide     PhaseGuide
	metrics   *Metrics
	tracer    trace.Tracer

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	mu          sync.Mutex
	definitions map[string]Definition
	order       []string
	active      map[string]*instance
	seq         uint64
	isShutdown  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock phase waits run on.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithCollector replaces the default ParticipationCollector.
func WithCollector(c InsightCollector) Option {
	return func(o *Orchestrator) {
		o.collector = c
	}
}

// WithGuide enables lead-agent guidance at phase start.
func WithGuide(g PhaseGuide) Option {
	return func(o *Orchestrator) {
		o.guide = g
	}
}

// WithMetrics sets OTEL metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for ceremony.start spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// New creates an Orchestrator. Definitions are added with Register.
func New(bus *eventbus.Bus, venue Venue, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if venue == nil {
		return nil, fmt.Errorf("venue cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		bus:         bus,
		venue:       venue,
		clock:       clock.New(),
		logger:      logger.Named("ceremony"),
		tracer:      Tracer(),
		runCtx:      ctx,
		cancelRun:   cancel,
		definitions: make(map[string]Definition),
		active:      make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.collector == nil {
		o.collector = NewParticipationCollector(o)
	}
	return o, nil
}

// Register adds definitions after normalizing and validating them.
func (o *Orchestrator) Register(defs ...Definition) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	normalized := make([]Definition, 0, len(defs))
	for _, d := range defs {
		d = d.Normalize()
		if err := d.Validate(); err != nil {
			return err
		}
		if _, exists := o.definitions[d.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateDefinition, d.ID)
		}
		normalized = append(normalized, d)
	}
	for _, d := range normalized {
		o.definitions[d.ID] = d
		o.order = append(o.order, d.ID)
	}
	return nil
}

// Definitions returns registered definitions in registration order.
func (o *Orchestrator) Definitions() []Definition {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Definition, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.definitions[id])
	}
	return out
}

// Definition looks a definition up by id.
func (o *Orchestrator) Definition(id string) (Definition, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.definitions[id]
	return d, ok
}

// DefinitionForChannel finds the definition whose venue is the named channel.
func (o *Orchestrator) DefinitionForChannel(name string) (Definition, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range o.order {
		if d := o.definitions[id]; d.Channel == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Start announces a new instance of definitionID and runs its phases in the
// background. It fails with ErrTransportUnavailable, without creating an
// instance, when the ceremony channel cannot be resolved.
func (o *Orchestrator) Start(ctx context.Context, definitionID string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "ceremony.start",
		trace.WithAttributes(attribute.String("ceremony.definition_id", definitionID)))
	defer span.End()

	fail := func(reason string, err error) (string, error) {
		o.metrics.RecordRejected(ctx, definitionID, reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return "", err
	}

	o.mu.Lock()
	def, err := o.admitLocked(definitionID)
	o.mu.Unlock()
	if err != nil {
		return fail(rejectReason(err), err)
	}

	ch, err := o.venue.ResolveChannel(ctx, def.Channel)
	if err != nil {
		o.logger.Warn("ceremony venue unavailable",
			zap.String("definition_id", def.ID),
			zap.String("channel", def.Channel),
			zap.Error(err),
		)
		return fail("transport_unavailable", fmt.Errorf("%w: %s: %v", ErrTransportUnavailable, def.Channel, err))
	}

	inst, err := o.create(def, ch)
	if err != nil {
		return fail(rejectReason(err), err)
	}
	span.SetAttributes(attribute.String("ceremony.instance_id", inst.id))

	o.metrics.RecordStarted(ctx, def.ID)
	o.logger.Info("ceremony announced",
		zap.String("instance_id", inst.id),
		zap.String("definition_id", def.ID),
		zap.Duration("duration", def.Duration),
	)
	o.send(ctx, inst, transport.Message{
		Title:  def.Name + " Beginning",
		Text:   fmt.Sprintf("Sacred space opening for %d minutes", int(def.Duration.Minutes())),
		Footer: def.Description,
		Color:  "#9400D3",
	})
	o.bus.Publish(ctx, eventbus.CeremonyAnnounced{
		InstanceID:   inst.id,
		DefinitionID: def.ID,
		Name:         def.Name,
		Description:  def.Description,
		Channel:      ch.Name,
		PhaseCount:   len(def.Phases),
		Duration:     def.Duration,
		LeadAgents:   append([]string(nil), def.LeadAgents...),
		StartedAt:    inst.started,
	})

	go o.run(o.runCtx, inst)
	return inst.id, nil
}

// admitLocked checks that a new instance of definitionID may start.
func (o *Orchestrator) admitLocked(definitionID string) (Definition, error) {
	if o.isShutdown {
		return Definition{}, ErrShutdown
	}
	def, ok := o.definitions[definitionID]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownDefinition, definitionID)
	}
	if !def.AllowOverlap {
		for _, in := range o.active {
			if in.def.ID == def.ID {
				return Definition{}, fmt.Errorf("%w: %s is running as %s", ErrOverlapRejected, def.ID, in.id)
			}
		}
	}
	return def, nil
}

func (o *Orchestrator) create(def Definition, ch transport.Channel) (*instance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Re-check: shutdown or an overlapping start may have happened while the
	// channel was being resolved.
	if _, err := o.admitLocked(def.ID); err != nil {
		return nil, err
	}

	now := o.clock.Now()
	o.seq++
	inst := &instance{
		id:           fmt.Sprintf("%s-%d-%d", def.ID, now.UnixMilli(), o.seq),
		def:          def,
		channel:      ch,
		started:      now,
		status:       StatusAnnounced,
		phase:        -1,
		participants: make(map[string]struct{}),
	}
	o.active[inst.id] = inst
	o.wg.Add(1)
	return inst, nil
}

// run drives one instance through its phases.
func (o *Orchestrator) run(ctx context.Context, inst *instance) {
	defer o.wg.Done()

	ctx = logging.WithCeremonyInstance(ctx, inst.id)
	deadline := inst.started
	for i, phase := range inst.def.Phases {
		if ctx.Err() != nil {
			return
		}
		if err := o.advance(inst, i); err != nil {
			return
		}

		o.metrics.RecordPhase(ctx, inst.def.ID)
		o.logger.Debug("ceremony phase started", append(logging.ContextFields(ctx),
			zap.Int("phase_index", i),
			zap.String("phase", phase.Name),
		)...)
		o.bus.Publish(ctx, eventbus.CeremonyPhaseStarted{
			InstanceID:   inst.id,
			DefinitionID: inst.def.ID,
			PhaseIndex:   i,
			PhaseName:    phase.Name,
			Prompt:       phase.Prompt,
			Duration:     phase.Duration,
			Lead:         phase.Lead,
			StartedAt:    deadline,
		})
		o.postPhase(ctx, inst, phase, deadline)

		deadline = deadline.Add(phase.Duration)
		if !o.sleepUntil(ctx, deadline) {
			return
		}

		wisdom := o.collect(ctx, inst, phase)
		wisdom.CollectedAt = deadline
		if err := o.record(inst, i, wisdom); err != nil {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	o.complete(ctx, inst, false, deadline)
}

// advance moves inst into phase i.
func (o *Orchestrator) advance(inst *instance, i int) error {
	o.mu.Lock()
	if inst.done {
		o.mu.Unlock()
		return errInstanceDone
	}
	if i != inst.phase+1 || i >= len(inst.def.Phases) || !inst.status.CanTransitionTo(StatusInPhase) {
		err := &InvariantError{InstanceID: inst.id, Expected: inst.phase + 1, Observed: i, Detail: "phase transition out of order"}
		status := inst.status
		o.mu.Unlock()
		o.logger.DPanic("ceremony state machine invariant broken",
			zap.Error(err),
			zap.String("status", string(status)),
		)
		return err
	}
	inst.phase = i
	inst.status = StatusInPhase
	inst.notes = nil
	o.mu.Unlock()
	return nil
}

// record appends the wisdom collected for phase i.
func (o *Orchestrator) record(inst *instance, i int, w PhaseWisdom) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if inst.done {
		return errInstanceDone
	}
	if inst.phase != i {
		err := &InvariantError{InstanceID: inst.id, Expected: inst.phase, Observed: i, Detail: "wisdom recorded for a phase that is not current"}
		o.logger.DPanic("ceremony state machine invariant broken", zap.Error(err))
		return err
	}

	w.PhaseIndex = i
	w.PhaseName = inst.def.Phases[i].Name
	if math.IsNaN(w.FieldShift) || w.FieldShift < 0 {
		w.FieldShift = 0
	}
	if w.ParticipantCount < 0 {
		w.ParticipantCount = 0
	}
	inst.wisdom = append(inst.wisdom, w)
	return nil
}

// complete publishes ceremony:completed and retires inst. Only the first call
// per instance has any effect.
func (o *Orchestrator) complete(ctx context.Context, inst *instance, forced bool, at time.Time) bool {
	o.mu.Lock()
	if inst.done {
		o.mu.Unlock()
		return false
	}
	inst.done = true
	inst.status = StatusCompleted
	delete(o.active, inst.id)

	var shift float64
	var insights []string
	for _, w := range inst.wisdom {
		shift += w.FieldShift
		insights = append(insights, w.KeyInsights...)
	}
	ev := eventbus.CeremonyCompleted{
		InstanceID:       inst.id,
		DefinitionID:     inst.def.ID,
		Name:             inst.def.Name,
		ParticipantCount: len(inst.participants),
		TotalFieldShift:  shift,
		DurationActual:   at.Sub(inst.started),
		PhasesCompleted:  len(inst.wisdom),
		Forced:           forced,
		KeyInsights:      insights,
		CompletedAt:      at,
	}
	o.mu.Unlock()

	o.metrics.RecordCompleted(ctx, inst.def.ID, forced, ev.ParticipantCount, ev.DurationActual)
	o.logger.Info("ceremony completed",
		zap.String("instance_id", inst.id),
		zap.Int("participants", ev.ParticipantCount),
		zap.Float64("field_shift", ev.TotalFieldShift),
		zap.Int("phases_completed", ev.PhasesCompleted),
		zap.Bool("forced", forced),
	)

	o.send(ctx, inst, transport.Message{
		Title:  inst.def.Name + " Complete",
		Text:   inst.def.ClosingWisdom,
		Footer: "May this practice serve all beings",
		Color:  "#FFD700",
	})
	o.bus.Publish(ctx, ev)
	return true
}

func (o *Orchestrator) sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := deadline.Sub(o.clock.Now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := o.clock.Timer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return ctx.Err() == nil
	}
}

// collect calls the insight collector, degrading to an empty record on
// error or panic.
func (o *Orchestrator) collect(ctx context.Context, inst *instance, phase Phase) (w PhaseWisdom) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("insight collector panicked, recovering",
				zap.String("instance_id", inst.id),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			w = PhaseWisdom{}
		}
	}()

	w, err := o.collector.CollectPhaseWisdom(ctx, inst.id, phase)
	if err != nil {
		o.logger.Warn("phase wisdom unavailable",
			zap.String("instance_id", inst.id),
			zap.String("phase", phase.Name),
			zap.Error(err),
		)
		return PhaseWisdom{}
	}
	return w
}

// postPhase posts the phase prompt and any lead guidance to the venue.
func (o *Orchestrator) postPhase(ctx context.Context, inst *instance, phase Phase, at time.Time) {
	if phase.Prompt != "" {
		o.send(ctx, inst, transport.Message{Title: phase.Name, Text: phase.Prompt})
	}
	if o.guide == nil {
		return
	}

	var guidance []Guidance
	func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("phase guide panicked, recovering",
					zap.String("instance_id", inst.id),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		guidance = o.guide.PhaseGuidance(ctx, phase, at)
	}()

	for _, g := range guidance {
		if g.Text == "" {
			continue
		}
		o.send(ctx, inst, transport.Message{Title: phase.Name, Author: g.Author, Text: g.Text, Color: g.Color})
	}
}

// send posts to the instance channel; failures are logged and ignored.
func (o *Orchestrator) send(ctx context.Context, inst *instance, msg transport.Message) {
	if err := o.venue.Send(ctx, inst.channel, msg); err != nil {
		o.logger.Warn("ceremony post failed",
			zap.String("instance_id", inst.id),
			zap.String("channel", inst.channel.Name),
			zap.Error(err),
		)
	}
}

// RecordParticipant adds participantID to the instance. It is idempotent
// and a no-op for unknown or finished instances. Reports whether the
// participant was newly added.
func (o *Orchestrator) RecordParticipant(instanceID, participantID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.active[instanceID]
	if !ok || participantID == "" {
		return false
	}
	if _, seen := inst.participants[participantID]; seen {
		return false
	}
	inst.participants[participantID] = struct{}{}
	return true
}

// RecordContribution records participantID and keeps text as a candidate
// insight for the current phase.
func (o *Orchestrator) RecordContribution(instanceID, participantID, text string) bool {
	added := o.RecordParticipant(instanceID, participantID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if inst, ok := o.active[instanceID]; ok && text != "" && inst.phase >= 0 {
		inst.notes = append(inst.notes, text)
	}
	return added
}

// PhaseParticipation implements ParticipationSource.
func (o *Orchestrator) PhaseParticipation(instanceID string) (int, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.active[instanceID]
	if !ok {
		return 0, nil
	}
	return len(inst.participants), append([]string(nil), inst.notes...)
}

// ActiveInstances lists snapshots of running instances, oldest first.
func (o *Orchestrator) ActiveInstances() []Instance {
	o.mu.Lock()
	out := make([]Instance, 0, len(o.active))
	for _, inst := range o.active {
		out = append(out, inst.snapshot())
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ActiveInChannel lists running instances whose venue is the named channel.
func (o *Orchestrator) ActiveInChannel(name string) []Instance {
	var out []Instance
	for _, in := range o.ActiveInstances() {
		if in.Channel == name {
			out = append(out, in)
		}
	}
	return out
}

// Instance returns a snapshot of a running instance.
func (o *Orchestrator) Instance(id string) (Instance, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.active[id]
	if !ok {
		return Instance{}, false
	}
	return inst.snapshot(), true
}

// Shutdown stops every runner, waits for them to exit, then force-completes
// the remaining instances with the wisdom collected so far. If ctx expires
// first, remaining instances are still force-completed and ctx's error is
// returned. Safe to call more than once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.isShutdown {
		o.mu.Unlock()
		return nil
	}
	o.isShutdown = true
	o.mu.Unlock()

	o.cancelRun()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		o.logger.Warn("ceremony runners did not stop in time", zap.Error(err))
	}

	o.mu.Lock()
	remaining := make([]*instance, 0, len(o.active))
	for _, inst := range o.active {
		remaining = append(remaining, inst)
	}
	o.mu.Unlock()
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].id < remaining[j].id })

	completeCtx := context.WithoutCancel(ctx)
	now := o.clock.Now()
	for _, inst := range remaining {
		o.complete(completeCtx, inst, true, now)
	}

	o.logger.Info("ceremony orchestrator shut down", zap.Int("force_completed", len(remaining)))
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, ErrUnknownDefinition):
		return "unknown_definition"
	case errors.Is(err, ErrOverlapRejected):
		return "overlap"
	default:
		return "error"
	}
}
