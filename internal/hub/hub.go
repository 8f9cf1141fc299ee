// Package hub is the orchestration root. It wires the event bus, scheduler,
// ceremony orchestrator, council and field tracker to the chat transport,
// routes chat commands, and owns startup and shutdown ordering.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/ceremony"
	"github.com/fyrsmithlabs/councild/internal/council"
	"github.com/fyrsmithlabs/councild/internal/eventbus"
	"github.com/fyrsmithlabs/councild/internal/field"
	"github.com/fyrsmithlabs/councild/internal/scheduler"
	"github.com/fyrsmithlabs/councild/internal/services"
	"github.com/fyrsmithlabs/councild/internal/transport"
)

// Default channel names.
const (
	DefaultPetitionsChannel     = "council-petitions"
	DefaultDeliberationsChannel = "council-deliberations"
)

// Hub errors.
var (
	ErrAlreadyStarted = errors.New("hub already started")
	ErrNotStarted     = errors.New("hub not started")
)

// Options holds the hub's collaborators. Archive is optional.
type Options struct {
	Bus          *eventbus.Bus
	Transport    transport.Transport
	Ceremonies   *ceremony.Orchestrator
	Council      *council.Coordinator
	Field        *field.Tracker
	Scheduler    *scheduler.Scheduler
	Archive      *archive.Archive
	Clock        clock.Clock
	Logger       *zap.Logger
	Petitions    string
	Deliberation string
}

// Hub routes chat traffic to the components and owns their lifecycle.
type Hub struct {
	bus          *eventbus.Bus
	transport    transport.Transport
	ceremonies   *ceremony.Orchestrator
	council      *council.Coordinator
	field        *field.Tracker
	scheduler    *scheduler.Scheduler
	archive      *archive.Archive
	clock        clock.Clock
	logger       *zap.Logger
	petitions    string
	deliberation string

	mu       sync.Mutex
	started  bool
	stopped  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	subs     []eventbus.Subscription
	tasks    sync.WaitGroup
	consumer sync.WaitGroup
}

// New validates opts and builds a Hub.
func New(opts Options) (*Hub, error) {
	switch {
	case opts.Logger == nil:
		return nil, fmt.Errorf("logger cannot be nil")
	case opts.Bus == nil:
		return nil, fmt.Errorf("bus cannot be nil")
	case opts.Transport == nil:
		return nil, fmt.Errorf("transport cannot be nil")
	case opts.Ceremonies == nil:
		return nil, fmt.Errorf("ceremony orchestrator cannot be nil")
	case opts.Council == nil:
		return nil, fmt.Errorf("council cannot be nil")
	case opts.Field == nil:
		return nil, fmt.Errorf("field tracker cannot be nil")
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Petitions == "" {
		opts.Petitions = DefaultPetitionsChannel
	}
	if opts.Deliberation == "" {
		opts.Deliberation = DefaultDeliberationsChannel
	}

	return &Hub{
		bus:          opts.Bus,
		transport:    opts.Transport,
		ceremonies:   opts.Ceremonies,
		council:      opts.Council,
		field:        opts.Field,
		scheduler:    opts.Scheduler,
		archive:      opts.Archive,
		clock:        opts.Clock,
		logger:       opts.Logger.Named("hub"),
		petitions:    opts.Petitions,
		deliberation: opts.Deliberation,
	}, nil
}

// Registry exposes the hub's components to the HTTP and MCP surfaces.
func (h *Hub) Registry() services.Registry {
	return services.NewRegistry(services.Options{
		Bus:        h.bus,
		Ceremonies: h.ceremonies,
		Council:    h.council,
		Field:      h.field,
		Scheduler:  h.scheduler,
		Archive:    h.archive,
		Inbox:      h,
	})
}

// Start attaches the subscribers, schedules every registered ceremony,
// starts the field tick loop and begins consuming inbound messages.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return ErrAlreadyStarted
	}

	h.runCtx, h.cancel = context.WithCancel(context.WithoutCancel(ctx))

	var scheduled []string
	undo := func() {
		for _, id := range scheduled {
			h.scheduler.Unschedule(id)
		}
		h.bus.Unsubscribe(h.subs...)
		h.subs = nil
		h.field.Detach()
		h.cancel()
	}

	if err := h.field.Attach(); err != nil {
		undo()
		return fmt.Errorf("attaching field tracker: %w", err)
	}
	if h.archive != nil {
		subs, err := h.archive.Attach(h.bus)
		if err != nil {
			undo()
			return fmt.Errorf("attaching archive: %w", err)
		}
		h.subs = append(h.subs, subs...)
	}
	sub, err := h.bus.Subscribe(eventbus.TopicFieldUpdated, h.onFieldUpdated)
	if err != nil {
		undo()
		return fmt.Errorf("subscribing to field updates: %w", err)
	}
	h.subs = append(h.subs, sub)

	for _, def := range h.ceremonies.Definitions() {
		if def.Schedule == "" {
			continue // manual only
		}
		if err := h.scheduler.Schedule(def.ID, def.Schedule, h.onSchedule); err != nil {
			undo()
			return fmt.Errorf("scheduling %s: %w", def.ID, err)
		}
		scheduled = append(scheduled, def.ID)
	}

	if err := h.field.Start(h.runCtx); err != nil {
		undo()
		return fmt.Errorf("starting field tracker: %w", err)
	}

	h.consumer.Add(1)
	go h.consume(h.runCtx)

	h.started = true
	h.updatePresence(h.runCtx, h.field.State())

	h.logger.Info("hub started",
		zap.Int("ceremonies", len(h.ceremonies.Definitions())),
		zap.Int("agents", len(h.council.Agents())),
		zap.Bool("archive", h.archive != nil),
	)
	return nil
}

// Shutdown force-completes running ceremonies, then stops the scheduler,
// the field tick loop, in-flight deliberations and the inbound consumer.
// Safe to call more than once.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return ErrNotStarted
	}
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	err := h.ceremonies.Shutdown(ctx)
	h.scheduler.StopAll()
	h.field.Stop()

	h.cancel()
	waitGroup(ctx, &h.tasks)
	waitGroup(ctx, &h.consumer)

	h.field.Detach()
	h.bus.Unsubscribe(subs...)

	h.logger.Info("hub shut down")
	return err
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (h *Hub) onSchedule(ctx context.Context, definitionID string) {
	id, err := h.ceremonies.Start(ctx, definitionID)
	if err != nil {
		h.logger.Warn("scheduled ceremony not started",
			zap.String("definition_id", definitionID),
			zap.Error(err),
		)
		return
	}
	h.logger.Info("scheduled ceremony started",
		zap.String("definition_id", definitionID),
		zap.String("instance_id", id),
	)
}

func (h *Hub) onFieldUpdated(ctx context.Context, ev eventbus.Event) error {
	e, ok := ev.(eventbus.FieldUpdated)
	if !ok {
		return nil
	}
	h.updatePresence(ctx, field.State{Coherence: e.Coherence, Trend: field.Trend(e.Trend), UpdatedAt: e.UpdatedAt})
	return nil
}

func (h *Hub) updatePresence(ctx context.Context, s field.State) {
	ps, ok := h.transport.(transport.PresenceSetter)
	if !ok {
		return
	}
	p := field.PresenceFor(s)
	if err := ps.SetPresence(ctx, p.Text, p.Online); err != nil {
		h.logger.Debug("presence update failed", zap.Error(err))
	}
}

func (h *Hub) consume(ctx context.Context) {
	defer h.consumer.Done()
	msgs := h.transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-msgs:
			if !ok {
				return
			}
			h.HandleMessage(ctx, in)
		}
	}
}

// spawn runs fn in the background until Shutdown.
func (h *Hub) spawn(fn func(ctx context.Context)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started || h.stopped {
		return false
	}
	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("hub task panicked, recovering",
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn(h.runCtx)
	}()
	return true
}

func (h *Hub) reply(ctx context.Context, in transport.Inbound, msg transport.Message) {
	msg.ReplyTo = in.ID
	h.send(ctx, in.Channel(), msg)
}

func (h *Hub) send(ctx context.Context, ch transport.Channel, msg transport.Message) {
	if err := h.transport.Send(ctx, ch, msg); err != nil {
		h.logger.Warn("send failed", zap.String("channel", ch.Name), zap.Error(err))
	}
}
