package services

import (
	"context"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/ceremony"
	"github.com/fyrsmithlabs/councild/internal/council"
	"github.com/fyrsmithlabs/councild/internal/eventbus"
	"github.com/fyrsmithlabs/councild/internal/field"
	"github.com/fyrsmithlabs/councild/internal/scheduler"
	"github.com/fyrsmithlabs/councild/internal/transport"
)

// Inbox accepts a chat message as if it had arrived on the transport.
type Inbox interface {
	HandleMessage(ctx context.Context, in transport.Inbound)
}

// Registry provides access to the hub's components.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Bus() *eventbus.Bus
	Ceremonies() *ceremony.Orchestrator
	Council() *council.Coordinator
	Field() *field.Tracker
	Scheduler() *scheduler.Scheduler
	Archive() *archive.Archive
	Inbox() Inbox
}

// Options configures the registry with service instances.
type Options struct {
	Bus        *eventbus.Bus
	Ceremonies *ceremony.Orchestrator
	Council    *council.Coordinator
	Field      *field.Tracker
	Scheduler  *scheduler.Scheduler
	Archive    *archive.Archive
	Inbox      Inbox
}

// registry is the concrete implementation of Registry.
type registry struct {
	bus        *eventbus.Bus
	ceremonies *ceremony.Orchestrator
	council    *council.Coordinator
	field      *field.Tracker
	scheduler  *scheduler.Scheduler
	archive    *archive.Archive
	inbox      Inbox
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		bus:        opts.Bus,
		ceremonies: opts.Ceremonies,
		council:    opts.Council,
		field:      opts.Field,
		scheduler:  opts.Scheduler,
		archive:    opts.Archive,
		inbox:      opts.Inbox,
	}
}

func (r *registry) Bus() *eventbus.Bus                 { return r.bus }
func (r *registry) Ceremonies() *ceremony.Orchestrator { return r.ceremonies }
func (r *registry) Council() *council.Coordinator      { return r.council }
func (r *registry) Field() *field.Tracker              { return r.field }
func (r *registry) Scheduler() *scheduler.Scheduler    { return r.scheduler }
func (r *registry) Archive() *archive.Archive          { return r.archive }
func (r *registry) Inbox() Inbox                       { return r.inbox }
