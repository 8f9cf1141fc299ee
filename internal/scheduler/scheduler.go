// Package scheduler fires callbacks on cron schedules against an injectable
// clock, so ceremony timing can be driven by a mock clock in tests.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Scheduler errors.
var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrAlreadyScheduled  = errors.New("definition already scheduled")
	ErrStopped           = errors.New("scheduler is stopped")
)

// Callback is invoked once per matching tick with the scheduled definition id.
type Callback func(ctx context.Context, definitionID string)

// Entry describes one registered trigger.
type Entry struct {
	DefinitionID string    `json:"definition_id"`
	Expression   string    `json:"expression"`
	Next         time.Time `json:"next"`
	Fired        int       `json:"fired"`
}

type entry struct {
	id       string
	expr     string
	schedule cron.Schedule
	callback Callback
	next     time.Time
	fired    int
	stop     chan struct{}
}

// Scheduler maps definitions to periodic trigger times.
//
// Each registration runs its own timer goroutine. Firing is independent of
// whatever the callback started last time: the scheduler always fires, and
// the callee decides whether overlapping runs are allowed.
type Scheduler struct {
	clock  clock.Clock
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool
}

// New creates a Scheduler. A nil clock uses the wall clock.
func New(clk clock.Clock, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if clk == nil {
		clk = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   clk,
		logger:  logger.Named("scheduler"),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}, nil
}

// Parse validates a standard five-field cron expression (or @descriptor).
func Parse(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expr, err)
	}
	return schedule, nil
}

// Schedule registers callback to fire for definitionID on every tick of expr.
func (s *Scheduler) Schedule(definitionID, expr string, callback Callback) error {
	if callback == nil {
		return fmt.Errorf("callback cannot be nil")
	}
	schedule, err := Parse(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.entries[definitionID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, definitionID)
	}

	e := &entry{
		id:       definitionID,
		expr:     expr,
		schedule: schedule,
		callback: callback,
		stop:     make(chan struct{}),
	}
	// The first deadline is fixed here, not in the goroutine, so a clock
	// that moves before the goroutine starts cannot skip a tick.
	e.next = schedule.Next(s.clock.Now())
	s.entries[definitionID] = e

	s.wg.Add(1)
	go s.run(e)

	s.logger.Info("ceremony scheduled",
		zap.String("definition_id", definitionID),
		zap.String("expression", expr),
		zap.Time("next", e.next),
	)
	return nil
}

// Next returns the next fire time for definitionID.
func (s *Scheduler) Next(definitionID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[definitionID]
	if !ok || s.stopped {
		return time.Time{}, false
	}
	return e.next, true
}

// Entries returns all registrations ordered by next fire time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Entry{
			DefinitionID: e.id,
			Expression:   e.expr,
			Next:         e.next,
			Fired:        e.fired,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].DefinitionID < out[j].DefinitionID
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// Unschedule removes the trigger for definitionID. A callback already
// running is not interrupted. It reports whether an entry was removed.
func (s *Scheduler) Unschedule(definitionID string) bool {
	s.mu.Lock()
	e, ok := s.entries[definitionID]
	if ok {
		delete(s.entries, definitionID)
		close(e.stop)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info("ceremony unscheduled", zap.String("definition_id", definitionID))
	}
	return ok
}

// StopAll cancels every trigger and waits for in-flight callbacks to return.
// No callback fires after StopAll returns. Idempotent.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// run is the timer loop for one entry.
func (s *Scheduler) run(e *entry) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		next := e.next
		s.mu.Unlock()

		if next.IsZero() {
			s.logger.Warn("schedule has no future activation", zap.String("definition_id", e.id))
			return
		}

		timer := s.clock.Timer(next.Sub(s.clock.Now()))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-e.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		select {
		case <-e.stop:
			return
		default:
		}
		if s.ctx.Err() != nil {
			return
		}

		s.fire(e)

		s.mu.Lock()
		e.fired++
		e.next = e.schedule.Next(next)
		s.mu.Unlock()
	}
}

// fire invokes the callback, recovering panics so the schedule survives.
func (s *Scheduler) fire(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled callback panicked, recovering",
				zap.String("definition_id", e.id),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	s.logger.Debug("schedule fired", zap.String("definition_id", e.id))
	e.callback(s.ctx, e.id)
}
