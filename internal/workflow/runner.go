package workflow

import (
	"context"
	"log"
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
)

// DefaultDrainTimeout bounds how long Run keeps processing queued events
// after shutdown begins.
const DefaultDrainTimeout = 30 * time.Second

// RunnerMetrics tracks events currently being processed.
type RunnerMetrics interface {
	EventsInFlightIncr()
	EventsInFlightDecr()
}

// Runner feeds bus events to the engine, one at a time so trigger runs
// never interleave.
type Runner struct {
	engine       *Engine
	drainTimeout time.Duration
	metrics      RunnerMetrics // optional, nil = metrics disabled
}

func NewRunner(engine *Engine) *Runner {
	return &Runner{engine: engine, drainTimeout: DefaultDrainTimeout}
}

// WithDrainTimeout overrides the shutdown drain budget.
func (r *Runner) WithDrainTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.drainTimeout = d
	}
	return r
}

// WithMetrics sets the metrics sink.
func (r *Runner) WithMetrics(m RunnerMetrics) *Runner {
	r.metrics = m
	return r
}

// Run consumes events until ctx is cancelled or the channel closes, then
// drains whatever is still queued.
func (r *Runner) Run(ctx context.Context, events <-chan domain.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			r.drain(events)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Runner) handle(ctx context.Context, ev domain.TriggerEvent) {
	if r.metrics != nil {
		r.metrics.EventsInFlightIncr()
		defer r.metrics.EventsInFlightDecr()
	}
	if _, err := r.engine.Trigger(ctx, ev); err != nil {
		log.Printf("engine: event %s: %v", ev.Name, err)
	}
}

// drain processes queued events on a fresh bounded context so in-flight
// work finishes even though the run context is gone.
func (r *Runner) drain(events <-chan domain.TriggerEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			log.Printf("engine: draining event %s", ev.Name)
			r.handle(drainCtx, ev)
		case <-drainCtx.Done():
			log.Printf("engine: drain timeout, abandoning %d queued events", len(events))
			return
		default:
			return
		}
	}
}
