// Package workflow is the event-driven automation engine: it matches
// domain events against registered triggers and runs their actions with
// bounded retries, recording every execution for audit.
package workflow

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Sonni4154/opsflow/internal/domain"
)

const (
	// maxActionAttempts bounds retries for actions marked retry_on_fail.
	maxActionAttempts = 3

	defaultActionTimeout = 30 * time.Second
	defaultBackoffBase   = 1 * time.Second
	defaultBackoffCap    = 30 * time.Second
)

// Executor performs one action type. Implementations classify their
// failures: transient results are retried, permanent ones are not.
type Executor interface {
	Execute(ctx context.Context, spec domain.ActionSpec, event domain.TriggerEvent) Result
}

// Result is the outcome of a single action attempt.
type Result struct {
	Err error
	// Transient marks a failure worth retrying.
	Transient bool
	// Detail is a short human-readable note kept on the audit record.
	Detail string
}

// TriggerSource lists the active triggers registered for an event.
type TriggerSource interface {
	ListActiveFor(ctx context.Context, event string) ([]domain.Trigger, error)
}

// Store persists the execution audit trail.
type Store interface {
	InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error
	InsertActionAttempt(ctx context.Context, att domain.ActionAttempt) error
}

// MetricsSink records engine metrics.
type MetricsSink interface {
	TriggerFired(event string)
	ExecutionCompleted(duration time.Duration, failed bool)
	ActionAttemptCompleted(actionType string, attempt int, status string, duration time.Duration)
	ActionOutcome(actionType, outcome string)
	RetryAttempt(retryable bool)
}

type Engine struct {
	triggers  TriggerSource
	store     Store
	executors map[domain.ActionType]Executor

	metrics MetricsSink // optional, nil = metrics disabled
	now     func() time.Time

	actionTimeout time.Duration
	backoff       []time.Duration
}

func New(triggers TriggerSource, store Store, executors map[domain.ActionType]Executor) *Engine {
	return &Engine{
		triggers:      triggers,
		store:         store,
		executors:     executors,
		now:           time.Now,
		actionTimeout: defaultActionTimeout,
		backoff:       backoffSchedule(defaultBackoffBase, defaultBackoffCap),
	}
}

// WithMetrics sets the metrics sink.
func (e *Engine) WithMetrics(m MetricsSink) *Engine {
	e.metrics = m
	return e
}

// WithClock overrides the time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithActionTimeout overrides the per-attempt timeout.
func (e *Engine) WithActionTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.actionTimeout = d
	}
	return e
}

// WithBackoff rebuilds the retry schedule from a base delay and a cap.
func (e *Engine) WithBackoff(base, cap time.Duration) *Engine {
	if base > 0 && cap > 0 {
		e.backoff = backoffSchedule(base, cap)
	}
	return e
}

// backoffSchedule returns the waits preceding attempts 2..maxActionAttempts,
// doubling from base and clamped to cap.
func backoffSchedule(base, cap time.Duration) []time.Duration {
	sched := make([]time.Duration, 0, maxActionAttempts-1)
	wait := base
	for i := 1; i < maxActionAttempts; i++ {
		if wait > cap {
			wait = cap
		}
		sched = append(sched, wait)
		wait *= 2
	}
	return sched
}

// Trigger evaluates an event against every active trigger registered for
// its name and runs the matches in priority order, lowest first, creation
// time breaking ties. One ExecutionRecord is returned per trigger run.
func (e *Engine) Trigger(ctx context.Context, event domain.TriggerEvent) ([]domain.ExecutionRecord, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}

	matched, err := e.triggers.ListActiveFor(ctx, event.Name)
	if err != nil {
		return nil, fmt.Errorf("list triggers for %s: %w", event.Name, err)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	var records []domain.ExecutionRecord
	for _, trig := range matched {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		if !EvaluateConditions(trig.Conditions, event) {
			continue
		}
		if e.metrics != nil {
			e.metrics.TriggerFired(event.Name)
		}
		records = append(records, e.runTrigger(ctx, trig, event))
	}
	return records, nil
}

func (e *Engine) runTrigger(ctx context.Context, trig domain.Trigger, event domain.TriggerEvent) domain.ExecutionRecord {
	rec := domain.ExecutionRecord{
		ID:          uuid.New(),
		TriggerID:   trig.ID,
		TriggerName: trig.Name,
		Event:       event.Name,
		ActorID:     event.ActorID,
		StartedAt:   e.now(),
	}

	// Actions run in order; a failure is recorded and the remaining
	// actions still run.
	for idx, spec := range trig.Actions {
		outcome := e.runAction(ctx, rec.ID, idx, spec, event)
		rec.Actions = append(rec.Actions, outcome)
		if outcome.Status == domain.ActionStatusFailed {
			log.Printf("engine: trigger=%s action=%d type=%s failed after %d attempts: %s",
				trig.Name, idx, spec.Type, outcome.Attempts, outcome.Error)
		}
	}

	rec.FinishedAt = e.now()

	if err := e.store.InsertExecution(ctx, rec); err != nil {
		log.Printf("engine: record execution for trigger %s: %v", trig.Name, err)
	}
	if e.metrics != nil {
		e.metrics.ExecutionCompleted(rec.FinishedAt.Sub(rec.StartedAt), rec.Failed())
	}
	return rec
}

func (e *Engine) runAction(ctx context.Context, execID uuid.UUID, actionIndex int, spec domain.ActionSpec, event domain.TriggerEvent) domain.ActionOutcome {
	outcome := domain.ActionOutcome{Type: spec.Type}

	executor, ok := e.executors[spec.Type]
	if !ok {
		outcome.Status = domain.ActionStatusFailed
		outcome.Error = fmt.Sprintf("no executor registered for action type %q", spec.Type)
		if e.metrics != nil {
			e.metrics.ActionOutcome(string(spec.Type), "failed")
		}
		return outcome
	}

	maxAttempts := 1
	if spec.RetryOnFail {
		maxAttempts = maxActionAttempts
	}

	var last Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if e.metrics != nil {
				e.metrics.RetryAttempt(true)
			}
			idx := attempt - 2
			if idx >= len(e.backoff) {
				idx = len(e.backoff) - 1
			}
			wait := e.backoff[idx]
			log.Printf("engine: action %s attempt %d/%d in %s", spec.Type, attempt, maxAttempts, wait)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				outcome.Status = domain.ActionStatusFailed
				outcome.Attempts = attempt - 1
				outcome.Error = ctx.Err().Error()
				return outcome
			case <-timer.C:
			}
		}

		last = e.attemptAction(ctx, executor, execID, actionIndex, spec, event, attempt, attempt == maxAttempts)
		outcome.Attempts = attempt

		if last.Err == nil {
			outcome.Status = domain.ActionStatusSuccess
			outcome.Detail = last.Detail
			if e.metrics != nil {
				e.metrics.ActionOutcome(string(spec.Type), "success")
			}
			return outcome
		}
		if !last.Transient {
			break
		}
	}

	outcome.Status = domain.ActionStatusFailed
	outcome.Error = last.Err.Error()
	if e.metrics != nil {
		e.metrics.ActionOutcome(string(spec.Type), "failed")
	}
	return outcome
}

// attemptAction runs one bounded attempt and records its audit row.
func (e *Engine) attemptAction(ctx context.Context, executor Executor, execID uuid.UUID, actionIndex int, spec domain.ActionSpec, event domain.TriggerEvent, attempt int, final bool) Result {
	attemptCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	started := e.now()
	res := executor.Execute(attemptCtx, spec, event)
	finished := e.now()

	status := domain.ActionStatusSuccess
	if res.Err != nil {
		status = domain.ActionStatusFailed
		if res.Transient && !final {
			status = domain.ActionStatusRetried
		}
	}

	att := domain.ActionAttempt{
		ID:          uuid.New(),
		ExecutionID: execID,
		ActionIndex: actionIndex,
		Type:        spec.Type,
		Attempt:     attempt,
		Status:      status,
		StartedAt:   started,
		FinishedAt:  finished,
	}
	if res.Err != nil {
		att.Error = res.Err.Error()
	}

	if err := e.store.InsertActionAttempt(ctx, att); err != nil {
		log.Printf("engine: record action attempt: %v", err)
	}
	if e.metrics != nil {
		e.metrics.ActionAttemptCompleted(string(spec.Type), attempt, string(status), finished.Sub(started))
	}
	return res
}
