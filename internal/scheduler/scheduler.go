// Package scheduler runs named sync jobs on independent timers. Each job
// fires on its own goroutine; a firing that overlaps the previous run of the
// same job is skipped, never queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Sonni4154/opsflow/internal/cron"
	"github.com/Sonni4154/opsflow/internal/domain"
)

var (
	ErrUnknownJob        = errors.New("unknown sync job")
	ErrJobAlreadyRunning = errors.New("sync job already running")
)

// RunFunc is the body of a sync job. Errors are logged and recorded; they do
// not disarm the job's timer.
type RunFunc func(ctx context.Context) error

// Metrics records scheduler metrics.
type Metrics interface {
	SyncRunCompleted(job string, outcome string, duration time.Duration)
	SyncRunSkipped(job string)
}

// RunResult describes one manual run started by TriggerNow.
type RunResult struct {
	Job      string
	Duration time.Duration
	Err      error
}

type job struct {
	name     string
	interval time.Duration // zero for cron jobs
	cronSpec string        // empty for interval jobs
	sched    cron.Schedule // nil for interval jobs
	fn       RunFunc

	mu      sync.Mutex
	running bool
	lastRun time.Time
	nextRun time.Time
	lastErr string
	runs    int64
	skips   int64
}

// claim marks the job running. It reports false when a run is already in
// flight.
func (j *job) claim(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	j.lastRun = now
	return true
}

// advanceLocked moves nextRun to the next slot after now. Interval jobs step
// on their original phase, so firings missed during a long run are dropped
// rather than bunched.
func (j *job) advanceLocked(now time.Time) {
	if j.sched != nil {
		j.nextRun = j.sched.Next(now)
		return
	}
	for !j.nextRun.After(now) {
		j.nextRun = j.nextRun.Add(j.interval)
	}
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []*job
	clock   func() time.Time
	metrics Metrics // optional, nil = metrics disabled

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{
		jobs:  make(map[string]*job),
		clock: time.Now,
	}
}

// WithMetrics sets the metrics sink.
func (s *Scheduler) WithMetrics(m Metrics) *Scheduler {
	s.metrics = m
	return s
}

// WithClock overrides the time source for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.clock = now
	return s
}

// Register adds a fixed-interval job. Jobs must be registered before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn RunFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	return s.add(&job{name: name, interval: interval, fn: fn})
}

// RegisterCron adds a job driven by a cron expression.
func (s *Scheduler) RegisterCron(name string, expr string, fn RunFunc) error {
	sched, err := cron.Parse(expr)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return s.add(&job{name: name, cronSpec: expr, sched: sched, fn: fn})
}

func (s *Scheduler) add(j *job) error {
	if j.name == "" {
		return errors.New("job name required")
	}
	if j.fn == nil {
		return fmt.Errorf("job %s: run function required", j.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %s: scheduler already started", j.name)
	}
	if _, exists := s.jobs[j.name]; exists {
		return fmt.Errorf("job %s: already registered", j.name)
	}
	s.jobs[j.name] = j
	s.order = append(s.order, j)
	return nil
}

// Start arms one timer per registered job. The first firing happens one full
// interval (or one cron slot) after Start, not immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	now := s.clock()
	for _, j := range s.order {
		j.mu.Lock()
		if j.sched != nil {
			j.nextRun = j.sched.Next(now)
		} else {
			j.nextRun = now.Add(j.interval)
		}
		j.mu.Unlock()

		s.wg.Add(1)
		go s.runLoop(ctx, j)
	}

	log.Printf("scheduler: started, jobs=%d", len(s.order))
	return nil
}

// Stop disarms all timers and waits for in-flight runs to return. Runs see
// their context cancelled and are expected to wind down cooperatively.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	log.Println("scheduler: stopped")
}

// TriggerNow runs the named job immediately, regardless of its timer phase,
// and blocks until the run returns. A job already in flight is not run twice;
// the call fails with ErrJobAlreadyRunning.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) (RunResult, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	now := s.clock()
	if !j.claim(now) {
		return RunResult{}, fmt.Errorf("%w: %s", ErrJobAlreadyRunning, name)
	}

	log.Printf("scheduler: job %s triggered manually", name)
	err := s.runJob(ctx, j, now)
	return RunResult{Job: name, Duration: s.clock().Sub(now), Err: err}, nil
}

// Status reports a snapshot of every job in registration order.
func (s *Scheduler) Status() []domain.SyncJobState {
	s.mu.Lock()
	order := make([]*job, len(s.order))
	copy(order, s.order)
	s.mu.Unlock()

	states := make([]domain.SyncJobState, 0, len(order))
	for _, j := range order {
		j.mu.Lock()
		states = append(states, domain.SyncJobState{
			Name:      j.name,
			Interval:  j.interval,
			CronSpec:  j.cronSpec,
			LastRun:   j.lastRun,
			NextRun:   j.nextRun,
			Running:   j.running,
			LastError: j.lastErr,
			Runs:      j.runs,
			Skips:     j.skips,
		})
		j.mu.Unlock()
	}
	return states
}

func (s *Scheduler) runLoop(ctx context.Context, j *job) {
	defer s.wg.Done()

	for {
		j.mu.Lock()
		next := j.nextRun
		j.mu.Unlock()

		wait := next.Sub(s.clock())
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			return
		case <-timer.C:
		}

		s.fire(ctx, j)
	}
}

// fire attempts one scheduled run. The timer advances whether or not the run
// starts, so a busy job keeps its original phase.
func (s *Scheduler) fire(ctx context.Context, j *job) {
	now := s.clock()

	j.mu.Lock()
	j.advanceLocked(now)
	j.mu.Unlock()

	if !j.claim(now) {
		j.mu.Lock()
		j.skips++
		j.mu.Unlock()
		log.Printf("scheduler: job %s still running, skipping firing", j.name)
		if s.metrics != nil {
			s.metrics.SyncRunSkipped(j.name)
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(ctx, j, now)
	}()
}

// runJob invokes the job body and records the outcome. The caller must have
// claimed the job.
func (s *Scheduler) runJob(ctx context.Context, j *job, started time.Time) error {
	err := j.fn(ctx)
	duration := s.clock().Sub(started)

	j.mu.Lock()
	j.running = false
	j.runs++
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	j.mu.Unlock()

	outcome := "success"
	if err != nil {
		outcome = "error"
		log.Printf("scheduler: job %s failed after %s: %v", j.name, duration.Round(time.Millisecond), err)
	} else {
		log.Printf("scheduler: job %s completed in %s", j.name, duration.Round(time.Millisecond))
	}
	if s.metrics != nil {
		s.metrics.SyncRunCompleted(j.name, outcome, duration)
	}
	return err
}
