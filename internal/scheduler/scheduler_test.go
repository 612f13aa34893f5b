package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/testutil"
)

type mockMetrics struct {
	mu        sync.Mutex
	completed []string // job:outcome
	skipped   []string
}

func (m *mockMetrics) SyncRunCompleted(job string, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, job+":"+outcome)
}

func (m *mockMetrics) SyncRunSkipped(job string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped = append(m.skipped, job)
}

func (m *mockMetrics) skipCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.skipped)
}

func (m *mockMetrics) completedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed)
}

func jobState(t *testing.T, s *Scheduler, name string) domain.SyncJobState {
	t.Helper()
	for _, st := range s.Status() {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("job %s not in status", name)
	return domain.SyncJobState{}
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	var runs atomic.Int64

	s := New()
	if err := s.Register("import", 30*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	testutil.WaitUntil(t, 2*time.Second, func() bool { return runs.Load() >= 2 }, "job never ran twice")

	testutil.WaitUntil(t, 2*time.Second, func() bool { return !jobState(t, s, "import").Running }, "job stuck running")
	st := jobState(t, s, "import")
	if st.Runs < 2 {
		t.Errorf("Runs = %d, want >= 2", st.Runs)
	}
	if st.LastRun.IsZero() {
		t.Error("LastRun not recorded")
	}
	if !st.NextRun.After(st.LastRun) {
		t.Errorf("NextRun %v not after LastRun %v", st.NextRun, st.LastRun)
	}
}

func TestScheduler_SkipsOverlappingFiring(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	metrics := &mockMetrics{}
	s := New().WithMetrics(metrics)
	err := s.Register("slow", 25*time.Millisecond, func(ctx context.Context) error {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	<-started
	if !jobState(t, s, "slow").Running {
		t.Error("Running should be true while the job is in flight")
	}

	// The timer keeps firing while the first run blocks; those firings
	// must be skipped, not queued.
	testutil.WaitUntil(t, 2*time.Second, func() bool { return jobState(t, s, "slow").Skips >= 2 }, "overlapping firings never skipped")
	if st := jobState(t, s, "slow"); st.Runs != 0 {
		t.Errorf("Runs = %d while the first run is still in flight, want 0", st.Runs)
	}

	close(release)
	testutil.WaitUntil(t, 2*time.Second, func() bool {
		st := jobState(t, s, "slow")
		return !st.Running && st.Runs >= 1
	}, "job never finished")

	if metrics.skipCount() < 2 {
		t.Errorf("skip metric recorded %d times, want >= 2", metrics.skipCount())
	}
}

func TestScheduler_TriggerNow(t *testing.T) {
	var runs atomic.Int64

	s := New()
	if err := s.Register("import", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := s.TriggerNow(context.Background(), "import")
	if err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if res.Job != "import" || res.Err != nil {
		t.Errorf("unexpected result: %+v", res)
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if st := jobState(t, s, "import"); st.Runs != 1 {
		t.Errorf("Runs = %d, want 1", st.Runs)
	}
}

func TestScheduler_TriggerNowWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	s := New()
	if err := s.Register("slow", time.Hour, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(context.Background(), "slow")
		firstDone <- err
	}()
	<-started

	_, err := s.TriggerNow(context.Background(), "slow")
	if !errors.Is(err, ErrJobAlreadyRunning) {
		t.Errorf("second trigger: got %v, want ErrJobAlreadyRunning", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Errorf("first trigger: %v", err)
	}
}

func TestScheduler_TriggerNowUnknownJob(t *testing.T) {
	s := New()
	_, err := s.TriggerNow(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("got %v, want ErrUnknownJob", err)
	}
}

func TestScheduler_RunErrorKeepsTimerArmed(t *testing.T) {
	var runs atomic.Int64

	metrics := &mockMetrics{}
	s := New().WithMetrics(metrics)
	err := s.Register("flaky", 25*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	testutil.WaitUntil(t, 2*time.Second, func() bool { return runs.Load() >= 2 }, "job not retried after failure")
	testutil.WaitUntil(t, 2*time.Second, func() bool {
		st := jobState(t, s, "flaky")
		return st.Runs >= 2 && st.LastError == ""
	}, "LastError not cleared by a later success")

	testutil.WaitUntil(t, 2*time.Second, func() bool { return metrics.completedCount() >= 2 }, "completion metrics not recorded")
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.completed[0] != "flaky:error" {
		t.Errorf("first completion metric = %q, want flaky:error", metrics.completed[0])
	}
}
