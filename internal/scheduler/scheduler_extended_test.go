package scheduler

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RegisterValidation(t *testing.T) {
	nop := func(ctx context.Context) error { return nil }

	s := New()
	if err := s.Register("", time.Minute, nop); err == nil {
		t.Error("empty name accepted")
	}
	if err := s.Register("import", 0, nop); err == nil {
		t.Error("zero interval accepted")
	}
	if err := s.Register("import", time.Minute, nil); err == nil {
		t.Error("nil run function accepted")
	}
	if err := s.RegisterCron("nightly", "not a cron", nop); err == nil {
		t.Error("malformed cron expression accepted")
	}

	if err := s.Register("import", time.Minute, nop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("import", time.Minute, nop); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestScheduler_RegisterAfterStart(t *testing.T) {
	nop := func(ctx context.Context) error { return nil }

	s := New()
	if err := s.Register("import", time.Hour, nop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Register("late", time.Hour, nop); err == nil {
		t.Error("registration after Start accepted")
	}
	if err := s.Start(); err == nil {
		t.Error("second Start accepted")
	}
}

func TestScheduler_StopWaitsForInFlightRun(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	s := New()
	err := s.Register("slow", 20*time.Millisecond, func(ctx context.Context) error {
		close(started)
		time.Sleep(60 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	s.Stop()

	if !finished.Load() {
		t.Error("Stop returned before the in-flight run finished")
	}
}

func TestScheduler_StopCancelsRunContext(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool

	s := New()
	err := s.Register("slow", 20*time.Millisecond, func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
		case <-time.After(2 * time.Second):
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	s.Stop()

	if !sawCancel.Load() {
		t.Error("run context not cancelled by Stop")
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := New()
	s.Stop()
	s.Stop()
}

func TestScheduler_CronNextRun(t *testing.T) {
	nop := func(ctx context.Context) error { return nil }

	s := New()
	if err := s.RegisterCron("nightly-import", "0 3 * * *", nop); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	before := jobState(t, s, "nightly-import")
	if !before.NextRun.IsZero() {
		t.Errorf("NextRun = %v before Start, want zero", before.NextRun)
	}
	if before.CronSpec != "0 3 * * *" {
		t.Errorf("CronSpec = %q", before.CronSpec)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	now := time.Now()
	st := jobState(t, s, "nightly-import")
	if !st.NextRun.After(now) {
		t.Errorf("NextRun = %v, want in the future", st.NextRun)
	}
	if st.NextRun.Sub(now) > 24*time.Hour+time.Minute {
		t.Errorf("NextRun = %v, want within 24h", st.NextRun)
	}
	if st.NextRun.Hour() != 3 || st.NextRun.Minute() != 0 {
		t.Errorf("NextRun = %v, want a 03:00 slot", st.NextRun)
	}
}

func TestJob_AdvanceStepsOnOriginalPhase(t *testing.T) {
	phase := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	j := &job{interval: time.Minute, nextRun: phase}

	// A run that blocked for two and a half intervals drops the missed
	// firings; the next slot stays on the original phase.
	now := phase.Add(2*time.Minute + 30*time.Second)
	j.mu.Lock()
	j.advanceLocked(now)
	j.mu.Unlock()

	want := phase.Add(3 * time.Minute)
	if !j.nextRun.Equal(want) {
		t.Errorf("nextRun = %v, want %v", j.nextRun, want)
	}
}

func TestScheduler_TriggerNowRecordsFailure(t *testing.T) {
	s := New()
	if err := s.Register("flaky", time.Hour, func(ctx context.Context) error {
		return context.DeadlineExceeded
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := s.TriggerNow(context.Background(), "flaky")
	if err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if res.Err == nil {
		t.Error("run error not surfaced in the result")
	}

	st := jobState(t, s, "flaky")
	if !strings.Contains(st.LastError, "deadline") {
		t.Errorf("LastError = %q", st.LastError)
	}
	if st.Runs != 1 {
		t.Errorf("Runs = %d, want 1", st.Runs)
	}
}
