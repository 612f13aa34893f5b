package cron

import (
	"testing"
	"time"
)

func TestParse_AcceptsStandardExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"nightly import default", "0 2 * * *"},
		{"every 15 minutes", "*/15 * * * *"},
		{"weekday business hours", "0 9-17 * * 1-5"},
		{"monthly first", "0 0 1 * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.expr, err)
			}
			if sched == nil {
				t.Fatalf("Parse(%q) returned nil schedule", tt.expr)
			}
		})
	}
}

func TestParse_RejectsMalformedExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"four fields", "* * * *"},
		{"six fields", "* * * * * *"},
		{"minute out of range", "60 * * * *"},
		{"hour out of range", "0 25 * * *"},
		{"non-numeric", "abc * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.expr); err == nil {
				t.Errorf("Parse(%q) accepted a malformed expression", tt.expr)
			}
		})
	}
}

func TestSchedule_NextRespectsDailySlot(t *testing.T) {
	sched, err := Parse("0 2 * * *")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// Before the slot it fires the same day, after it the next day.
	before := time.Date(2026, 3, 2, 1, 30, 0, 0, time.Local)
	if got, want := sched.Next(before), time.Date(2026, 3, 2, 2, 0, 0, 0, time.Local); !got.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", before, got, want)
	}

	after := time.Date(2026, 3, 2, 2, 0, 1, 0, time.Local)
	if got, want := sched.Next(after), time.Date(2026, 3, 3, 2, 0, 0, 0, time.Local); !got.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, got, want)
	}
}

func TestSchedule_NextStepsSubHourInterval(t *testing.T) {
	sched, err := Parse("*/15 * * * *")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	at := time.Date(2026, 3, 2, 9, 7, 0, 0, time.Local)
	if got, want := sched.Next(at), time.Date(2026, 3, 2, 9, 15, 0, 0, time.Local); !got.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", at, got, want)
	}
}
