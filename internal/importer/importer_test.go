package importer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/integration/calendar"
)

type mockAccountingSource struct {
	mu     sync.Mutex
	sinces []time.Time
	groups map[string][]map[string]any
	errs   []error
	calls  int
}

func (m *mockAccountingSource) ChangedSince(ctx context.Context, entities []string, since time.Time) (map[string][]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinces = append(m.sinces, since)
	call := m.calls
	m.calls++
	if call < len(m.errs) && m.errs[call] != nil {
		return nil, m.errs[call]
	}
	return m.groups, nil
}

type mockCalendarSource struct {
	mu     sync.Mutex
	sinces []time.Time
	events []calendar.Event
	err    error
}

func (m *mockCalendarSource) ListUpdatedSince(ctx context.Context, calendarID string, since time.Time) ([]calendar.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinces = append(m.sinces, since)
	if m.err != nil {
		return nil, m.err
	}
	return m.events, nil
}

type mockEmitter struct {
	mu     sync.Mutex
	events []domain.TriggerEvent
	err    error
}

func (m *mockEmitter) Emit(ctx context.Context, event domain.TriggerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockEmitter) byName(name string) []domain.TriggerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TriggerEvent
	for _, ev := range m.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func TestQuickBooks_RunEmitsChangeEvents(t *testing.T) {
	source := &mockAccountingSource{groups: map[string][]map[string]any{
		"Invoice":  {{"Id": "10", "TotalAmt": 250.0}},
		"Customer": {{"Id": "20"}, {"Id": "21"}},
	}}
	emitter := &mockEmitter{}
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	imp := NewQuickBooks(source, emitter).WithClock(func() time.Time { return now })
	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(emitter.events) != 3 {
		t.Fatalf("emitted %d events, want 3", len(emitter.events))
	}
	invoices := emitter.byName("quickbooks_invoice_changed")
	if len(invoices) != 1 {
		t.Fatalf("invoice events = %d, want 1", len(invoices))
	}
	ev := invoices[0]
	if ev.ActorID != "importer" {
		t.Errorf("ActorID = %q", ev.ActorID)
	}
	if ev.Payload["Id"] != "10" {
		t.Errorf("Payload = %v", ev.Payload)
	}
	if !ev.OccurredAt.Equal(now) {
		t.Errorf("OccurredAt = %v, want %v", ev.OccurredAt, now)
	}
	if got := emitter.byName("quickbooks_customer_changed"); len(got) != 2 {
		t.Errorf("customer events = %d, want 2", len(got))
	}
}

func TestQuickBooks_WatermarkAdvancesOnSuccessOnly(t *testing.T) {
	source := &mockAccountingSource{errs: []error{nil, errors.New("quickbooks down"), nil}}
	emitter := &mockEmitter{}

	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	now := t0
	imp := NewQuickBooks(source, emitter).WithClock(func() time.Time { return now })

	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	now = t0.Add(15 * time.Minute)
	if err := imp.Run(context.Background()); err == nil {
		t.Fatal("second run should fail")
	}
	now = t0.Add(30 * time.Minute)
	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("third run: %v", err)
	}

	want := []time.Time{t0.Add(-DefaultLookback), t0, t0}
	if len(source.sinces) != len(want) {
		t.Fatalf("sinces = %v", source.sinces)
	}
	for i, got := range source.sinces {
		if !got.Equal(want[i]) {
			t.Errorf("since[%d] = %v, want %v", i, got, want[i])
		}
	}
}

func TestQuickBooks_BackfillIgnoresWatermark(t *testing.T) {
	source := &mockAccountingSource{}
	emitter := &mockEmitter{}

	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	now := t0
	imp := NewQuickBooks(source, emitter).
		WithLookback(6 * time.Hour).
		WithClock(func() time.Time { return now })

	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	now = t0.Add(time.Hour)
	if err := imp.Backfill(context.Background()); err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	if got, want := source.sinces[1], now.Add(-6*time.Hour); !got.Equal(want) {
		t.Errorf("backfill since = %v, want %v", got, want)
	}

	// The watermark is untouched, so the next incremental run resumes
	// from the first run's start.
	now = t0.Add(2 * time.Hour)
	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := source.sinces[2]; !got.Equal(t0) {
		t.Errorf("incremental since = %v, want %v", got, t0)
	}
}

func TestQuickBooks_FullBusDropsWithoutFailing(t *testing.T) {
	source := &mockAccountingSource{groups: map[string][]map[string]any{
		"Invoice": {{"Id": "10"}},
	}}
	emitter := &mockEmitter{err: errors.New("event bus buffer is full")}

	imp := NewQuickBooks(source, emitter)
	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(emitter.events) != 0 {
		t.Errorf("emitted %d events, want 0", len(emitter.events))
	}
}

func TestQuickBooks_CustomEntities(t *testing.T) {
	var gotEntities []string
	source := &entityCapturingSource{capture: func(entities []string) { gotEntities = entities }}

	imp := NewQuickBooks(source, &mockEmitter{}).WithEntities([]string{"Estimate"})
	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(gotEntities) != 1 || gotEntities[0] != "Estimate" {
		t.Errorf("entities = %v", gotEntities)
	}
}

type entityCapturingSource struct {
	capture func(entities []string)
}

func (s *entityCapturingSource) ChangedSince(ctx context.Context, entities []string, since time.Time) (map[string][]map[string]any, error) {
	s.capture(entities)
	return nil, nil
}

func TestChangeEventName(t *testing.T) {
	if got := changeEventName("Invoice"); got != "quickbooks_invoice_changed" {
		t.Errorf("changeEventName = %q", got)
	}
}

func TestCalendar_RunEmitsEvents(t *testing.T) {
	start := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	source := &mockCalendarSource{events: []calendar.Event{
		{ID: "ev-1", Summary: "Quarterly treatment", Status: "confirmed", Start: start, End: start.Add(time.Hour), Location: "12 Main St"},
		{ID: "ev-2", Summary: "Inspection", Status: "cancelled", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	}}
	emitter := &mockEmitter{}
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	imp := NewCalendar(source, emitter, "field-ops").WithClock(func() time.Time { return now })
	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := emitter.byName("calendar_event_changed")
	if len(events) != 2 {
		t.Fatalf("emitted %d events, want 2", len(events))
	}
	payload := events[0].Payload
	if payload["calendarEventId"] != "ev-1" || payload["summary"] != "Quarterly treatment" {
		t.Errorf("payload = %v", payload)
	}
	if payload["start"] != "2026-03-03T09:00:00Z" {
		t.Errorf("start = %v", payload["start"])
	}
	if payload["location"] != "12 Main St" {
		t.Errorf("location = %v", payload["location"])
	}
	if _, ok := events[1].Payload["location"]; ok {
		t.Error("empty location should be omitted")
	}
}

func TestCalendar_WatermarkAdvances(t *testing.T) {
	source := &mockCalendarSource{}
	emitter := &mockEmitter{}

	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	now := t0
	imp := NewCalendar(source, emitter, "primary").WithClock(func() time.Time { return now })

	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	now = t0.Add(10 * time.Minute)
	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got, want := source.sinces[0], t0.Add(-DefaultLookback); !got.Equal(want) {
		t.Errorf("first since = %v, want %v", got, want)
	}
	if got := source.sinces[1]; !got.Equal(t0) {
		t.Errorf("second since = %v, want %v", got, t0)
	}
}

func TestCalendar_SourceErrorSurfaced(t *testing.T) {
	source := &mockCalendarSource{err: errors.New("google down")}
	imp := NewCalendar(source, &mockEmitter{}, "primary")

	if err := imp.Run(context.Background()); err == nil {
		t.Fatal("expected error from source")
	}
}
