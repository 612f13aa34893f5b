// Package importer holds the bodies of the background sync jobs. Importers
// pull changed records from a provider and republish them as domain events,
// so workflow triggers can react to remote edits the same way they react to
// local ones.
package importer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/integration/calendar"
)

// DefaultLookback bounds the first import after a process start.
const DefaultLookback = 24 * time.Hour

// actorID marks events that originate from a background import rather than a
// user action.
const actorID = "importer"

// DefaultEntities are the QuickBooks entity types polled by the incremental
// import.
var DefaultEntities = []string{"Invoice", "Payment", "Customer"}

// EventEmitter publishes imported changes onto the event bus.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// AccountingSource lists accounting records changed after a point in time.
type AccountingSource interface {
	ChangedSince(ctx context.Context, entities []string, since time.Time) (map[string][]map[string]any, error)
}

// QuickBooks pulls changed accounting entities and emits one
// quickbooks_<entity>_changed event per record.
type QuickBooks struct {
	source   AccountingSource
	emitter  EventEmitter
	entities []string
	lookback time.Duration
	clock    func() time.Time

	mu    sync.Mutex
	since time.Time
}

func NewQuickBooks(source AccountingSource, emitter EventEmitter) *QuickBooks {
	return &QuickBooks{
		source:   source,
		emitter:  emitter,
		entities: DefaultEntities,
		lookback: DefaultLookback,
		clock:    time.Now,
	}
}

// WithEntities overrides the polled entity types.
func (i *QuickBooks) WithEntities(entities []string) *QuickBooks {
	i.entities = entities
	return i
}

// WithLookback sets the window used when no previous run exists.
func (i *QuickBooks) WithLookback(d time.Duration) *QuickBooks {
	i.lookback = d
	return i
}

// WithClock overrides the time source for tests.
func (i *QuickBooks) WithClock(now func() time.Time) *QuickBooks {
	i.clock = now
	return i
}

// Run imports records changed since the previous successful run. The
// watermark only advances when the provider call succeeds, so a failed run
// is retried over the same window.
func (i *QuickBooks) Run(ctx context.Context) error {
	start := i.clock()

	i.mu.Lock()
	since := i.since
	i.mu.Unlock()
	if since.IsZero() {
		since = start.Add(-i.lookback)
	}

	if err := i.importWindow(ctx, since, start); err != nil {
		return err
	}

	i.mu.Lock()
	i.since = start
	i.mu.Unlock()
	return nil
}

// Backfill re-imports the full lookback window regardless of the watermark.
// It backs the nightly catch-up job.
func (i *QuickBooks) Backfill(ctx context.Context) error {
	start := i.clock()
	return i.importWindow(ctx, start.Add(-i.lookback), start)
}

func (i *QuickBooks) importWindow(ctx context.Context, since, start time.Time) error {
	groups, err := i.source.ChangedSince(ctx, i.entities, since)
	if err != nil {
		return fmt.Errorf("quickbooks changes since %s: %w", since.Format(time.RFC3339), err)
	}

	emitted, dropped := 0, 0
	for entity, items := range groups {
		name := changeEventName(entity)
		for _, item := range items {
			event := domain.TriggerEvent{
				Name:       name,
				Payload:    item,
				ActorID:    actorID,
				OccurredAt: start,
			}
			if err := i.emitter.Emit(ctx, event); err != nil {
				dropped++
				log.Printf("importer: dropped %s event: %v", name, err)
				continue
			}
			emitted++
		}
	}

	log.Printf("importer: quickbooks window %s..%s emitted=%d dropped=%d",
		since.Format(time.RFC3339), start.Format(time.RFC3339), emitted, dropped)
	return nil
}

// changeEventName maps a QuickBooks entity type to the event it republishes
// as, e.g. Invoice -> quickbooks_invoice_changed.
func changeEventName(entity string) string {
	return "quickbooks_" + strings.ToLower(entity) + "_changed"
}

// CalendarSource lists calendar events updated after a point in time.
type CalendarSource interface {
	ListUpdatedSince(ctx context.Context, calendarID string, since time.Time) ([]calendar.Event, error)
}

// Calendar pulls updated calendar events and emits one calendar_event_changed
// event per record.
type Calendar struct {
	source     CalendarSource
	emitter    EventEmitter
	calendarID string
	lookback   time.Duration
	clock      func() time.Time

	mu    sync.Mutex
	since time.Time
}

func NewCalendar(source CalendarSource, emitter EventEmitter, calendarID string) *Calendar {
	return &Calendar{
		source:     source,
		emitter:    emitter,
		calendarID: calendarID,
		lookback:   DefaultLookback,
		clock:      time.Now,
	}
}

// WithLookback sets the window used when no previous run exists.
func (i *Calendar) WithLookback(d time.Duration) *Calendar {
	i.lookback = d
	return i
}

// WithClock overrides the time source for tests.
func (i *Calendar) WithClock(now func() time.Time) *Calendar {
	i.clock = now
	return i
}

// Run imports events updated since the previous successful run.
func (i *Calendar) Run(ctx context.Context) error {
	start := i.clock()

	i.mu.Lock()
	since := i.since
	i.mu.Unlock()
	if since.IsZero() {
		since = start.Add(-i.lookback)
	}

	events, err := i.source.ListUpdatedSince(ctx, i.calendarID, since)
	if err != nil {
		return fmt.Errorf("calendar changes since %s: %w", since.Format(time.RFC3339), err)
	}

	emitted, dropped := 0, 0
	for _, ev := range events {
		event := domain.TriggerEvent{
			Name:       "calendar_event_changed",
			Payload:    calendarPayload(ev),
			ActorID:    actorID,
			OccurredAt: start,
		}
		if err := i.emitter.Emit(ctx, event); err != nil {
			dropped++
			log.Printf("importer: dropped calendar_event_changed event: %v", err)
			continue
		}
		emitted++
	}

	log.Printf("importer: calendar %s window %s..%s emitted=%d dropped=%d",
		i.calendarID, since.Format(time.RFC3339), start.Format(time.RFC3339), emitted, dropped)

	i.mu.Lock()
	i.since = start
	i.mu.Unlock()
	return nil
}

func calendarPayload(ev calendar.Event) map[string]any {
	payload := map[string]any{
		"calendarEventId": ev.ID,
		"summary":         ev.Summary,
		"status":          ev.Status,
		"start":           ev.Start.Format(time.RFC3339),
		"end":             ev.End.Format(time.RFC3339),
	}
	if ev.Location != "" {
		payload["location"] = ev.Location
	}
	if ev.Description != "" {
		payload["description"] = ev.Description
	}
	return payload
}
