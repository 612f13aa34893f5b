package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/integration/calendar"
	"github.com/Sonni4154/opsflow/internal/workflow"
)

// AccountingClient is the QuickBooks surface the sync action needs.
type AccountingClient interface {
	Upsert(ctx context.Context, entity string, payload map[string]any) (map[string]any, error)
	FetchByID(ctx context.Context, entity, id string) (map[string]any, error)
}

// QuickBooksSync pushes or pulls one accounting entity per firing.
type QuickBooksSync struct {
	client AccountingClient
}

func NewQuickBooksSync(client AccountingClient) *QuickBooksSync {
	return &QuickBooksSync{client: client}
}

func (a *QuickBooksSync) Execute(ctx context.Context, spec domain.ActionSpec, event domain.TriggerEvent) workflow.Result {
	cfg := spec.QuickBooks
	if cfg == nil {
		return workflow.Result{Err: errors.New("quickbooks action missing config")}
	}

	switch cfg.Direction {
	case "push":
		// Emitters may nest the provider-shaped object under "entity";
		// otherwise the whole payload is pushed.
		body := event.Payload
		if nested, ok := event.Payload["entity"].(map[string]any); ok {
			body = nested
		}
		obj, err := a.client.Upsert(ctx, cfg.Entity, body)
		if err != nil {
			return failure(fmt.Errorf("push %s: %w", cfg.Entity, err))
		}
		id, _ := obj["Id"].(string)
		return workflow.Result{Detail: fmt.Sprintf("pushed %s id=%s", cfg.Entity, id)}

	case "pull":
		field := cfg.EntityIDField
		if field == "" {
			field = "entityId"
		}
		id := stringField(event.Payload, field)
		if id == "" {
			return workflow.Result{Err: fmt.Errorf("payload field %q missing for %s pull", field, cfg.Entity)}
		}
		if _, err := a.client.FetchByID(ctx, cfg.Entity, id); err != nil {
			return failure(fmt.Errorf("pull %s %s: %w", cfg.Entity, id, err))
		}
		return workflow.Result{Detail: fmt.Sprintf("pulled %s id=%s", cfg.Entity, id)}
	}

	return workflow.Result{Err: fmt.Errorf("unknown sync direction %q", cfg.Direction)}
}

// CalendarClient is the Calendar surface the sync action needs.
type CalendarClient interface {
	CreateEvent(ctx context.Context, calendarID string, ev calendar.Event) (calendar.Event, error)
	UpdateEvent(ctx context.Context, calendarID string, ev calendar.Event) (calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// CalendarSync mirrors one scheduled visit into a calendar per firing.
type CalendarSync struct {
	client CalendarClient
}

func NewCalendarSync(client CalendarClient) *CalendarSync {
	return &CalendarSync{client: client}
}

func (a *CalendarSync) Execute(ctx context.Context, spec domain.ActionSpec, event domain.TriggerEvent) workflow.Result {
	cfg := spec.Calendar
	if cfg == nil {
		return workflow.Result{Err: errors.New("calendar action missing config")}
	}

	switch cfg.Operation {
	case "create":
		ev, err := eventFromPayload(event.Payload)
		if err != nil {
			return workflow.Result{Err: err}
		}
		created, err := a.client.CreateEvent(ctx, cfg.CalendarID, ev)
		if err != nil {
			return failure(fmt.Errorf("create event: %w", err))
		}
		return workflow.Result{Detail: "created event " + created.ID}

	case "update":
		ev, err := eventFromPayload(event.Payload)
		if err != nil {
			return workflow.Result{Err: err}
		}
		ev.ID = stringField(event.Payload, calendarIDField(cfg))
		if ev.ID == "" {
			return workflow.Result{Err: fmt.Errorf("payload field %q missing for calendar update", calendarIDField(cfg))}
		}
		if _, err := a.client.UpdateEvent(ctx, cfg.CalendarID, ev); err != nil {
			return failure(fmt.Errorf("update event %s: %w", ev.ID, err))
		}
		return workflow.Result{Detail: "updated event " + ev.ID}

	case "delete":
		id := stringField(event.Payload, calendarIDField(cfg))
		if id == "" {
			return workflow.Result{Err: fmt.Errorf("payload field %q missing for calendar delete", calendarIDField(cfg))}
		}
		if err := a.client.DeleteEvent(ctx, cfg.CalendarID, id); err != nil {
			return failure(fmt.Errorf("delete event %s: %w", id, err))
		}
		return workflow.Result{Detail: "deleted event " + id}
	}

	return workflow.Result{Err: fmt.Errorf("unknown calendar operation %q", cfg.Operation)}
}

func calendarIDField(cfg *domain.CalendarSyncConfig) string {
	if cfg.EventIDField != "" {
		return cfg.EventIDField
	}
	return "calendarEventId"
}

// eventFromPayload builds a calendar event from the conventional payload
// fields: summary, description, location, start and end as RFC3339. A
// missing end defaults to one hour after start.
func eventFromPayload(payload map[string]any) (calendar.Event, error) {
	ev := calendar.Event{
		Summary:     stringField(payload, "summary"),
		Description: stringField(payload, "description"),
		Location:    stringField(payload, "location"),
	}
	if ev.Summary == "" {
		return calendar.Event{}, errors.New(`payload field "summary" required for calendar sync`)
	}

	startRaw := stringField(payload, "start")
	if startRaw == "" {
		return calendar.Event{}, errors.New(`payload field "start" required for calendar sync`)
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("parse start: %w", err)
	}
	ev.Start = start
	ev.End = start.Add(time.Hour)

	if endRaw := stringField(payload, "end"); endRaw != "" {
		end, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return calendar.Event{}, fmt.Errorf("parse end: %w", err)
		}
		ev.End = end
	}
	return ev, nil
}
