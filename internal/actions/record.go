package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/workflow"
)

// ActivityStore persists activity log entries.
type ActivityStore interface {
	InsertActivity(ctx context.Context, entry domain.ActivityEntry) error
}

// LogActivity appends one activity entry per firing.
type LogActivity struct {
	store ActivityStore
	now   func() time.Time
}

func NewLogActivity(store ActivityStore) *LogActivity {
	return &LogActivity{store: store, now: time.Now}
}

// WithClock overrides the time source for tests.
func (a *LogActivity) WithClock(now func() time.Time) *LogActivity {
	a.now = now
	return a
}

func (a *LogActivity) Execute(ctx context.Context, spec domain.ActionSpec, event domain.TriggerEvent) workflow.Result {
	cfg := spec.Activity
	if cfg == nil {
		return workflow.Result{Err: errors.New("activity action missing config")}
	}

	message := cfg.Message
	if message == "" {
		message = "Event " + event.Name + " occurred."
	}

	entry := domain.ActivityEntry{
		ID:        uuid.New(),
		Category:  cfg.Category,
		Message:   message,
		Event:     event.Name,
		ActorID:   event.ActorID,
		CreatedAt: a.now(),
	}
	if err := a.store.InsertActivity(ctx, entry); err != nil {
		// Storage blips are worth retrying.
		return workflow.Result{Err: fmt.Errorf("insert activity: %w", err), Transient: true}
	}
	return workflow.Result{Detail: "logged " + cfg.Category + " activity"}
}

// StatusStore records the latest status of business entities.
type StatusStore interface {
	UpdateEntityStatus(ctx context.Context, entityType, entityID, status string) error
}

// UpdateStatus moves one entity to a fixed status per firing.
type UpdateStatus struct {
	store StatusStore
}

func NewUpdateStatus(store StatusStore) *UpdateStatus {
	return &UpdateStatus{store: store}
}

func (a *UpdateStatus) Execute(ctx context.Context, spec domain.ActionSpec, event domain.TriggerEvent) workflow.Result {
	cfg := spec.Status
	if cfg == nil {
		return workflow.Result{Err: errors.New("status action missing config")}
	}

	field := cfg.EntityIDField
	if field == "" {
		field = "entityId"
	}
	id := stringField(event.Payload, field)
	if id == "" {
		return workflow.Result{Err: fmt.Errorf("payload field %q missing for status update", field)}
	}

	if err := a.store.UpdateEntityStatus(ctx, cfg.EntityType, id, cfg.Status); err != nil {
		return workflow.Result{Err: fmt.Errorf("update %s %s status: %w", cfg.EntityType, id, err), Transient: true}
	}
	return workflow.Result{Detail: fmt.Sprintf("%s %s -> %s", cfg.EntityType, id, cfg.Status)}
}

// MetricRecorder counts business metrics.
type MetricRecorder interface {
	Increment(ctx context.Context, name string, delta int64, at time.Time) error
}

// UpdateMetric bumps one business counter per firing.
type UpdateMetric struct {
	recorder MetricRecorder
}

func NewUpdateMetric(recorder MetricRecorder) *UpdateMetric {
	return &UpdateMetric{recorder: recorder}
}

func (a *UpdateMetric) Execute(ctx context.Context, spec domain.ActionSpec, event domain.TriggerEvent) workflow.Result {
	cfg := spec.Metric
	if cfg == nil {
		return workflow.Result{Err: errors.New("metric action missing config")}
	}

	delta := cfg.Delta
	if delta == 0 {
		delta = 1
	}

	if err := a.recorder.Increment(ctx, cfg.Name, delta, event.OccurredAt); err != nil {
		return workflow.Result{Err: fmt.Errorf("increment %s: %w", cfg.Name, err), Transient: true}
	}
	return workflow.Result{Detail: fmt.Sprintf("%s += %d", cfg.Name, delta)}
}
