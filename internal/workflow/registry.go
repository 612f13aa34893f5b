package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Sonni4154/opsflow/internal/domain"
)

// RegistryStore persists triggers.
type RegistryStore interface {
	InsertTrigger(ctx context.Context, t domain.Trigger) error
	GetTrigger(ctx context.Context, id uuid.UUID) (domain.Trigger, error)
	GetTriggerByName(ctx context.Context, name string) (domain.Trigger, error)
	ListTriggers(ctx context.Context) ([]domain.Trigger, error)
	ListActiveTriggersFor(ctx context.Context, event string) ([]domain.Trigger, error)
	DeactivateTrigger(ctx context.Context, id uuid.UUID) error
}

// Registry owns trigger registration and lookup. It validates triggers on
// the way in so the engine only ever sees well-formed ones.
type Registry struct {
	store RegistryStore
	now   func() time.Time
}

func NewRegistry(store RegistryStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// WithClock overrides the time source for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// ValidateTrigger checks a trigger definition. All failures wrap
// domain.ErrInvalidTrigger.
func ValidateTrigger(t domain.Trigger) error {
	if t.Name == "" {
		return fmt.Errorf("%w: name required", domain.ErrInvalidTrigger)
	}
	if t.Event == "" {
		return fmt.Errorf("%w: event required", domain.ErrInvalidTrigger)
	}
	if len(t.Actions) == 0 {
		return fmt.Errorf("%w: at least one action required", domain.ErrInvalidTrigger)
	}
	for i, a := range t.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: action %d: %v", domain.ErrInvalidTrigger, i, err)
		}
	}
	if err := t.Conditions.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidTrigger, err)
	}
	return nil
}

// Create validates and stores a new trigger, returning it with its
// assigned ID and timestamps.
func (r *Registry) Create(ctx context.Context, t domain.Trigger) (domain.Trigger, error) {
	if err := ValidateTrigger(t); err != nil {
		return domain.Trigger{}, err
	}

	t.ID = uuid.New()
	now := r.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Active = true

	if err := r.store.InsertTrigger(ctx, t); err != nil {
		return domain.Trigger{}, fmt.Errorf("insert trigger %s: %w", t.Name, err)
	}
	log.Printf("registry: trigger %q created for event %s (%d actions)", t.Name, t.Event, len(t.Actions))
	return t, nil
}

// Get returns one trigger by ID.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	return r.store.GetTrigger(ctx, id)
}

// List returns all triggers, active and inactive.
func (r *Registry) List(ctx context.Context) ([]domain.Trigger, error) {
	return r.store.ListTriggers(ctx)
}

// ListActiveFor returns the active triggers registered for an event. It is
// the engine's TriggerSource.
func (r *Registry) ListActiveFor(ctx context.Context, event string) ([]domain.Trigger, error) {
	return r.store.ListActiveTriggersFor(ctx, event)
}

// Deactivate turns a trigger off without deleting its execution history.
func (r *Registry) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := r.store.DeactivateTrigger(ctx, id); err != nil {
		return err
	}
	log.Printf("registry: trigger %s deactivated", id)
	return nil
}

// Bootstrap installs the default trigger catalogue, skipping any name that
// already exists so operator edits survive restarts. It returns the number
// of triggers installed.
func (r *Registry) Bootstrap(ctx context.Context, defaults []domain.Trigger) (int, error) {
	installed := 0
	for _, t := range defaults {
		_, err := r.store.GetTriggerByName(ctx, t.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrTriggerNotFound) {
			return installed, fmt.Errorf("lookup trigger %s: %w", t.Name, err)
		}
		if _, err := r.Create(ctx, t); err != nil {
			return installed, err
		}
		installed++
	}
	if installed > 0 {
		log.Printf("registry: bootstrap installed %d default triggers", installed)
	}
	return installed, nil
}
