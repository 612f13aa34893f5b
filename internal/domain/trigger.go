package domain

import (
	"time"

	"github.com/google/uuid"
)

// Trigger is a named automation rule: it binds a domain event to an
// optional condition set and an ordered list of actions.
type Trigger struct {
	ID          uuid.UUID
	Name        string
	Description string

	// Event is the domain event key this trigger reacts to, e.g. "clock_out".
	Event string

	// Conditions narrow the trigger; nil means it always matches.
	Conditions *ConditionSet

	// Actions run sequentially in listed order.
	Actions []ActionSpec

	// Priority orders triggers matching the same event; lower runs first.
	// Ties are broken by creation time.
	Priority int

	Active    bool
	CreatedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}
