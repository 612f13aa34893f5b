package domain

import (
	"time"

	"github.com/google/uuid"
)

type ActionStatus string

const (
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusFailed  ActionStatus = "failed"
	// ActionStatusRetried marks an attempt that failed transiently and was
	// retried. It appears only on per-attempt audit rows; terminal outcomes
	// are success or failed.
	ActionStatusRetried ActionStatus = "retried"
)

// ActionOutcome is the terminal result of one action within a trigger run.
// Retries collapse into a single outcome; Attempts preserves the count.
type ActionOutcome struct {
	Type     ActionType   `json:"type"`
	Status   ActionStatus `json:"status"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

// ExecutionRecord is the append-only audit entry for one matched trigger.
// Never mutated after creation.
type ExecutionRecord struct {
	ID          uuid.UUID
	TriggerID   uuid.UUID
	TriggerName string
	Event       string
	ActorID     string
	Actions     []ActionOutcome
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Failed reports whether any action in the record ended in failure.
func (r ExecutionRecord) Failed() bool {
	for _, a := range r.Actions {
		if a.Status == ActionStatusFailed {
			return true
		}
	}
	return false
}

// ActionAttempt is one execution attempt of one action, recorded for audit
// independently of the terminal outcome.
type ActionAttempt struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	ActionIndex int
	Type        ActionType
	Attempt     int
	Status      ActionStatus
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}
