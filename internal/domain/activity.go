package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityEntry is a human-readable audit line written by the log_activity
// action.
type ActivityEntry struct {
	ID        uuid.UUID
	Category  string
	Message   string
	Event     string
	ActorID   string
	CreatedAt time.Time
}
