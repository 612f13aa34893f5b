package domain

import "time"

// TriggerEvent is one domain occurrence fed to the workflow engine, e.g. an
// employee clocking out or a form submission. It is ephemeral: only the
// resulting ExecutionRecords are persisted.
type TriggerEvent struct {
	Name       string
	Payload    map[string]any
	ActorID    string
	Metadata   map[string]string
	OccurredAt time.Time
}
