package domain

import "errors"

var (
	// ErrNotConnected is returned when a user has never connected a provider.
	ErrNotConnected = errors.New("provider not connected")

	// ErrReauthorizationRequired is returned when a provider permanently
	// rejects a refresh token. The credential is deactivated and the user
	// must complete the OAuth flow again.
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrTriggerNotFound is returned when a trigger id does not exist.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrTriggerExists is returned when a trigger name is already taken.
	ErrTriggerExists = errors.New("trigger name already exists")

	// ErrInvalidTrigger is returned when a trigger definition fails validation.
	ErrInvalidTrigger = errors.New("invalid trigger definition")
)
