package api

import (
	"fmt"

	"github.com/Sonni4154/opsflow/internal/domain"
)

const maxEventNameLength = 64

// validateEventName enforces the event key format: lowercase letters,
// digits, and underscores, starting with a letter.
func validateEventName(name string) error {
	if name == "" {
		return fmt.Errorf("event name is required")
	}
	if len(name) > maxEventNameLength {
		return fmt.Errorf("event name exceeds %d characters", maxEventNameLength)
	}
	if name[0] < 'a' || name[0] > 'z' {
		return fmt.Errorf("event name must start with a lowercase letter")
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return fmt.Errorf("event name may only contain lowercase letters, digits, and underscores")
		}
	}
	return nil
}

// parseProvider maps a path segment to a known OAuth provider.
func parseProvider(segment string) (domain.Provider, error) {
	p := domain.Provider(segment)
	if !domain.KnownProvider(p) {
		return "", fmt.Errorf("unknown provider %q", segment)
	}
	return p, nil
}
