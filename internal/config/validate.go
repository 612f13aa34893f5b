package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sonni4154/opsflow/internal/cron"
)

// ValidationError describes one rejected configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every rejected value so operators can fix a
// bad deployment in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	reject := func(field, message string) {
		errs = append(errs, ValidationError{Field: field, Message: message})
	}

	if cfg.DatabaseURL == "" {
		reject("DATABASE_URL", "required")
	}

	// Duration variables must parse and be positive. Empty means the
	// default from Load applies.
	for _, dv := range []struct{ field, raw string }{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"EVENT_DRAIN_TIMEOUT", cfg.EventDrainTimeoutStr},
		{"ACTION_TIMEOUT", cfg.ActionTimeoutStr},
		{"BACKOFF_BASE", cfg.BackoffBaseStr},
		{"BACKOFF_CAP", cfg.BackoffCapStr},
		{"TOKEN_REFRESH_MARGIN", cfg.TokenRefreshMarginStr},
		{"PROVIDER_TIMEOUT", cfg.ProviderTimeoutStr},
		{"QB_SYNC_INTERVAL", cfg.QBSyncIntervalStr},
		{"CALENDAR_SYNC_INTERVAL", cfg.CalendarSyncIntervalStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"RECONCILE_AHEAD", cfg.ReconcileAheadStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	} {
		if dv.raw == "" {
			continue
		}
		switch d, err := time.ParseDuration(dv.raw); {
		case err != nil:
			reject(dv.field, fmt.Sprintf("invalid duration: %v", err))
		case d <= 0:
			reject(dv.field, "must be positive")
		}
	}

	// NIGHTLY_IMPORT_CRON must be a valid cron expression when set;
	// empty disables the nightly import.
	if cfg.NightlyImportCron != "" {
		if _, err := cron.Parse(cfg.NightlyImportCron); err != nil {
			reject("NIGHTLY_IMPORT_CRON", fmt.Sprintf("invalid cron expression: %v", err))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
