package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Workflow engine metrics
	TriggerFired(event string)
	ExecutionCompleted(duration time.Duration, failed bool)
	ActionAttemptCompleted(actionType string, attempt int, status string, duration time.Duration)
	ActionOutcome(actionType string, outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	EmitError()

	// Token lifecycle metrics
	TokenRefreshCompleted(provider string, outcome string, duration time.Duration)

	// Provider HTTP metrics
	ProviderRequestCompleted(provider string, statusClass string, duration time.Duration)

	// Sync scheduler metrics
	SyncRunCompleted(job string, outcome string, duration time.Duration)
	SyncRunSkipped(job string)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for ExecutionCompleted, ActionOutcome, TokenRefreshCompleted
// and SyncRunCompleted metrics.
const (
	OutcomeSuccess      = "success"
	OutcomeFailed       = "failed"
	OutcomeError        = "error"
	OutcomeReauthNeeded = "reauth_required"
)

// StatusClass constants for ProviderRequestCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a provider call's status code and error to a status
// class label.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"),
			strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"),
			strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		default:
			return StatusClassOtherError
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
