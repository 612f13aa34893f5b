// Package actions implements the workflow engine's action executors. Each
// executor performs one action type against a collaborator and classifies
// its failures so the engine knows what to retry.
package actions

import (
	"context"
	"errors"
	"net"

	"github.com/Sonni4154/opsflow/internal/circuitbreaker"
	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/workflow"
)

// Deps collects the collaborators the executors run against.
type Deps struct {
	QuickBooks AccountingClient
	Calendar   CalendarClient
	Mail       MailSender
	Notify     Notifier
	Activities ActivityStore
	Statuses   StatusStore
	Metrics    MetricRecorder
}

// NewExecutors wires one executor per supported action type.
func NewExecutors(deps Deps) map[domain.ActionType]workflow.Executor {
	return map[domain.ActionType]workflow.Executor{
		domain.ActionSyncQuickBooks:     NewQuickBooksSync(deps.QuickBooks),
		domain.ActionSyncGoogleCalendar: NewCalendarSync(deps.Calendar),
		domain.ActionSendEmail:          NewSendEmail(deps.Mail),
		domain.ActionSendNotification:   NewSendNotification(deps.Notify),
		domain.ActionLogActivity:        NewLogActivity(deps.Activities),
		domain.ActionUpdateStatus:       NewUpdateStatus(deps.Statuses),
		domain.ActionUpdateMetric:       NewUpdateMetric(deps.Metrics),
	}
}

// failure wraps an error into a Result with retry classification.
func failure(err error) workflow.Result {
	return workflow.Result{Err: err, Transient: isTransient(err)}
}

// isTransient decides whether an action error is worth retrying. Provider
// rejections and local misconfiguration are permanent; transport faults,
// rate limits and an open circuit breaker are not.
func isTransient(err error) bool {
	if errors.Is(err, domain.ErrReauthorizationRequired) || errors.Is(err, domain.ErrNotConnected) {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return true
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// stringField reads a payload field as a string, empty when missing or
// not a string.
func stringField(payload map[string]any, field string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[field].(string)
	return s
}
