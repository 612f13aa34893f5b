package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/mail"
	"github.com/Sonni4154/opsflow/internal/notify"
	"github.com/Sonni4154/opsflow/internal/workflow"
)

// MailSender delivers transactional email.
type MailSender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// SendEmail delivers one email per firing.
type SendEmail struct {
	sender MailSender
}

func NewSendEmail(sender MailSender) *SendEmail {
	return &SendEmail{sender: sender}
}

func (a *SendEmail) Execute(ctx context.Context, spec domain.ActionSpec, event domain.TriggerEvent) workflow.Result {
	cfg := spec.Email
	if cfg == nil {
		return workflow.Result{Err: errors.New("email action missing config")}
	}

	body := cfg.Body
	if body == "" {
		body = fmt.Sprintf("Triggered by event %s.", event.Name)
	}

	err := a.sender.Send(ctx, mail.Message{To: cfg.To, Subject: cfg.Subject, Body: body})
	if err != nil {
		return failure(fmt.Errorf("send email to %s: %w", cfg.To, err))
	}
	return workflow.Result{Detail: "sent to " + cfg.To}
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Send(ctx context.Context, n notify.Notification) error
}

// SendNotification posts one notification per firing.
type SendNotification struct {
	notifier Notifier
}

func NewSendNotification(notifier Notifier) *SendNotification {
	return &SendNotification{notifier: notifier}
}

func (a *SendNotification) Execute(ctx context.Context, spec domain.ActionSpec, event domain.TriggerEvent) workflow.Result {
	cfg := spec.Notification
	if cfg == nil {
		return workflow.Result{Err: errors.New("notification action missing config")}
	}

	n := notify.Notification{
		Channel:  cfg.Target,
		Title:    cfg.Message,
		Body:     fmt.Sprintf("event=%s actor=%s", event.Name, event.ActorID),
		Severity: "info",
	}
	if err := a.notifier.Send(ctx, n); err != nil {
		return failure(fmt.Errorf("notify %s: %w", cfg.Target, err))
	}
	return workflow.Result{Detail: "notified " + cfg.Target}
}
