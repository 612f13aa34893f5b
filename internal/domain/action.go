package domain

import "fmt"

type ActionType string

const (
	ActionSyncQuickBooks     ActionType = "sync_quickbooks"
	ActionSyncGoogleCalendar ActionType = "sync_google_calendar"
	ActionSendEmail          ActionType = "send_email"
	ActionSendNotification   ActionType = "send_notification"
	ActionLogActivity        ActionType = "log_activity"
	ActionUpdateStatus       ActionType = "update_status"
	ActionUpdateMetric       ActionType = "update_metric"
)

// ActionSpec is one step of a trigger. The config field matching Type must
// be set and all others nil; Validate enforces this so executors never see
// a half-built spec.
type ActionSpec struct {
	Type        ActionType `json:"type"`
	RetryOnFail bool       `json:"retry_on_fail,omitempty"`

	QuickBooks   *QuickBooksSyncConfig `json:"quickbooks,omitempty"`
	Calendar     *CalendarSyncConfig   `json:"calendar,omitempty"`
	Email        *EmailConfig          `json:"email,omitempty"`
	Notification *NotificationConfig   `json:"notification,omitempty"`
	Activity     *ActivityConfig       `json:"activity,omitempty"`
	Status       *StatusConfig         `json:"status,omitempty"`
	Metric       *MetricConfig         `json:"metric,omitempty"`
}

// QuickBooksSyncConfig pushes or pulls one accounting entity type.
type QuickBooksSyncConfig struct {
	// Entity is the accounting object kind: "customer", "invoice" or "product".
	Entity string `json:"entity"`
	// Direction is "push" (local to provider) or "pull".
	Direction string `json:"direction"`
	// EntityIDField names the payload field carrying the local entity ID.
	// Defaults to "entityId".
	EntityIDField string `json:"entity_id_field,omitempty"`
}

// CalendarSyncConfig mirrors a scheduled visit into a calendar.
type CalendarSyncConfig struct {
	CalendarID string `json:"calendar_id"`
	// Operation is "create", "update" or "delete".
	Operation string `json:"operation"`
	// EventIDField names the payload field carrying the calendar event ID
	// for update/delete. Defaults to "calendarEventId".
	EventIDField string `json:"event_id_field,omitempty"`
}

type EmailConfig struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
}

type NotificationConfig struct {
	// Target is the in-app recipient: a user ID or a channel name.
	Target  string `json:"target"`
	Message string `json:"message"`
}

type ActivityConfig struct {
	Category string `json:"category"`
	Message  string `json:"message,omitempty"`
}

// StatusConfig moves an entity to a fixed status. The entity ID is read
// from the event payload.
type StatusConfig struct {
	EntityType string `json:"entity_type"`
	Status     string `json:"status"`
	// EntityIDField names the payload field carrying the entity ID.
	// Defaults to "entityId".
	EntityIDField string `json:"entity_id_field,omitempty"`
}

type MetricConfig struct {
	Name string `json:"name"`
	// Delta is the increment applied per firing; 0 means 1.
	Delta int64 `json:"delta,omitempty"`
}

// KnownActionType reports whether t is one of the supported action types.
func KnownActionType(t ActionType) bool {
	switch t {
	case ActionSyncQuickBooks, ActionSyncGoogleCalendar, ActionSendEmail,
		ActionSendNotification, ActionLogActivity, ActionUpdateStatus,
		ActionUpdateMetric:
		return true
	}
	return false
}

// Validate checks that the action carries exactly the config its type needs.
func (a ActionSpec) Validate() error {
	switch a.Type {
	case ActionSyncQuickBooks:
		if a.QuickBooks == nil {
			return fmt.Errorf("action %s: quickbooks config required", a.Type)
		}
		if a.QuickBooks.Entity == "" {
			return fmt.Errorf("action %s: entity required", a.Type)
		}
		switch a.QuickBooks.Direction {
		case "push", "pull":
		default:
			return fmt.Errorf("action %s: direction must be push or pull, got %q", a.Type, a.QuickBooks.Direction)
		}
	case ActionSyncGoogleCalendar:
		if a.Calendar == nil {
			return fmt.Errorf("action %s: calendar config required", a.Type)
		}
		if a.Calendar.CalendarID == "" {
			return fmt.Errorf("action %s: calendar_id required", a.Type)
		}
		switch a.Calendar.Operation {
		case "create", "update", "delete":
		default:
			return fmt.Errorf("action %s: operation must be create, update or delete, got %q", a.Type, a.Calendar.Operation)
		}
	case ActionSendEmail:
		if a.Email == nil {
			return fmt.Errorf("action %s: email config required", a.Type)
		}
		if a.Email.To == "" {
			return fmt.Errorf("action %s: to required", a.Type)
		}
		if a.Email.Subject == "" {
			return fmt.Errorf("action %s: subject required", a.Type)
		}
	case ActionSendNotification:
		if a.Notification == nil {
			return fmt.Errorf("action %s: notification config required", a.Type)
		}
		if a.Notification.Target == "" {
			return fmt.Errorf("action %s: target required", a.Type)
		}
		if a.Notification.Message == "" {
			return fmt.Errorf("action %s: message required", a.Type)
		}
	case ActionLogActivity:
		if a.Activity == nil {
			return fmt.Errorf("action %s: activity config required", a.Type)
		}
		if a.Activity.Category == "" {
			return fmt.Errorf("action %s: category required", a.Type)
		}
	case ActionUpdateStatus:
		if a.Status == nil {
			return fmt.Errorf("action %s: status config required", a.Type)
		}
		if a.Status.EntityType == "" {
			return fmt.Errorf("action %s: entity_type required", a.Type)
		}
		if a.Status.Status == "" {
			return fmt.Errorf("action %s: status required", a.Type)
		}
	case ActionUpdateMetric:
		if a.Metric == nil {
			return fmt.Errorf("action %s: metric config required", a.Type)
		}
		if a.Metric.Name == "" {
			return fmt.Errorf("action %s: name required", a.Type)
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}
