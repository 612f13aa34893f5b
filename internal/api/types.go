package api

import (
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
)

type CreateTriggerRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Event       string               `json:"event"`
	Priority    int                  `json:"priority,omitempty"`
	Conditions  *domain.ConditionSet `json:"conditions,omitempty"`
	Actions     []domain.ActionSpec  `json:"actions"`
	CreatedBy   string               `json:"created_by,omitempty"`
}

type TriggerResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Event       string               `json:"event"`
	Priority    int                  `json:"priority"`
	Active      bool                 `json:"active"`
	Conditions  *domain.ConditionSet `json:"conditions,omitempty"`
	Actions     []domain.ActionSpec  `json:"actions"`
	CreatedBy   string               `json:"created_by,omitempty"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type EventRequest struct {
	Payload  map[string]any    `json:"payload,omitempty"`
	ActorID  string            `json:"actor_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type EventAcceptedResponse struct {
	Event  string `json:"event"`
	Status string `json:"status"`
}

type SyncRunResponse struct {
	Job        string `json:"job"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type SyncJobResponse struct {
	Name      string `json:"name"`
	Interval  string `json:"interval,omitempty"`
	CronSpec  string `json:"cron_spec,omitempty"`
	LastRun   string `json:"last_run,omitempty"`
	NextRun   string `json:"next_run,omitempty"`
	Running   bool   `json:"running"`
	LastError string `json:"last_error,omitempty"`
	Runs      int64  `json:"runs"`
	Skips     int64  `json:"skips"`
}

// CredentialSummary is the connection state of one provider credential.
// Token material never leaves the store through this API.
type CredentialSummary struct {
	UserID    string `json:"user_id"`
	Provider  string `json:"provider"`
	Active    bool   `json:"active"`
	ExpiresAt string `json:"expires_at"`
}

type SyncStatusResponse struct {
	Jobs        []SyncJobResponse   `json:"jobs"`
	Credentials []CredentialSummary `json:"credentials,omitempty"`
}

type DisconnectRequest struct {
	UserID string `json:"user_id"`
}

type ConnectionResponse struct {
	Provider string `json:"provider"`
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func triggerResponse(t domain.Trigger) TriggerResponse {
	return TriggerResponse{
		ID:          t.ID.String(),
		Name:        t.Name,
		Description: t.Description,
		Event:       t.Event,
		Priority:    t.Priority,
		Active:      t.Active,
		Conditions:  t.Conditions,
		Actions:     t.Actions,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
}

func syncJobResponse(st domain.SyncJobState) SyncJobResponse {
	resp := SyncJobResponse{
		Name:      st.Name,
		CronSpec:  st.CronSpec,
		LastRun:   formatTime(st.LastRun),
		NextRun:   formatTime(st.NextRun),
		Running:   st.Running,
		LastError: st.LastError,
		Runs:      st.Runs,
		Skips:     st.Skips,
	}
	if st.Interval > 0 {
		resp.Interval = st.Interval.String()
	}
	return resp
}

func credentialSummary(c domain.Credential) CredentialSummary {
	return CredentialSummary{
		UserID:    c.UserID,
		Provider:  string(c.Provider),
		Active:    c.Active,
		ExpiresAt: formatTime(c.ExpiresAt),
	}
}
