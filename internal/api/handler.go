package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/scheduler"
	"github.com/Sonni4154/opsflow/internal/transport/channel"
)

// TriggerRegistry is the trigger management surface the API exposes.
type TriggerRegistry interface {
	Create(ctx context.Context, t domain.Trigger) (domain.Trigger, error)
	List(ctx context.Context) ([]domain.Trigger, error)
	ListActiveFor(ctx context.Context, event string) ([]domain.Trigger, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// TokenManager is the credential lifecycle surface the API exposes.
type TokenManager interface {
	HandleCallback(ctx context.Context, userID string, provider domain.Provider, code, realmID string) error
	Disconnect(ctx context.Context, userID string, provider domain.Provider) error
}

// SyncControl drives the background sync jobs.
type SyncControl interface {
	TriggerNow(ctx context.Context, name string) (scheduler.RunResult, error)
	Status() []domain.SyncJobState
}

// EventPublisher enqueues domain events for the workflow engine.
type EventPublisher interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// Authorizer builds the provider authorization URL for the OAuth redirect.
type Authorizer interface {
	AuthCodeURL(state string) string
}

// CredentialLister supplies credential summaries for /sync/status.
type CredentialLister interface {
	ListCredentials(ctx context.Context) ([]domain.Credential, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	registry TriggerRegistry
	tokens   TokenManager
	sync     SyncControl
	bus      EventPublisher

	authorizers map[domain.Provider]Authorizer
	creds       CredentialLister // optional, nil = no credential summaries
	db          HealthChecker    // optional, nil = shallow /health only

	defaultUserID string
	now           func() time.Time
}

func NewHandler(registry TriggerRegistry, tokens TokenManager, sync SyncControl, bus EventPublisher) *Handler {
	return &Handler{
		registry:      registry,
		tokens:        tokens,
		sync:          sync,
		bus:           bus,
		authorizers:   make(map[domain.Provider]Authorizer),
		defaultUserID: "admin",
		now:           time.Now,
	}
}

// WithAuthorizers sets the per-provider OAuth authorization URL builders.
func (h *Handler) WithAuthorizers(authorizers map[domain.Provider]Authorizer) *Handler {
	h.authorizers = authorizers
	return h
}

// WithCredentialLister enables credential summaries on /sync/status.
func (h *Handler) WithCredentialLister(creds CredentialLister) *Handler {
	h.creds = creds
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithDefaultUser sets the user credentials are attributed to when a
// request does not name one.
func (h *Handler) WithDefaultUser(userID string) *Handler {
	if userID != "" {
		h.defaultUserID = userID
	}
	return h
}

// WithClock overrides the time source for tests.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/sync/status" && r.Method == http.MethodGet:
		h.syncStatus(w, r)

	case strings.HasPrefix(path, "/sync/trigger-") && r.Method == http.MethodPost:
		h.triggerSync(w, r)

	case path == "/triggers" && r.Method == http.MethodPost:
		h.createTrigger(w, r)

	case path == "/triggers" && r.Method == http.MethodGet:
		h.listTriggers(w, r)

	case strings.HasPrefix(path, "/triggers/") && r.Method == http.MethodDelete:
		h.deactivateTrigger(w, r)

	case strings.HasPrefix(path, "/events/") && r.Method == http.MethodPost:
		h.publishEvent(w, r)

	case strings.HasPrefix(path, "/oauth/"):
		h.oauth(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("verbose")
	verbose := v == "1" || v == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createTrigger(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	created, err := h.registry.Create(r.Context(), domain.Trigger{
		Name:        req.Name,
		Description: req.Description,
		Event:       req.Event,
		Priority:    req.Priority,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTrigger):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrTriggerExists):
			writeError(w, http.StatusConflict, "trigger name already exists")
		default:
			log.Printf("api: create trigger error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to create trigger")
		}
		return
	}

	writeJSON(w, http.StatusCreated, triggerResponse(created))
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	var (
		triggers []domain.Trigger
		err      error
	)
	if event := r.URL.Query().Get("event"); event != "" {
		triggers, err = h.registry.ListActiveFor(r.Context(), event)
	} else {
		triggers, err = h.registry.List(r.Context())
	}
	if err != nil {
		log.Printf("api: list triggers error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, len(triggers))}
	for i, t := range triggers {
		resp.Triggers[i] = triggerResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deactivateTrigger(w http.ResponseWriter, r *http.Request) {
	// Path shape: /triggers/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	if err := h.registry.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrTriggerNotFound) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: deactivate trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to deactivate trigger")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/events/")
	if err := validateEventName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	event := domain.TriggerEvent{
		Name:       name,
		Payload:    req.Payload,
		ActorID:    req.ActorID,
		Metadata:   req.Metadata,
		OccurredAt: h.now(),
	}

	if err := h.bus.Emit(r.Context(), event); err != nil {
		if errors.Is(err, channel.ErrBufferFull) {
			writeError(w, http.StatusServiceUnavailable, "event bus is full")
			return
		}
		log.Printf("api: emit event error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to accept event")
		return
	}

	writeJSON(w, http.StatusAccepted, EventAcceptedResponse{Event: name, Status: "accepted"})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	job := strings.TrimPrefix(r.URL.Path, "/sync/trigger-")
	if job == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	res, err := h.sync.TriggerNow(r.Context(), job)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrUnknownJob):
			writeError(w, http.StatusNotFound, "unknown sync job")
		case errors.Is(err, scheduler.ErrJobAlreadyRunning):
			writeError(w, http.StatusConflict, "sync job already running")
		default:
			log.Printf("api: trigger sync error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to trigger sync")
		}
		return
	}

	resp := SyncRunResponse{
		Job:        res.Job,
		Status:     "success",
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		resp.Status = "error"
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	states := h.sync.Status()
	resp := SyncStatusResponse{Jobs: make([]SyncJobResponse, len(states))}
	for i, st := range states {
		resp.Jobs[i] = syncJobResponse(st)
	}

	if h.creds != nil {
		creds, err := h.creds.ListCredentials(r.Context())
		if err != nil {
			log.Printf("api: list credentials error: %v", err)
		} else {
			resp.Credentials = make([]CredentialSummary, len(creds))
			for i, c := range creds {
				resp.Credentials[i] = credentialSummary(c)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// oauth routes /oauth/{provider}/connect, /oauth/{provider}/callback, and
// /oauth/{provider}/disconnect.
func (h *Handler) oauth(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	provider, err := parseProvider(parts[1])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	switch {
	case parts[2] == "connect" && r.Method == http.MethodGet:
		h.oauthConnect(w, r, provider)
	case parts[2] == "callback" && r.Method == http.MethodGet:
		h.oauthCallback(w, r, provider)
	case parts[2] == "disconnect" && r.Method == http.MethodPost:
		h.oauthDisconnect(w, r, provider)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) oauthConnect(w http.ResponseWriter, r *http.Request, provider domain.Provider) {
	authorizer, ok := h.authorizers[provider]
	if !ok {
		writeError(w, http.StatusNotFound, "provider not configured")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = h.defaultUserID
	}

	// The state parameter carries the connecting user through the provider
	// round trip.
	http.Redirect(w, r, authorizer.AuthCodeURL(userID), http.StatusFound)
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request, provider domain.Provider) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	userID := q.Get("state")
	if userID == "" {
		userID = h.defaultUserID
	}
	realmID := q.Get("realmId")

	if err := h.tokens.HandleCallback(r.Context(), userID, provider, code, realmID); err != nil {
		log.Printf("api: oauth callback error for %s: %v", provider, err)
		writeError(w, http.StatusBadGateway, "authorization exchange failed")
		return
	}

	writeJSON(w, http.StatusOK, ConnectionResponse{
		Provider: string(provider),
		UserID:   userID,
		Status:   "connected",
	})
}

func (h *Handler) oauthDisconnect(w http.ResponseWriter, r *http.Request, provider domain.Provider) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req DisconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = h.defaultUserID
	}

	if err := h.tokens.Disconnect(r.Context(), userID, provider); err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			writeError(w, http.StatusNotFound, "provider not connected")
			return
		}
		log.Printf("api: disconnect error for %s: %v", provider, err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
