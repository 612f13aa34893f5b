// Package calendar is a Google Calendar API client used by the calendar
// sync job and the sync_google_calendar action.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/metrics"
	"github.com/Sonni4154/opsflow/internal/token"
)

const (
	providerName = "google"

	maxResponseBytes = 4 << 20
)

// TokenSource supplies a valid access token before each request.
type TokenSource interface {
	Token(ctx context.Context) (token.Grant, error)
}

// Breaker guards calls to the provider API.
type Breaker interface {
	Allow(provider string) error
	RecordSuccess(provider string)
	RecordFailure(provider string)
}

// MetricsSink records provider request metrics.
type MetricsSink interface {
	ProviderRequestCompleted(provider, statusClass string, duration time.Duration)
}

// APIError is a non-2xx response from the Calendar API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar api status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the request may succeed on retry.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Event is the subset of a calendar event the sync jobs exchange.
type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Status      string
	Start       time.Time
	End         time.Time
	Updated     time.Time
}

type eventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type wireEvent struct {
	ID          string     `json:"id,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Status      string     `json:"status,omitempty"`
	Start       *eventTime `json:"start,omitempty"`
	End         *eventTime `json:"end,omitempty"`
	Updated     string     `json:"updated,omitempty"`
}

type Client struct {
	baseURL string
	source  TokenSource
	client  *http.Client
	breaker Breaker     // optional, nil = no circuit breaking
	metrics MetricsSink // optional, nil = metrics disabled
}

func New(baseURL string, source TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		source:  source,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBreaker sets the circuit breaker consulted before each request.
func (c *Client) WithBreaker(b Breaker) *Client {
	c.breaker = b
	return c
}

// WithMetrics sets the metrics sink.
func (c *Client) WithMetrics(m MetricsSink) *Client {
	c.metrics = m
	return c
}

// WithTimeout overrides the default 30s request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.client.Timeout = d
	return c
}

// CreateEvent inserts a new event into the given calendar.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, ev Event) (Event, error) {
	body, err := json.Marshal(toWire(ev))
	if err != nil {
		return Event{}, fmt.Errorf("encode event: %w", err)
	}
	respBody, err := c.do(ctx, http.MethodPost, eventsPath(calendarID), body)
	if err != nil {
		return Event{}, err
	}
	return decodeEvent(respBody)
}

// UpdateEvent replaces the event with the same ID.
func (c *Client) UpdateEvent(ctx context.Context, calendarID string, ev Event) (Event, error) {
	if ev.ID == "" {
		return Event{}, errors.New("update requires an event id")
	}
	body, err := json.Marshal(toWire(ev))
	if err != nil {
		return Event{}, fmt.Errorf("encode event: %w", err)
	}
	respBody, err := c.do(ctx, http.MethodPut, eventsPath(calendarID)+"/"+url.PathEscape(ev.ID), body)
	if err != nil {
		return Event{}, err
	}
	return decodeEvent(respBody)
}

// DeleteEvent removes an event. Deleting an event that is already gone
// is not an error.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	_, err := c.do(ctx, http.MethodDelete, eventsPath(calendarID)+"/"+url.PathEscape(eventID), nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone) {
		return nil
	}
	return err
}

// ListUpdatedSince returns events updated after the given time, following
// pagination until the listing is exhausted.
func (c *Client) ListUpdatedSince(ctx context.Context, calendarID string, since time.Time) ([]Event, error) {
	var out []Event
	pageToken := ""
	for {
		q := url.Values{
			"updatedMin":   {since.UTC().Format(time.RFC3339)},
			"singleEvents": {"true"},
			"showDeleted":  {"true"},
			"maxResults":   {"250"},
			"orderBy":      {"updated"},
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		body, err := c.do(ctx, http.MethodGet, eventsPath(calendarID)+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			Items         []wireEvent `json:"items"`
			NextPageToken string      `json:"nextPageToken"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode events page: %w", err)
		}
		for _, w := range page.Items {
			out = append(out, fromWire(w))
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

func eventsPath(calendarID string) string {
	if calendarID == "" {
		calendarID = "primary"
	}
	return "/calendars/" + url.PathEscape(calendarID) + "/events"
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(providerName); err != nil {
			return nil, err
		}
	}

	grant, err := c.source.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+grant.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.recordOutcome(0, err, time.Since(start))
		return nil, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.recordOutcome(0, err, time.Since(start))
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.recordOutcome(resp.StatusCode, nil, time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("calendar api status 401: %w", domain.ErrReauthorizationRequired)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	return respBody, nil
}

func (c *Client) recordOutcome(status int, err error, d time.Duration) {
	if c.breaker != nil {
		if err != nil || status == http.StatusTooManyRequests || status >= 500 {
			c.breaker.RecordFailure(providerName)
		} else {
			c.breaker.RecordSuccess(providerName)
		}
	}
	if c.metrics != nil {
		c.metrics.ProviderRequestCompleted(providerName, metrics.ClassifyStatus(status, err), d)
	}
}

func decodeEvent(body []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return fromWire(w), nil
}

func toWire(ev Event) wireEvent {
	w := wireEvent{
		ID:          ev.ID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      ev.Status,
	}
	if !ev.Start.IsZero() {
		w.Start = &eventTime{DateTime: ev.Start.Format(time.RFC3339)}
	}
	if !ev.End.IsZero() {
		w.End = &eventTime{DateTime: ev.End.Format(time.RFC3339)}
	}
	return w
}

func fromWire(w wireEvent) Event {
	ev := Event{
		ID:          w.ID,
		Summary:     w.Summary,
		Description: w.Description,
		Location:    w.Location,
		Status:      w.Status,
		Start:       parseEventTime(w.Start),
		End:         parseEventTime(w.End),
	}
	if w.Updated != "" {
		if t, err := time.Parse(time.RFC3339, w.Updated); err == nil {
			ev.Updated = t
		}
	}
	return ev
}

func parseEventTime(et *eventTime) time.Time {
	if et == nil {
		return time.Time{}
	}
	if et.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, et.DateTime); err == nil {
			return t
		}
	}
	if et.Date != "" {
		// All-day events carry a bare date.
		if t, err := time.Parse("2006-01-02", et.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
