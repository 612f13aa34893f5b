// Package quickbooks is a minimal QuickBooks Online API client covering
// the entities the workflow engine and sync jobs exchange.
package quickbooks

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
	providerName = "quickbooks"
	minorVersion = "65"

	maxResponseBytes = 4 << 20
)

// ErrNotFound is returned when a lookup matches no entity.
var ErrNotFound = errors.New("quickbooks: entity not found")

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

// APIError is a non-2xx response from the QuickBooks API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quickbooks api status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the request may succeed on retry.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
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

// Query runs a QuickBooks query and returns the matched entities.
func (c *Client) Query(ctx context.Context, query string) ([]map[string]any, error) {
	q := url.Values{
		"query":        {query},
		"minorversion": {minorVersion},
	}
	body, err := c.do(ctx, http.MethodGet, "/query?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return flattenEntities(decoded.QueryResponse), nil
}

// FetchByID retrieves a single entity by its QuickBooks Id.
func (c *Client) FetchByID(ctx context.Context, entity, id string) (map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE Id = '%s'", entity, escapeQueryValue(id))
	items, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s id=%s: %w", entity, id, ErrNotFound)
	}
	return items[0], nil
}

// Upsert creates or updates an entity. QuickBooks treats a payload carrying
// Id and SyncToken as a sparse update.
func (c *Client) Upsert(ctx context.Context, entity string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", entity, err)
	}

	path := "/" + strings.ToLower(entity) + "?minorversion=" + minorVersion
	respBody, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", entity, err)
	}
	if raw, ok := decoded[entity]; ok {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err == nil {
			return obj, nil
		}
	}
	for _, raw := range decoded {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err == nil {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("quickbooks response missing %s entity", entity)
}

// ChangedSince returns entities changed after the given time, grouped by
// entity type, using the change data capture endpoint.
func (c *Client) ChangedSince(ctx context.Context, entities []string, since time.Time) (map[string][]map[string]any, error) {
	q := url.Values{
		"entities":     {strings.Join(entities, ",")},
		"changedSince": {since.UTC().Format(time.RFC3339)},
		"minorversion": {minorVersion},
	}
	body, err := c.do(ctx, http.MethodGet, "/cdc?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		CDCResponse []struct {
			QueryResponse []map[string]json.RawMessage `json:"QueryResponse"`
		} `json:"CDCResponse"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode cdc response: %w", err)
	}

	out := make(map[string][]map[string]any)
	for _, cdc := range decoded.CDCResponse {
		for _, qr := range cdc.QueryResponse {
			mergeEntityGroups(out, qr)
		}
	}
	return out, nil
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
	if grant.RealmID == "" {
		return nil, errors.New("quickbooks credential has no realm id")
	}

	u := c.baseURL + "/v3/company/" + url.PathEscape(grant.RealmID) + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
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
		return nil, fmt.Errorf("quickbooks request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.recordOutcome(0, err, time.Since(start))
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.recordOutcome(resp.StatusCode, nil, time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("quickbooks api status 401: %w", domain.ErrReauthorizationRequired)
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

func flattenEntities(groups map[string]json.RawMessage) []map[string]any {
	var out []map[string]any
	for _, raw := range groups {
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			// Scalar bookkeeping fields such as startPosition.
			continue
		}
		out = append(out, items...)
	}
	return out
}

func mergeEntityGroups(dst map[string][]map[string]any, groups map[string]json.RawMessage) {
	for name, raw := range groups {
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			continue
		}
		dst[name] = append(dst[name], items...)
	}
}

func escapeQueryValue(v string) string {
	return strings.ReplaceAll(v, "'", "\\'")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
