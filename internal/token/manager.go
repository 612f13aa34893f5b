// Package token manages OAuth credential lifecycle for connected providers.
//
// The manager hands out access tokens that are guaranteed fresh for at least
// the configured margin, refreshing them against the provider when needed.
// Concurrent refreshes for the same (user, provider) pair collapse into a
// single provider call; late arrivals share its result.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
)

// DefaultMargin is how long before expiry a token stops being handed out
// and a refresh is forced instead.
const DefaultMargin = 5 * time.Minute

var refreshBackoff = []time.Duration{
	0,
	time.Second,
	5 * time.Second,
}

const maxRefreshAttempts = 3

// Grant is a provider access token ready for use.
type Grant struct {
	AccessToken string
	RealmID     string
}

// TokenSet is the result of an exchange or refresh against a provider endpoint.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Store is the credential persistence the manager needs.
type Store interface {
	// GetCredential returns the credential for (userID, provider).
	// Implementations return domain.ErrNotConnected when no row exists.
	GetCredential(ctx context.Context, userID string, provider domain.Provider) (domain.Credential, error)
	UpsertCredential(ctx context.Context, cred domain.Credential) error
	// DeactivateCredential marks the credential inactive. Implementations
	// return domain.ErrNotConnected when no row exists.
	DeactivateCredential(ctx context.Context, userID string, provider domain.Provider) error
	// ListExpiringCredentials returns active credentials expiring before the
	// given time, oldest expiry first, up to limit.
	ListExpiringCredentials(ctx context.Context, before time.Time, limit int) ([]domain.Credential, error)
}

// Endpoint exchanges authorization codes and refresh tokens with a provider.
// Refresh returns an error wrapping domain.ErrReauthorizationRequired when the
// provider permanently rejects the refresh token; any other error is treated
// as transient.
type Endpoint interface {
	Exchange(ctx context.Context, code string) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// MetricsSink defines the interface for recording token metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TokenRefreshCompleted(provider string, outcome string, duration time.Duration)
}

type flightCall struct {
	done  chan struct{}
	grant Grant
	err   error
}

type Manager struct {
	store     Store
	endpoints map[domain.Provider]Endpoint
	margin    time.Duration
	backoff   []time.Duration
	metrics   MetricsSink // optional, nil = disabled
	now       func() time.Time

	mu     sync.Mutex
	flight map[string]*flightCall
}

func New(store Store, endpoints map[domain.Provider]Endpoint) *Manager {
	return &Manager{
		store:     store,
		endpoints: endpoints,
		margin:    DefaultMargin,
		backoff:   refreshBackoff,
		now:       time.Now,
		flight:    make(map[string]*flightCall),
	}
}

// WithMargin overrides the freshness margin.
func (m *Manager) WithMargin(d time.Duration) *Manager {
	if d > 0 {
		m.margin = d
	}
	return m
}

// WithMetrics attaches a metrics sink to the manager.
func (m *Manager) WithMetrics(sink MetricsSink) *Manager {
	m.metrics = sink
	return m
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// AccessToken returns a token valid for at least the freshness margin,
// refreshing it first when the stored one is too close to expiry.
func (m *Manager) AccessToken(ctx context.Context, userID string, provider domain.Provider) (Grant, error) {
	cred, err := m.store.GetCredential(ctx, userID, provider)
	if err != nil {
		return Grant{}, fmt.Errorf("get credential: %w", err)
	}
	if !cred.Active {
		return Grant{}, fmt.Errorf("user=%s provider=%s: %w", userID, provider, domain.ErrReauthorizationRequired)
	}
	if cred.FreshFor(m.now(), m.margin) {
		return Grant{AccessToken: cred.AccessToken, RealmID: cred.RealmID}, nil
	}
	return m.refresh(ctx, userID, provider)
}

// ForceRefresh refreshes the credential regardless of remaining lifetime.
func (m *Manager) ForceRefresh(ctx context.Context, userID string, provider domain.Provider) (Grant, error) {
	return m.refresh(ctx, userID, provider)
}

// HandleCallback completes the OAuth flow: it exchanges the authorization
// code and stores the resulting credential as active.
func (m *Manager) HandleCallback(ctx context.Context, userID string, provider domain.Provider, code, realmID string) error {
	ep, ok := m.endpoints[provider]
	if !ok {
		return fmt.Errorf("no endpoint configured for provider %q", provider)
	}

	set, err := ep.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	now := m.now()
	cred := domain.Credential{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		RealmID:      realmID,
		ExpiresAt:    now.Add(set.ExpiresIn),
		Active:       true,
	}
	if err := m.store.UpsertCredential(ctx, cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	log.Printf("tokens: user=%s provider=%s connected", userID, provider)
	return nil
}

// Disconnect deactivates the stored credential.
func (m *Manager) Disconnect(ctx context.Context, userID string, provider domain.Provider) error {
	if err := m.store.DeactivateCredential(ctx, userID, provider); err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	log.Printf("tokens: user=%s provider=%s disconnected", userID, provider)
	return nil
}

// RefreshExpiring proactively refreshes active credentials that expire within
// the given window. It returns how many were refreshed; per-credential
// failures are logged and skipped so one bad credential cannot stall the rest.
func (m *Manager) RefreshExpiring(ctx context.Context, within time.Duration, limit int) (int, error) {
	creds, err := m.store.ListExpiringCredentials(ctx, m.now().Add(within), limit)
	if err != nil {
		return 0, fmt.Errorf("list expiring credentials: %w", err)
	}

	refreshed := 0
	for _, cred := range creds {
		select {
		case <-ctx.Done():
			return refreshed, ctx.Err()
		default:
		}

		if _, err := m.ForceRefresh(ctx, cred.UserID, cred.Provider); err != nil {
			log.Printf("tokens: proactive refresh user=%s provider=%s: %v", cred.UserID, cred.Provider, err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// refresh collapses concurrent refreshes for the same (user, provider) pair
// into one provider call.
func (m *Manager) refresh(ctx context.Context, userID string, provider domain.Provider) (Grant, error) {
	key := userID + "/" + string(provider)

	m.mu.Lock()
	if c, ok := m.flight[key]; ok {
		m.mu.Unlock()
		select {
		case <-c.done:
			return c.grant, c.err
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		}
	}
	c := &flightCall{done: make(chan struct{})}
	m.flight[key] = c
	m.mu.Unlock()

	c.grant, c.err = m.doRefresh(ctx, userID, provider)

	m.mu.Lock()
	delete(m.flight, key)
	m.mu.Unlock()
	close(c.done)

	return c.grant, c.err
}

func (m *Manager) doRefresh(ctx context.Context, userID string, provider domain.Provider) (Grant, error) {
	ep, ok := m.endpoints[provider]
	if !ok {
		return Grant{}, fmt.Errorf("no endpoint configured for provider %q", provider)
	}

	cred, err := m.store.GetCredential(ctx, userID, provider)
	if err != nil {
		return Grant{}, fmt.Errorf("get credential: %w", err)
	}

	opStart := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxRefreshAttempts; attempt++ {
		if attempt > 1 {
			idx := attempt - 1
			if idx >= len(m.backoff) {
				idx = len(m.backoff) - 1
			}
			backoff := m.backoff[idx]

			log.Printf("tokens: user=%s provider=%s refresh attempt=%d backoff=%s", userID, provider, attempt, backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return Grant{}, ctx.Err()
			case <-timer.C:
			}
		}

		set, err := ep.Refresh(ctx, cred.RefreshToken)
		if err == nil {
			cred.AccessToken = set.AccessToken
			if set.RefreshToken != "" {
				// Providers may rotate the refresh token on every use.
				cred.RefreshToken = set.RefreshToken
			}
			cred.ExpiresAt = m.now().Add(set.ExpiresIn)
			cred.Active = true

			if err := m.store.UpsertCredential(ctx, cred); err != nil {
				return Grant{}, fmt.Errorf("persist refreshed credential: %w", err)
			}

			if m.metrics != nil {
				m.metrics.TokenRefreshCompleted(string(provider), "success", time.Since(opStart))
			}
			log.Printf("tokens: user=%s provider=%s refreshed, expires=%s", userID, provider, cred.ExpiresAt.UTC().Format(time.RFC3339))
			return Grant{AccessToken: cred.AccessToken, RealmID: cred.RealmID}, nil
		}

		if errors.Is(err, domain.ErrReauthorizationRequired) {
			if derr := m.store.DeactivateCredential(ctx, userID, provider); derr != nil {
				log.Printf("tokens: user=%s provider=%s deactivate failed: %v", userID, provider, derr)
			}
			if m.metrics != nil {
				m.metrics.TokenRefreshCompleted(string(provider), "reauth_required", time.Since(opStart))
			}
			log.Printf("tokens: user=%s provider=%s refresh rejected, reauthorization required", userID, provider)
			return Grant{}, fmt.Errorf("refresh user=%s provider=%s: %w", userID, provider, domain.ErrReauthorizationRequired)
		}

		lastErr = err
		log.Printf("tokens: user=%s provider=%s refresh attempt=%d failed: %v", userID, provider, attempt, err)
	}

	if m.metrics != nil {
		m.metrics.TokenRefreshCompleted(string(provider), "error", time.Since(opStart))
	}
	return Grant{}, fmt.Errorf("refresh user=%s provider=%s: %w", userID, provider, lastErr)
}

// UserSource binds the manager to a fixed user and provider. Integration
// clients take it as their token source.
type UserSource struct {
	m        *Manager
	userID   string
	provider domain.Provider
}

func (m *Manager) UserSource(userID string, provider domain.Provider) *UserSource {
	return &UserSource{m: m, userID: userID, provider: provider}
}

func (s *UserSource) Token(ctx context.Context) (Grant, error) {
	return s.m.AccessToken(ctx, s.userID, s.provider)
}
