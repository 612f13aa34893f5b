package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
)

// mockStore keeps credentials in memory keyed by user/provider.
type mockStore struct {
	mu              sync.Mutex
	creds           map[string]domain.Credential
	upsertCalls     int
	deactivateCalls int
	listErr         error
}

func newMockStore() *mockStore {
	return &mockStore{creds: make(map[string]domain.Credential)}
}

func credKey(userID string, provider domain.Provider) string {
	return userID + "/" + string(provider)
}

func (s *mockStore) GetCredential(ctx context.Context, userID string, provider domain.Provider) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[credKey(userID, provider)]
	if !ok {
		return domain.Credential{}, fmt.Errorf("credential user=%s provider=%s: %w", userID, provider, domain.ErrNotConnected)
	}
	return cred, nil
}

func (s *mockStore) UpsertCredential(ctx context.Context, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	s.creds[credKey(cred.UserID, cred.Provider)] = cred
	return nil
}

func (s *mockStore) DeactivateCredential(ctx context.Context, userID string, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateCalls++
	cred, ok := s.creds[credKey(userID, provider)]
	if !ok {
		return fmt.Errorf("credential user=%s provider=%s: %w", userID, provider, domain.ErrNotConnected)
	}
	cred.Active = false
	s.creds[credKey(userID, provider)] = cred
	return nil
}

func (s *mockStore) ListExpiringCredentials(ctx context.Context, before time.Time, limit int) ([]domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Credential
	for _, cred := range s.creds {
		if cred.Active && cred.ExpiresAt.Before(before) {
			out = append(out, cred)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *mockStore) put(cred domain.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[credKey(cred.UserID, cred.Provider)] = cred
}

func (s *mockStore) get(userID string, provider domain.Provider) domain.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[credKey(userID, provider)]
}

func (s *mockStore) getDeactivateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateCalls
}

// mockEndpoint simulates a provider token endpoint with configurable results.
type mockEndpoint struct {
	mu             sync.Mutex
	refreshResults []refreshResult
	refreshIndex   int
	refreshCalls   int
	refreshDelay   time.Duration
	exchangeSet    TokenSet
	exchangeErr    error
	exchangeCalls  int
}

type refreshResult struct {
	set TokenSet
	err error
}

func (e *mockEndpoint) Exchange(ctx context.Context, code string) (TokenSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exchangeCalls++
	return e.exchangeSet, e.exchangeErr
}

func (e *mockEndpoint) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	e.mu.Lock()
	e.refreshCalls++
	var result refreshResult
	if e.refreshIndex < len(e.refreshResults) {
		result = e.refreshResults[e.refreshIndex]
		e.refreshIndex++
	} else {
		// Default: success
		result = refreshResult{set: TokenSet{AccessToken: "fresh-token", ExpiresIn: time.Hour}}
	}
	delay := e.refreshDelay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return TokenSet{}, ctx.Err()
		}
	}
	return result.set, result.err
}

func (e *mockEndpoint) getRefreshCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshCalls
}

func newTestManager(store *mockStore, ep *mockEndpoint) *Manager {
	m := New(store, map[domain.Provider]Endpoint{
		domain.ProviderQuickBooks: ep,
		domain.ProviderGoogle:     ep,
	})
	m.backoff = []time.Duration{0, 0, 0}
	return m
}

func activeCred(userID string, provider domain.Provider, expiresAt time.Time) domain.Credential {
	return domain.Credential{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  "stored-token",
		RefreshToken: "stored-refresh",
		RealmID:      "realm-1",
		ExpiresAt:    expiresAt,
		Active:       true,
	}
}

func TestManager_AccessToken_FreshTokenSkipsProvider(t *testing.T) {
	store := newMockStore()
	ep := &mockEndpoint{}
	m := newTestManager(store, ep)

	store.put(activeCred("u1", domain.ProviderQuickBooks, time.Now().Add(time.Hour)))

	grant, err := m.AccessToken(context.Background(), "u1", domain.ProviderQuickBooks)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if grant.AccessToken != "stored-token" {
		t.Errorf("AccessToken = %q, want stored-token", grant.AccessToken)
	}
	if grant.RealmID != "realm-1" {
		t.Errorf("RealmID = %q, want realm-1", grant.RealmID)
	}
	if ep.getRefreshCalls() != 0 {
		t.Errorf("Refresh called %d times for a fresh token, want 0", ep.getRefreshCalls())
	}
}

func TestManager_AccessToken_WithinMarginRefreshes(t *testing.T) {
	store := newMockStore()
	ep := &mockEndpoint{refreshResults: []refreshResult{
		{set: TokenSet{AccessToken: "new-token", RefreshToken: "new-refresh", ExpiresIn: time.Hour}},
	}}
	m := newTestManager(store, ep)

	// Expires in 2 minutes: inside the 5 minute margin.
	store.put(activeCred("u1", domain.ProviderQuickBooks, time.Now().Add(2*time.Minute)))

	grant, err := m.AccessToken(context.Background(), "u1", domain.ProviderQuickBooks)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if grant.AccessToken != "new-token" {
		t.Errorf("AccessToken = %q, want new-token", grant.AccessToken)
	}
	if ep.getRefreshCalls() != 1 {
		t.Errorf("Refresh called %d times, want 1", ep.getRefreshCalls())
	}

	stored := store.get("u1", domain.ProviderQuickBooks)
	if stored.AccessToken != "new-token" {
		t.Errorf("stored AccessToken = %q, want new-token", stored.AccessToken)
	}
	if stored.RefreshToken != "new-refresh" {
		t.Errorf("stored RefreshToken = %q, want rotated new-refresh", stored.RefreshToken)
	}
	if !stored.ExpiresAt.After(time.Now().Add(50 * time.Minute)) {
		t.Errorf("stored ExpiresAt = %v, want about an hour out", stored.ExpiresAt)
	}
}

func TestManager_AccessToken_ConcurrentSingleFlight(t *testing.T) {
	store := newMockStore()
	ep := &mockEndpoint{
		refreshDelay: 50 * time.Millisecond,
		refreshResults: []refreshResult{
			{set: TokenSet{AccessToken: "new-token", ExpiresIn: time.Hour}},
		},
	}
	m := newTestManager(store, ep)

	store.put(activeCred("u1", domain.ProviderQuickBooks, time.Now().Add(time.Minute)))

	const callers = 10
	var wg sync.WaitGroup
	grants := make([]Grant, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grants[i], errs[i] = m.AccessToken(context.Background(), "u1", domain.ProviderQuickBooks)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if grants[i].AccessToken != "new-token" {
			t.Errorf("caller %d got token %q, want new-token", i, grants[i].AccessToken)
		}
	}

	if calls := ep.getRefreshCalls(); calls != 1 {
		t.Errorf("Refresh called %d times across %d concurrent callers, want 1", calls, callers)
	}
}

func TestManager_Refresh_ReauthorizationRequired(t *testing.T) {
	store := newMockStore()
	ep := &mockEndpoint{refreshResults: []refreshResult{
		{err: fmt.Errorf("provider says invalid_grant: %w", domain.ErrReauthorizationRequired)},
	}}
	m := newTestManager(store, ep)

	store.put(activeCred("u1", domain.ProviderQuickBooks, time.Now().Add(time.Minute)))

	_, err := m.AccessToken(context.Background(), "u1", domain.ProviderQuickBooks)
	if !errors.Is(err, domain.ErrReauthorizationRequired) {
		t.Fatalf("expected ErrReauthorizationRequired, got %v", err)
	}

	// Permanent rejection is never retried.
	if ep.getRefreshCalls() != 1 {
		t.Errorf("Refresh called %d times, want 1 (no retry on reauth)", ep.getRefreshCalls())
	}
	if store.getDeactivateCalls() != 1 {
		t.Errorf("DeactivateCredential called %d times, want 1", store.getDeactivateCalls())
	}

	// Subsequent calls short-circuit on the inactive credential without
	// touching the provider again.
	_, err = m.AccessToken(context.Background(), "u1", domain.ProviderQuickBooks)
	if !errors.Is(err, domain.ErrReauthorizationRequired) {
		t.Fatalf("expected ErrReauthorizationRequired on short-circuit, got %v", err)
	}
	if ep.getRefreshCalls() != 1 {
		t.Errorf("Refresh called %d times after short-circuit, want still 1", ep.getRefreshCalls())
	}
}

func TestManager_Refresh_TransientRetriesBounded(t *testing.T) {
	store := newMockStore()
	transient := errors.New("status 503: upstream unavailable")
	ep := &mockEndpoint{refreshResults: []refreshResult{
		{err: transient},
		{err: transient},
		{err: transient},
		{err: transient},
	}}
	m := newTestManager(store, ep)

	store.put(activeCred("u1", domain.ProviderGoogle, time.Now().Add(time.Minute)))

	_, err := m.ForceRefresh(context.Background(), "u1", domain.ProviderGoogle)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, transient) {
		t.Errorf("expected wrapped transient error, got %v", err)
	}
	if ep.getRefreshCalls() != maxRefreshAttempts {
		t.Errorf("Refresh called %d times, want %d", ep.getRefreshCalls(), maxRefreshAttempts)
	}
}

func TestManager_Refresh_TransientThenSuccess(t *testing.T) {
	store := newMockStore()
	ep := &mockEndpoint{refreshResults: []refreshResult{
		{err: errors.New("status 500")},
		{set: TokenSet{AccessToken: "second-try", ExpiresIn: time.Hour}},
	}}
	m := newTestManager(store, ep)

	store.put(activeCred("u1", domain.ProviderQuickBooks, time.Now().Add(time.Minute)))

	grant, err := m.ForceRefresh(context.Background(), "u1", domain.ProviderQuickBooks)
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if grant.AccessToken != "second-try" {
		t.Errorf("AccessToken = %q, want second-try", grant.AccessToken)
	}
	if ep.getRefreshCalls() != 2 {
		t.Errorf("Refresh called %d times, want 2", ep.getRefreshCalls())
	}
}

func TestManager_Refresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	store := newMockStore()
	ep := &mockEndpoint{refreshResults: []refreshResult{
		{set: TokenSet{AccessToken: "new-token", ExpiresIn: time.Hour}},
	}}
	m := newTestManager(store, ep)

	store.put(activeCred("u1", domain.ProviderGoogle, time.Now().Add(time.Minute)))

	if _, err := m.ForceRefresh(context.Background(), "u1", domain.ProviderGoogle); err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}

	stored := store.get("u1", domain.ProviderGoogle)
	if stored.RefreshToken != "stored-refresh" {
		t.Errorf("RefreshToken = %q, want stored-refresh preserved", stored.RefreshToken)
	}
}

func TestManager_AccessToken_NotConnected(t *testing.T) {
	store := newMockStore()
	m := newTestManager(store, &mockEndpoint{})

	_, err := m.AccessToken(context.Background(), "u1", domain.ProviderQuickBooks)
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_HandleCallback_StoresActiveCredential(t *testing.T) {
	store := newMockStore()
	ep := &mockEndpoint{exchangeSet: TokenSet{
		AccessToken:  "granted-token",
		RefreshToken: "granted-refresh",
		ExpiresIn:    time.Hour,
	}}
	m := newTestManager(store, ep)

	err := m.HandleCallback(context.Background(), "u1", domain.ProviderQuickBooks, "auth-code", "realm-42")
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}

	cred := store.get("u1", domain.ProviderQuickBooks)
	if !cred.Active {
		t.Error("credential should be active after callback")
	}
	if cred.AccessToken != "granted-token" {
		t.Errorf("AccessToken = %q, want granted-token", cred.AccessToken)
	}
	if cred.RealmID != "realm-42" {
		t.Errorf("RealmID = %q, want realm-42", cred.RealmID)
	}
}

func TestManager_HandleCallback_UnknownProvider(t *testing.T) {
	m := New(newMockStore(), map[domain.Provider]Endpoint{})

	err := m.HandleCallback(context.Background(), "u1", domain.ProviderQuickBooks, "code", "")
	if err == nil {
		t.Fatal("expected error for unconfigured provider")
	}
}

func TestManager_Disconnect(t *testing.T) {
	store := newMockStore()
	m := newTestManager(store, &mockEndpoint{})

	store.put(activeCred("u1", domain.ProviderGoogle, time.Now().Add(time.Hour)))

	if err := m.Disconnect(context.Background(), "u1", domain.ProviderGoogle); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if store.get("u1", domain.ProviderGoogle).Active {
		t.Error("credential should be inactive after disconnect")
	}

	err := m.Disconnect(context.Background(), "u2", domain.ProviderGoogle)
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected for unknown user, got %v", err)
	}
}

func TestManager_RefreshExpiring_SkipsFailures(t *testing.T) {
	store := newMockStore()
	ep := &mockEndpoint{refreshResults: []refreshResult{
		{err: fmt.Errorf("invalid_grant: %w", domain.ErrReauthorizationRequired)},
		{set: TokenSet{AccessToken: "new-token", ExpiresIn: time.Hour}},
	}}
	m := newTestManager(store, ep)

	store.put(activeCred("u1", domain.ProviderQuickBooks, time.Now().Add(time.Minute)))
	store.put(activeCred("u2", domain.ProviderQuickBooks, time.Now().Add(time.Minute)))

	refreshed, err := m.RefreshExpiring(context.Background(), 10*time.Minute, 100)
	if err != nil {
		t.Fatalf("RefreshExpiring failed: %v", err)
	}
	if refreshed != 1 {
		t.Errorf("refreshed = %d, want 1 (one failure skipped)", refreshed)
	}
	if ep.getRefreshCalls() != 2 {
		t.Errorf("Refresh called %d times, want 2", ep.getRefreshCalls())
	}
}

func TestManager_RefreshExpiring_ListError(t *testing.T) {
	store := newMockStore()
	store.listErr = errors.New("db down")
	m := newTestManager(store, &mockEndpoint{})

	_, err := m.RefreshExpiring(context.Background(), 10*time.Minute, 100)
	if err == nil {
		t.Fatal("expected error when listing fails")
	}
}

// mockTokenMetrics records refresh outcomes.
type mockTokenMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *mockTokenMetrics) TokenRefreshCompleted(provider string, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, provider+":"+outcome)
}

func (m *mockTokenMetrics) getOutcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

func TestManager_Refresh_RecordsMetrics(t *testing.T) {
	store := newMockStore()
	ep := &mockEndpoint{}
	metrics := &mockTokenMetrics{}
	m := newTestManager(store, ep).WithMetrics(metrics)

	store.put(activeCred("u1", domain.ProviderQuickBooks, time.Now().Add(time.Minute)))

	if _, err := m.ForceRefresh(context.Background(), "u1", domain.ProviderQuickBooks); err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}

	outcomes := metrics.getOutcomes()
	if len(outcomes) != 1 || outcomes[0] != "quickbooks:success" {
		t.Errorf("outcomes = %v, want [quickbooks:success]", outcomes)
	}
}
