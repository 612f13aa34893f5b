package domain

import "time"

type Provider string

const (
	ProviderQuickBooks Provider = "quickbooks"
	ProviderGoogle     Provider = "google"
)

// KnownProvider reports whether p is a supported OAuth provider.
func KnownProvider(p Provider) bool {
	return p == ProviderQuickBooks || p == ProviderGoogle
}

// Credential holds one user's OAuth tokens for one provider. Created on the
// OAuth callback, mutated only by the token manager's refresh, deactivated
// on disconnect or an irrecoverable refresh failure.
type Credential struct {
	UserID       string
	Provider     Provider
	AccessToken  string
	RefreshToken string

	// RealmID is the accounting tenant identifier; empty for providers
	// that do not scope by tenant.
	RealmID string

	ExpiresAt time.Time
	Active    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FreshFor reports whether the access token is still usable at now, keeping
// the given safety margin before expiry.
func (c Credential) FreshFor(now time.Time, margin time.Duration) bool {
	return c.ExpiresAt.After(now.Add(margin))
}
