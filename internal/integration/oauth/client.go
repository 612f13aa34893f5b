// Package oauth implements the authorization-code flow against provider
// token endpoints. One Client is configured per provider.
package oauth

import (
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
	"github.com/Sonni4154/opsflow/internal/token"
)

// Scopes requested when initiating a connection.
const (
	ScopeQuickBooksAccounting = "com.intuit.quickbooks.accounting"
	ScopeGoogleCalendar       = "https://www.googleapis.com/auth/calendar"
)

// Authorization endpoints users are redirected to when connecting.
const (
	QuickBooksAuthURL = "https://appcenter.intuit.com/connect/oauth2"
	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
)

// Config holds the provider endpoints and app credentials for one provider.
type Config struct {
	TokenURL     string
	AuthURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// AuthParams are extra query parameters for the authorization URL,
	// e.g. Google's access_type=offline.
	AuthParams url.Values
	Timeout    time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// AuthCodeURL builds the provider authorization URL the user is sent to.
func (c *Client) AuthCodeURL(state string) string {
	q := url.Values{
		"client_id":     {c.cfg.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {c.cfg.RedirectURL},
		"scope":         {strings.Join(c.cfg.Scopes, " ")},
		"state":         {state},
	}
	for k, vs := range c.cfg.AuthParams {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return c.cfg.AuthURL + "?" + q.Encode()
}

// Exchange trades an authorization code for a token set.
func (c *Client) Exchange(ctx context.Context, code string) (token.TokenSet, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.cfg.RedirectURL},
	}
	return c.post(ctx, form)
}

// Refresh trades a refresh token for a new token set. A permanent rejection
// (invalid_grant or 401) wraps domain.ErrReauthorizationRequired.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (token.TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.post(ctx, form)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *Client) post(ctx context.Context, form url.Values) (token.TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return token.TokenSet{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return token.TokenSet{}, fmt.Errorf("post token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return token.TokenSet{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(body, &er)

		if er.Error == "invalid_grant" || resp.StatusCode == http.StatusUnauthorized {
			return token.TokenSet{}, fmt.Errorf("token endpoint rejected grant (%s): %w", er.Error, domain.ErrReauthorizationRequired)
		}
		if er.Error != "" {
			return token.TokenSet{}, fmt.Errorf("token endpoint status %d: %s: %s", resp.StatusCode, er.Error, er.Description)
		}
		return token.TokenSet{}, fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return token.TokenSet{}, fmt.Errorf("decode response: %w", err)
	}
	if tr.AccessToken == "" {
		return token.TokenSet{}, errors.New("token endpoint returned empty access_token")
	}

	return token.TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    time.Duration(tr.ExpiresIn) * time.Second,
	}, nil
}
