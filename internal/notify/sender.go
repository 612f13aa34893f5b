// Package notify posts workflow notifications to the operations webhook,
// signing each delivery so receivers can verify the origin.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrDisabled is returned when no webhook URL is configured.
var ErrDisabled = errors.New("notify sender is not configured")

// APIError is a non-2xx response from the notification webhook.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notify webhook status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the delivery may succeed on retry.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Notification struct {
	Channel  string `json:"channel"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Severity string `json:"severity,omitempty"`
	SentAt   string `json:"sent_at"`
}

type Sender struct {
	url    string
	secret string
	client *http.Client
}

// New returns a sender posting to url. An empty url disables the sender;
// Send then returns ErrDisabled.
func New(url, secret string) *Sender {
	return &Sender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithTimeout overrides the default 30s request timeout.
func (s *Sender) WithTimeout(d time.Duration) *Sender {
	s.client.Timeout = d
	return s
}

func (s *Sender) Enabled() bool {
	return s.url != ""
}

func (s *Sender) Send(ctx context.Context, n Notification) error {
	if s.url == "" {
		return ErrDisabled
	}
	if n.SentAt == "" {
		n.SentAt = time.Now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Opsflow-Channel", n.Channel)
	req.Header.Set("X-Opsflow-Signature", computeSignature(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// computeSignature returns the hex-encoded HMAC-SHA256 of the body.
func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature. Receivers use it to confirm
// a delivery came from this service.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
