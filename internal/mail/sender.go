// Package mail sends transactional email through an HTTP mail API.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrDisabled is returned when no mail API URL is configured.
var ErrDisabled = errors.New("mail sender is not configured")

// APIError is a non-2xx response from the mail API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mail api status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the send may succeed on retry.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Sender struct {
	apiURL string
	apiKey string
	from   string
	client *http.Client
}

// New returns a sender posting to apiURL. An empty apiURL disables the
// sender; Send then returns ErrDisabled.
func New(apiURL, apiKey, from string) *Sender {
	return &Sender{
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithTimeout overrides the default 30s request timeout.
func (s *Sender) WithTimeout(d time.Duration) *Sender {
	s.client.Timeout = d
	return s
}

func (s *Sender) Enabled() bool {
	return s.apiURL != ""
}

func (s *Sender) Send(ctx context.Context, msg Message) error {
	if s.apiURL == "" {
		return ErrDisabled
	}
	if msg.To == "" {
		return errors.New("message has no recipient")
	}

	payload := struct {
		From    string `json:"from"`
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
