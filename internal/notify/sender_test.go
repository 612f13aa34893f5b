package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSend_SignatureCorrect(t *testing.T) {
	var gotSignature, gotChannel string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Opsflow-Signature")
		gotChannel = r.Header.Get("X-Opsflow-Channel")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret := "notify-secret"
	s := New(server.URL, secret)
	err := s.Send(context.Background(), Notification{
		Channel:  "ops",
		Title:    "Sync failed",
		Body:     "QuickBooks sync failed 3 times.",
		Severity: "warning",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if gotSignature != expected {
		t.Errorf("signature mismatch:\n  got:  %s\n  want: %s", gotSignature, expected)
	}
	if gotChannel != "ops" {
		t.Errorf("X-Opsflow-Channel = %q, want ops", gotChannel)
	}
}

func TestSend_SetsSentAt(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := New(server.URL, "secret")
	if err := s.Send(context.Background(), Notification{Channel: "ops", Title: "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sent Notification
	if err := json.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if sent.SentAt == "" {
		t.Error("sent_at should be populated when empty")
	}
}

func TestSend_Disabled(t *testing.T) {
	s := New("", "secret")
	err := s.Send(context.Background(), Notification{Channel: "ops", Title: "t"})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got: %v", err)
	}
}

func TestSend_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := New(server.URL, "secret")
	err := s.Send(context.Background(), Notification{Channel: "ops", Title: "t"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got: %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", apiErr.StatusCode)
	}
	if !apiErr.Transient() {
		t.Error("502 should be transient")
	}
}

func TestVerifySignature_Valid(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"channel":"ops","title":"t"}`)

	sig := computeSignature(secret, body)

	if !VerifySignature(secret, body, sig) {
		t.Error("VerifySignature should return true for valid signature")
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"channel":"ops"}`)
	sig := computeSignature("correct-secret", body)

	if VerifySignature("wrong-secret", body, sig) {
		t.Error("VerifySignature should return false for wrong secret")
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := "test-secret"
	sig := computeSignature(secret, []byte(`{"title":"original"}`))

	if VerifySignature(secret, []byte(`{"title":"tampered"}`), sig) {
		t.Error("VerifySignature should return false for tampered body")
	}
}
