package main

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/Sonni4154/opsflow/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg *config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

// quietConfig is a configuration that produces no warnings at all.
func quietConfig() *config.Config {
	return &config.Config{
		ReconcileEnabled:   true,
		ReconcileAhead:     10 * time.Minute,
		TokenRefreshMargin: 5 * time.Minute,
		MetricsEnabled:     true,
		BackoffBase:        time.Second,
		BackoffCap:         30 * time.Second,
		QBClientID:         "qb-client",
		GoogleClientID:     "google-client",
		LeaderEnabled:      true,
		MailAPIURL:         "https://mail.example.com/send",
		NotifyWebhookURL:   "https://hooks.example.com/notify",
	}
}

func TestLogConfigWarnings_QuietConfig(t *testing.T) {
	output := captureLogOutput(quietConfig())

	if strings.Contains(output, "WARNING") {
		t.Error("did not expect any warnings, got:", output)
	}
	if strings.Contains(output, "INFO") {
		t.Error("did not expect any INFO messages, got:", output)
	}
}

func TestLogConfigWarnings_ReconcilerDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.ReconcileEnabled = false
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: RECONCILE_ENABLED=false") {
		t.Error("expected reconciler P0 warning, got:", output)
	}

	// The ahead-vs-margin check only applies when the reconciler runs.
	if strings.Contains(output, "RECONCILE_AHEAD") {
		t.Error("did not expect ahead warning with reconciler disabled, got:", output)
	}
}

func TestLogConfigWarnings_ReconcileAheadTooSmall(t *testing.T) {
	cfg := quietConfig()
	cfg.ReconcileAhead = 5 * time.Minute
	cfg.TokenRefreshMargin = 5 * time.Minute
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: RECONCILE_AHEAD (5m0s) does not exceed TOKEN_REFRESH_MARGIN (5m0s)") {
		t.Error("expected ahead-vs-margin P0 warning, got:", output)
	}
}

func TestLogConfigWarnings_MetricsDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.MetricsEnabled = false
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: METRICS_ENABLED=false") {
		t.Error("expected metrics P1 warning, got:", output)
	}
}

func TestLogConfigWarnings_BackoffCapBelowBase(t *testing.T) {
	cfg := quietConfig()
	cfg.BackoffBase = time.Second
	cfg.BackoffCap = 500 * time.Millisecond
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: BACKOFF_CAP (500ms) is below BACKOFF_BASE (1s)") {
		t.Error("expected backoff P1 warning, got:", output)
	}
}

func TestLogConfigWarnings_ProviderCredentialsMissing(t *testing.T) {
	cfg := quietConfig()
	cfg.QBClientID = ""
	cfg.GoogleClientID = ""
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: QB_CLIENT_ID not set") {
		t.Error("expected QuickBooks credentials warning, got:", output)
	}
	if !strings.Contains(output, "WARNING [P1]: GOOGLE_CLIENT_ID not set") {
		t.Error("expected Google credentials warning, got:", output)
	}
}

func TestLogConfigWarnings_LeaderDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.LeaderEnabled = false
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: LEADER_ENABLED=false") {
		t.Error("expected leader election INFO, got:", output)
	}
	if strings.Contains(output, "WARNING") {
		t.Error("did not expect warnings for disabled leader election, got:", output)
	}
}

func TestLogConfigWarnings_MessagingUnconfigured(t *testing.T) {
	cfg := quietConfig()
	cfg.MailAPIURL = ""
	cfg.NotifyWebhookURL = ""
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: MAIL_API_URL not set") {
		t.Error("expected mail INFO, got:", output)
	}
	if !strings.Contains(output, "INFO: NOTIFY_WEBHOOK_URL not set") {
		t.Error("expected notify INFO, got:", output)
	}
}

func TestLogConfigWarnings_BareConfig(t *testing.T) {
	// Worst case: nothing configured beyond the zero value.
	output := captureLogOutput(&config.Config{})

	expected := []string{
		"WARNING [P0]: RECONCILE_ENABLED=false",
		"WARNING [P1]: METRICS_ENABLED=false",
		"WARNING [P1]: QB_CLIENT_ID not set",
		"WARNING [P1]: GOOGLE_CLIENT_ID not set",
		"INFO: LEADER_ENABLED=false",
		"INFO: MAIL_API_URL not set",
		"INFO: NOTIFY_WEBHOOK_URL not set",
	}
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}

	// Both backoff durations are zero, so the cap is not below the base.
	if strings.Contains(output, "BACKOFF_CAP") {
		t.Error("did not expect backoff warning for zero durations, got:", output)
	}
}
