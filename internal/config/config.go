package config

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the opsflow service.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// EventDrainTimeout bounds how long the workflow runner keeps processing
	// buffered events after shutdown begins.
	EventDrainTimeout    time.Duration `json:"-"`
	EventDrainTimeoutStr string        `json:"event_drain_timeout"`
	EventBusBufferSize   int           `json:"eventbus_buffer_size"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	// Workflow engine.
	ActionTimeout    time.Duration `json:"-"`
	ActionTimeoutStr string        `json:"action_timeout"`
	BackoffBase      time.Duration `json:"-"`
	BackoffBaseStr   string        `json:"backoff_base"`
	BackoffCap       time.Duration `json:"-"`
	BackoffCapStr    string        `json:"backoff_cap"`

	// Token lifecycle.
	TokenRefreshMargin    time.Duration `json:"-"`
	TokenRefreshMarginStr string        `json:"token_refresh_margin"`
	ProviderTimeout       time.Duration `json:"-"`
	ProviderTimeoutStr    string        `json:"provider_timeout"`

	QBClientID     string `json:"qb_client_id"`
	QBClientSecret string `json:"qb_client_secret"`
	QBRedirectURL  string `json:"qb_redirect_url"`
	QBTokenURL     string `json:"qb_token_url"`
	QBAPIBaseURL   string `json:"qb_api_base_url"`

	GoogleClientID     string `json:"google_client_id"`
	GoogleClientSecret string `json:"google_client_secret"`
	GoogleRedirectURL  string `json:"google_redirect_url"`
	GoogleTokenURL     string `json:"google_token_url"`
	GoogleAPIBaseURL   string `json:"google_api_base_url"`
	CalendarID         string `json:"calendar_id"`

	// Mail/notification collaborators. Leaving the URL empty disables the
	// corresponding action executor.
	MailAPIURL          string `json:"mail_api_url,omitempty"`
	MailAPIKey          string `json:"mail_api_key,omitempty"`
	MailFrom            string `json:"mail_from,omitempty"`
	NotifyWebhookURL    string `json:"notify_webhook_url,omitempty"`
	NotifyWebhookSecret string `json:"notify_webhook_secret,omitempty"`

	// SyncUserID is the credential owner background sync jobs act as.
	SyncUserID string `json:"sync_user_id"`

	QBSyncInterval          time.Duration `json:"-"`
	QBSyncIntervalStr       string        `json:"qb_sync_interval"`
	CalendarSyncInterval    time.Duration `json:"-"`
	CalendarSyncIntervalStr string        `json:"calendar_sync_interval"`
	// NightlyImportCron is a cron expression; empty disables the job.
	NightlyImportCron string `json:"nightly_import_cron"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileAhead is how far before expiry a credential becomes eligible
	// for a proactive refresh. Must exceed the token manager's margin.
	ReconcileAhead    time.Duration `json:"-"`
	ReconcileAheadStr string        `json:"reconcile_ahead"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// Leader election: when enabled, only the advisory-lock holder runs the
	// sync scheduler and reconciler.
	LeaderEnabled bool `json:"leader_enabled"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first when present.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("config: loaded .env file")
	}

	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		EventDrainTimeoutStr:       os.Getenv("EVENT_DRAIN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		MetricsPort:                os.Getenv("METRICS_PORT"),
		ActionTimeoutStr:           os.Getenv("ACTION_TIMEOUT"),
		BackoffBaseStr:             os.Getenv("BACKOFF_BASE"),
		BackoffCapStr:              os.Getenv("BACKOFF_CAP"),
		TokenRefreshMarginStr:      os.Getenv("TOKEN_REFRESH_MARGIN"),
		ProviderTimeoutStr:         os.Getenv("PROVIDER_TIMEOUT"),
		QBClientID:                 os.Getenv("QB_CLIENT_ID"),
		QBClientSecret:             os.Getenv("QB_CLIENT_SECRET"),
		QBRedirectURL:              os.Getenv("QB_REDIRECT_URL"),
		QBTokenURL:                 os.Getenv("QB_TOKEN_URL"),
		QBAPIBaseURL:               os.Getenv("QB_API_BASE_URL"),
		GoogleClientID:             os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:         os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:          os.Getenv("GOOGLE_REDIRECT_URL"),
		GoogleTokenURL:             os.Getenv("GOOGLE_TOKEN_URL"),
		GoogleAPIBaseURL:           os.Getenv("GOOGLE_API_BASE_URL"),
		CalendarID:                 os.Getenv("CALENDAR_ID"),
		MailAPIURL:                 os.Getenv("MAIL_API_URL"),
		MailAPIKey:                 os.Getenv("MAIL_API_KEY"),
		MailFrom:                   os.Getenv("MAIL_FROM"),
		NotifyWebhookURL:           os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret:        os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		SyncUserID:                 os.Getenv("SYNC_USER_ID"),
		QBSyncIntervalStr:          os.Getenv("QB_SYNC_INTERVAL"),
		CalendarSyncIntervalStr:    os.Getenv("CALENDAR_SYNC_INTERVAL"),
		ReconcileEnabled:           os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:       os.Getenv("RECONCILE_INTERVAL"),
		ReconcileAheadStr:          os.Getenv("RECONCILE_AHEAD"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		LeaderEnabled:              os.Getenv("LEADER_ENABLED") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	// Distinguish unset (use default) from explicitly empty (job disabled).
	if cron, ok := os.LookupEnv("NIGHTLY_IMPORT_CRON"); ok {
		cfg.NightlyImportCron = cron
	} else {
		cfg.NightlyImportCron = "0 2 * * *"
	}

	if batchStr := os.Getenv("RECONCILE_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.ReconcileBatchSize = batch
		}
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = 100
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 460912", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 460912
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.EventDrainTimeoutStr == "" {
		cfg.EventDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.ActionTimeoutStr == "" {
		cfg.ActionTimeoutStr = "30s"
	}
	if cfg.BackoffBaseStr == "" {
		cfg.BackoffBaseStr = "1s"
	}
	if cfg.BackoffCapStr == "" {
		cfg.BackoffCapStr = "30s"
	}
	if cfg.TokenRefreshMarginStr == "" {
		cfg.TokenRefreshMarginStr = "5m"
	}
	if cfg.ProviderTimeoutStr == "" {
		cfg.ProviderTimeoutStr = "30s"
	}
	if cfg.QBTokenURL == "" {
		cfg.QBTokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	}
	if cfg.QBAPIBaseURL == "" {
		cfg.QBAPIBaseURL = "https://quickbooks.api.intuit.com"
	}
	if cfg.GoogleTokenURL == "" {
		cfg.GoogleTokenURL = "https://oauth2.googleapis.com/token"
	}
	if cfg.GoogleAPIBaseURL == "" {
		cfg.GoogleAPIBaseURL = "https://www.googleapis.com/calendar/v3"
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.SyncUserID == "" {
		cfg.SyncUserID = "admin"
	}
	if cfg.QBSyncIntervalStr == "" {
		cfg.QBSyncIntervalStr = "15m"
	}
	if cfg.CalendarSyncIntervalStr == "" {
		cfg.CalendarSyncIntervalStr = "15m"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileAheadStr == "" {
		cfg.ReconcileAheadStr = "10m"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.EventDrainTimeoutStr); err == nil {
		cfg.EventDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ActionTimeoutStr); err == nil {
		cfg.ActionTimeout = d
	}
	if d, err := time.ParseDuration(cfg.BackoffBaseStr); err == nil {
		cfg.BackoffBase = d
	}
	if d, err := time.ParseDuration(cfg.BackoffCapStr); err == nil {
		cfg.BackoffCap = d
	}
	if d, err := time.ParseDuration(cfg.TokenRefreshMarginStr); err == nil {
		cfg.TokenRefreshMargin = d
	}
	if d, err := time.ParseDuration(cfg.ProviderTimeoutStr); err == nil {
		cfg.ProviderTimeout = d
	}
	if d, err := time.ParseDuration(cfg.QBSyncIntervalStr); err == nil {
		cfg.QBSyncInterval = d
	}
	if d, err := time.ParseDuration(cfg.CalendarSyncIntervalStr); err == nil {
		cfg.CalendarSyncInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileAheadStr); err == nil {
		cfg.ReconcileAhead = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as an unsigned decimal integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		EventDrainTimeout       string `json:"event_drain_timeout"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             string `json:"metrics_port"`
		ActionTimeout           string `json:"action_timeout"`
		BackoffBase             string `json:"backoff_base"`
		BackoffCap              string `json:"backoff_cap"`
		TokenRefreshMargin      string `json:"token_refresh_margin"`
		ProviderTimeout         string `json:"provider_timeout"`
		QBClientID              string `json:"qb_client_id"`
		QBClientSecret          string `json:"qb_client_secret"`
		QBRedirectURL           string `json:"qb_redirect_url"`
		QBTokenURL              string `json:"qb_token_url"`
		QBAPIBaseURL            string `json:"qb_api_base_url"`
		GoogleClientID          string `json:"google_client_id"`
		GoogleClientSecret      string `json:"google_client_secret"`
		GoogleRedirectURL       string `json:"google_redirect_url"`
		GoogleTokenURL          string `json:"google_token_url"`
		GoogleAPIBaseURL        string `json:"google_api_base_url"`
		CalendarID              string `json:"calendar_id"`
		MailAPIURL              string `json:"mail_api_url,omitempty"`
		MailAPIKey              string `json:"mail_api_key,omitempty"`
		MailFrom                string `json:"mail_from,omitempty"`
		NotifyWebhookURL        string `json:"notify_webhook_url,omitempty"`
		NotifyWebhookSecret     string `json:"notify_webhook_secret,omitempty"`
		SyncUserID              string `json:"sync_user_id"`
		QBSyncInterval          string `json:"qb_sync_interval"`
		CalendarSyncInterval    string `json:"calendar_sync_interval"`
		NightlyImportCron       string `json:"nightly_import_cron"`
		ReconcileEnabled        bool   `json:"reconcile_enabled"`
		ReconcileInterval       string `json:"reconcile_interval"`
		ReconcileAhead          string `json:"reconcile_ahead"`
		ReconcileBatchSize      int    `json:"reconcile_batch_size"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		LeaderEnabled           bool   `json:"leader_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		EventDrainTimeout:       c.EventDrainTimeoutStr,
		EventBusBufferSize:      c.EventBusBufferSize,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		ActionTimeout:           c.ActionTimeoutStr,
		BackoffBase:             c.BackoffBaseStr,
		BackoffCap:              c.BackoffCapStr,
		TokenRefreshMargin:      c.TokenRefreshMarginStr,
		ProviderTimeout:         c.ProviderTimeoutStr,
		QBClientID:              c.QBClientID,
		QBClientSecret:          maskSecret(c.QBClientSecret),
		QBRedirectURL:           c.QBRedirectURL,
		QBTokenURL:              c.QBTokenURL,
		QBAPIBaseURL:            c.QBAPIBaseURL,
		GoogleClientID:          c.GoogleClientID,
		GoogleClientSecret:      maskSecret(c.GoogleClientSecret),
		GoogleRedirectURL:       c.GoogleRedirectURL,
		GoogleTokenURL:          c.GoogleTokenURL,
		GoogleAPIBaseURL:        c.GoogleAPIBaseURL,
		CalendarID:              c.CalendarID,
		MailAPIURL:              c.MailAPIURL,
		MailAPIKey:              maskSecret(c.MailAPIKey),
		MailFrom:                c.MailFrom,
		NotifyWebhookURL:        c.NotifyWebhookURL,
		NotifyWebhookSecret:     maskSecret(c.NotifyWebhookSecret),
		SyncUserID:              c.SyncUserID,
		QBSyncInterval:          c.QBSyncIntervalStr,
		CalendarSyncInterval:    c.CalendarSyncIntervalStr,
		NightlyImportCron:       c.NightlyImportCron,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileAhead:          c.ReconcileAheadStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		LeaderEnabled:           c.LeaderEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
