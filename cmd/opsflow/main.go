package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Sonni4154/opsflow/internal/actions"
	"github.com/Sonni4154/opsflow/internal/analytics"
	"github.com/Sonni4154/opsflow/internal/api"
	"github.com/Sonni4154/opsflow/internal/circuitbreaker"
	"github.com/Sonni4154/opsflow/internal/config"
	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/importer"
	"github.com/Sonni4154/opsflow/internal/integration/calendar"
	"github.com/Sonni4154/opsflow/internal/integration/oauth"
	"github.com/Sonni4154/opsflow/internal/integration/quickbooks"
	"github.com/Sonni4154/opsflow/internal/leaderelection"
	"github.com/Sonni4154/opsflow/internal/mail"
	"github.com/Sonni4154/opsflow/internal/metrics"
	"github.com/Sonni4154/opsflow/internal/notify"
	"github.com/Sonni4154/opsflow/internal/reconciler"
	"github.com/Sonni4154/opsflow/internal/scheduler"
	"github.com/Sonni4154/opsflow/internal/store/postgres"
	"github.com/Sonni4154/opsflow/internal/token"
	"github.com/Sonni4154/opsflow/internal/transport/channel"
	"github.com/Sonni4154/opsflow/internal/workflow"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`opsflow - workflow automation and provider sync service

Usage:
  opsflow <command>

Commands:
  serve      Start the workflow engine, sync scheduler and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for metric counters (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  EVENT_DRAIN_TIMEOUT       Workflow event drain timeout (default: "30s")
  EVENTBUS_BUFFER_SIZE      Event bus buffer capacity (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  ACTION_TIMEOUT            Per-action execution timeout (default: "30s")
  BACKOFF_BASE              First retry delay (default: "1s")
  BACKOFF_CAP               Max retry delay (default: "30s")

  TOKEN_REFRESH_MARGIN      Refresh tokens this close to expiry (default: "5m")
  PROVIDER_TIMEOUT          Provider HTTP request timeout (default: "30s")

  QB_CLIENT_ID              QuickBooks OAuth client id
  QB_CLIENT_SECRET          QuickBooks OAuth client secret
  QB_REDIRECT_URL           QuickBooks OAuth redirect URL
  QB_TOKEN_URL              QuickBooks token endpoint (default: Intuit production)
  QB_API_BASE_URL           QuickBooks API base URL (default: Intuit production)

  GOOGLE_CLIENT_ID          Google OAuth client id
  GOOGLE_CLIENT_SECRET      Google OAuth client secret
  GOOGLE_REDIRECT_URL       Google OAuth redirect URL
  GOOGLE_TOKEN_URL          Google token endpoint (default: Google production)
  GOOGLE_API_BASE_URL       Calendar API base URL (default: Google production)
  CALENDAR_ID               Calendar to sync (default: "primary")

  MAIL_API_URL              Transactional mail API URL (empty disables email)
  MAIL_API_KEY              Mail API key
  MAIL_FROM                 Sender address for outbound email
  NOTIFY_WEBHOOK_URL        Notification webhook URL (empty disables notifications)
  NOTIFY_WEBHOOK_SECRET     Notification webhook signing secret

  SYNC_USER_ID              Credential owner for background sync (default: "admin")
  QB_SYNC_INTERVAL          QuickBooks incremental sync interval (default: "15m")
  CALENDAR_SYNC_INTERVAL    Calendar incremental sync interval (default: "15m")
  NIGHTLY_IMPORT_CRON       Backfill cron expression (default: "0 2 * * *", empty disables)

  RECONCILE_ENABLED         Enable proactive token refresh sweep (default: "false")
  RECONCILE_INTERVAL        How often the sweep runs (default: "5m")
  RECONCILE_AHEAD           Refresh tokens expiring within this window (default: "10m")
  RECONCILE_BATCH_SIZE      Max credentials refreshed per sweep (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a provider trips (default: "5", "0" disables)
  CIRCUIT_BREAKER_COOLDOWN  Time before a tripped provider is retried (default: "2m")

  LEADER_ENABLED            Run sync jobs on the advisory-lock holder only (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all instances (default: "460912")
  LEADER_RETRY_INTERVAL     Time between lock attempts (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Lock connection liveness check interval (default: "2s")`)
}

// schemaTables are the tables the service reads and writes. The probe warns
// at startup when migrations have not been applied yet.
var schemaTables = []string{
	"workflow_triggers",
	"execution_records",
	"action_attempts",
	"credentials",
	"activity_log",
	"entity_status",
}

// probeSchema checks that every table the service depends on exists.
func probeSchema(db *sql.DB) error {
	const query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`
	for _, table := range schemaTables {
		var n int
		if err := db.QueryRow(query, table).Scan(&n); err != nil {
			return fmt.Errorf("probe %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("table %s is missing", table)
		}
	}
	return nil
}

// logConfigWarnings flags configuration that is valid but risky. P0 means
// likely data loss or stuck credentials, P1 means degraded operations.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("WARNING [P0]: RECONCILE_ENABLED=false - OAuth tokens refresh only when a caller needs one and may expire while idle")
	}

	if cfg.ReconcileEnabled && cfg.ReconcileAhead <= cfg.TokenRefreshMargin {
		log.Printf("WARNING [P0]: RECONCILE_AHEAD (%s) does not exceed TOKEN_REFRESH_MARGIN (%s) - the sweep only finds credentials the lazy path refreshes anyway",
			cfg.ReconcileAhead, cfg.TokenRefreshMargin)
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false - executions and sync runs are invisible to operators")
	}

	if cfg.BackoffCap < cfg.BackoffBase {
		log.Printf("WARNING [P1]: BACKOFF_CAP (%s) is below BACKOFF_BASE (%s) - every retry delay collapses to the cap",
			cfg.BackoffCap, cfg.BackoffBase)
	}

	if cfg.QBClientID == "" {
		log.Println("WARNING [P1]: QB_CLIENT_ID not set - QuickBooks connections cannot be established")
	}

	if cfg.GoogleClientID == "" {
		log.Println("WARNING [P1]: GOOGLE_CLIENT_ID not set - Google connections cannot be established")
	}

	if !cfg.LeaderEnabled {
		log.Println("INFO: LEADER_ENABLED=false - sync jobs run on every instance, safe for single-instance deployments only")
	}

	if cfg.MailAPIURL == "" {
		log.Println("INFO: MAIL_API_URL not set - send_email actions will fail as not configured")
	}

	if cfg.NotifyWebhookURL == "" {
		log.Println("INFO: NOTIFY_WEBHOOK_URL not set - send_notification actions will fail as not configured")
	}
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("opsflow: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	if err := probeSchema(db); err != nil {
		log.Printf("WARNING [P0]: schema probe failed: %v - run database migrations", err)
	}

	store := postgres.New(db)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("opsflow: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("opsflow: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("opsflow: metrics server error: %v", err)
			}
		}()
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	// One breaker guards both providers; state is tracked per provider name.
	breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)

	qbAuth := oauth.NewClient(oauth.Config{
		TokenURL:     cfg.QBTokenURL,
		AuthURL:      oauth.QuickBooksAuthURL,
		ClientID:     cfg.QBClientID,
		ClientSecret: cfg.QBClientSecret,
		RedirectURL:  cfg.QBRedirectURL,
		Scopes:       []string{oauth.ScopeQuickBooksAccounting},
		Timeout:      cfg.ProviderTimeout,
	})
	googleAuth := oauth.NewClient(oauth.Config{
		TokenURL:     cfg.GoogleTokenURL,
		AuthURL:      oauth.GoogleAuthURL,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{oauth.ScopeGoogleCalendar},
		// Google only issues a refresh token when offline access is
		// requested and consent is re-prompted.
		AuthParams: url.Values{"access_type": {"offline"}, "prompt": {"consent"}},
		Timeout:    cfg.ProviderTimeout,
	})

	tokens := token.New(store, map[domain.Provider]token.Endpoint{
		domain.ProviderQuickBooks: qbAuth,
		domain.ProviderGoogle:     googleAuth,
	}).WithMargin(cfg.TokenRefreshMargin)
	if metricsSink != nil {
		tokens = tokens.WithMetrics(metricsSink)
	}

	qbClient := quickbooks.New(cfg.QBAPIBaseURL, tokens.UserSource(cfg.SyncUserID, domain.ProviderQuickBooks)).
		WithBreaker(breaker).
		WithTimeout(cfg.ProviderTimeout)
	if metricsSink != nil {
		qbClient = qbClient.WithMetrics(metricsSink)
	}

	calClient := calendar.New(cfg.GoogleAPIBaseURL, tokens.UserSource(cfg.SyncUserID, domain.ProviderGoogle)).
		WithBreaker(breaker).
		WithTimeout(cfg.ProviderTimeout)
	if metricsSink != nil {
		calClient = calClient.WithMetrics(metricsSink)
	}

	mailSender := mail.New(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom).WithTimeout(cfg.ProviderTimeout)
	notifySender := notify.New(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret).WithTimeout(cfg.ProviderTimeout)

	deps := actions.Deps{
		QuickBooks: qbClient,
		Calendar:   calClient,
		Mail:       mailSender,
		Notify:     notifySender,
		Activities: store,
		Statuses:   store,
	}

	// Wire metric counters to Redis if configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		deps.Metrics = analytics.NewRedisSink(redisClient)
		log.Printf("opsflow: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		deps.Metrics = analytics.NewMemorySink()
		log.Println("opsflow: REDIS_ADDR not set; metric counters held in process memory")
	}

	registry := workflow.NewRegistry(store)

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	installed, err := registry.Bootstrap(bootstrapCtx, workflow.DefaultTriggers(cfg.MailFrom))
	cancelBootstrap()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap triggers: %v\n", err)
		return exitRuntimeError
	}
	log.Printf("opsflow: bootstrap installed %d default triggers", installed)

	engine := workflow.New(registry, store, actions.NewExecutors(deps)).
		WithActionTimeout(cfg.ActionTimeout).
		WithBackoff(cfg.BackoffBase, cfg.BackoffCap)
	if metricsSink != nil {
		engine = engine.WithMetrics(metricsSink)
	}

	runner := workflow.NewRunner(engine).WithDrainTimeout(cfg.EventDrainTimeout)
	if metricsSink != nil {
		runner = runner.WithMetrics(metricsSink)
	}

	qbImporter := importer.NewQuickBooks(qbClient, bus)
	calImporter := importer.NewCalendar(calClient, bus, cfg.CalendarID)

	sched := scheduler.New()
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}
	if err := sched.Register("quickbooks-incremental", cfg.QBSyncInterval, qbImporter.Run); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register sync job: %v\n", err)
		return exitInvalidConfig
	}
	if err := sched.Register("calendar-incremental", cfg.CalendarSyncInterval, calImporter.Run); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register sync job: %v\n", err)
		return exitInvalidConfig
	}
	if cfg.NightlyImportCron != "" {
		if err := sched.RegisterCron("nightly-import", cfg.NightlyImportCron, qbImporter.Backfill); err != nil {
			fmt.Fprintf(os.Stderr, "failed to register sync job: %v\n", err)
			return exitInvalidConfig
		}
	} else {
		log.Println("opsflow: NIGHTLY_IMPORT_CRON empty; nightly import disabled")
	}

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Ahead:     cfg.ReconcileAhead,
				BatchSize: cfg.ReconcileBatchSize,
			},
			tokens,
		)
	}

	apiHandler := api.NewHandler(registry, tokens, sched, bus).
		WithAuthorizers(map[domain.Provider]api.Authorizer{
			domain.ProviderQuickBooks: qbAuth,
			domain.ProviderGoogle:     googleAuth,
		}).
		WithCredentialLister(store).
		WithHealthChecker(db).
		WithDefaultUser(cfg.SyncUserID)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("opsflow: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("opsflow: http server error: %v", err)
		}
	}()

	// The runner gets its own context so buffered events drain after the
	// sync jobs stop emitting new ones.
	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	var runnerWg sync.WaitGroup
	runnerWg.Add(1)
	go func() {
		defer runnerWg.Done()
		runner.Run(runnerCtx, bus.Channel())
	}()

	// Background sync jobs run either under leader election or directly.
	var jobsWg sync.WaitGroup
	var electorWg sync.WaitGroup
	var cancelElector context.CancelFunc
	var cancelReconciler context.CancelFunc

	if cfg.LeaderEnabled {
		onElected := func(leaderCtx context.Context) {
			if err := sched.Start(); err != nil {
				log.Printf("opsflow: scheduler start: %v", err)
			}
			if recon != nil {
				jobsWg.Add(1)
				go func() {
					defer jobsWg.Done()
					recon.Run(leaderCtx)
				}()
			}
		}
		onDemoted := func() {
			sched.Stop()
			jobsWg.Wait()
		}

		elector := leaderelection.New(db, cfg.LeaderLockKey, onElected, onDemoted).
			WithIntervals(cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		var electorCtx context.Context
		electorCtx, cancelElector = context.WithCancel(context.Background())
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
	} else {
		if err := sched.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start scheduler: %v\n", err)
			return exitRuntimeError
		}
		if recon != nil {
			var reconCtx context.Context
			reconCtx, cancelReconciler = context.WithCancel(context.Background())
			jobsWg.Add(1)
			go func() {
				defer jobsWg.Done()
				recon.Run(reconCtx)
			}()
		}
	}

	log.Printf("opsflow: started (version=%s, http=%s, qb_sync=%s, calendar_sync=%s)",
		version, cfg.HTTPAddr, cfg.QBSyncInterval, cfg.CalendarSyncInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("opsflow: received signal %v, shutting down", received)

	// Phase 1: Stop sync jobs (no new events emitted). Under leader election
	// the elector's stand-down stops the scheduler and reconciler.
	if cancelElector != nil {
		log.Println("opsflow: stopping leader election...")
		cancelElector()
		electorWg.Wait()
		log.Println("opsflow: leader election stopped")
	} else {
		log.Println("opsflow: stopping scheduler...")
		sched.Stop()
		if cancelReconciler != nil {
			cancelReconciler()
		}
		jobsWg.Wait()
		log.Println("opsflow: scheduler stopped")
	}

	// Phase 2: Stop workflow runner (drains buffered events before returning)
	log.Println("opsflow: stopping workflow runner (draining events)...")
	cancelRunner()
	runnerWg.Wait()
	log.Println("opsflow: workflow runner stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("opsflow: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("opsflow: http server shutdown error: %v", err)
	}
	log.Println("opsflow: http server stopped")

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("opsflow: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("opsflow: metrics server shutdown error: %v", err)
		}
		log.Println("opsflow: metrics server stopped")
	}

	log.Println("opsflow: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("opsflow version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
