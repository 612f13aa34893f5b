package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Workflow engine metrics
	triggersFiredTotal  *prometheus.CounterVec
	executionsTotal     *prometheus.CounterVec
	executionDuration   prometheus.Histogram
	actionAttemptsTotal *prometheus.CounterVec
	actionDuration      prometheus.Histogram
	actionOutcomesTotal *prometheus.CounterVec
	retryAttemptsTotal  *prometheus.CounterVec
	eventsInFlight      prometheus.Gauge

	// EventBus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Token lifecycle metrics
	tokenRefreshesTotal  *prometheus.CounterVec
	tokenRefreshDuration prometheus.Histogram

	// Provider HTTP metrics
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration prometheus.Histogram

	// Sync scheduler metrics
	syncRunsTotal        *prometheus.CounterVec
	syncRunDuration      prometheus.Histogram
	syncRunsSkippedTotal *prometheus.CounterVec

	// Leader election metrics
	leaderStatus            prometheus.Gauge
	leaderAcquisitionsTotal prometheus.Counter
	leaderLossesTotal       *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
// Metrics that fail to register will be replaced with no-op collectors.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEngineMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initTokenMetrics(reg)
	s.initProviderMetrics(reg)
	s.initSyncMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.triggersFiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_engine_triggers_fired_total",
		Help: "Total number of triggers fired, by event name.",
	}, []string{"event"})

	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_engine_executions_total",
		Help: "Total number of completed trigger executions.",
	}, []string{"outcome"})

	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsflow_engine_execution_duration_seconds",
		Help:    "Duration of each trigger execution in seconds, including retries and backoff.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	})

	s.actionAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_engine_action_attempts_total",
		Help: "Total number of action execution attempts.",
	}, []string{"action_type", "attempt", "status"})

	s.actionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsflow_engine_action_duration_seconds",
		Help:    "Single action attempt latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.actionOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_engine_action_outcomes_total",
		Help: "Total number of terminal action outcomes.",
	}, []string{"action_type", "outcome"})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_engine_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsflow_engine_events_in_flight",
		Help: "Number of events currently being processed.",
	})

	s.register(reg, s.triggersFiredTotal, "opsflow_engine_triggers_fired_total")
	s.register(reg, s.executionsTotal, "opsflow_engine_executions_total")
	s.register(reg, s.executionDuration, "opsflow_engine_execution_duration_seconds")
	s.register(reg, s.actionAttemptsTotal, "opsflow_engine_action_attempts_total")
	s.register(reg, s.actionDuration, "opsflow_engine_action_duration_seconds")
	s.register(reg, s.actionOutcomesTotal, "opsflow_engine_action_outcomes_total")
	s.register(reg, s.retryAttemptsTotal, "opsflow_engine_retry_attempts_total")
	s.register(reg, s.eventsInFlight, "opsflow_engine_events_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsflow_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opsflow_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "opsflow_eventbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "opsflow_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initTokenMetrics(reg prometheus.Registerer) {
	s.tokenRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_token_refreshes_total",
		Help: "Total number of token refresh operations.",
	}, []string{"provider", "outcome"})

	s.tokenRefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsflow_token_refresh_duration_seconds",
		Help:    "Token refresh latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.tokenRefreshesTotal, "opsflow_token_refreshes_total")
	s.register(reg, s.tokenRefreshDuration, "opsflow_token_refresh_duration_seconds")
}

func (s *PrometheusSink) initProviderMetrics(reg prometheus.Registerer) {
	s.providerRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_provider_requests_total",
		Help: "Total number of provider API requests.",
	}, []string{"provider", "status_class"})

	s.providerRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsflow_provider_request_duration_seconds",
		Help:    "Provider API request latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.providerRequestsTotal, "opsflow_provider_requests_total")
	s.register(reg, s.providerRequestDuration, "opsflow_provider_request_duration_seconds")
}

func (s *PrometheusSink) initSyncMetrics(reg prometheus.Registerer) {
	s.syncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_sync_runs_total",
		Help: "Total number of completed sync job runs.",
	}, []string{"job", "outcome"})

	s.syncRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsflow_sync_run_duration_seconds",
		Help:    "Sync job run duration in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	s.syncRunsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_sync_runs_skipped_total",
		Help: "Total number of sync job firings skipped because the previous run was still active.",
	}, []string{"job"})

	s.register(reg, s.syncRunsTotal, "opsflow_sync_runs_total")
	s.register(reg, s.syncRunDuration, "opsflow_sync_run_duration_seconds")
	s.register(reg, s.syncRunsSkippedTotal, "opsflow_sync_runs_skipped_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsflow_leader_status",
		Help: "Whether this instance currently holds the leader lock (1) or not (0).",
	})

	s.leaderAcquisitionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opsflow_leader_acquisitions_total",
		Help: "Total number of times this instance acquired the leader lock.",
	})

	s.leaderLossesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsflow_leader_losses_total",
		Help: "Total number of times this instance lost the leader lock.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "opsflow_leader_status")
	s.register(reg, s.leaderAcquisitionsTotal, "opsflow_leader_acquisitions_total")
	s.register(reg, s.leaderLossesTotal, "opsflow_leader_losses_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Workflow engine metrics implementation

func (s *PrometheusSink) TriggerFired(event string) {
	s.triggersFiredTotal.WithLabelValues(event).Inc()
}

func (s *PrometheusSink) ExecutionCompleted(duration time.Duration, failed bool) {
	outcome := OutcomeSuccess
	if failed {
		outcome = OutcomeFailed
	}
	s.executionsTotal.WithLabelValues(outcome).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ActionAttemptCompleted(actionType string, attempt int, status string, duration time.Duration) {
	s.actionAttemptsTotal.WithLabelValues(actionType, strconv.Itoa(attempt), status).Inc()
	s.actionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ActionOutcome(actionType string, outcome string) {
	s.actionOutcomesTotal.WithLabelValues(actionType, outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	label := "false"
	if retryable {
		label = "true"
	}
	s.retryAttemptsTotal.WithLabelValues(label).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Token lifecycle metrics implementation

func (s *PrometheusSink) TokenRefreshCompleted(provider string, outcome string, duration time.Duration) {
	s.tokenRefreshesTotal.WithLabelValues(provider, outcome).Inc()
	s.tokenRefreshDuration.Observe(duration.Seconds())
}

// Provider HTTP metrics implementation

func (s *PrometheusSink) ProviderRequestCompleted(provider string, statusClass string, duration time.Duration) {
	s.providerRequestsTotal.WithLabelValues(provider, statusClass).Inc()
	s.providerRequestDuration.Observe(duration.Seconds())
}

// Sync scheduler metrics implementation

func (s *PrometheusSink) SyncRunCompleted(job string, outcome string, duration time.Duration) {
	s.syncRunsTotal.WithLabelValues(job, outcome).Inc()
	s.syncRunDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) SyncRunSkipped(job string) {
	s.syncRunsSkippedTotal.WithLabelValues(job).Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisitionsTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLossesTotal.WithLabelValues(reason).Inc()
}
