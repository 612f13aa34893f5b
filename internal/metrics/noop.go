package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TriggerFired(event string)                                                             {}
func (n *NoopSink) ExecutionCompleted(d time.Duration, failed bool)                                       {}
func (n *NoopSink) ActionAttemptCompleted(actionType string, attempt int, status string, d time.Duration) {}
func (n *NoopSink) ActionOutcome(actionType string, outcome string)                                       {}
func (n *NoopSink) RetryAttempt(retryable bool)                                                           {}
func (n *NoopSink) EventsInFlightIncr()                                                                   {}
func (n *NoopSink) EventsInFlightDecr()                                                                   {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                             {}
func (n *NoopSink) EmitError()                                                                            {}
func (n *NoopSink) TokenRefreshCompleted(provider string, outcome string, d time.Duration)                {}
func (n *NoopSink) ProviderRequestCompleted(provider string, statusClass string, d time.Duration)         {}
func (n *NoopSink) SyncRunCompleted(job string, outcome string, d time.Duration)                          {}
func (n *NoopSink) SyncRunSkipped(job string)                                                             {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                                     {}
func (n *NoopSink) LeaderAcquired()                                                                       {}
func (n *NoopSink) LeaderLost(reason string)                                                              {}
