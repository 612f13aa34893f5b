// Package circuitbreaker guards provider APIs against repeated failing calls.
// A breaker opens per provider after a run of consecutive failures and lets a
// single probe through once the cooldown elapses.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// entry tracks one provider's failure run. A zero entry is closed.
type entry struct {
	failures  int
	openUntil time.Time
	probing   bool
}

func (e *entry) open() bool { return !e.openUntil.IsZero() }

type CircuitBreaker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	threshold int
	cooldown  time.Duration
}

// New creates a breaker that opens after threshold consecutive failures
// and admits one probe per cooldown while open. A threshold of zero or
// less disables the breaker entirely.
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		entries:   make(map[string]*entry),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call to the provider may proceed. While the
// circuit is open it returns ErrCircuitOpen, except for one probe call
// after each cooldown.
func (cb *CircuitBreaker) Allow(provider string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.entries[provider]
	if !ok || !e.open() {
		return nil
	}
	if e.probing || time.Now().Before(e.openUntil) {
		return ErrCircuitOpen
	}
	e.probing = true
	return nil
}

// RecordSuccess closes the provider's circuit and clears its failure run.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if e, ok := cb.entries[provider]; ok {
		*e = entry{}
	}
}

// RecordFailure counts a consecutive failure and opens the circuit once
// the run reaches the threshold. A failed probe re-opens for another
// cooldown.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	if cb.threshold <= 0 {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.entries[provider]
	if !ok {
		e = &entry{}
		cb.entries[provider] = e
	}

	e.failures++
	if e.failures >= cb.threshold {
		e.openUntil = time.Now().Add(cb.cooldown)
		e.probing = false
	}
}
