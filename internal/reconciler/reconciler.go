// Package reconciler proactively refreshes OAuth credentials that are about
// to expire.
//
// Interactive calls refresh lazily through the token manager, but a lazy
// refresh makes the first provider call after an idle period pay the token
// endpoint's latency. The reconciler sweeps ahead of expiry so that rarely
// happens. A credential the sweep cannot refresh (provider down, revoked
// grant) is left to the lazy path and to reauthorization.
package reconciler

import (
	"context"
	"log"
	"time"
)

// Refresher is the token-manager seam the reconciler drives.
type Refresher interface {
	RefreshExpiring(ctx context.Context, within time.Duration, limit int) (int, error)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the sweep runs. Default: 5 minutes.
	Interval time.Duration

	// Ahead is how far before expiry a credential becomes eligible.
	// Default: 10 minutes.
	Ahead time.Duration

	// BatchSize is the maximum number of credentials refreshed per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Ahead:     10 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler sweeps expiring credentials through the token manager.
type Reconciler struct {
	config    Config
	refresher Refresher
}

// New creates a new Reconciler.
func New(config Config, refresher Refresher) *Reconciler {
	return &Reconciler{config: config, refresher: refresher}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, ahead=%s, batch=%d)",
		r.config.Interval, r.config.Ahead, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep.
func (r *Reconciler) runCycle(ctx context.Context) {
	refreshed, err := r.refresher.RefreshExpiring(ctx, r.config.Ahead, r.config.BatchSize)
	if err != nil {
		// Will retry next interval.
		log.Printf("reconciler: sweep failed: %v", err)
		return
	}

	if refreshed == 0 {
		// Nothing expiring. Silent success.
		return
	}

	log.Printf("reconciler: cycle complete, refreshed=%d", refreshed)
}
