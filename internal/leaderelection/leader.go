// Package leaderelection picks the single instance that runs background
// duties (sync scheduler, credential reconciler) when several opsflow
// processes share one database.
//
// Election is a Postgres session-scoped advisory lock: whoever holds the
// lock is the leader, for exactly as long as its dedicated connection
// lives. There is no TTL and no renewal; if the connection dies, Postgres
// releases the lock server-side. The heartbeat ping only detects local
// connection death so a stale leader stands down promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// DefaultLockKey is the advisory lock key opsflow instances contend on.
const DefaultLockKey int64 = 460912

const (
	defaultRetryInterval     = 15 * time.Second
	defaultHeartbeatInterval = 5 * time.Second
)

// MetricsSink records leader election metrics.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost"
}

// Elector contends for the advisory lock and runs leader duties while it
// holds it.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration
	heartbeatInterval time.Duration
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink // optional, nil = disabled
}

// New creates an Elector.
//
// onElected runs in a new goroutine when the lock is acquired; its context
// is cancelled when leadership ends. It should start leader duties and
// return quickly. onDemoted runs synchronously when leadership ends and
// must block until duties are fully stopped; it must be idempotent.
func New(db *sql.DB, lockKey int64, onElected func(ctx context.Context), onDemoted func()) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     defaultRetryInterval,
		heartbeatInterval: defaultHeartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
	}
}

// WithIntervals overrides the follower retry and leader heartbeat cadence.
func (e *Elector) WithIntervals(retry, heartbeat time.Duration) *Elector {
	if retry > 0 {
		e.retryInterval = retry
	}
	if heartbeat > 0 {
		e.heartbeatInterval = heartbeat
	}
	return e
}

// WithMetrics sets the metrics sink.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run contends for leadership until ctx is cancelled. It blocks.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: election loop started (lock_key=%d, retry=%s, heartbeat=%s)",
		e.lockKey, e.retryInterval, e.heartbeatInterval)

	for {
		e.campaign(ctx)

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// campaign makes one attempt to take the lock and, on success, holds
// leadership until it is lost.
func (e *Elector) campaign(ctx context.Context) {
	// Advisory locks are session-scoped, so the attempt needs its own
	// connection rather than one borrowed per query from the pool.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("leader: dedicated connection failed: %v", err)
		}
		return
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&acquired); err != nil {
		if ctx.Err() == nil {
			log.Printf("leader: advisory lock query failed: %v", err)
		}
		return
	}
	if !acquired {
		log.Printf("leader: lock %d held elsewhere, retrying in %s", e.lockKey, e.retryInterval)
		return
	}

	log.Printf("leader: acquired lock %d, starting leader duties", e.lockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, demote := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdUntilLost(ctx, conn)

	demote()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	log.Printf("leader: lost lock %d (reason=%s)", e.lockKey, reason)
}

// holdUntilLost pings the lock connection until it dies or ctx ends. The
// ping is a liveness probe, not a renewal.
func (e *Elector) holdUntilLost(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: lock connection ping failed: %v", err)
				return "conn_lost"
			}
		}
	}
}
