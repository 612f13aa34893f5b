package analytics

import (
	"context"
	"sync"
	"time"
)

// MemorySink counts metrics in process memory. It stands in for Redis when
// no address is configured; counters reset on restart.
type MemorySink struct {
	window time.Duration

	mu      sync.Mutex
	buckets map[string]int64
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		window:  DefaultWindow,
		buckets: make(map[string]int64),
	}
}

// Increment adds delta to the bucket of name covering the time at.
func (s *MemorySink) Increment(ctx context.Context, name string, delta int64, at time.Time) error {
	key := buildKey(name, at, s.window)

	s.mu.Lock()
	s.buckets[key] += delta
	s.mu.Unlock()

	return nil
}

// Value returns the counter for the bucket of name covering the time at.
func (s *MemorySink) Value(name string, at time.Time) int64 {
	key := buildKey(name, at, s.window)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[key]
}
