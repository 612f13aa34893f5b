// Package analytics records business metric counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultWindow buckets increments per hour.
	DefaultWindow = time.Hour
	// DefaultRetention keeps metric buckets for 90 days.
	DefaultRetention = 90 * 24 * time.Hour
)

type RedisSink struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		window:    DefaultWindow,
		retention: DefaultRetention,
	}
}

// Increment adds delta to the bucket of name covering the time at.
func (s *RedisSink) Increment(ctx context.Context, name string, delta int64, at time.Time) error {
	key := buildKey(name, at, s.window)

	pipe := s.client.Pipeline()
	pipe.IncrBy(ctx, key, delta)
	pipe.Expire(ctx, key, s.retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func buildKey(name string, t time.Time, window time.Duration) string {
	return "m:" + name + ":" + truncateToBucket(t, window)
}

// truncateToBucket renders the bucket label for the window containing t.
// Unrecognized windows fall back to hour buckets.
func truncateToBucket(t time.Time, window time.Duration) string {
	layout := "2006010215"
	switch window {
	case time.Minute:
		layout = "200601021504"
	case 24 * time.Hour:
		layout = "20060102"
	}
	return t.UTC().Format(layout)
}
