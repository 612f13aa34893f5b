// Package channel provides an in-process event bus backed by a buffered channel.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/Sonni4154/opsflow/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

// ErrBufferFull is returned when an event cannot be enqueued within the emit timeout.
var ErrBufferFull = errors.New("event bus buffer is full")

// MetricsSink is the subset of metrics the event bus records.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type EventBus struct {
	ch          chan domain.TriggerEvent
	emitTimeout time.Duration
	metrics     MetricsSink
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithEmitTimeout overrides the default emit timeout.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = m
	}
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.TriggerEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit enqueues an event. It returns ErrBufferFull if no buffer space frees up
// within the emit timeout, or the context error if ctx is cancelled first.
func (b *EventBus) Emit(ctx context.Context, event domain.TriggerEvent) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.TriggerEvent {
	return b.ch
}
