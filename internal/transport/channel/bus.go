// Package channel carries fired events from the firer to the dispatcher
// over a buffered in-process channel.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/djlord-it/eventtrigger/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 100 * time.Millisecond

var (
	ErrBufferFull = errors.New("event bus buffer full")
	ErrClosed     = errors.New("event bus closed")
)

type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

type EventBus struct {
	ch          chan domain.FiredEvent
	emitTimeout time.Duration
	metrics     MetricsSink

	mu     sync.RWMutex
	closed bool
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.FiredEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit queues event for delivery. It fails with ErrBufferFull if no space
// frees up within the emit timeout, so a slow consumer never stalls a firing.
func (b *EventBus) Emit(ctx context.Context, event domain.FiredEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.emitError()
		return ErrClosed
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		b.emitError()
		return ctx.Err()
	case <-timer.C:
		b.emitError()
		return ErrBufferFull
	}
}

// Channel returns the receive side. It is closed by Close.
func (b *EventBus) Channel() <-chan domain.FiredEvent {
	return b.ch
}

// Close stops accepting events and closes the channel so consumers drain
// what is buffered and exit.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

func (b *EventBus) emitError() {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
}
