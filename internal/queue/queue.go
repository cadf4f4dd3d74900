// Package queue buffers telemetry and hands batches to the transport
// sink. Batching is dual-triggered: a size threshold bounds payload size,
// a flush timer bounds delivery latency.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
	"github.com/tidemark-io/tidemark/pkg/rum/transport"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Config controls batching behavior.
type Config struct {
	// BatchSize triggers an immediate flush when the buffer reaches it.
	BatchSize int
	// FlushInterval bounds how long a buffered event can wait.
	FlushInterval time.Duration
	// CloseTimeout bounds the final flush performed by Close.
	CloseTimeout time.Duration
}

// DefaultConfig returns the default batching configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     30,
		FlushInterval: 5 * time.Minute,
		CloseTimeout:  2 * time.Second,
	}
}

// Queue is the delivery queue. Enqueue never blocks on I/O: batches and
// standalone events are dispatched on their own goroutines, and failures
// are logged and dropped, never retried.
type Queue struct {
	mu     sync.Mutex
	config Config
	sink   transport.Sink
	logger zerolog.Logger

	buffer []telemetry.Event
	timer  *time.Timer
	closed bool
}

// New creates a queue delivering to sink. Zero config fields fall back to
// DefaultConfig values.
func New(config Config, sink transport.Sink, logger zerolog.Logger) *Queue {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = defaults.CloseTimeout
	}

	return &Queue{
		config: config,
		sink:   sink,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue accepts one event. Error-class events bypass the buffer and are
// dispatched standalone immediately; everything else accumulates until a
// trigger fires. Buffered events stay buffered when an error passes
// through.
func (q *Queue) Enqueue(event telemetry.Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	if event.Type == telemetry.TypeError {
		q.mu.Unlock()
		q.dispatchEvent(event)
		return nil
	}

	q.buffer = append(q.buffer, event)
	if len(q.buffer) >= q.config.BatchSize {
		events := q.swapLocked()
		q.mu.Unlock()
		q.dispatchBatch(events)
		return nil
	}

	if q.timer == nil {
		q.timer = time.AfterFunc(q.config.FlushInterval, q.onTimer)
	}
	q.mu.Unlock()
	return nil
}

// Flush delivers the current buffer as one batch. Empty buffers are a
// no-op. The send itself happens on a dispatch goroutine.
func (q *Queue) Flush() {
	q.mu.Lock()
	if q.closed || len(q.buffer) == 0 {
		q.mu.Unlock()
		return
	}
	events := q.swapLocked()
	q.mu.Unlock()
	q.dispatchBatch(events)
}

// Close suppresses future enqueues, cancels the pending timer, and
// performs one final synchronous flush bounded by CloseTimeout. Earlier
// in-flight dispatches are not awaited.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.closed = true
	events := q.swapLocked()
	q.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.config.CloseTimeout)
	defer cancel()

	batch := newBatch(events)
	if err := q.sink.SendBatch(ctx, batch); err != nil {
		q.logger.Warn().Err(err).Str("batch_id", batch.ID).
			Int("batch_size", batch.Size()).Msg("Failed to deliver final batch, dropping")
		return fmt.Errorf("failed to deliver final batch: %w", err)
	}
	return nil
}

// swapLocked takes the buffer, resets it, and disarms the timer. Callers
// hold q.mu.
func (q *Queue) swapLocked() []telemetry.Event {
	events := q.buffer
	q.buffer = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	return events
}

func (q *Queue) onTimer() {
	q.mu.Lock()
	q.timer = nil
	if q.closed || len(q.buffer) == 0 {
		q.mu.Unlock()
		return
	}
	events := q.swapLocked()
	q.mu.Unlock()
	q.dispatchBatch(events)
}

func (q *Queue) dispatchBatch(events []telemetry.Event) {
	batch := newBatch(events)
	go func() {
		if err := q.sink.SendBatch(context.Background(), batch); err != nil {
			q.logger.Warn().Err(err).Str("batch_id", batch.ID).
				Int("batch_size", batch.Size()).Msg("Failed to deliver batch, dropping")
		}
	}()
}

func (q *Queue) dispatchEvent(event telemetry.Event) {
	go func() {
		if err := q.sink.SendEvent(context.Background(), event); err != nil {
			q.logger.Warn().Err(err).Str("event_id", event.ID).
				Str("name", event.Name).Msg("Failed to deliver event, dropping")
		}
	}()
}

func newBatch(events []telemetry.Event) telemetry.Batch {
	return telemetry.Batch{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Events:    events,
	}
}
