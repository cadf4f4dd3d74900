package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

type chanSink struct {
	events  chan telemetry.Event
	batches chan telemetry.Batch
}

func newChanSink() *chanSink {
	return &chanSink{
		events:  make(chan telemetry.Event, 16),
		batches: make(chan telemetry.Batch, 16),
	}
}

func (s *chanSink) SendEvent(_ context.Context, event telemetry.Event) error {
	s.events <- event
	return nil
}

func (s *chanSink) SendBatch(_ context.Context, batch telemetry.Batch) error {
	s.batches <- batch
	return nil
}

// blockingSink blocks every send until the context expires.
type blockingSink struct{}

func (blockingSink) SendEvent(ctx context.Context, _ telemetry.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingSink) SendBatch(ctx context.Context, _ telemetry.Batch) error {
	<-ctx.Done()
	return ctx.Err()
}

func event(name string) telemetry.Event {
	return telemetry.Event{ID: name, Type: telemetry.TypeEvent, Name: name, Timestamp: time.Now()}
}

func errorEvent(name string) telemetry.Event {
	return telemetry.Event{ID: name, Type: telemetry.TypeError, Name: name, Timestamp: time.Now()}
}

func waitBatch(t *testing.T, sink *chanSink) telemetry.Batch {
	t.Helper()
	select {
	case batch := <-sink.batches:
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return telemetry.Batch{}
	}
}

func waitEvent(t *testing.T, sink *chanSink) telemetry.Event {
	t.Helper()
	select {
	case event := <-sink.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return telemetry.Event{}
	}
}

func assertNoDelivery(t *testing.T, sink *chanSink) {
	t.Helper()
	select {
	case batch := <-sink.batches:
		t.Fatalf("unexpected batch %s with %d events", batch.ID, batch.Size())
	case e := <-sink.events:
		t.Fatalf("unexpected standalone event %s", e.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueue_SizeTrigger(t *testing.T) {
	sink := newChanSink()
	q := New(Config{BatchSize: 3, FlushInterval: time.Hour}, sink, zerolog.Nop())
	defer func() { _ = q.Close() }()

	require.NoError(t, q.Enqueue(event("a")))
	require.NoError(t, q.Enqueue(event("b")))
	assertNoDelivery(t, sink)

	require.NoError(t, q.Enqueue(event("c")))

	batch := waitBatch(t, sink)
	require.Len(t, batch.Events, 3)
	assert.Equal(t, "a", batch.Events[0].Name)
	assert.Equal(t, "b", batch.Events[1].Name)
	assert.Equal(t, "c", batch.Events[2].Name)
	assert.NotEmpty(t, batch.ID)

	// The buffer restarts empty: the next event does not flush early.
	require.NoError(t, q.Enqueue(event("d")))
	assertNoDelivery(t, sink)
}

func TestQueue_ErrorBypassesBuffer(t *testing.T) {
	sink := newChanSink()
	q := New(Config{BatchSize: 10, FlushInterval: time.Hour}, sink, zerolog.Nop())
	defer func() { _ = q.Close() }()

	require.NoError(t, q.Enqueue(event("a")))
	require.NoError(t, q.Enqueue(event("b")))
	require.NoError(t, q.Enqueue(errorEvent("crash")))

	// The error arrives standalone while the batch is still pending.
	delivered := waitEvent(t, sink)
	assert.Equal(t, "crash", delivered.Name)
	assert.Equal(t, telemetry.TypeError, delivered.Type)

	q.Flush()
	batch := waitBatch(t, sink)
	require.Len(t, batch.Events, 2)
	assert.Equal(t, "a", batch.Events[0].Name)
	assert.Equal(t, "b", batch.Events[1].Name)
}

func TestQueue_TimerFlush(t *testing.T) {
	sink := newChanSink()
	q := New(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, sink, zerolog.Nop())
	defer func() { _ = q.Close() }()

	require.NoError(t, q.Enqueue(event("slow")))

	batch := waitBatch(t, sink)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "slow", batch.Events[0].Name)
}

func TestQueue_FlushEmptyIsNoop(t *testing.T) {
	sink := newChanSink()
	q := New(Config{BatchSize: 3, FlushInterval: time.Hour}, sink, zerolog.Nop())
	defer func() { _ = q.Close() }()

	q.Flush()
	assertNoDelivery(t, sink)
}

func TestQueue_CloseFlushesRemainder(t *testing.T) {
	sink := newChanSink()
	q := New(Config{BatchSize: 10, FlushInterval: time.Hour}, sink, zerolog.Nop())

	require.NoError(t, q.Enqueue(event("a")))
	require.NoError(t, q.Enqueue(event("b")))
	require.NoError(t, q.Close())

	batch := waitBatch(t, sink)
	require.Len(t, batch.Events, 2)

	assert.ErrorIs(t, q.Enqueue(event("late")), ErrClosed)
	assert.ErrorIs(t, q.Close(), ErrClosed)
}

func TestQueue_CloseTimeoutBoundsFinalFlush(t *testing.T) {
	q := New(Config{BatchSize: 10, FlushInterval: time.Hour, CloseTimeout: 50 * time.Millisecond},
		blockingSink{}, zerolog.Nop())

	require.NoError(t, q.Enqueue(event("stuck")))

	start := time.Now()
	err := q.Close()
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, time.Second)
}

func TestQueue_NoEventInTwoBatches(t *testing.T) {
	sink := newChanSink()
	q := New(Config{BatchSize: 2, FlushInterval: time.Hour}, sink, zerolog.Nop())
	defer func() { _ = q.Close() }()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(event(name)))
	}
	q.Flush()

	seen := make(map[string]int)
	for i := 0; i < 3; i++ {
		for _, e := range waitBatch(t, sink).Events {
			seen[e.Name]++
		}
	}

	assert.Len(t, seen, 5)
	for name, count := range seen {
		assert.Equal(t, 1, count, "event %q delivered %d times", name, count)
	}
}
