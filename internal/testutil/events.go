package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

// NewEvent creates a telemetry event with sensible defaults for tests.
// Pass attribute key/value pairs; an odd trailing key is ignored.
func NewEvent(name string, kv ...string) telemetry.Event {
	attrs := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	return telemetry.Event{
		ID:         uuid.NewString(),
		Type:       telemetry.TypeEvent,
		Name:       name,
		Timestamp:  time.Now(),
		Attributes: attrs,
	}
}

// NewMetric creates a telemetry metric with the given value.
func NewMetric(name string, value float64, kv ...string) telemetry.Event {
	event := NewEvent(name, kv...)
	event.Type = telemetry.TypeMetric
	event.Value = &value
	return event
}

// NewBatch wraps events in a batch with a fresh identifier.
func NewBatch(events ...telemetry.Event) telemetry.Batch {
	return telemetry.Batch{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Events:    events,
	}
}
