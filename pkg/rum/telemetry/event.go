// Package telemetry defines the event model shared by the tracking
// pipeline, the transport sinks and the development collector: queued
// events, immutable batches and intercepted-request records, together
// with their JSON wire encoding.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type classifies a queued event on the wire.
type Type string

const (
	TypeEvent  Type = "event"
	TypeMetric Type = "metric"
	TypeError  Type = "error"
	TypeBatch  Type = "batch"
)

// Valid reports whether t is a known single-event type.
func (t Type) Valid() bool {
	switch t {
	case TypeEvent, TypeMetric, TypeError:
		return true
	}
	return false
}

// Names of the events derived from intercepted HTTP requests.
const (
	EventHTTPRequest          = "http_request"
	EventHTTPError            = "http_error"
	EventSlowRequest          = "slow_request"
	MetricHTTPRequestDuration = "http_request_duration"
)

// Event is one telemetry record produced by the attribute compositor and
// owned exclusively by the delivery queue until flushed or dropped.
// Value is set for metrics only.
type Event struct {
	ID         string
	Type       Type
	Name       string
	Value      *float64
	Timestamp  time.Time
	Attributes map[string]string
}

// Batch is an ordered, immutable snapshot of events taken atomically from
// the queue buffer at flush time. Once constructed it is never mutated and
// no event belongs to two batches.
type Batch struct {
	ID        string
	CreatedAt time.Time
	Events    []Event
}

// Size returns the number of events in the batch.
func (b Batch) Size() int { return len(b.Events) }

// Wire encoding: timestamps travel as epoch milliseconds, matching the
// millisecond epochs embedded in device, user and session identifiers.

type eventJSON struct {
	Type       Type              `json:"type"`
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Value      *float64          `json:"value,omitempty"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Type:       e.Type,
		ID:         e.ID,
		Name:       e.Name,
		Value:      e.Value,
		Timestamp:  e.Timestamp.UnixMilli(),
		Attributes: e.Attributes,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Type.Valid() {
		return fmt.Errorf("invalid event type %q", w.Type)
	}
	e.ID = w.ID
	e.Type = w.Type
	e.Name = w.Name
	e.Value = w.Value
	e.Timestamp = time.UnixMilli(w.Timestamp).UTC()
	e.Attributes = w.Attributes
	return nil
}

type batchJSON struct {
	Type      Type    `json:"type"`
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"`
	BatchSize int     `json:"batch_size"`
	Events    []Event `json:"events"`
}

// MarshalJSON implements json.Marshaler.
func (b Batch) MarshalJSON() ([]byte, error) {
	return json.Marshal(batchJSON{
		Type:      TypeBatch,
		ID:        b.ID,
		Timestamp: b.CreatedAt.UnixMilli(),
		BatchSize: len(b.Events),
		Events:    b.Events,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var w batchJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != TypeBatch {
		return fmt.Errorf("invalid batch type %q", w.Type)
	}
	b.ID = w.ID
	b.CreatedAt = time.UnixMilli(w.Timestamp).UTC()
	b.Events = w.Events
	return nil
}

// Payload is a decoded ingest body: either one standalone event or one
// batch, never both.
type Payload struct {
	Event *Event
	Batch *Batch
}

// DecodePayload parses a wire payload, dispatching on the type field.
func DecodePayload(data []byte) (Payload, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Payload{}, fmt.Errorf("malformed payload: %w", err)
	}

	switch {
	case probe.Type == TypeBatch:
		var b Batch
		if err := json.Unmarshal(data, &b); err != nil {
			return Payload{}, fmt.Errorf("malformed batch payload: %w", err)
		}
		return Payload{Batch: &b}, nil
	case probe.Type.Valid():
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			return Payload{}, fmt.Errorf("malformed event payload: %w", err)
		}
		return Payload{Event: &e}, nil
	default:
		return Payload{}, fmt.Errorf("unknown payload type %q", probe.Type)
	}
}
