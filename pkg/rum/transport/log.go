package transport

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

// LogSink writes telemetry to a zerolog logger instead of the network.
// Useful for local development and tests.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs every payload at info level.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "log_sink").Logger()}
}

// SendEvent logs one event.
func (s *LogSink) SendEvent(_ context.Context, event telemetry.Event) error {
	entry := s.logger.Info().
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Str("name", event.Name).
		Time("timestamp", event.Timestamp).
		Interface("attributes", event.Attributes)
	if event.Value != nil {
		entry = entry.Float64("value", *event.Value)
	}
	entry.Msg("Telemetry event")
	return nil
}

// SendBatch logs a batch summary followed by its events.
func (s *LogSink) SendBatch(ctx context.Context, batch telemetry.Batch) error {
	s.logger.Info().
		Str("batch_id", batch.ID).
		Int("batch_size", batch.Size()).
		Time("created_at", batch.CreatedAt).
		Msg("Telemetry batch")
	for _, event := range batch.Events {
		if err := s.SendEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
