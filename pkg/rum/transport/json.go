package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// JSONSinkConfig configures the default JSON-over-HTTP sink.
type JSONSinkConfig struct {
	// Endpoint receives POSTed payloads. Required.
	Endpoint string
	// APIKey, when set, is sent as an Authorization bearer token.
	APIKey string
	// Compression gzips request bodies.
	Compression bool
	// Timeout bounds each delivery attempt. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// JSONSink posts events and batches as JSON documents.
type JSONSink struct {
	endpoint    string
	apiKey      string
	compression bool
	timeout     time.Duration
	client      *http.Client
	logger      zerolog.Logger
}

// NewJSONSink creates the default sink for config.
func NewJSONSink(config JSONSinkConfig, logger zerolog.Logger) (*JSONSink, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if _, err := url.Parse(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}

	return &JSONSink{
		endpoint:    config.Endpoint,
		apiKey:      config.APIKey,
		compression: config.Compression,
		timeout:     timeout,
		client:      client,
		logger:      logger.With().Str("component", "json_sink").Logger(),
	}, nil
}

// SendEvent delivers one standalone event.
func (s *JSONSink) SendEvent(ctx context.Context, event telemetry.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := s.post(ctx, payload); err != nil {
		return err
	}

	s.logger.Debug().Str("event_id", event.ID).Str("name", event.Name).Msg("Delivered event")
	return nil
}

// SendBatch delivers a batch document.
func (s *JSONSink) SendBatch(ctx context.Context, batch telemetry.Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	if err := s.post(ctx, payload); err != nil {
		return err
	}

	s.logger.Debug().Str("batch_id", batch.ID).Int("batch_size", batch.Size()).Msg("Delivered batch")
	return nil
}

func (s *JSONSink) post(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body := payload
	if s.compression {
		compressed, err := gzipBytes(payload)
		if err != nil {
			return fmt.Errorf("failed to compress payload: %w", err)
		}
		body = compressed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.compression {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func gzipBytes(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
