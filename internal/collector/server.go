// Package collector implements the Tidemark development collector. It
// ingests the SDK's JSON payloads over HTTP, stores events in DuckDB,
// aggregates per-minute statistics, and streams live events to tail
// clients over WebSocket.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/tidemark-io/tidemark/internal/constants"
	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

// Server is the collector HTTP server.
type Server struct {
	config  Config
	storage *Storage
	stats   *Aggregator
	tail    *TailHub
	logger  zerolog.Logger

	httpServer *http.Server
	listener   net.Listener
	running    bool
	cancel     context.CancelFunc
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// NewServer creates a collector server around open storage.
func NewServer(config Config, storage *Storage, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "collector").Logger()
	return &Server{
		config:  config,
		storage: storage,
		stats:   NewAggregator(),
		tail:    NewTailHub(logger),
		logger:  logger,
	}
}

// Handler returns the collector's HTTP handler. Exposed separately from
// Start so tests can drive it without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.IngestPath, s.handleIngest)
	mux.HandleFunc(constants.StatsPath, s.handleStats)
	mux.Handle(constants.TailPath, s.tail)
	mux.HandleFunc(constants.HealthPath, s.handleHealth)
	return mux
}

// Start binds the listen address and serves until Stop. The retention
// cleanup loop runs until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("collector already running")
	}

	lis, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}

	s.listener = lis
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Derive the cleanup context so Stop can end the loop even when the
	// caller keeps ctx alive.
	cleanupCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.storage.RunCleanupLoop(cleanupCtx, s.config.Retention)
	}()

	s.running = true

	s.logger.Info().
		Str("address", lis.Addr().String()).
		Str("db_path", s.config.DBPath).
		Dur("retention", s.config.Retention).
		Msg("Collector listening")

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info().Msg("Stopping collector")

	s.cancel()
	s.tail.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	s.wg.Wait()
	s.running = false

	s.logger.Info().Msg("Collector stopped")
	return nil
}

// handleIngest accepts single-event and batch payloads from the SDK.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.config.APIKey != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.config.APIKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body := r.Body
	defer func() { _ = r.Body.Close() }()

	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			http.Error(w, "Malformed gzip body", http.StatusBadRequest)
			return
		}
		defer func() { _ = gz.Close() }()
		body = gz
	}

	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	payload, err := telemetry.DecodePayload(data)
	if err != nil {
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}

	var events []telemetry.Event
	switch {
	case payload.Batch != nil:
		events = payload.Batch.Events
	case payload.Event != nil:
		events = []telemetry.Event{*payload.Event}
	}

	if err := s.storage.StoreEvents(r.Context(), events); err != nil {
		s.logger.Error().Err(err).Msg("Failed to store events")
		http.Error(w, "Failed to store events", http.StatusInternalServerError)
		return
	}

	for _, event := range events {
		s.stats.Record(event)
		s.tail.Broadcast(event)
	}

	s.logger.Debug().
		Int("events", len(events)).
		Msg("Ingested payload")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"accepted": len(events)})
}

// statsResponse is the GET /v1/stats body.
type statsResponse struct {
	TotalEvents int           `json:"total_events"`
	Buckets     []BucketStats `json:"buckets"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	total, err := s.storage.CountEvents(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to count events")
		http.Error(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statsResponse{
		TotalEvents: total,
		Buckets:     s.stats.Snapshot(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
