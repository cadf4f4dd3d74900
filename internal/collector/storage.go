package collector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"

	"github.com/tidemark-io/tidemark/internal/errors"
	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

// Open opens the DuckDB database backing the collector. An empty path
// opens an in-memory database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Storage persists ingested RUM events in DuckDB. Duplicate deliveries
// are deduplicated on the event id.
type Storage struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewStorage creates event storage on top of an open database.
func NewStorage(db *sql.DB, logger zerolog.Logger) (*Storage, error) {
	s := &Storage{
		db:     db,
		logger: logger.With().Str("component", "storage").Logger(),
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the rum_events table.
func (s *Storage) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS rum_events (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			name        TEXT NOT NULL,
			value       DOUBLE PRECISION,
			ts          TIMESTAMP NOT NULL,
			session_id  TEXT,
			device_id   TEXT,
			attributes  JSON,
			created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		-- Index for time-range queries.
		CREATE INDEX IF NOT EXISTS idx_rum_events_ts
		ON rum_events(ts DESC);

		-- Index for per-session queries.
		CREATE INDEX IF NOT EXISTS idx_rum_events_session
		ON rum_events(session_id, ts DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Info().Msg("Event storage schema initialized")
	return nil
}

// StoreEvents inserts a slice of events in one transaction. Events whose
// id is already stored are skipped silently.
func (s *Storage) StoreEvents(ctx context.Context, events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer errors.DeferRollback(s.logger, tx)

	query := `
		INSERT INTO rum_events (
			id, type, name, value, ts, session_id, device_id, attributes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer errors.DeferClose(s.logger, stmt, "failed to close insert statement")

	for _, event := range events {
		attributesJSON, err := json.Marshal(event.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
		if len(event.Attributes) == 0 {
			attributesJSON = []byte("{}")
		}

		var value any
		if event.Value != nil {
			value = *event.Value
		}

		_, err = stmt.ExecContext(
			ctx,
			event.ID,
			string(event.Type),
			event.Name,
			value,
			event.Timestamp,
			event.Attributes["session_id"],
			event.Attributes["device_id"],
			attributesJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// QueryRecent returns the most recently ingested events, newest first.
func (s *Storage) QueryRecent(ctx context.Context, limit int) ([]telemetry.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, type, name, value, ts, attributes
		FROM rum_events
		ORDER BY ts DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer errors.DeferClose(s.logger, rows, "failed to close event query rows")

	events := make([]telemetry.Event, 0)

	for rows.Next() {
		var (
			event          telemetry.Event
			eventType      string
			value          sql.NullFloat64
			attributesJSON []byte
		)

		err := rows.Scan(
			&event.ID,
			&eventType,
			&event.Name,
			&value,
			&event.Timestamp,
			&attributesJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.Type = telemetry.Type(eventType)
		if value.Valid {
			v := value.Float64
			event.Value = &v
		}
		if len(attributesJSON) > 0 {
			if err := json.Unmarshal(attributesJSON, &event.Attributes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// CountEvents returns the number of stored events.
func (s *Storage) CountEvents(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	query := `SELECT COUNT(*) FROM rum_events`

	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return count, nil
}

// CleanupOldEvents removes events older than the retention period.
func (s *Storage) CleanupOldEvents(ctx context.Context, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)

	query := `DELETE FROM rum_events WHERE ts < ?`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old events: %w", err)
	}

	rowsDeleted, _ := result.RowsAffected()

	if rowsDeleted > 0 {
		s.logger.Debug().
			Int64("rows_deleted", rowsDeleted).
			Time("cutoff", cutoff).
			Msg("Cleaned up old events")
	}

	return nil
}

// RunCleanupLoop runs a periodic retention cleanup until ctx is cancelled.
func (s *Storage) RunCleanupLoop(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	s.logger.Info().
		Dur("retention", retention).
		Msg("Starting event cleanup loop")

	for {
		select {
		case <-ticker.C:
			if err := s.CleanupOldEvents(ctx, retention); err != nil {
				s.logger.Error().
					Err(err).
					Msg("Failed to cleanup old events")
			}

		case <-ctx.Done():
			s.logger.Info().Msg("Stopping event cleanup loop")
			return
		}
	}
}
