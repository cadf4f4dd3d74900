package collector

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tidemark-io/tidemark/internal/cli/helpers"
	"github.com/tidemark-io/tidemark/internal/collector"
	"github.com/tidemark-io/tidemark/internal/constants"
	"github.com/tidemark-io/tidemark/internal/errors"
	"github.com/tidemark-io/tidemark/internal/logging"
)

// NewServeCmd creates the serve command for the development collector.
func NewServeCmd() *cobra.Command {
	var (
		configFile string
		listen     string
		dbPath     string
		apiKey     string
		retention  time.Duration
		pretty     bool
	)
	logLevel := helpers.NewLevelFlag(zerolog.InfoLevel)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local collector until stopped by signal",
		Long: `Run the Tidemark development collector.

The collector:
- Accepts SDK payloads on POST /v1/rum (JSON, optionally gzip)
- Stores events in DuckDB and prunes them past the retention window
- Serves per-minute statistics on GET /v1/stats
- Streams live events to WebSocket clients on GET /v1/tail

Configuration sources (in order of precedence):
1. Command-line flags
2. Environment variables (TIDEMARK_COLLECTOR_*)
3. Config file (--config flag)
4. Defaults

Environment Variables:
  TIDEMARK_COLLECTOR_LISTEN     - HTTP listen address
  TIDEMARK_COLLECTOR_DB_PATH    - DuckDB file (empty for in-memory)
  TIDEMARK_COLLECTOR_API_KEY    - Require this bearer token on ingest
  TIDEMARK_COLLECTOR_RETENTION  - How long to keep events (e.g. 24h)
  TIDEMARK_COLLECTOR_LOG_LEVEL  - Logging level (debug, info, warn, error)

Examples:
  # In-memory store on the default address
  tidemark-collector serve

  # Persistent store with a 7-day window
  tidemark-collector serve --db ./tidemark.db --retention 168h

  # Config file plus a flag override
  tidemark-collector serve --config ./collector.yaml --listen 0.0.0.0:4319`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := collector.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load collector configuration: %w", err)
			}

			// Flags beat the file and the environment.
			if cmd.Flags().Changed("listen") {
				config.Listen = listen
			}
			if cmd.Flags().Changed("db") {
				config.DBPath = dbPath
			}
			if cmd.Flags().Changed("api-key") {
				config.APIKey = apiKey
			}
			if cmd.Flags().Changed("retention") {
				config.Retention = retention
			}
			if cmd.Flags().Changed("log-level") {
				config.LogLevel = logLevel.String()
			}
			if cmd.Flags().Changed("pretty") {
				config.Pretty = pretty
			}

			logger := logging.New(logging.Config{
				Level:  config.LogLevel,
				Pretty: config.Pretty,
			})

			db, err := collector.Open(config.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open event database: %w", err)
			}
			defer errors.DeferClose(logger, db, "failed to close event database")

			storage, err := collector.NewStorage(db, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize event storage: %w", err)
			}

			server := collector.NewServer(config, storage, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("failed to start collector: %w", err)
			}

			// Wait for interrupt signal.
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			sig := <-sigChan

			logger.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal, stopping collector")

			return server.Stop()
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to collector configuration file")
	cmd.Flags().StringVar(&listen, "listen", constants.DefaultCollectorListen, "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "DuckDB database file (empty for in-memory)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require this bearer token on ingest")
	cmd.Flags().DurationVar(&retention, "retention", 24*time.Hour, "How long to keep ingested events")
	cmd.Flags().Var(logLevel, "log-level", "Logging level (trace, debug, info, warn, error)")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "Human-readable console logging")

	return cmd
}
