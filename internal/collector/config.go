package collector

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/tidemark-io/tidemark/internal/constants"
	"github.com/tidemark-io/tidemark/internal/safe"
)

// Config contains collector configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `env:"TIDEMARK_COLLECTOR_LISTEN"`

	// DBPath is the DuckDB database file. Empty means in-memory.
	DBPath string `env:"TIDEMARK_COLLECTOR_DB_PATH"`

	// APIKey, when set, requires a matching bearer token on ingest.
	APIKey string `env:"TIDEMARK_COLLECTOR_API_KEY"`

	// Retention bounds how long ingested events are kept.
	Retention time.Duration `env:"TIDEMARK_COLLECTOR_RETENTION"`

	// LogLevel sets the collector log level.
	LogLevel string `env:"TIDEMARK_COLLECTOR_LOG_LEVEL"`

	// Pretty enables human-readable console logging.
	Pretty bool `env:"TIDEMARK_COLLECTOR_PRETTY"`
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{
		Listen:    constants.DefaultCollectorListen,
		Retention: 24 * time.Hour,
		LogLevel:  "info",
		Pretty:    true,
	}
}

// fileConfig mirrors Config for YAML decoding. Durations travel as
// strings ("24h") because yaml.v3 has no native duration support.
type fileConfig struct {
	Listen    string `yaml:"listen"`
	DBPath    string `yaml:"db_path"`
	APIKey    string `yaml:"api_key"`
	Retention string `yaml:"retention"`
	LogLevel  string `yaml:"log_level"`
	Pretty    *bool  `yaml:"pretty"`
}

// LoadConfig reads a YAML config file and applies environment variable
// overrides on top of it. Unset fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := safe.ReadFile(path, &safe.ReadOptions{AllowSymlinks: true})
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}

		var raw fileConfig
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}

		if raw.Listen != "" {
			config.Listen = raw.Listen
		}
		if raw.DBPath != "" {
			config.DBPath = raw.DBPath
		}
		if raw.APIKey != "" {
			config.APIKey = raw.APIKey
		}
		if raw.LogLevel != "" {
			config.LogLevel = raw.LogLevel
		}
		if raw.Pretty != nil {
			config.Pretty = *raw.Pretty
		}
		if raw.Retention != "" {
			retention, err := time.ParseDuration(raw.Retention)
			if err != nil {
				return Config{}, fmt.Errorf("invalid retention: %w", err)
			}
			config.Retention = retention
		}
	}

	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return config, nil
}
