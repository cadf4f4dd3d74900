package rum

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tidemark-io/tidemark/internal/kvstore"
	"github.com/tidemark-io/tidemark/internal/safe"
	"github.com/tidemark-io/tidemark/pkg/rum/transport"
)

// Config contains pipeline configuration options.
type Config struct {
	// Endpoint receives telemetry payloads. Required unless Sink is set.
	Endpoint string `env:"TIDEMARK_ENDPOINT"`

	// APIKey is sent as an Authorization bearer token when set.
	APIKey string `env:"TIDEMARK_API_KEY"`

	// ServiceName identifies the instrumented application (required).
	ServiceName string `env:"TIDEMARK_SERVICE_NAME"`

	// ServiceVersion is reported in device attributes.
	ServiceVersion string `env:"TIDEMARK_SERVICE_VERSION"`

	// Environment is the deployment environment (dev, staging, prod).
	Environment string `env:"TIDEMARK_ENVIRONMENT"`

	// BatchSize triggers an immediate flush when the buffer reaches it.
	// Defaults to 30.
	BatchSize int `env:"TIDEMARK_BATCH_SIZE"`

	// FlushInterval bounds how long a buffered event waits for delivery.
	// Defaults to 5 minutes.
	FlushInterval time.Duration `env:"TIDEMARK_FLUSH_INTERVAL"`

	// CloseTimeout bounds the final flush performed by Close. Defaults to
	// 2 seconds.
	CloseTimeout time.Duration `env:"TIDEMARK_CLOSE_TIMEOUT"`

	// SampleRate selects the fraction of sessions that report telemetry,
	// in (0, 1]. The decision is made once per session, so a session is
	// wholly reported or wholly silent. Zero means 1.0.
	SampleRate float64 `env:"TIDEMARK_SAMPLE_RATE"`

	// DisableHTTPTelemetry turns off the events derived from intercepted
	// HTTP requests. Interception itself stays transparent.
	DisableHTTPTelemetry bool `env:"TIDEMARK_DISABLE_HTTP_TELEMETRY"`

	// DisableSessionTracking turns off the session layer entirely: no
	// session counters, no session attributes on events.
	DisableSessionTracking bool `env:"TIDEMARK_DISABLE_SESSION_TRACKING"`

	// DisableCompression turns off gzip request bodies on the default
	// sink.
	DisableCompression bool `env:"TIDEMARK_DISABLE_COMPRESSION"`

	// DisableConnectivityMonitor turns off the background connectivity
	// watcher feeding the ambient context.
	DisableConnectivityMonitor bool `env:"TIDEMARK_DISABLE_CONNECTIVITY_MONITOR"`

	// GlobalAttributes are attached to every event at the lowest
	// precedence.
	GlobalAttributes map[string]string `env:"TIDEMARK_GLOBAL_ATTRIBUTES"`

	// Sink overrides the default JSON sink.
	Sink transport.Sink

	// Store overrides the default file-backed identity storage.
	Store kvstore.Store

	// Logger is the logger instance (optional, defaults to silent).
	// Embedded telemetry must never write to an application's output
	// unless asked to.
	Logger zerolog.Logger
}

// DefaultConfig returns the default pipeline configuration. ServiceName
// and Endpoint must still be filled in.
func DefaultConfig() Config {
	return Config{
		BatchSize:     30,
		FlushInterval: 5 * time.Minute,
		CloseTimeout:  2 * time.Second,
		SampleRate:    1.0,
	}
}

// fileConfig is the YAML shape of Config. Durations are strings ("5m",
// "90s") since yaml.v3 has no native duration support.
type fileConfig struct {
	Endpoint                   string            `yaml:"endpoint"`
	APIKey                     string            `yaml:"api_key"`
	ServiceName                string            `yaml:"service_name"`
	ServiceVersion             string            `yaml:"service_version"`
	Environment                string            `yaml:"environment"`
	BatchSize                  int               `yaml:"batch_size"`
	FlushInterval              string            `yaml:"flush_interval"`
	CloseTimeout               string            `yaml:"close_timeout"`
	SampleRate                 float64           `yaml:"sample_rate"`
	DisableHTTPTelemetry       bool              `yaml:"disable_http_telemetry"`
	DisableSessionTracking     bool              `yaml:"disable_session_tracking"`
	DisableCompression         bool              `yaml:"disable_compression"`
	DisableConnectivityMonitor bool              `yaml:"disable_connectivity_monitor"`
	GlobalAttributes           map[string]string `yaml:"global_attributes"`
}

// LoadConfig reads a YAML config file and applies environment variable
// overrides on top.
func LoadConfig(path string) (Config, error) {
	data, err := safe.ReadFile(path, &safe.ReadOptions{AllowSymlinks: true})
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	config := Config{
		Endpoint:                   raw.Endpoint,
		APIKey:                     raw.APIKey,
		ServiceName:                raw.ServiceName,
		ServiceVersion:             raw.ServiceVersion,
		Environment:                raw.Environment,
		BatchSize:                  raw.BatchSize,
		SampleRate:                 raw.SampleRate,
		DisableHTTPTelemetry:       raw.DisableHTTPTelemetry,
		DisableSessionTracking:     raw.DisableSessionTracking,
		DisableCompression:         raw.DisableCompression,
		DisableConnectivityMonitor: raw.DisableConnectivityMonitor,
		GlobalAttributes:           raw.GlobalAttributes,
	}

	if raw.FlushInterval != "" {
		config.FlushInterval, err = time.ParseDuration(raw.FlushInterval)
		if err != nil {
			return Config{}, fmt.Errorf("invalid flush_interval: %w", err)
		}
	}
	if raw.CloseTimeout != "" {
		config.CloseTimeout, err = time.ParseDuration(raw.CloseTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("invalid close_timeout: %w", err)
		}
	}

	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return config, nil
}

// ConfigFromEnv builds a Config from TIDEMARK_* environment variables
// alone.
func ConfigFromEnv() (Config, error) {
	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return config, nil
}

// applyDefaults fills zero values with DefaultConfig values.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = defaults.FlushInterval
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = defaults.CloseTimeout
	}
	if c.SampleRate == 0 {
		c.SampleRate = defaults.SampleRate
	}
}

// validate checks the configuration after defaults are applied.
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Endpoint == "" && c.Sink == nil {
		return fmt.Errorf("endpoint is required when no sink is configured")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %s", c.FlushInterval)
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("close timeout must be positive, got %s", c.CloseTimeout)
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be in (0, 1], got %g", c.SampleRate)
	}
	return nil
}
