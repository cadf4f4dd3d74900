// Package constants defines shared configuration constants.
package constants

const (
	// DefaultCollectorListen is the development collector's default
	// listen address. The SDK quickstart and docs assume this port.
	DefaultCollectorListen = "127.0.0.1:4319"

	// IngestPath receives SDK payloads (POST).
	IngestPath = "/v1/rum"

	// StatsPath serves per-minute statistics (GET).
	StatsPath = "/v1/stats"

	// TailPath streams live events over WebSocket (GET).
	TailPath = "/v1/tail"

	// HealthPath is the liveness probe endpoint.
	HealthPath = "/healthz"
)
