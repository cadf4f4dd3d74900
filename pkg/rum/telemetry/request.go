package telemetry

import (
	"time"
)

// Category is the outcome class of an intercepted HTTP request.
type Category string

const (
	CategorySuccess      Category = "success"
	CategoryClientError  Category = "client_error"
	CategoryServerError  Category = "server_error"
	CategoryNetworkError Category = "network_error"
)

// PerformanceCategory buckets an intercepted request by latency.
type PerformanceCategory string

const (
	PerfFast     PerformanceCategory = "fast"
	PerfNormal   PerformanceCategory = "normal"
	PerfSlow     PerformanceCategory = "slow"
	PerfVerySlow PerformanceCategory = "very_slow"
)

// Latency bucket boundaries.
const (
	FastThreshold   = 100 * time.Millisecond
	NormalThreshold = 500 * time.Millisecond
	SlowThreshold   = 2000 * time.Millisecond
)

// RequestTelemetry records one intercepted network call. It is created
// exactly once per request, is immutable, and is consumed exactly once by
// the pipeline. A transport-level failure carries StatusCode 0 and a
// populated Error.
type RequestTelemetry struct {
	URL          string
	Method       string
	StatusCode   int
	Duration     time.Duration
	Timestamp    time.Time
	Error        string
	ResponseSize int64
}

// Failed reports whether the request failed at the transport level before
// producing a response.
func (r RequestTelemetry) Failed() bool {
	return r.Error != "" || r.StatusCode == 0
}

// Category classifies the request outcome. 2xx and 3xx responses are
// successes; redirects are not separately recorded, so a 3xx here is a
// terminal response.
func (r RequestTelemetry) Category() Category {
	switch {
	case r.Failed():
		return CategoryNetworkError
	case r.StatusCode >= 500:
		return CategoryServerError
	case r.StatusCode >= 400:
		return CategoryClientError
	default:
		return CategorySuccess
	}
}

// PerformanceCategory buckets the request duration.
func (r RequestTelemetry) PerformanceCategory() PerformanceCategory {
	switch {
	case r.Duration < FastThreshold:
		return PerfFast
	case r.Duration < NormalThreshold:
		return PerfNormal
	case r.Duration < SlowThreshold:
		return PerfSlow
	default:
		return PerfVerySlow
	}
}
