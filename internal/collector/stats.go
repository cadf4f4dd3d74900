package collector

import (
	"sort"
	"sync"
	"time"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

// statsHorizon bounds how far back in-memory buckets are kept.
const statsHorizon = time.Hour

// BucketStats is one minute of aggregated ingest activity. Percentiles
// are computed over http_request_duration metric values.
type BucketStats struct {
	BucketTime  time.Time `json:"bucket_time"`
	EventCount  int64     `json:"event_count"`
	MetricCount int64     `json:"metric_count"`
	ErrorCount  int64     `json:"error_count"`
	P50Ms       float64   `json:"p50_ms"`
	P95Ms       float64   `json:"p95_ms"`
	P99Ms       float64   `json:"p99_ms"`
}

// Aggregator aggregates ingested events into 1-minute buckets.
type Aggregator struct {
	mu      sync.RWMutex
	buckets map[int64]*bucketData // key: unix minute
}

// bucketData accumulates raw counts until Snapshot aggregates them.
type bucketData struct {
	events    int64
	metrics   int64
	errors    int64
	durations []float64
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		buckets: make(map[int64]*bucketData),
	}
}

// Record adds one event to its minute bucket.
func (a *Aggregator) Record(event telemetry.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	minute := event.Timestamp.Truncate(time.Minute).Unix()

	bucket, exists := a.buckets[minute]
	if !exists {
		bucket = &bucketData{
			durations: make([]float64, 0, 64),
		}
		a.buckets[minute] = bucket
		a.pruneLocked()
	}

	switch event.Type {
	case telemetry.TypeMetric:
		bucket.metrics++
		if event.Name == telemetry.MetricHTTPRequestDuration && event.Value != nil {
			bucket.durations = append(bucket.durations, *event.Value)
		}
	case telemetry.TypeError:
		bucket.errors++
	default:
		bucket.events++
	}
}

// Snapshot returns all retained buckets in chronological order. It does
// not reset them.
func (a *Aggregator) Snapshot() []BucketStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	minutes := make([]int64, 0, len(a.buckets))
	for minute := range a.buckets {
		minutes = append(minutes, minute)
	}
	sort.Slice(minutes, func(i, j int) bool { return minutes[i] < minutes[j] })

	stats := make([]BucketStats, 0, len(minutes))
	for _, minute := range minutes {
		data := a.buckets[minute]
		p50, p95, p99 := calculatePercentiles(data.durations)

		stats = append(stats, BucketStats{
			BucketTime:  time.Unix(minute, 0).UTC(),
			EventCount:  data.events,
			MetricCount: data.metrics,
			ErrorCount:  data.errors,
			P50Ms:       p50,
			P95Ms:       p95,
			P99Ms:       p99,
		})
	}

	return stats
}

// pruneLocked drops buckets older than the horizon. Callers hold a.mu.
func (a *Aggregator) pruneLocked() {
	cutoff := time.Now().Add(-statsHorizon).Truncate(time.Minute).Unix()
	for minute := range a.buckets {
		if minute < cutoff {
			delete(a.buckets, minute)
		}
	}
}

// calculatePercentiles returns the p50, p95 and p99 of durations.
func calculatePercentiles(durations []float64) (p50, p95, p99 float64) {
	if len(durations) == 0 {
		return 0, 0, 0
	}

	sorted := make([]float64, len(durations))
	copy(sorted, durations)
	sort.Float64s(sorted)

	n := len(sorted)
	p50 = sorted[int(float64(n)*0.50)]
	p95 = sorted[min(int(float64(n)*0.95), n-1)]
	p99 = sorted[min(int(float64(n)*0.99), n-1)]

	return p50, p95, p99
}
