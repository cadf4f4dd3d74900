// Package session tracks the lifecycle of one telemetry session: counters,
// visited screens, and the durable session-count bookkeeping that feeds the
// first-session signal.
package session

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidemark-io/tidemark/internal/kvstore"
)

// Durable bookkeeping keys.
const (
	keyTotalSessions = "total_sessions"
	keyFirstSession  = "first_session"
)

// Tracker owns the single active session of a pipeline. All methods are
// safe for concurrent use; counters are monotonic within one session and
// reset only by Start.
type Tracker struct {
	mu     sync.Mutex
	kv     kvstore.Store
	logger zerolog.Logger

	id             string
	startTime      time.Time
	endTime        *time.Time
	eventCount     int64
	metricCount    int64
	visitedScreens []string
	isFirst        bool
	totalSessions  int64
	active         bool
}

// NewTracker creates a session tracker backed by kv for the cross-session
// counters.
func NewTracker(kv kvstore.Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		kv:     kv,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Start begins a new session: counters and the visited-screen set are
// reset, the durable total-session counter is incremented, and on the
// first increment ever a first-session flag is persisted. Storage failures
// degrade to in-memory bookkeeping and never fail the call.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.id = fmt.Sprintf("session_%d_%s", now.UnixMilli(), runtime.GOOS)
	t.startTime = now
	t.endTime = nil
	t.eventCount = 0
	t.metricCount = 0
	t.visitedScreens = nil
	t.active = true

	t.totalSessions = t.readTotal() + 1
	if err := t.kv.Set(keyTotalSessions, strconv.FormatInt(t.totalSessions, 10)); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist session counter")
	}

	if t.totalSessions == 1 {
		if err := t.kv.Set(keyFirstSession, "true"); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to persist first-session flag")
		}
	}

	// The flag survives a crash before End, so an interrupted first
	// session is reported as first again on the next start.
	flag, err := t.kv.Get(keyFirstSession)
	t.isFirst = t.totalSessions == 1 || (err == nil && flag == "true")

	t.logger.Debug().Str("session_id", t.id).Int64("total_sessions", t.totalSessions).
		Bool("first_session", t.isFirst).Msg("Session started")
}

// ID returns the active session identifier, or "" when no session is
// active.
func (t *Tracker) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// RecordEvent increments the session event counter.
func (t *Tracker) RecordEvent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.eventCount++
}

// RecordMetric increments the session metric counter.
func (t *Tracker) RecordMetric() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.metricCount++
}

// RecordScreen adds name to the visited-screen set. First-visit order is
// preserved; revisits are not duplicated.
func (t *Tracker) RecordScreen(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}

	for _, visited := range t.visitedScreens {
		if visited == name {
			return
		}
	}
	t.visitedScreens = append(t.visitedScreens, name)
}

// Attributes returns the session snapshot as string attributes. Duration
// is recomputed on every call. Returns nil when no session is active.
func (t *Tracker) Attributes() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return nil
	}

	return map[string]string{
		"session_id":       t.id,
		"duration_ms":      strconv.FormatInt(time.Since(t.startTime).Milliseconds(), 10),
		"event_count":      strconv.FormatInt(t.eventCount, 10),
		"metric_count":     strconv.FormatInt(t.metricCount, 10),
		"screen_count":     strconv.Itoa(len(t.visitedScreens)),
		"visited_screens":  strings.Join(t.visitedScreens, ","),
		"is_first_session": strconv.FormatBool(t.isFirst),
		"total_sessions":   strconv.FormatInt(t.totalSessions, 10),
	}
}

// End finalizes the session: the first-session flag is cleared so later
// sessions are never misreported, and in-memory counters are reset. The
// durable total-session counter is left untouched.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}

	now := time.Now()
	t.endTime = &now
	t.active = false

	if err := t.kv.Delete(keyFirstSession); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to clear first-session flag")
	}

	t.logger.Debug().Str("session_id", t.id).
		Dur("duration", now.Sub(t.startTime)).
		Int64("events", t.eventCount).
		Int64("metrics", t.metricCount).
		Msg("Session ended")

	t.id = ""
	t.eventCount = 0
	t.metricCount = 0
	t.visitedScreens = nil
	t.isFirst = false
}

func (t *Tracker) readTotal() int64 {
	raw, err := t.kv.Get(keyTotalSessions)
	if err != nil {
		return 0
	}

	total, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || total < 0 {
		t.logger.Warn().Str("stored", raw).Msg("Session counter is malformed, resetting")
		return 0
	}
	return total
}
