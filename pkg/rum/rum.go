package rum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/tidemark-io/tidemark/internal/attrs"
	"github.com/tidemark-io/tidemark/internal/deviceinfo"
	"github.com/tidemark-io/tidemark/internal/identity"
	"github.com/tidemark-io/tidemark/internal/kvstore"
	"github.com/tidemark-io/tidemark/internal/netmon"
	"github.com/tidemark-io/tidemark/internal/queue"
	"github.com/tidemark-io/tidemark/internal/session"
	"github.com/tidemark-io/tidemark/pkg/rum/attr"
	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
	"github.com/tidemark-io/tidemark/pkg/rum/transport"
	"github.com/tidemark-io/tidemark/pkg/version"
)

var (
	// ErrNotStarted is returned when a Pipeline is used before rum.New.
	ErrNotStarted = errors.New("pipeline not started")

	// ErrClosed is returned when a Pipeline is used after Close.
	ErrClosed = errors.New("pipeline is closed")
)

// Pipeline is one telemetry pipeline instance embedded in an application.
// All methods are safe for concurrent use. Track calls are synchronous
// in-memory operations; delivery happens in the background and never
// blocks the caller.
type Pipeline struct {
	mu     sync.Mutex
	closed bool

	config     Config
	logger     zerolog.Logger
	identity   *identity.Store
	session    *session.Tracker
	compositor *attrs.Compositor
	queue      *queue.Queue
	sink       transport.Sink
	ownSink    bool
	sampled    bool

	cancelMonitor context.CancelFunc
}

// New creates and starts a telemetry pipeline: identity is resolved
// lazily, a session begins immediately, and the connectivity monitor
// starts in the background.
func New(config Config) (*Pipeline, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "tidemark").Str("service", config.ServiceName).Logger()

	kv := config.Store
	if kv == nil {
		kv = kvstore.NewFileStore(kvstore.DefaultPath())
	}

	sink := config.Sink
	ownSink := false
	if sink == nil {
		jsonSink, err := transport.NewJSONSink(transport.JSONSinkConfig{
			Endpoint:    config.Endpoint,
			APIKey:      config.APIKey,
			Compression: !config.DisableCompression,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sink: %w", err)
		}
		sink = jsonSink
		ownSink = true
	}

	p := &Pipeline{
		config:   config,
		logger:   logger,
		identity: identity.NewStore(kv, logger),
		sink:     sink,
		ownSink:  ownSink,
	}

	var sessionSource attrs.SessionSource
	if !config.DisableSessionTracking {
		p.session = session.NewTracker(kv, logger)
		p.session.Start()
		sessionSource = p.session
	}

	// The sampling decision is per session so a session is wholly
	// reported or wholly silent. Without session tracking it falls back
	// to per installation.
	sampleKey := ""
	if p.session != nil {
		sampleKey = p.session.ID()
	}
	if sampleKey == "" {
		sampleKey = p.identity.DeviceID()
	}
	p.sampled = sampleIn(sampleKey, config.SampleRate)

	device := deviceinfo.Collect(logger)
	device["device_id"] = p.identity.DeviceID()
	device["user_id"] = p.identity.UserID()
	device["app_name"] = config.ServiceName
	device["sdk_version"] = version.SDKVersion
	if config.ServiceVersion != "" {
		device["app_version"] = config.ServiceVersion
	}
	if config.Environment != "" {
		device["environment"] = config.Environment
	}

	p.compositor = attrs.NewCompositor(config.GlobalAttributes, device, sessionSource)
	p.queue = queue.New(queue.Config{
		BatchSize:     config.BatchSize,
		FlushInterval: config.FlushInterval,
		CloseTimeout:  config.CloseTimeout,
	}, sink, logger)

	if !config.DisableConnectivityMonitor {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancelMonitor = cancel
		monitor := netmon.NewMonitor(netmon.DefaultInterval, func(class string) {
			p.SetAmbientAttr("connectivity", class)
		}, logger)
		go func() { _ = monitor.Start(ctx) }()
	}

	logger.Info().
		Str("session_id", p.SessionID()).
		Bool("sampled", p.sampled).
		Int("batch_size", config.BatchSize).
		Dur("flush_interval", config.FlushInterval).
		Msg("Tidemark pipeline initialized")

	return p, nil
}

// TrackEvent records a named event with optional custom attributes.
func (p *Pipeline) TrackEvent(name string, custom attr.Map) error {
	return p.track(telemetry.TypeEvent, name, nil, custom)
}

// TrackMetric records a named measurement.
func (p *Pipeline) TrackMetric(name string, value float64, custom attr.Map) error {
	return p.track(telemetry.TypeMetric, name, &value, custom)
}

// TrackError records an error occurrence. Error events skip the batch
// buffer and are delivered immediately.
func (p *Pipeline) TrackError(name string, err error, custom attr.Map) error {
	merged := make(attr.Map, len(custom)+2)
	for k, v := range custom {
		merged[k] = v
	}
	if err != nil {
		merged["error_message"] = attr.String(err.Error())
		merged["error_type"] = attr.String(fmt.Sprintf("%T", err))
	}
	return p.track(telemetry.TypeError, name, nil, merged)
}

// RecordScreen marks a screen as visited in the current session.
func (p *Pipeline) RecordScreen(name string) error {
	if err := p.guard(); err != nil {
		return err
	}
	if p.session != nil {
		p.session.RecordScreen(name)
	}
	return nil
}

// SetAmbientAttr updates one ambient context attribute (for example the
// current connectivity class). An empty value removes the key.
func (p *Pipeline) SetAmbientAttr(key, value string) {
	if p.guard() != nil {
		return
	}
	p.compositor.SetAmbient(key, value)
}

// Flush delivers the current buffer without waiting for a trigger.
func (p *Pipeline) Flush() {
	if p.guard() != nil {
		return
	}
	p.queue.Flush()
}

// ObserveRequest ingests one intercepted HTTP request. It emits the base
// request event and a duration metric, plus derived error and slow-request
// events when warranted. It never blocks and never fails.
func (p *Pipeline) ObserveRequest(rt telemetry.RequestTelemetry) {
	if p.guard() != nil || p.config.DisableHTTPTelemetry {
		return
	}

	custom := requestAttrs(rt)
	_ = p.track(telemetry.TypeEvent, telemetry.EventHTTPRequest, nil, custom)

	durationMs := float64(rt.Duration) / float64(time.Millisecond)
	_ = p.track(telemetry.TypeMetric, telemetry.MetricHTTPRequestDuration, &durationMs, custom)

	if rt.Category() != telemetry.CategorySuccess {
		_ = p.track(telemetry.TypeEvent, telemetry.EventHTTPError, nil, custom)
	}
	if rt.PerformanceCategory() == telemetry.PerfVerySlow {
		_ = p.track(telemetry.TypeEvent, telemetry.EventSlowRequest, nil, custom)
	}
}

// DeviceID returns the durable device identifier.
func (p *Pipeline) DeviceID() string {
	if p == nil || p.identity == nil {
		return ""
	}
	return p.identity.DeviceID()
}

// UserID returns the durable user identifier.
func (p *Pipeline) UserID() string {
	if p == nil || p.identity == nil {
		return ""
	}
	return p.identity.UserID()
}

// SessionID returns the active session identifier, or "" when session
// tracking is disabled or the pipeline is closed.
func (p *Pipeline) SessionID() string {
	if p == nil || p.session == nil {
		return ""
	}
	return p.session.ID()
}

// Close ends the session, stops the connectivity monitor, and performs a
// final flush bounded by CloseTimeout. Further calls return ErrClosed.
func (p *Pipeline) Close() error {
	if p == nil || p.queue == nil {
		return ErrNotStarted
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	if p.cancelMonitor != nil {
		p.cancelMonitor()
	}
	if p.session != nil {
		p.session.End()
	}

	err := p.queue.Close()
	if errors.Is(err, queue.ErrClosed) {
		err = nil
	}

	if p.ownSink {
		if closer, ok := p.sink.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				p.logger.Warn().Err(cerr).Msg("Failed to close sink")
			}
		}
	}

	p.logger.Info().Msg("Tidemark pipeline closed")
	return err
}

// track is the single path every event takes: guard, session counters,
// sampling, composition, enqueue.
func (p *Pipeline) track(eventType telemetry.Type, name string, value *float64, custom attr.Map) error {
	if err := p.guard(); err != nil {
		return err
	}

	if p.session != nil {
		if eventType == telemetry.TypeMetric {
			p.session.RecordMetric()
		} else {
			p.session.RecordEvent()
		}
	}

	if !p.sampled {
		return nil
	}

	event := telemetry.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Name:       name,
		Value:      value,
		Timestamp:  time.Now(),
		Attributes: p.compositor.Compose(custom),
	}

	if err := p.queue.Enqueue(event); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// guard rejects use before New and after Close. Misuse is a programmer
// error and fails fast, unlike runtime degradation paths which stay
// silent.
func (p *Pipeline) guard() error {
	if p == nil || p.queue == nil {
		return ErrNotStarted
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Error().Msg("Pipeline used after Close")
		return ErrClosed
	}
	return nil
}

// sampleIn makes the deterministic sampling decision for key.
func sampleIn(key string, rate float64) bool {
	if rate >= 1 {
		return true
	}
	return xxh3.HashString(key)%10000 < uint64(rate*10000)
}

// requestAttrs converts request telemetry to event attributes.
func requestAttrs(rt telemetry.RequestTelemetry) attr.Map {
	m := attr.Map{
		"url":                  attr.String(rt.URL),
		"method":               attr.String(rt.Method),
		"status_code":          attr.Int(int64(rt.StatusCode)),
		"duration_ms":          attr.Duration(rt.Duration),
		"category":             attr.String(string(rt.Category())),
		"performance_category": attr.String(string(rt.PerformanceCategory())),
	}
	if rt.Error != "" {
		m["error"] = attr.String(rt.Error)
	}
	if rt.ResponseSize >= 0 {
		m["response_size"] = attr.Int(rt.ResponseSize)
	}
	return m
}
