package rum

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/internal/kvstore"
	"github.com/tidemark-io/tidemark/pkg/rum/attr"
	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

type chanSink struct {
	events  chan telemetry.Event
	batches chan telemetry.Batch
}

func newChanSink() *chanSink {
	return &chanSink{
		events:  make(chan telemetry.Event, 32),
		batches: make(chan telemetry.Batch, 32),
	}
}

func (s *chanSink) SendEvent(_ context.Context, event telemetry.Event) error {
	s.events <- event
	return nil
}

func (s *chanSink) SendBatch(_ context.Context, batch telemetry.Batch) error {
	s.batches <- batch
	return nil
}

func waitBatch(t *testing.T, sink *chanSink) telemetry.Batch {
	t.Helper()
	select {
	case batch := <-sink.batches:
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return telemetry.Batch{}
	}
}

func waitEvent(t *testing.T, sink *chanSink) telemetry.Event {
	t.Helper()
	select {
	case event := <-sink.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return telemetry.Event{}
	}
}

func testConfig(sink *chanSink) Config {
	return Config{
		ServiceName:                "test-app",
		ServiceVersion:             "1.2.3",
		Environment:                "test",
		BatchSize:                  1,
		FlushInterval:              time.Hour,
		Sink:                       sink,
		Store:                      kvstore.NewMemStore(),
		DisableConnectivityMonitor: true,
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *chanSink) {
	t.Helper()
	sink := newChanSink()
	p, err := New(testConfig(sink))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, sink
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Endpoint: "https://collect.example.com"})
	assert.Error(t, err)

	_, err = New(Config{ServiceName: "app"})
	assert.Error(t, err)

	_, err = New(Config{ServiceName: "app", Endpoint: "https://collect.example.com", SampleRate: 1.5})
	assert.Error(t, err)
}

func TestPipeline_TrackEventComposesLayers(t *testing.T) {
	p, sink := newTestPipeline(t)

	require.NoError(t, p.TrackEvent("checkout_opened", attr.Map{
		"cart_items": attr.Int(3),
	}))

	batch := waitBatch(t, sink)
	require.Len(t, batch.Events, 1)
	event := batch.Events[0]

	assert.Equal(t, telemetry.TypeEvent, event.Type)
	assert.Equal(t, "checkout_opened", event.Name)
	assert.NotEmpty(t, event.ID)

	// Custom layer.
	assert.Equal(t, "3", event.Attributes["cart_items"])
	// Device/app layer.
	assert.Equal(t, "test-app", event.Attributes["app_name"])
	assert.Equal(t, "1.2.3", event.Attributes["app_version"])
	assert.Equal(t, "test", event.Attributes["environment"])
	assert.NotEmpty(t, event.Attributes["platform"])
	assert.NotEmpty(t, event.Attributes["sdk_version"])
	assert.Equal(t, p.DeviceID(), event.Attributes["device_id"])
	assert.Equal(t, p.UserID(), event.Attributes["user_id"])
	// Session layer.
	assert.Equal(t, p.SessionID(), event.Attributes["session_id"])
	assert.Equal(t, "true", event.Attributes["is_first_session"])
}

func TestPipeline_SessionCountersAdvance(t *testing.T) {
	p, sink := newTestPipeline(t)

	require.NoError(t, p.TrackEvent("first", nil))
	first := waitBatch(t, sink).Events[0]
	assert.Equal(t, "1", first.Attributes["event_count"])

	require.NoError(t, p.TrackEvent("second", nil))
	second := waitBatch(t, sink).Events[0]
	assert.Equal(t, "2", second.Attributes["event_count"])
}

func TestPipeline_TrackMetricCarriesValue(t *testing.T) {
	p, sink := newTestPipeline(t)

	require.NoError(t, p.TrackMetric("startup_time", 420.5, nil))

	event := waitBatch(t, sink).Events[0]
	assert.Equal(t, telemetry.TypeMetric, event.Type)
	require.NotNil(t, event.Value)
	assert.Equal(t, 420.5, *event.Value)
	assert.Equal(t, "1", event.Attributes["metric_count"])
}

func TestPipeline_TrackErrorBypassesBatching(t *testing.T) {
	p, sink := newTestPipeline(t)

	require.NoError(t, p.TrackError("db_write_failed", errors.New("disk full"), nil))

	event := waitEvent(t, sink)
	assert.Equal(t, telemetry.TypeError, event.Type)
	assert.Equal(t, "db_write_failed", event.Name)
	assert.Equal(t, "disk full", event.Attributes["error_message"])
	assert.Equal(t, "*errors.errorString", event.Attributes["error_type"])
}

func TestPipeline_ObserveRequestEmitsDerivedEvents(t *testing.T) {
	p, sink := newTestPipeline(t)

	p.ObserveRequest(telemetry.RequestTelemetry{
		URL:        "https://api.example.com/orders",
		Method:     "POST",
		StatusCode: 503,
		Duration:   2500 * time.Millisecond,
		Timestamp:  time.Now(),
	})

	// Base event, duration metric, http error, slow request.
	byName := make(map[string]telemetry.Event, 4)
	for i := 0; i < 4; i++ {
		event := waitBatch(t, sink).Events[0]
		byName[event.Name] = event
	}

	require.Contains(t, byName, telemetry.EventHTTPRequest)
	require.Contains(t, byName, telemetry.MetricHTTPRequestDuration)
	require.Contains(t, byName, telemetry.EventHTTPError)
	require.Contains(t, byName, telemetry.EventSlowRequest)

	base := byName[telemetry.EventHTTPRequest]
	assert.Equal(t, "https://api.example.com/orders", base.Attributes["url"])
	assert.Equal(t, "POST", base.Attributes["method"])
	assert.Equal(t, "503", base.Attributes["status_code"])
	assert.Equal(t, "server_error", base.Attributes["category"])
	assert.Equal(t, "very_slow", base.Attributes["performance_category"])

	metric := byName[telemetry.MetricHTTPRequestDuration]
	require.NotNil(t, metric.Value)
	assert.Equal(t, 2500.0, *metric.Value)
}

func TestPipeline_ObserveRequestFastSuccessEmitsNoExtras(t *testing.T) {
	p, sink := newTestPipeline(t)

	p.ObserveRequest(telemetry.RequestTelemetry{
		URL:        "https://api.example.com/ping",
		Method:     "GET",
		StatusCode: 200,
		Duration:   12 * time.Millisecond,
		Timestamp:  time.Now(),
	})

	names := []string{
		waitBatch(t, sink).Events[0].Name,
		waitBatch(t, sink).Events[0].Name,
	}
	assert.ElementsMatch(t, []string{telemetry.EventHTTPRequest, telemetry.MetricHTTPRequestDuration}, names)

	select {
	case batch := <-sink.batches:
		t.Fatalf("unexpected extra event %q", batch.Events[0].Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipeline_CloseSemantics(t *testing.T) {
	sink := newChanSink()
	config := testConfig(sink)
	config.BatchSize = 10

	p, err := New(config)
	require.NoError(t, err)

	require.NoError(t, p.TrackEvent("buffered", nil))
	require.NoError(t, p.Close())

	// The final flush delivered the buffered event.
	batch := waitBatch(t, sink)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "buffered", batch.Events[0].Name)

	assert.ErrorIs(t, p.TrackEvent("late", nil), ErrClosed)
	assert.ErrorIs(t, p.Close(), ErrClosed)
}

func TestPipeline_ZeroValueNotStarted(t *testing.T) {
	var p Pipeline
	assert.ErrorIs(t, p.TrackEvent("x", nil), ErrNotStarted)
	assert.ErrorIs(t, p.RecordScreen("home"), ErrNotStarted)

	var nilP *Pipeline
	assert.ErrorIs(t, nilP.TrackEvent("x", nil), ErrNotStarted)
	assert.Empty(t, nilP.DeviceID())
}

func TestPipeline_SampledOutSessionDiscardsSilently(t *testing.T) {
	sink := newChanSink()
	config := testConfig(sink)
	config.SampleRate = 0.000001 // rounds to a zero-width sampling window

	p, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.TrackEvent("invisible", nil))
	require.NoError(t, p.TrackMetric("invisible_metric", 1, nil))

	select {
	case <-sink.batches:
		t.Fatal("sampled-out session must not deliver")
	case <-sink.events:
		t.Fatal("sampled-out session must not deliver")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipeline_DisableSessionTracking(t *testing.T) {
	sink := newChanSink()
	config := testConfig(sink)
	config.DisableSessionTracking = true

	p, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	assert.Empty(t, p.SessionID())

	require.NoError(t, p.TrackEvent("no_session", nil))
	event := waitBatch(t, sink).Events[0]
	_, ok := event.Attributes["session_id"]
	assert.False(t, ok)
}

func TestPipeline_AmbientAttributes(t *testing.T) {
	p, sink := newTestPipeline(t)

	p.SetAmbientAttr("connectivity", "wifi")
	require.NoError(t, p.TrackEvent("with_ambient", nil))
	assert.Equal(t, "wifi", waitBatch(t, sink).Events[0].Attributes["connectivity"])

	p.SetAmbientAttr("connectivity", "")
	require.NoError(t, p.TrackEvent("without_ambient", nil))
	_, ok := waitBatch(t, sink).Events[0].Attributes["connectivity"]
	assert.False(t, ok)
}

func TestPipeline_RecordScreen(t *testing.T) {
	p, sink := newTestPipeline(t)

	require.NoError(t, p.RecordScreen("home"))
	require.NoError(t, p.RecordScreen("checkout"))

	require.NoError(t, p.TrackEvent("after_screens", nil))
	event := waitBatch(t, sink).Events[0]
	assert.Equal(t, "home,checkout", event.Attributes["visited_screens"])
	assert.Equal(t, "2", event.Attributes["screen_count"])
}

func TestPipeline_IdentityAccessors(t *testing.T) {
	p, _ := newTestPipeline(t)

	assert.Regexp(t, `^device_\d{13}_[a-z0-9]{8}_[a-z0-9]+$`, p.DeviceID())
	assert.Regexp(t, `^user_\d{13}_[a-z0-9]{8}$`, p.UserID())
	assert.Regexp(t, `^session_\d{13}_[a-z0-9]+$`, p.SessionID())

	// Stable across calls.
	assert.Equal(t, p.DeviceID(), p.DeviceID())
}

func TestSampleIn(t *testing.T) {
	keys := []string{
		"session_1741944413589_linux",
		"session_1741944413590_linux",
		"session_1741944413591_darwin",
	}

	for _, key := range keys {
		assert.True(t, sampleIn(key, 1.0), "rate 1.0 samples everything")
		assert.False(t, sampleIn(key, 0.000001), "zero-width window samples nothing")

		// Decisions are deterministic per key.
		assert.Equal(t, sampleIn(key, 0.5), sampleIn(key, 0.5))
	}
}
