package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otlptracev1 "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	otlpcommon "go.opentelemetry.io/proto/otlp/common/v1"
	otlptrace "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

func findAttr(attrs []*otlpcommon.KeyValue, key string) *otlpcommon.AnyValue {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value
		}
	}
	return nil
}

func TestEventSpan_Event(t *testing.T) {
	now := time.Now()
	span := eventSpan(telemetry.Event{
		ID:         "evt-1",
		Type:       telemetry.TypeEvent,
		Name:       "screen_view",
		Timestamp:  now,
		Attributes: map[string]string{"screen": "home"},
	})

	assert.Len(t, span.TraceId, 16)
	assert.Len(t, span.SpanId, 8)
	assert.Equal(t, "screen_view", span.Name)
	assert.Equal(t, otlptrace.Span_SPAN_KIND_CLIENT, span.Kind)
	assert.Equal(t, uint64(now.UnixNano()), span.StartTimeUnixNano)
	assert.Equal(t, span.StartTimeUnixNano, span.EndTimeUnixNano)
	assert.Nil(t, span.Status)

	require.NotNil(t, findAttr(span.Attributes, "event.type"))
	assert.Equal(t, "event", findAttr(span.Attributes, "event.type").GetStringValue())
	assert.Equal(t, "home", findAttr(span.Attributes, "screen").GetStringValue())
}

func TestEventSpan_MetricStretchesSpan(t *testing.T) {
	value := 250.0
	now := time.Now()
	span := eventSpan(telemetry.Event{
		Type:      telemetry.TypeMetric,
		Name:      "http_request_duration",
		Value:     &value,
		Timestamp: now,
	})

	assert.Equal(t, uint64(250*time.Millisecond), span.EndTimeUnixNano-span.StartTimeUnixNano)
	assert.Equal(t, 250.0, findAttr(span.Attributes, "event.value").GetDoubleValue())
}

func TestEventSpan_ErrorStatus(t *testing.T) {
	span := eventSpan(telemetry.Event{
		Type:      telemetry.TypeError,
		Name:      "checkout_failed",
		Timestamp: time.Now(),
	})

	require.NotNil(t, span.Status)
	assert.Equal(t, otlptrace.Status_STATUS_CODE_ERROR, span.Status.Code)
	assert.Equal(t, "checkout_failed", span.Status.Message)
}

func TestOTLPSink_HTTPExport(t *testing.T) {
	var captured *otlptracev1.ExportTraceServiceRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/traces", r.URL.Path)
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req otlptracev1.ExportTraceServiceRequest
		require.NoError(t, proto.Unmarshal(body, &req))
		captured = &req

		resp, err := proto.Marshal(&otlptracev1.ExportTraceServiceResponse{})
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	sink, err := NewOTLPSink(OTLPSinkConfig{
		Endpoint:    server.URL,
		ServiceName: "checkout-app",
		Environment: "dev",
	}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	batch := telemetry.Batch{
		ID:        "batch-1",
		CreatedAt: time.Now(),
		Events:    []telemetry.Event{testEvent("a"), testEvent("b")},
	}
	require.NoError(t, sink.SendBatch(context.Background(), batch))

	require.NotNil(t, captured)
	require.Len(t, captured.ResourceSpans, 1)

	resource := captured.ResourceSpans[0].Resource
	require.NotNil(t, resource)
	assert.Equal(t, "checkout-app", findAttr(resource.Attributes, "service.name").GetStringValue())
	assert.Equal(t, "dev", findAttr(resource.Attributes, "deployment.environment").GetStringValue())

	scopes := captured.ResourceSpans[0].ScopeSpans
	require.Len(t, scopes, 1)
	assert.Equal(t, instrumentationName, scopes[0].Scope.Name)
	assert.Len(t, scopes[0].Spans, 2)
}

func TestOTLPSink_HTTPRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusBadGateway)
	}))
	defer server.Close()

	sink, err := NewOTLPSink(OTLPSinkConfig{Endpoint: server.URL, ServiceName: "app"}, zerolog.Nop())
	require.NoError(t, err)

	err = sink.SendEvent(context.Background(), testEvent("rejected"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewOTLPSink_UnknownMode(t *testing.T) {
	_, err := NewOTLPSink(OTLPSinkConfig{Endpoint: "localhost:4317", Mode: "carrier-pigeon"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewOTLPSink_RequiresEndpoint(t *testing.T) {
	_, err := NewOTLPSink(OTLPSinkConfig{}, zerolog.Nop())
	assert.Error(t, err)
}
