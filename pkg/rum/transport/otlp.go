package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	otlptracev1 "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	otlpcommon "go.opentelemetry.io/proto/otlp/common/v1"
	otlpresource "go.opentelemetry.io/proto/otlp/resource/v1"
	otlptrace "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
	"github.com/tidemark-io/tidemark/pkg/version"
)

// OTLP sink modes.
const (
	OTLPModeHTTP = "http"
	OTLPModeGRPC = "grpc"
)

const instrumentationName = "github.com/tidemark-io/tidemark"

// OTLPSinkConfig configures the OTLP trace export sink.
type OTLPSinkConfig struct {
	// Endpoint is the collector base URL in HTTP mode
	// (e.g. http://localhost:4318) or the host:port target in gRPC mode.
	Endpoint string
	// Mode selects the wire protocol. Defaults to OTLPModeHTTP.
	Mode string
	// ServiceName populates the resource service.name.
	ServiceName string
	// ServiceVersion populates the resource service.version.
	ServiceVersion string
	// Environment populates the resource deployment.environment.
	Environment string
	// Timeout bounds each export. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Client overrides the HTTP client in HTTP mode, mainly for tests.
	Client *http.Client
}

// OTLPSink exports events as OTLP spans, either over HTTP/protobuf or
// over gRPC. Each event becomes one span: the event timestamp is the
// span start, and metric values (milliseconds) extend the span end.
type OTLPSink struct {
	resource  *otlpresource.Resource
	timeout   time.Duration
	logger    zerolog.Logger
	tracesURL string
	client    *http.Client
	conn      *grpc.ClientConn
	grpc      otlptracev1.TraceServiceClient
}

// NewOTLPSink creates an OTLP sink for config.
func NewOTLPSink(config OTLPSinkConfig, logger zerolog.Logger) (*OTLPSink, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	mode := config.Mode
	if mode == "" {
		mode = OTLPModeHTTP
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	sink := &OTLPSink{
		resource: buildResource(config),
		timeout:  timeout,
		logger:   logger.With().Str("component", "otlp_sink").Str("mode", mode).Logger(),
	}

	switch mode {
	case OTLPModeHTTP:
		sink.tracesURL = strings.TrimSuffix(config.Endpoint, "/") + "/v1/traces"
		sink.client = config.Client
		if sink.client == nil {
			sink.client = &http.Client{}
		}
	case OTLPModeGRPC:
		conn, err := grpc.NewClient(config.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create grpc client: %w", err)
		}
		sink.conn = conn
		sink.grpc = otlptracev1.NewTraceServiceClient(conn)
	default:
		return nil, fmt.Errorf("unknown OTLP mode: %q", config.Mode)
	}

	return sink, nil
}

// SendEvent exports one event as a single-span request.
func (s *OTLPSink) SendEvent(ctx context.Context, event telemetry.Event) error {
	return s.export(ctx, []*otlptrace.Span{eventSpan(event)})
}

// SendBatch exports all batch events in one request.
func (s *OTLPSink) SendBatch(ctx context.Context, batch telemetry.Batch) error {
	spans := make([]*otlptrace.Span, 0, len(batch.Events))
	for _, event := range batch.Events {
		spans = append(spans, eventSpan(event))
	}
	return s.export(ctx, spans)
}

// Close releases the gRPC connection in gRPC mode.
func (s *OTLPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *OTLPSink) export(ctx context.Context, spans []*otlptrace.Span) error {
	if len(spans) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := &otlptracev1.ExportTraceServiceRequest{
		ResourceSpans: []*otlptrace.ResourceSpans{{
			Resource: s.resource,
			ScopeSpans: []*otlptrace.ScopeSpans{{
				Scope: &otlpcommon.InstrumentationScope{
					Name:    instrumentationName,
					Version: version.SDKVersion,
				},
				Spans: spans,
			}},
		}},
	}

	if s.grpc != nil {
		if _, err := s.grpc.Export(ctx, req); err != nil {
			return fmt.Errorf("grpc export failed: %w", err)
		}
		return nil
	}
	return s.exportHTTP(ctx, req)
}

func (s *OTLPSink) exportHTTP(ctx context.Context, req *otlptracev1.ExportTraceServiceRequest) error {
	payload, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode export request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tracesURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var exportResp otlptracev1.ExportTraceServiceResponse
	if err := proto.Unmarshal(body, &exportResp); err == nil {
		if ps := exportResp.PartialSuccess; ps != nil && ps.RejectedSpans > 0 {
			s.logger.Warn().Int64("rejected", ps.RejectedSpans).
				Str("reason", ps.ErrorMessage).Msg("Collector rejected spans")
		}
	}
	return nil
}

// eventSpan converts one event to an OTLP span. Metric values are
// interpreted as millisecond durations and stretch the span; everything
// else is a point-in-time span.
func eventSpan(event telemetry.Event) *otlptrace.Span {
	traceID := uuid.New()
	spanID := uuid.New()

	start := uint64(event.Timestamp.UnixNano()) //nolint:gosec // timestamps are post-1970
	end := start
	if event.Type == telemetry.TypeMetric && event.Value != nil && *event.Value > 0 {
		end = start + uint64(*event.Value*float64(time.Millisecond))
	}

	attrs := make([]*otlpcommon.KeyValue, 0, len(event.Attributes)+2)
	attrs = append(attrs, stringAttr("event.type", string(event.Type)))
	if event.Value != nil {
		attrs = append(attrs, &otlpcommon.KeyValue{
			Key:   "event.value",
			Value: &otlpcommon.AnyValue{Value: &otlpcommon.AnyValue_DoubleValue{DoubleValue: *event.Value}},
		})
	}
	for key, value := range event.Attributes {
		attrs = append(attrs, stringAttr(key, value))
	}

	span := &otlptrace.Span{
		TraceId:           traceID[:],
		SpanId:            spanID[:8],
		Name:              event.Name,
		Kind:              otlptrace.Span_SPAN_KIND_CLIENT,
		StartTimeUnixNano: start,
		EndTimeUnixNano:   end,
		Attributes:        attrs,
	}
	if event.Type == telemetry.TypeError {
		span.Status = &otlptrace.Status{
			Code:    otlptrace.Status_STATUS_CODE_ERROR,
			Message: event.Name,
		}
	}
	return span
}

func buildResource(config OTLPSinkConfig) *otlpresource.Resource {
	attrs := []*otlpcommon.KeyValue{
		stringAttr("service.name", config.ServiceName),
		stringAttr("telemetry.sdk.name", "tidemark"),
		stringAttr("telemetry.sdk.language", "go"),
		stringAttr("telemetry.sdk.version", version.SDKVersion),
	}
	if config.ServiceVersion != "" {
		attrs = append(attrs, stringAttr("service.version", config.ServiceVersion))
	}
	if config.Environment != "" {
		attrs = append(attrs, stringAttr("deployment.environment", config.Environment))
	}
	return &otlpresource.Resource{Attributes: attrs}
}

func stringAttr(key, value string) *otlpcommon.KeyValue {
	return &otlpcommon.KeyValue{
		Key:   key,
		Value: &otlpcommon.AnyValue{Value: &otlpcommon.AnyValue_StringValue{StringValue: value}},
	}
}
