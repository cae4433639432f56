package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name: "with endpoint",
			config: TraceConfig{
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
				Endpoint:       "localhost:4317",
				EnableInsecure: true,
			},
		},
		{
			name: "without endpoint (no-op)",
			config: TraceConfig{
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
		},
		{
			name: "with sampling",
			config: TraceConfig{
				ServiceName:  "test-service",
				SamplingRate: 0.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil {
				t.Fatal("NewTracer() returned nil")
			}
			if tracer.tracer == nil {
				t.Error("tracer.tracer is nil")
			}
		})
	}
}

func TestTracerStart(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, span := tracer.Start(ctx, "handle_turn")
	defer span.End()

	if span == nil {
		t.Fatal("Start() returned nil span")
	}
	if spanFromCtx := trace.SpanFromContext(ctx); spanFromCtx == nil {
		t.Error("expected span in context")
	}
}

func TestStartSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	span := tracer.StartSpan(context.Background(), "heal_pass")
	if span == nil {
		t.Fatal("StartSpan() returned nil")
	}
	span.End()
}

func TestTracerStartWithOptions(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "llm.anthropic", SpanOptions{
		Kind:       trace.SpanKindClient,
		Attributes: []attribute.KeyValue{attribute.String("llm.provider", "anthropic")},
	})
	defer span.End()

	if span == nil {
		t.Fatal("expected non-nil span with options")
	}
}

func TestRecordError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	span := tracer.StartSpan(context.Background(), "tool.read_file")
	defer span.End()

	tracer.RecordError(span, errors.New("permission denied"))
}

func TestRecordErrorNilIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	span := tracer.StartSpan(context.Background(), "tool.read_file")
	defer span.End()

	tracer.RecordError(span, nil)
}

func TestSetAttributes(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	span := tracer.StartSpan(context.Background(), "tool.read_file")
	defer span.End()

	tracer.SetAttributes(span, "tool.name", "read_file", "tool.duration_ms", 42)
}

func TestAddEvent(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	span := tracer.StartSpan(context.Background(), "layerstack.inject")
	defer span.End()

	tracer.AddEvent(span, "injection_scored", "score", 0.82, "source_layer", "L1")
}

func TestTraceQueueEvent(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.TraceQueueEvent(context.Background(), "tool_result", "sess-1")
	defer span.End()

	if span == nil {
		t.Fatal("expected non-nil span")
	}
}

func TestTraceLLMRequest(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.TraceLLMRequest(context.Background(), "anthropic", "claude-opus")
	defer span.End()

	if span == nil {
		t.Fatal("expected non-nil span")
	}
}

func TestTraceToolExecution(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.TraceToolExecution(context.Background(), "read_file")
	defer span.End()

	if span == nil {
		t.Fatal("expected non-nil span")
	}
}

func TestTraceLayerInjection(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.TraceLayerInjection(context.Background(), "L2")
	defer span.End()

	if span == nil {
		t.Fatal("expected non-nil span")
	}
}

func TestTraceDualCoreCompaction(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.TraceDualCoreCompaction(context.Background(), "a")
	defer span.End()

	if span == nil {
		t.Fatal("expected non-nil span")
	}
}

func TestInjectExtractContext(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.Start(context.Background(), "handle_turn")
	defer span.End()

	carrier := make(MapCarrier)
	tracer.InjectContext(ctx, carrier)

	restored := tracer.ExtractContext(context.Background(), carrier)
	if restored == nil {
		t.Error("expected non-nil restored context")
	}
}

func TestMapCarrier(t *testing.T) {
	carrier := make(MapCarrier)
	carrier.Set("traceparent", "00-abc-def-01")

	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get() = %q, want %q", got, "00-abc-def-01")
	}

	keys := carrier.Keys()
	if len(keys) != 1 || keys[0] != "traceparent" {
		t.Errorf("Keys() = %v, want [traceparent]", keys)
	}
}

func TestSpanFromContextAndContextWithSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.Start(context.Background(), "handle_turn")
	defer span.End()

	got := SpanFromContext(ctx)
	if got == nil {
		t.Fatal("expected non-nil span")
	}

	newCtx := ContextWithSpan(context.Background(), span)
	if SpanFromContext(newCtx) == nil {
		t.Error("expected span to round-trip through ContextWithSpan")
	}
}

func TestAttributeFromValueTypeSwitch(t *testing.T) {
	tests := []struct {
		name string
		val  any
	}{
		{"string", "claude-opus"},
		{"int", 42},
		{"int64", int64(42)},
		{"float64", 3.14},
		{"bool", true},
		{"string slice", []string{"a", "b"}},
		{"int slice", []int{1, 2}},
		{"int64 slice", []int64{1, 2}},
		{"float64 slice", []float64{1.1, 2.2}},
		{"bool slice", []bool{true, false}},
		{"fallback", struct{ X int }{X: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := attributeFromValue("key", tt.val)
			if string(attr.Key) != "key" {
				t.Errorf("expected attribute key %q, got %q", "key", attr.Key)
			}
		})
	}
}

func TestWithSpanRecordsError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	wantErr := errors.New("stream closed")
	err := WithSpan(context.Background(), tracer, "handle_turn", func(ctx context.Context, span trace.Span) error {
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("WithSpan() error = %v, want %v", err, wantErr)
	}
}

func TestWithSpanSuccess(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	err := WithSpan(context.Background(), tracer, "handle_turn", func(ctx context.Context, span trace.Span) error {
		return nil
	})
	if err != nil {
		t.Errorf("WithSpan() unexpected error: %v", err)
	}
}

func TestGetTraceIDAndSpanIDEmptyWithoutSpan(t *testing.T) {
	ctx := context.Background()
	if got := GetTraceID(ctx); got != "" {
		t.Errorf("GetTraceID() = %q, want empty", got)
	}
	if got := GetSpanID(ctx); got != "" {
		t.Errorf("GetSpanID() = %q, want empty", got)
	}
}

func TestSetAttributesSkipsNonStringKeys(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	span := tracer.StartSpan(context.Background(), "odd_keyvals")
	defer span.End()

	tracer.SetAttributes(span, 123, "value", "valid_key", "value2")
}
