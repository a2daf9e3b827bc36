package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("tmexio")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDispatchSpan starts a span for one dispatch.
	StartDispatchSpan(ctx context.Context, event, sid, dispatchID string) (context.Context, trace.Span)

	// StartDependencySpan starts a child span for a dependency resolution.
	StartDependencySpan(ctx context.Context, dependency string, contextual bool) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, event, sid, dispatchID string) (context.Context, trace.Span) {
	return StartDispatchSpan(ctx, event, sid, dispatchID)
}

func (m *otelSpanManager) StartDependencySpan(ctx context.Context, dependency string, contextual bool) (context.Context, trace.Span) {
	return StartDependencySpan(ctx, dependency, contextual)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartDispatchSpan starts a span for one dispatch using the global tracer.
func StartDispatchSpan(ctx context.Context, event, sid, dispatchID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tmexio.dispatch",
		trace.WithAttributes(
			attribute.String("event.name", event),
			attribute.String("connection.sid", sid),
			attribute.String("dispatch.id", dispatchID),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartDependencySpan starts a span for a dependency using the global tracer.
func StartDependencySpan(ctx context.Context, dependency string, contextual bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tmexio.dependency."+dependency,
		trace.WithAttributes(
			attribute.String("dependency.name", dependency),
			attribute.Bool("dependency.contextual", contextual),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
