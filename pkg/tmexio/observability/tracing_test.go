package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTracingTest installs a tracer provider backed by an in-memory exporter.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	// Update the package-level tracer
	tracer = otel.Tracer("tmexio")

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}

	return exporter, cleanup
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		out[string(a.Key)] = a.Value
	}
	return out
}

func TestStartDispatchSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	ctx, span := StartDispatchSpan(context.Background(), "chat.send", "sid-1", "d-1")
	require.NotNil(t, span)
	assert.Equal(t, span, trace.SpanFromContext(ctx))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "tmexio.dispatch", s.Name)
	assert.Equal(t, trace.SpanKindServer, s.SpanKind)

	attrs := attrMap(s.Attributes)
	assert.Equal(t, "chat.send", attrs["event.name"].AsString())
	assert.Equal(t, "sid-1", attrs["connection.sid"].AsString())
	assert.Equal(t, "d-1", attrs["dispatch.id"].AsString())
}

func TestStartDependencySpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	ctx, parent := StartDispatchSpan(context.Background(), "chat.send", "sid-1", "d-1")
	_, child := StartDependencySpan(ctx, "db", true)
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	dep := spans[0]
	assert.Equal(t, "tmexio.dependency.db", dep.Name)
	assert.Equal(t, parent.SpanContext().SpanID(), dep.Parent.SpanID())

	attrs := attrMap(dep.Attributes)
	assert.Equal(t, "db", attrs["dependency.name"].AsString())
	assert.True(t, attrs["dependency.contextual"].AsBool())
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	t.Run("success sets ok status", func(t *testing.T) {
		exporter.Reset()
		_, span := StartDispatchSpan(context.Background(), "e", "s", "d")
		EndSpanWithError(span, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
	})

	t.Run("error sets error status and records event", func(t *testing.T) {
		exporter.Reset()
		_, span := StartDispatchSpan(context.Background(), "e", "s", "d")
		EndSpanWithError(span, errors.New("boom"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "boom", spans[0].Status.Description)
		require.NotEmpty(t, spans[0].Events)
		assert.Equal(t, "exception", spans[0].Events[0].Name)
	})

	t.Run("nil span", func(t *testing.T) {
		assert.NotPanics(t, func() { EndSpanWithError(nil, nil) })
	})
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	ctx, span := StartDispatchSpan(context.Background(), "e", "s", "d")
	AddSpanEvent(ctx, "body.parsed", attribute.Int("fields", 2))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "body.parsed", spans[0].Events[0].Name)

	assert.NotPanics(t, func() {
		AddSpanEvent(context.Background(), "no span")
	})
}

func TestNewSpanManager(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx, span := sm.StartDispatchSpan(context.Background(), "e", "s", "d")
	_, dep := sm.StartDependencySpan(ctx, "user", false)
	sm.AddSpanEvent(ctx, "checkpoint")
	sm.EndSpanWithError(dep, nil)
	sm.EndSpanWithError(span, nil)

	assert.Len(t, exporter.GetSpans(), 2)
}
