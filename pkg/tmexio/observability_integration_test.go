package tmexio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/randalmurphal/tmexio/pkg/tmexio"
	"github.com/randalmurphal/tmexio/pkg/tmexio/observability"
)

// fakeMetrics captures metric calls made by handlers.
type fakeMetrics struct {
	mu           sync.Mutex
	dispatches   []string
	undeclared   []int
	dependencies []string
}

func (m *fakeMetrics) RecordDispatch(_ context.Context, event, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(m.dispatches, event+":"+outcome)
}

func (m *fakeMetrics) RecordUndeclaredException(_ context.Context, _ string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undeclared = append(m.undeclared, code)
}

func (m *fakeMetrics) RecordDependency(_ context.Context, _, dependency string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		dependency += ":error"
	}
	m.dependencies = append(m.dependencies, dependency)
}

var _ observability.MetricsRecorder = (*fakeMetrics)(nil)

// TestHandler_WithObservability installs a global tracer provider; it is
// the only test in this package that does.
func TestHandler_WithObservability(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})

	errLimited := tmexio.NewEventException(429, "Slow down")

	newHandler := func(m *fakeMetrics, fn tmexio.EventFunc, deps ...*tmexio.Dependency) *tmexio.EventHandler {
		logger, _ := newRecordingLogger()
		opts := []tmexio.Option{
			tmexio.WithLogger(logger),
			tmexio.WithMetrics(m),
			tmexio.WithSpans(observability.NewSpanManager()),
			tmexio.WithPossibleExceptions(errLimited),
		}
		for _, d := range deps {
			opts = append(opts, tmexio.FromDependency(d, d.Name()))
		}
		return tmexio.NewEventHandler("chat.send", fn, opts...)
	}

	t.Run("success", func(t *testing.T) {
		exporter.Reset()
		m := &fakeMetrics{}
		store := tmexio.NewValueDependency("store", func(ctx context.Context, kw tmexio.Kwargs) (any, error) {
			return "memory", nil
		})
		h := newHandler(m, func(ctx context.Context, kw tmexio.Kwargs) (tmexio.Result, error) {
			return tmexio.Reply(kw["store"]), nil
		}, store)

		ack, err := h.Handle(context.Background(), tmexio.ClientEvent{Name: "chat.send", SID: "sid-1"})
		require.NoError(t, err)
		assert.Equal(t, tmexio.Ack{Code: 200, Data: "memory"}, ack)

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		dep, dispatch := spans[0], spans[1]
		assert.Equal(t, "tmexio.dependency.store", dep.Name)
		assert.Equal(t, "tmexio.dispatch", dispatch.Name)
		assert.Equal(t, dispatch.SpanContext.SpanID(), dep.Parent.SpanID())
		assert.Equal(t, codes.Ok, dispatch.Status.Code)

		assert.Equal(t, []string{"chat.send:ok"}, m.dispatches)
		assert.Equal(t, []string{"store"}, m.dependencies)
		assert.Empty(t, m.undeclared)
	})

	t.Run("declared exception", func(t *testing.T) {
		exporter.Reset()
		m := &fakeMetrics{}
		h := newHandler(m, func(ctx context.Context, kw tmexio.Kwargs) (tmexio.Result, error) {
			return tmexio.NoContent, errLimited
		})

		ack, err := h.Handle(context.Background(), tmexio.ClientEvent{})
		require.NoError(t, err)
		assert.Equal(t, 429, ack.Code)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, []string{"chat.send:exception"}, m.dispatches)
		assert.Empty(t, m.undeclared)
	})

	t.Run("undeclared exception", func(t *testing.T) {
		exporter.Reset()
		m := &fakeMetrics{}
		h := newHandler(m, func(ctx context.Context, kw tmexio.Kwargs) (tmexio.Result, error) {
			return tmexio.NoContent, tmexio.NewEventException(451, "Unavailable")
		})

		_, err := h.Handle(context.Background(), tmexio.ClientEvent{})
		require.NoError(t, err)
		assert.Equal(t, []int{451}, m.undeclared)
	})

	t.Run("dependency failure", func(t *testing.T) {
		exporter.Reset()
		m := &fakeMetrics{}
		broken := tmexio.NewValueDependency("broken", func(ctx context.Context, kw tmexio.Kwargs) (any, error) {
			return nil, errors.New("connection refused")
		})
		h := newHandler(m, func(ctx context.Context, kw tmexio.Kwargs) (tmexio.Result, error) {
			t.Fatal("handler must not run")
			return tmexio.NoContent, nil
		}, broken)

		_, err := h.Handle(context.Background(), tmexio.ClientEvent{})
		var depErr *tmexio.DependencyError
		require.ErrorAs(t, err, &depErr)

		assert.Equal(t, []string{"broken:error"}, m.dependencies)
		assert.Equal(t, []string{"chat.send:error"}, m.dispatches)

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, codes.Error, spans[1].Status.Code)
	})
}
