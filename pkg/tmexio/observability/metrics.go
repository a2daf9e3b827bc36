package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Dispatch outcomes recorded by RecordDispatch.
const (
	OutcomeOK        = "ok"
	OutcomeException = "exception"
	OutcomeError     = "error"
	OutcomePanic     = "panic"
)

// MetricsRecorder records dispatch metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one finished dispatch.
	RecordDispatch(ctx context.Context, event, outcome string, duration time.Duration)

	// RecordUndeclaredException records an exception missing from the
	// handler's declared set.
	RecordUndeclaredException(ctx context.Context, event string, code int)

	// RecordDependency records one dependency resolution.
	RecordDependency(ctx context.Context, event, dependency string, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches   metric.Int64Counter
	latency      metric.Float64Histogram
	errors       metric.Int64Counter
	undeclared   metric.Int64Counter
	dependencies metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("tmexio")

	dispatches, err := meter.Int64Counter("tmexio.dispatch.count",
		metric.WithDescription("Number of event dispatches"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("tmexio.dispatch.latency_ms",
		metric.WithDescription("Dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter("tmexio.dispatch.errors",
		metric.WithDescription("Number of dispatches ending in an exception or error"),
	)
	if err != nil {
		return nil, err
	}

	undeclared, err := meter.Int64Counter("tmexio.dispatch.undeclared_exceptions",
		metric.WithDescription("Number of exceptions raised but not declared by the handler"),
	)
	if err != nil {
		return nil, err
	}

	dependencies, err := meter.Int64Counter("tmexio.dependency.resolutions",
		metric.WithDescription("Number of dependency resolutions"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatches:   dispatches,
		latency:      latency,
		errors:       errs,
		undeclared:   undeclared,
		dependencies: dependencies,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records one finished dispatch.
func (m *otelMetrics) RecordDispatch(ctx context.Context, event, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	)

	m.dispatches.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if outcome != OutcomeOK {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordUndeclaredException records an undeclared exception.
func (m *otelMetrics) RecordUndeclaredException(ctx context.Context, event string, code int) {
	m.undeclared.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.Int("code", code),
	))
}

// RecordDependency records a dependency resolution.
func (m *otelMetrics) RecordDependency(ctx context.Context, event, dependency string, err error) {
	m.dependencies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("dependency", dependency),
		attribute.Bool("success", err == nil),
	))
}
