// Package observability provides structured logging, metrics, and tracing
// for tmexio dispatches.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds dispatch context to a logger.
// Returns a new logger with event, sid, and dispatch_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "chat.send", "sid-1", "d-123")
//	enriched.Info("doing work") // includes event, sid, dispatch_id
func EnrichLogger(logger *slog.Logger, event, sid, dispatchID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event", event),
		slog.String("sid", sid),
		slog.String("dispatch_id", dispatchID),
	)
}

// LogDispatchStart logs the start of a dispatch.
func LogDispatchStart(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch starting")
}

// LogDispatchComplete logs a dispatch that ended in success.
func LogDispatchComplete(logger *slog.Logger, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch completed",
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatchException logs a dispatch that ended in a packaged exception.
func LogDispatchException(logger *slog.Logger, code int, message string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("dispatch raised event exception",
		slog.Int("code", code),
		slog.String("message", message),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatchError logs a dispatch that failed with an unexpected error.
func LogDispatchError(logger *slog.Logger, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("dispatch failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogUndeclaredException warns that a handler raised an exception it does
// not declare. The response to the peer is unaffected.
func LogUndeclaredException(logger *slog.Logger, code int, message string) {
	if logger == nil {
		return
	}
	logger.Warn("undeclared event exception",
		slog.Int("code", code),
		slog.String("message", message),
	)
}

// LogReleaseError logs a failure to release scoped resources.
func LogReleaseError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Warn("scoped resource release failed",
		slog.String("error", err.Error()),
	)
}

// LogConnectionOpened logs an admitted connection.
func LogConnectionOpened(logger *slog.Logger, sid, remote string) {
	if logger == nil {
		return
	}
	logger.Info("connection opened",
		slog.String("sid", sid),
		slog.String("remote", remote),
	)
}

// LogConnectionRefused logs a connection rejected by the connect handler.
func LogConnectionRefused(logger *slog.Logger, sid string, code int, message string) {
	if logger == nil {
		return
	}
	logger.Info("connection refused",
		slog.String("sid", sid),
		slog.Int("code", code),
		slog.String("message", message),
	)
}

// LogConnectionClosed logs the end of a connection. err may be nil.
func LogConnectionClosed(logger *slog.Logger, sid string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Info("connection closed",
			slog.String("sid", sid),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("connection closed", slog.String("sid", sid))
}

// LogPanic logs a panic recovered at a transport fault boundary.
func LogPanic(logger *slog.Logger, event string, value any, stack string) {
	if logger == nil {
		return
	}
	logger.Error("dispatch panicked",
		slog.String("event", event),
		slog.Any("panic", value),
		slog.String("stack", stack),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
