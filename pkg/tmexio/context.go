package tmexio

import (
	"context"
	"log/slog"
)

// HandlerContext is the mutable state of one dispatch: the exit stack for
// scoped resources, the extracted markers, the parsed body, and the values of
// the dependencies resolved so far.
//
// A HandlerContext lives for exactly one dispatch and is never shared.
type HandlerContext struct {
	Event      ClientEvent
	DispatchID string

	logger   *slog.Logger
	stack    *ExitStack
	markers  map[*Marker]any
	body     ParsedBody
	resolved map[*Dependency]any
}

func newHandlerContext(event ClientEvent, dispatchID string, logger *slog.Logger) *HandlerContext {
	return &HandlerContext{
		Event:      event,
		DispatchID: dispatchID,
		logger:     logger,
		stack:      &ExitStack{},
		resolved:   make(map[*Dependency]any),
	}
}

// Logger returns the dispatch logger, enriched with event, sid and dispatch_id.
func (hc *HandlerContext) Logger() *slog.Logger {
	return hc.logger
}

// Stack returns the dispatch's exit stack.
func (hc *HandlerContext) Stack() *ExitStack {
	return hc.stack
}

// Marker returns the extracted value of m.
func (hc *HandlerContext) Marker(m *Marker) (any, bool) {
	v, ok := hc.markers[m]
	return v, ok
}

// Body returns the parsed body, or nil if the handler declares none.
func (hc *HandlerContext) Body() ParsedBody {
	return hc.body
}

// Resolved returns the value of d if it has been resolved in this dispatch.
func (hc *HandlerContext) Resolved(d *Dependency) (any, bool) {
	v, ok := hc.resolved[d]
	return v, ok
}

func (hc *HandlerContext) extractMarkers(markers []*Marker) {
	hc.markers = make(map[*Marker]any, len(markers))
	for _, m := range markers {
		hc.markers[m] = m.Extract(hc.Event)
	}
}

type handlerContextKey struct{}

func withHandlerContext(ctx context.Context, hc *HandlerContext) context.Context {
	return context.WithValue(ctx, handlerContextKey{}, hc)
}

// FromContext returns the HandlerContext of the dispatch running under ctx.
// Handler and dependency functions use it to reach the dispatch logger.
func FromContext(ctx context.Context) (*HandlerContext, bool) {
	hc, ok := ctx.Value(handlerContextKey{}).(*HandlerContext)
	return hc, ok
}
