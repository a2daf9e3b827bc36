package tmexio

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/tmexio/pkg/tmexio/observability"
)

// EventFunc handles a request/acknowledgement event.
type EventFunc func(ctx context.Context, kw Kwargs) (Result, error)

// ConnectFunc admits or refuses a connecting peer by returning an EventException.
type ConnectFunc func(ctx context.Context, kw Kwargs) error

// DisconnectFunc runs teardown side effects for a departed peer.
type DisconnectFunc func(ctx context.Context, kw Kwargs) error

type handlerKind string

const (
	kindEvent      handlerKind = "event"
	kindConnect    handlerKind = "connect"
	kindDisconnect handlerKind = "disconnect"
)

// handlerConfig collects handler options.
type handlerConfig struct {
	builder     KwargsBuilder
	body        BodyModel
	possible    []*EventException
	successCode int
	summary     string
	description string
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
}

func defaultHandlerConfig() handlerConfig {
	return handlerConfig{
		successCode: DefaultSuccessCode,
		logger:      slog.Default(),
		metrics:     observability.NoopMetrics{},
		spans:       observability.NoopSpanManager{},
	}
}

type handlerOption func(*handlerConfig)

func (o handlerOption) applyHandler(cfg *handlerConfig) { o(cfg) }

// WithBodyModel declares the model the event's single argument must satisfy.
// Without a body model the event must carry no (or a null) argument.
func WithBodyModel(model BodyModel) Option {
	return handlerOption(func(cfg *handlerConfig) {
		cfg.body = model
	})
}

// WithPossibleExceptions declares the exceptions the handler may raise.
// Raising anything else still produces an error ack, plus a warning log.
func WithPossibleExceptions(excs ...*EventException) Option {
	return handlerOption(func(cfg *handlerConfig) {
		cfg.possible = append(cfg.possible, excs...)
	})
}

// WithSuccessCode sets the code of success acks. Default: 200
func WithSuccessCode(code int) Option {
	return handlerOption(func(cfg *handlerConfig) {
		if code > 0 {
			cfg.successCode = code
		}
	})
}

// WithSummary sets the one-line summary used in documentation.
func WithSummary(summary string) Option {
	return handlerOption(func(cfg *handlerConfig) {
		cfg.summary = summary
	})
}

// WithDescription sets the long description used in documentation.
func WithDescription(description string) Option {
	return handlerOption(func(cfg *handlerConfig) {
		cfg.description = description
	})
}

// WithLogger sets the handler's logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return handlerOption(func(cfg *handlerConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	})
}

// WithMetrics enables dispatch metrics.
func WithMetrics(recorder observability.MetricsRecorder) Option {
	return handlerOption(func(cfg *handlerConfig) {
		if recorder != nil {
			cfg.metrics = recorder
		}
	})
}

// WithSpans enables dispatch tracing.
func WithSpans(spans observability.SpanManager) Option {
	return handlerOption(func(cfg *handlerConfig) {
		if spans != nil {
			cfg.spans = spans
		}
	})
}

// baseHandler runs the dispatch pipeline shared by all handler variants:
// parse body, extract markers, resolve dependencies, invoke.
//
// All fields are fixed at construction; a baseHandler is safe for concurrent
// dispatches.
type baseHandler struct {
	name         string
	kind         handlerKind
	builder      KwargsBuilder
	body         BodyModel
	dependencies []*Dependency
	markers      []*Marker
	possible     map[exceptionKey]struct{}
	declared     []*EventException
	summary      string
	description  string
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	spans        observability.SpanManager
}

func newBaseHandler(name string, kind handlerKind, cfg handlerConfig) baseHandler {
	if cfg.body == nil && cfg.builder.usesBody() {
		panic(fmt.Sprintf("tmexio: handler %s binds the event body but declares no body model", name))
	}

	h := baseHandler{
		name:         name,
		kind:         kind,
		builder:      cfg.builder,
		body:         cfg.body,
		dependencies: flattenDependencies(cfg.builder.dependencyDestinations),
		possible:     make(map[exceptionKey]struct{}),
		summary:      cfg.summary,
		description:  cfg.description,
		logger:       cfg.logger,
		metrics:      cfg.metrics,
		spans:        cfg.spans,
	}

	h.markers = collectMarkers(&h.builder, h.dependencies)

	declared := cfg.possible
	switch {
	case kind == kindDisconnect:
	case cfg.body != nil:
		declared = append([]*EventException{ErrExpectsOneArgument, &NewEventBodyException().EventException}, declared...)
	default:
		declared = append([]*EventException{ErrExpectsZeroArguments}, declared...)
	}
	for _, exc := range declared {
		if exc == nil {
			continue
		}
		if _, dup := h.possible[exc.key()]; dup {
			continue
		}
		h.possible[exc.key()] = struct{}{}
		h.declared = append(h.declared, exc)
	}

	return h
}

// collectMarkers returns every marker read by the handler or its dependencies,
// each once.
func collectMarkers(root *KwargsBuilder, deps []*Dependency) []*Marker {
	var out []*Marker
	seen := make(map[*Marker]struct{})
	add := func(kb *KwargsBuilder) {
		for _, dest := range kb.markerDestinations {
			if _, ok := seen[dest.marker]; ok {
				continue
			}
			seen[dest.marker] = struct{}{}
			out = append(out, dest.marker)
		}
	}
	add(root)
	for _, d := range deps {
		add(&d.builder)
	}
	return out
}

// Name returns the event name the handler serves.
func (h *baseHandler) Name() string {
	return h.name
}

// Dependencies returns the handler's dependencies in resolution order.
func (h *baseHandler) Dependencies() []*Dependency {
	out := make([]*Dependency, len(h.dependencies))
	copy(out, h.dependencies)
	return out
}

// Declares reports whether exc is in the handler's declared exception set.
func (h *baseHandler) Declares(exc *EventException) bool {
	_, ok := h.possible[exc.key()]
	return ok
}

// parseBody validates the positional arguments against the body model.
func (h *baseHandler) parseBody(args []any) (ParsedBody, error) {
	if h.body == nil {
		if len(args) == 0 || (len(args) == 1 && args[0] == nil) {
			return nil, nil
		}
		return nil, ErrExpectsZeroArguments
	}

	if len(args) != 1 || args[0] == nil {
		return nil, ErrExpectsOneArgument
	}
	return h.body.Parse(args[0])
}

// dispatch runs one dispatch of event and returns its outcome: nil, an error
// holding an EventException, or an unexpected error. Scoped resources are
// released before dispatch returns, including when invoke panics; the panic
// is then re-raised.
func (h *baseHandler) dispatch(
	ctx context.Context,
	event ClientEvent,
	invoke func(ctx context.Context, kw Kwargs) error,
) (err error) {
	dispatchID := uuid.NewString()
	logger := observability.EnrichLogger(h.logger, event.Name, event.SID, dispatchID)
	hc := newHandlerContext(event, dispatchID, logger)

	ctx, span := h.spans.StartDispatchSpan(ctx, h.name, event.SID, dispatchID)
	ctx = withHandlerContext(ctx, hc)

	start := time.Now()
	observability.LogDispatchStart(logger)

	defer func() {
		r := recover()

		outcome := err
		if r != nil {
			outcome = &PanicError{Event: h.name, Value: r, Stack: string(debug.Stack())}
		}

		if releaseErr := hc.stack.Close(ctx, outcome); releaseErr != nil {
			observability.LogReleaseError(logger, releaseErr)
			if outcome == nil {
				err = releaseErr
				outcome = releaseErr
			}
		}

		h.finish(ctx, logger, start, outcome, r != nil)
		h.spans.EndSpanWithError(span, outcome)

		if r != nil {
			panic(r)
		}
	}()

	body, err := h.parseBody(event.Args)
	if err != nil {
		return err
	}
	hc.body = body

	hc.extractMarkers(h.markers)

	for _, d := range h.dependencies {
		if cerr := ctx.Err(); cerr != nil {
			return &CancellationError{Event: h.name, Stage: "dependency:" + d.name, Cause: cerr}
		}
		value, err := h.resolveDependency(ctx, hc, d)
		if err != nil {
			return err
		}
		hc.resolved[d] = value
	}

	if cerr := ctx.Err(); cerr != nil {
		return &CancellationError{Event: h.name, Stage: "invoke", Cause: cerr}
	}

	return invoke(ctx, h.builder.BuildKwargs(hc))
}

func (h *baseHandler) resolveDependency(ctx context.Context, hc *HandlerContext, d *Dependency) (any, error) {
	depCtx, span := h.spans.StartDependencySpan(ctx, d.name, d.Contextual())
	value, err := d.resolve(depCtx, hc)
	h.spans.EndSpanWithError(span, err)
	h.metrics.RecordDependency(ctx, h.name, d.name, err)

	if err == nil {
		return value, nil
	}
	if _, ok := AsEventException(err); ok {
		return nil, err
	}
	return nil, &DependencyError{Dependency: d.name, Err: err}
}

// finish records logs and metrics for a finished dispatch and emits the
// undeclared-exception warning.
func (h *baseHandler) finish(ctx context.Context, logger *slog.Logger, start time.Time, outcome error, panicked bool) {
	duration := time.Since(start)
	durationMs := float64(duration.Microseconds()) / 1000

	switch {
	case panicked:
		h.metrics.RecordDispatch(ctx, h.name, observability.OutcomePanic, duration)
	case outcome == nil:
		h.metrics.RecordDispatch(ctx, h.name, observability.OutcomeOK, duration)
		observability.LogDispatchComplete(logger, durationMs)
	default:
		exc, ok := AsEventException(outcome)
		if !ok {
			h.metrics.RecordDispatch(ctx, h.name, observability.OutcomeError, duration)
			observability.LogDispatchError(logger, outcome, durationMs)
			return
		}
		h.metrics.RecordDispatch(ctx, h.name, observability.OutcomeException, duration)
		observability.LogDispatchException(logger, exc.Code, exc.Message, durationMs)
		if !h.Declares(exc) {
			observability.LogUndeclaredException(logger, exc.Code, exc.Message)
			h.metrics.RecordUndeclaredException(ctx, h.name, exc.Code)
		}
	}
}

// EventHandler handles request/acknowledgement events. Every declared
// failure, including body validation, is returned as an error Ack so the
// peer always gets a response.
type EventHandler struct {
	baseHandler
	fn       EventFunc
	packager CodedPackager
}

// NewEventHandler creates a handler for the named event.
//
// Panics if fn is nil, a parameter name is bound twice, or the body is bound
// without a body model.
func NewEventHandler(name string, fn EventFunc, opts ...Option) *EventHandler {
	if fn == nil {
		panic("tmexio: handler function cannot be nil")
	}
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt.applyHandler(&cfg)
	}
	return &EventHandler{
		baseHandler: newBaseHandler(name, kindEvent, cfg),
		fn:          fn,
		packager:    CodedPackager{Code: cfg.successCode},
	}
}

// Handle dispatches event. The returned error is non-nil only for failures
// that are not EventExceptions.
func (h *EventHandler) Handle(ctx context.Context, event ClientEvent) (Ack, error) {
	var result Result
	err := h.dispatch(ctx, event, func(ctx context.Context, kw Kwargs) error {
		r, err := h.fn(ctx, kw)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if ack, ok := DefaultErrorPackager.PackError(err); ok {
			return ack, nil
		}
		return Ack{}, err
	}
	return h.packager.Pack(result), nil
}

// Packager returns the handler's success packager.
func (h *EventHandler) Packager() CodedPackager {
	return h.packager
}

// ConnectHandler decides whether a connecting peer is admitted.
type ConnectHandler struct {
	baseHandler
	fn ConnectFunc
}

// NewConnectHandler creates the connect handler. The optional body is the
// peer's authentication payload.
func NewConnectHandler(fn ConnectFunc, opts ...Option) *ConnectHandler {
	if fn == nil {
		panic("tmexio: handler function cannot be nil")
	}
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt.applyHandler(&cfg)
	}
	return &ConnectHandler{
		baseHandler: newBaseHandler(EventConnect, kindConnect, cfg),
		fn:          fn,
	}
}

// Handle admits the peer (nil) or refuses it with *ConnectionRefusedError.
// Other errors are returned unchanged.
func (h *ConnectHandler) Handle(ctx context.Context, event ClientEvent) error {
	err := h.dispatch(ctx, event, func(ctx context.Context, kw Kwargs) error {
		return h.fn(ctx, kw)
	})
	if err == nil {
		return nil
	}
	if ack, ok := DefaultErrorPackager.PackError(err); ok {
		exc, _ := AsEventException(err)
		return &ConnectionRefusedError{Payload: ack, Err: exc}
	}
	return err
}

// DisconnectHandler runs teardown when a peer leaves. It takes no body,
// declares no exceptions and produces no acknowledgement.
type DisconnectHandler struct {
	baseHandler
	fn DisconnectFunc
}

// NewDisconnectHandler creates the disconnect handler.
func NewDisconnectHandler(fn DisconnectFunc, opts ...Option) *DisconnectHandler {
	if fn == nil {
		panic("tmexio: handler function cannot be nil")
	}
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt.applyHandler(&cfg)
	}
	cfg.body = nil
	cfg.possible = nil
	return &DisconnectHandler{
		baseHandler: newBaseHandler(EventDisconnect, kindDisconnect, cfg),
		fn:          fn,
	}
}

// Handle runs the teardown. EventExceptions are logged and dropped since the
// peer is gone; other errors are returned.
func (h *DisconnectHandler) Handle(ctx context.Context, event ClientEvent) error {
	err := h.dispatch(ctx, event, func(ctx context.Context, kw Kwargs) error {
		return h.fn(ctx, kw)
	})
	if _, ok := AsEventException(err); ok {
		return nil
	}
	return err
}
