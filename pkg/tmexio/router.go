package tmexio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Lifecycle event names. They cannot be registered with On.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Router is a mutable builder for a set of handlers.
// Use NewRouter, register handlers with On, OnConnect and OnDisconnect, then
// call Compile to obtain an immutable CompiledRouter.
//
// Router is NOT meant to be built from several goroutines. Build it once at
// startup and share the CompiledRouter.
//
// Example:
//
//	router := tmexio.NewRouter().
//	    Use(tmexio.WithLogger(logger)).
//	    On("chat.send", sendMessage,
//	        tmexio.WithBodyModel(messageBody),
//	        tmexio.FromMarker(CurrentUser, "user"),
//	        tmexio.FromBodyField("text", "text"))
//
//	compiled, err := router.Compile()
type Router struct {
	mu         sync.Mutex
	defaults   []Option
	events     map[string]*EventHandler
	order      []string
	connect    *ConnectHandler
	disconnect *DisconnectHandler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		events: make(map[string]*EventHandler),
	}
}

// Use adds options applied to every handler registered afterwards, before the
// handler's own options. Bindings are not allowed here since they would bind
// the same parameter on every handler.
func (r *Router) Use(opts ...Option) *Router {
	for _, opt := range opts {
		if _, ok := opt.(Binding); ok {
			panic("tmexio: bindings cannot be router defaults")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = append(r.defaults, opts...)
	return r
}

// On registers a handler for an event.
//
// Panics if:
//   - event is empty or contains whitespace
//   - event is a lifecycle name ("connect", "disconnect")
//   - event is already registered
//   - fn is nil
func (r *Router) On(event string, fn EventFunc, opts ...Option) *Router {
	if event == "" {
		panic("tmexio: event name cannot be empty")
	}
	if strings.ContainsAny(event, " \t\n\r") {
		panic("tmexio: event name cannot contain whitespace")
	}
	if event == EventConnect || event == EventDisconnect {
		panic(fmt.Sprintf("tmexio: %q is reserved, use OnConnect/OnDisconnect", event))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[event]; exists {
		panic(fmt.Sprintf("tmexio: duplicate event handler: %s", event))
	}

	r.events[event] = NewEventHandler(event, fn, r.withDefaults(opts)...)
	r.order = append(r.order, event)
	return r
}

// OnConnect registers the connect handler. Panics if one is already set.
func (r *Router) OnConnect(fn ConnectFunc, opts ...Option) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connect != nil {
		panic("tmexio: duplicate connect handler")
	}
	r.connect = NewConnectHandler(fn, r.withDefaults(opts)...)
	return r
}

// OnDisconnect registers the disconnect handler. Panics if one is already set.
func (r *Router) OnDisconnect(fn DisconnectFunc, opts ...Option) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disconnect != nil {
		panic("tmexio: duplicate disconnect handler")
	}
	r.disconnect = NewDisconnectHandler(fn, r.withDefaults(opts)...)
	return r
}

func (r *Router) withDefaults(opts []Option) []Option {
	all := make([]Option, 0, len(r.defaults)+len(opts))
	all = append(all, r.defaults...)
	return append(all, opts...)
}

// Compile freezes the router.
func (r *Router) Compile() (*CompiledRouter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) == 0 && r.connect == nil && r.disconnect == nil {
		return nil, ErrNoHandlers
	}

	events := make(map[string]*EventHandler, len(r.events))
	for name, h := range r.events {
		events[name] = h
	}
	order := make([]string, len(r.order))
	copy(order, r.order)

	return &CompiledRouter{
		events:     events,
		order:      order,
		connect:    r.connect,
		disconnect: r.disconnect,
	}, nil
}

// CompiledRouter is an immutable set of handlers, safe for concurrent use.
type CompiledRouter struct {
	events     map[string]*EventHandler
	order      []string
	connect    *ConnectHandler
	disconnect *DisconnectHandler
}

// Dispatch routes event to its handler by name. An event with no handler is
// answered with an EventUnknown error ack.
func (cr *CompiledRouter) Dispatch(ctx context.Context, event ClientEvent) (Ack, error) {
	h, ok := cr.events[event.Name]
	if !ok {
		return DefaultErrorPackager.Pack(EventUnknown), nil
	}
	return h.Handle(ctx, event)
}

// Connect runs the connect handler, admitting everyone when none is set.
func (cr *CompiledRouter) Connect(ctx context.Context, event ClientEvent) error {
	if cr.connect == nil {
		return nil
	}
	event.Name = EventConnect
	return cr.connect.Handle(ctx, event)
}

// Disconnect runs the disconnect handler if one is set.
func (cr *CompiledRouter) Disconnect(ctx context.Context, event ClientEvent) error {
	if cr.disconnect == nil {
		return nil
	}
	event.Name = EventDisconnect
	return cr.disconnect.Handle(ctx, event)
}

// Handler returns the handler for an event.
func (cr *CompiledRouter) Handler(event string) (*EventHandler, bool) {
	h, ok := cr.events[event]
	return h, ok
}

// Events returns the registered event names, sorted.
func (cr *CompiledRouter) Events() []string {
	out := make([]string, len(cr.order))
	copy(out, cr.order)
	sort.Strings(out)
	return out
}
