package tmexio

import "fmt"

// Kwargs is the keyword-argument mapping passed to handler and dependency
// functions. Every bound parameter name is present, possibly with a nil value.
type Kwargs map[string]any

// Lookup returns the named argument converted to T.
// The boolean is false when the name is missing, the value is nil, or the
// value is not a T.
func Lookup[T any](kw Kwargs, name string) (T, bool) {
	v, ok := kw[name].(T)
	return v, ok
}

// Arg returns the named argument converted to T, or T's zero value.
func Arg[T any](kw Kwargs, name string) T {
	v, _ := Lookup[T](kw, name)
	return v
}

// Option configures a handler.
type Option interface {
	applyHandler(*handlerConfig)
}

// Binding maps an input source onto parameter names. Bindings configure both
// handlers and dependencies.
type Binding interface {
	Option
	applyBuilder(*KwargsBuilder)
}

type binding func(*KwargsBuilder)

func (b binding) applyBuilder(kb *KwargsBuilder) { b(kb) }

func (b binding) applyHandler(cfg *handlerConfig) { b(&cfg.builder) }

// FromMarker passes the marker's extracted value as each named parameter.
func FromMarker(m *Marker, params ...string) Binding {
	if m == nil {
		panic("tmexio: marker cannot be nil")
	}
	return binding(func(kb *KwargsBuilder) {
		kb.claim(params)
		kb.markerDestinations = append(kb.markerDestinations, markerDestination{marker: m, params: params})
	})
}

// FromBodyField passes one field of the parsed body as each named parameter.
// A field missing from the body is passed as nil.
func FromBodyField(field string, params ...string) Binding {
	return binding(func(kb *KwargsBuilder) {
		kb.claim(params)
		kb.bodyDestinations = append(kb.bodyDestinations, bodyDestination{field: field, params: params})
	})
}

// FromBody passes the whole parsed body (ParsedBody.Value) as each named parameter.
func FromBody(params ...string) Binding {
	return binding(func(kb *KwargsBuilder) {
		kb.claim(params)
		kb.wholeBodyParams = append(kb.wholeBodyParams, params...)
	})
}

// FromDependency resolves d for the dispatch and passes its value as each
// named parameter. With no names, d is still resolved, which is useful for
// dependencies that only acquire a scoped resource.
func FromDependency(d *Dependency, params ...string) Binding {
	if d == nil {
		panic("tmexio: dependency cannot be nil")
	}
	return binding(func(kb *KwargsBuilder) {
		kb.claim(params)
		kb.dependencyDestinations = append(kb.dependencyDestinations, dependencyDestination{dependency: d, params: params})
	})
}

type markerDestination struct {
	marker *Marker
	params []string
}

type bodyDestination struct {
	field  string
	params []string
}

type dependencyDestination struct {
	dependency *Dependency
	params     []string
}

// KwargsBuilder maps markers, body fields and resolved dependencies onto the
// parameter names a function declares. The destination tables are fixed when
// the owning handler or dependency is constructed.
type KwargsBuilder struct {
	markerDestinations     []markerDestination
	bodyDestinations       []bodyDestination
	wholeBodyParams        []string
	dependencyDestinations []dependencyDestination

	params map[string]struct{}
}

func newKwargsBuilder(bindings []Binding) KwargsBuilder {
	var kb KwargsBuilder
	for _, b := range bindings {
		b.applyBuilder(&kb)
	}
	return kb
}

// claim registers parameter names, panicking on a name bound twice.
func (kb *KwargsBuilder) claim(params []string) {
	if kb.params == nil {
		kb.params = make(map[string]struct{})
	}
	for _, p := range params {
		if p == "" {
			panic("tmexio: parameter name cannot be empty")
		}
		if _, exists := kb.params[p]; exists {
			panic(fmt.Sprintf("tmexio: parameter %q bound more than once", p))
		}
		kb.params[p] = struct{}{}
	}
}

// BuildKwargs assembles the arguments for one call from the dispatch state.
// Markers are written first, then body values, then dependencies.
func (kb *KwargsBuilder) BuildKwargs(hc *HandlerContext) Kwargs {
	kw := make(Kwargs, len(kb.params))

	for _, dest := range kb.markerDestinations {
		value := hc.markers[dest.marker]
		for _, p := range dest.params {
			kw[p] = value
		}
	}

	if hc.body != nil {
		whole := hc.body.Value()
		for _, p := range kb.wholeBodyParams {
			kw[p] = whole
		}
		for _, dest := range kb.bodyDestinations {
			value, _ := hc.body.Field(dest.field)
			for _, p := range dest.params {
				kw[p] = value
			}
		}
	} else {
		for _, p := range kb.wholeBodyParams {
			kw[p] = nil
		}
		for _, dest := range kb.bodyDestinations {
			for _, p := range dest.params {
				kw[p] = nil
			}
		}
	}

	for _, dest := range kb.dependencyDestinations {
		value := hc.resolved[dest.dependency]
		for _, p := range dest.params {
			kw[p] = value
		}
	}

	return kw
}

// Params returns every parameter name this builder writes.
func (kb *KwargsBuilder) Params() []string {
	out := make([]string, 0, len(kb.params))
	for _, d := range kb.markerDestinations {
		out = append(out, d.params...)
	}
	out = append(out, kb.wholeBodyParams...)
	for _, d := range kb.bodyDestinations {
		out = append(out, d.params...)
	}
	for _, d := range kb.dependencyDestinations {
		out = append(out, d.params...)
	}
	return out
}

// usesBody reports whether any destination reads the parsed body.
func (kb *KwargsBuilder) usesBody() bool {
	return len(kb.wholeBodyParams) > 0 || len(kb.bodyDestinations) > 0
}
