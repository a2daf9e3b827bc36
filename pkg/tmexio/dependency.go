package tmexio

import (
	"context"
	"fmt"
)

// ValueFunc computes a dependency value.
type ValueFunc func(ctx context.Context, kw Kwargs) (any, error)

// ScopedFunc acquires a scoped resource for the duration of one dispatch.
type ScopedFunc func(ctx context.Context, kw Kwargs) (Scope, error)

// Scope is an acquired resource together with the function that releases it.
// Release may be nil when there is nothing to release.
type Scope struct {
	Value   any
	Release ReleaseFunc
}

type dependencyKind int

const (
	valueDependency dependencyKind = iota
	contextualDependency
)

// Dependency is a unit of computation or resource acquisition resolved at
// most once per dispatch. A dependency may consume markers, body fields and
// other dependencies through the same bindings handlers use.
//
// Dependencies are immutable descriptors and may be shared by any number of
// handlers. Their resolved values are never shared between dispatches.
//
// Dependency graphs must be acyclic. This is not checked.
type Dependency struct {
	name    string
	kind    dependencyKind
	builder KwargsBuilder
	value   ValueFunc
	scoped  ScopedFunc
}

// NewValueDependency creates a dependency whose value is the result of fn.
func NewValueDependency(name string, fn ValueFunc, bindings ...Binding) *Dependency {
	if fn == nil {
		panic("tmexio: dependency function cannot be nil")
	}
	return &Dependency{
		name:    name,
		kind:    valueDependency,
		builder: newKwargsBuilder(bindings),
		value:   fn,
	}
}

// NewContextualDependency creates a dependency whose value is a scoped
// resource. The resource is released when the dispatch ends, in reverse
// acquisition order, whatever the outcome.
func NewContextualDependency(name string, fn ScopedFunc, bindings ...Binding) *Dependency {
	if fn == nil {
		panic("tmexio: dependency function cannot be nil")
	}
	return &Dependency{
		name:    name,
		kind:    contextualDependency,
		builder: newKwargsBuilder(bindings),
		scoped:  fn,
	}
}

// Name returns the dependency's name.
func (d *Dependency) Name() string {
	return d.name
}

// Contextual reports whether the dependency acquires a scoped resource.
func (d *Dependency) Contextual() bool {
	return d.kind == contextualDependency
}

// String implements fmt.Stringer.
func (d *Dependency) String() string {
	if d.Contextual() {
		return fmt.Sprintf("contextual dependency %s", d.name)
	}
	return fmt.Sprintf("value dependency %s", d.name)
}

// resolve computes the dependency's value from hc. Contextual resources are
// pushed onto hc's exit stack before resolve returns.
func (d *Dependency) resolve(ctx context.Context, hc *HandlerContext) (any, error) {
	kw := d.builder.BuildKwargs(hc)

	if d.kind == valueDependency {
		return d.value(ctx, kw)
	}

	scope, err := d.scoped(ctx, kw)
	if err != nil {
		return nil, err
	}
	hc.stack.PushNamed(d.name, scope.Release)
	return scope.Value, nil
}

// flattenDependencies lists every dependency reachable from roots so that each
// appears after everything it consumes, and only once.
func flattenDependencies(roots []dependencyDestination) []*Dependency {
	var ordered []*Dependency
	visited := make(map[*Dependency]struct{})

	var visit func(d *Dependency)
	visit = func(d *Dependency) {
		if _, seen := visited[d]; seen {
			return
		}
		visited[d] = struct{}{}
		for _, sub := range d.builder.dependencyDestinations {
			visit(sub.dependency)
		}
		ordered = append(ordered, d)
	}

	for _, dest := range roots {
		visit(dest.dependency)
	}
	return ordered
}
