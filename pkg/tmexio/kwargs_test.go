package tmexio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHandlerContext(event ClientEvent) *HandlerContext {
	return newHandlerContext(event, "test-dispatch", nil)
}

// TestKwargsBuilder_WritesEveryParam verifies the built mapping is exactly the
// union of all bound parameter names.
func TestKwargsBuilder_WritesEveryParam(t *testing.T) {
	dep := NewValueDependency("dep", func(ctx context.Context, kw Kwargs) (any, error) { return "v", nil })

	kb := newKwargsBuilder([]Binding{
		FromMarker(SIDMarker, "sid", "session_id"),
		FromBodyField("a", "a"),
		FromBodyField("missing", "missing"),
		FromBody("body"),
		FromDependency(dep, "dep"),
	})

	hc := testHandlerContext(ClientEvent{SID: "s-1"})
	hc.extractMarkers([]*Marker{SIDMarker})
	hc.body = parsedBody{value: map[string]any{"a": 1}, fields: map[string]any{"a": 1}}
	hc.resolved[dep] = "v"

	kw := kb.BuildKwargs(hc)

	assert.Equal(t, Kwargs{
		"sid":        "s-1",
		"session_id": "s-1",
		"a":          1,
		"missing":    nil,
		"body":       map[string]any{"a": 1},
		"dep":        "v",
	}, kw)
	assert.ElementsMatch(t, []string{"sid", "session_id", "body", "a", "missing", "dep"}, kb.Params())
}

// TestKwargsBuilder_NoBody verifies body parameters are nil when the dispatch
// carries no body.
func TestKwargsBuilder_NoBody(t *testing.T) {
	kb := newKwargsBuilder([]Binding{FromBodyField("a", "a"), FromBody("body")})

	kw := kb.BuildKwargs(testHandlerContext(ClientEvent{}))

	require.Len(t, kw, 2)
	assert.Nil(t, kw["a"])
	assert.Nil(t, kw["body"])
}

// TestKwargsBuilder_UnresolvedDependency verifies an unresolved dependency
// is written as nil rather than omitted.
func TestKwargsBuilder_UnresolvedDependency(t *testing.T) {
	dep := NewValueDependency("dep", func(ctx context.Context, kw Kwargs) (any, error) { return 1, nil })
	kb := newKwargsBuilder([]Binding{FromDependency(dep, "dep")})

	kw := kb.BuildKwargs(testHandlerContext(ClientEvent{}))

	v, ok := kw["dep"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestKwargsBuilder_DuplicateParamPanics(t *testing.T) {
	assert.PanicsWithValue(t, `tmexio: parameter "x" bound more than once`, func() {
		newKwargsBuilder([]Binding{FromBody("x"), FromBodyField("f", "x")})
	})
	assert.PanicsWithValue(t, "tmexio: parameter name cannot be empty", func() {
		newKwargsBuilder([]Binding{FromBody("")})
	})
	assert.Panics(t, func() { FromMarker(nil, "x") })
	assert.Panics(t, func() { FromDependency(nil, "x") })
}

func TestKwargsBuilder_UsesBody(t *testing.T) {
	markers := newKwargsBuilder([]Binding{FromMarker(SIDMarker, "sid")})
	whole := newKwargsBuilder([]Binding{FromBody("b")})
	field := newKwargsBuilder([]Binding{FromBodyField("f", "f")})

	assert.False(t, markers.usesBody())
	assert.True(t, whole.usesBody())
	assert.True(t, field.usesBody())
}

func TestLookupAndArg(t *testing.T) {
	kw := Kwargs{"name": "alice", "count": 3, "empty": nil}

	name, ok := Lookup[string](kw, "name")
	assert.True(t, ok)
	assert.Equal(t, "alice", name)

	_, ok = Lookup[string](kw, "count")
	assert.False(t, ok, "wrong type")

	_, ok = Lookup[string](kw, "empty")
	assert.False(t, ok, "nil value")

	_, ok = Lookup[string](kw, "absent")
	assert.False(t, ok, "missing name")

	assert.Equal(t, 3, Arg[int](kw, "count"))
	assert.Equal(t, "", Arg[string](kw, "absent"))
}

// TestFlattenDependencies verifies post-order, first-seen-wins ordering.
func TestFlattenDependencies(t *testing.T) {
	fn := func(ctx context.Context, kw Kwargs) (any, error) { return nil, nil }

	a := NewValueDependency("a", fn)
	b := NewValueDependency("b", fn, FromDependency(a, "a"))
	c := NewValueDependency("c", fn, FromDependency(a, "a"), FromDependency(b, "b"))
	d := NewValueDependency("d", fn)

	roots := []dependencyDestination{{dependency: c}, {dependency: d}, {dependency: b}}
	ordered := flattenDependencies(roots)

	names := make([]string, len(ordered))
	for i, dep := range ordered {
		names[i] = dep.Name()
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
}

func TestCollectMarkers_Deduplicates(t *testing.T) {
	fn := func(ctx context.Context, kw Kwargs) (any, error) { return nil, nil }
	dep := NewValueDependency("d", fn, FromMarker(SIDMarker, "sid"), FromMarker(ContextMarker, "ctx"))

	root := newKwargsBuilder([]Binding{FromMarker(SIDMarker, "sid"), FromDependency(dep, "d")})
	markers := collectMarkers(&root, flattenDependencies(root.dependencyDestinations))

	assert.Equal(t, []*Marker{SIDMarker, ContextMarker}, markers)
}
