package tmexio

// ClientEvent is one inbound event as delivered by a transport.
// It is read-only to the dispatch pipeline.
type ClientEvent struct {
	// Name is the event name the peer emitted ("connect" and "disconnect"
	// for the lifecycle handlers).
	Name string

	// SID identifies the emitting connection.
	SID string

	// Args are the positional arguments sent by the peer, already decoded
	// into JSON-like values (map[string]any, []any, string, float64, bool, nil).
	Args []any

	// Context is opaque transport state that markers read from.
	Context any
}

// Marker extracts a value from a ClientEvent without knowing anything about
// the handler that consumes it.
//
// Markers are compared by identity, so declare them once at package level
// and share them between handlers:
//
//	var CurrentUser = tmexio.NewMarker("current_user", func(e tmexio.ClientEvent) any {
//	    return e.Context.(*Session).User
//	})
type Marker struct {
	name    string
	extract func(ClientEvent) any
}

// NewMarker creates a marker. The extract function must be pure and must not
// panic on events it is not responsible for validating.
func NewMarker(name string, extract func(ClientEvent) any) *Marker {
	if extract == nil {
		panic("tmexio: marker extract function cannot be nil")
	}
	return &Marker{name: name, extract: extract}
}

// Name returns the marker's name.
func (m *Marker) Name() string {
	return m.name
}

// Extract reads the marker's value from an event.
func (m *Marker) Extract(event ClientEvent) any {
	return m.extract(event)
}

// Built-in markers.
var (
	SIDMarker       = NewMarker("sid", func(e ClientEvent) any { return e.SID })
	EventNameMarker = NewMarker("event_name", func(e ClientEvent) any { return e.Name })
	ContextMarker   = NewMarker("context", func(e ClientEvent) any { return e.Context })
)
