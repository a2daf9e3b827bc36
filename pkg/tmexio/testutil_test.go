package tmexio_test

import (
	"context"
	"log/slog"
	"sync"

	"github.com/randalmurphal/tmexio/pkg/tmexio"
)

// recordingHandler captures log records for assertions.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordingLogger() (*slog.Logger, *recordingHandler) {
	h := &recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(h), h
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

// count returns how many records carry msg at level.
func (h *recordingHandler) count(level slog.Level, msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range *h.records {
		if r.Level == level && r.Message == msg {
			n++
		}
	}
	return n
}

func (h *recordingHandler) undeclaredWarnings() int {
	return h.count(slog.LevelWarn, "undeclared event exception")
}

// Shared test fixtures.

type session struct {
	User string
}

var currentUser = tmexio.NewMarker("current_user", func(e tmexio.ClientEvent) any {
	s, ok := e.Context.(*session)
	if !ok {
		return nil
	}
	return s.User
})

var amountBody = tmexio.MustSchemaBody(`{
	"type": "object",
	"properties": {
		"amount": {"type": "number", "minimum": 1},
		"note": {"type": "string"}
	},
	"required": ["amount"]
}`)

var tokenBody = tmexio.MustSchemaBody(`{
	"type": "object",
	"properties": {"token": {"type": "string"}},
	"required": ["token"]
}`)

// tracker records scoped resource acquisitions and releases in order.
type tracker struct {
	mu     sync.Mutex
	events []string
}

func (t *tracker) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, s)
}

func (t *tracker) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.events))
	copy(out, t.events)
	return out
}

// scoped returns a contextual dependency that records acquire/release.
func scoped(name string, tr *tracker, bindings ...tmexio.Binding) *tmexio.Dependency {
	return tmexio.NewContextualDependency(name, func(ctx context.Context, kw tmexio.Kwargs) (tmexio.Scope, error) {
		tr.add("acquire:" + name)
		return tmexio.Scope{
			Value: name,
			Release: func(ctx context.Context, err error) error {
				if err != nil {
					tr.add("release:" + name + ":error")
				} else {
					tr.add("release:" + name)
				}
				return nil
			},
		}, nil
	}, bindings...)
}
