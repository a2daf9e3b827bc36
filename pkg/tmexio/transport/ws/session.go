package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/randalmurphal/tmexio/pkg/tmexio"
)

// ErrSessionClosed is returned by Emit once the connection has ended.
var ErrSessionClosed = errors.New("session closed")

// Emitter sends server events to one connected peer.
type Emitter interface {
	// SID returns the peer's session ID.
	SID() string

	// Emit queues an event frame for the peer. It blocks while the send
	// buffer is full, until ctx is done or the connection ends.
	Emit(ctx context.Context, event string, args ...any) error
}

// Session is the transport state of one connection. It is the Context of
// every ClientEvent the Server dispatches.
type Session struct {
	sid     string
	request *http.Request
	server  *Server

	send   chan Frame
	closed chan struct{}
	once   sync.Once

	mu     sync.RWMutex
	values map[string]any
}

var _ Emitter = (*Session)(nil)

func newSession(sid string, r *http.Request, s *Server, buffer int) *Session {
	return &Session{
		sid:     sid,
		request: r,
		server:  s,
		send:    make(chan Frame, buffer),
		closed:  make(chan struct{}),
		values:  make(map[string]any),
	}
}

// SID returns the session ID.
func (s *Session) SID() string {
	return s.sid
}

// Request returns the HTTP request that opened the connection.
func (s *Session) Request() *http.Request {
	return s.request
}

// Set stores a value on the session, typically from the connect handler.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get returns a value stored with Set.
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Emit implements Emitter.
func (s *Session) Emit(ctx context.Context, event string, args ...any) error {
	return s.enqueue(ctx, Frame{Type: FrameEvent, Event: event, Args: args})
}

// Broadcast emits an event to every connected session, including this one.
func (s *Session) Broadcast(ctx context.Context, event string, args ...any) error {
	return s.server.Broadcast(ctx, event, args...)
}

func (s *Session) enqueue(ctx context.Context, f Frame) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- f:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) close() {
	s.once.Do(func() { close(s.closed) })
}

// Built-in markers for handlers served by this transport.
var (
	// SessionMarker extracts the *Session of the emitting connection.
	SessionMarker = tmexio.NewMarker("ws.session", func(e tmexio.ClientEvent) any {
		s, ok := e.Context.(*Session)
		if !ok {
			return nil
		}
		return s
	})

	// EmitterMarker extracts an Emitter that sends to the emitting connection.
	EmitterMarker = tmexio.NewMarker("ws.emitter", func(e tmexio.ClientEvent) any {
		s, ok := e.Context.(*Session)
		if !ok {
			return nil
		}
		return Emitter(s)
	})
)
