// Package ws serves a tmexio CompiledRouter over websockets.
//
// Each connection must open with a connect frame; the router's connect
// handler admits or refuses it. Admitted connections send event frames that
// are dispatched concurrently and answered with ack frames. Handlers reach
// the connection through SessionMarker and EmitterMarker.
//
// Frames are JSON objects:
//
//	client: {"type":"connect","args":[...]}
//	client: {"type":"event","id":1,"event":"chat.send","args":[...]}
//	server: {"type":"connected","sid":"..."}
//	server: {"type":"connect_error","data":{"code":401,"message":"..."}}
//	server: {"type":"ack","id":1,"data":{"code":200,"data":...}}
//	server: {"type":"event","event":"chat.message","args":[...]}
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/tmexio/pkg/tmexio"
	"github.com/randalmurphal/tmexio/pkg/tmexio/observability"
)

// Exceptions produced by the transport itself.
var (
	// ErrInternal answers dispatches that panicked or failed unexpectedly.
	ErrInternal = tmexio.NewEventException(500, "Internal error")

	// ErrExpectedConnect refuses connections whose first frame is not a
	// connect frame.
	ErrExpectedConnect = tmexio.NewEventException(400, "Expected connect frame")
)

// errPeerClosed ends a connection's reader when the peer went away.
var errPeerClosed = errors.New("peer closed connection")

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUpgrader replaces the websocket upgrader. ReadBufferSize,
// WriteBufferSize and CheckOrigin are taken from it as given.
func WithUpgrader(u websocket.Upgrader) Option {
	return func(s *Server) {
		s.upgrader = u
	}
}

// Server is an http.Handler that serves a CompiledRouter over websockets.
type Server struct {
	router   *tmexio.CompiledRouter
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc
}

// NewServer creates a server for router. Zero Config fields take their
// DefaultConfig values.
func NewServer(router *tmexio.CompiledRouter, cfg Config, opts ...Option) *Server {
	if router == nil {
		panic("ws: router cannot be nil")
	}
	cfg = cfg.withDefaults()

	s := &Server{
		router: router,
		cfg:    cfg,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.AllowedOrigins),
		},
		sessions: make(map[string]*Session),
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the server's effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// ServeHTTP upgrades the request and serves the connection until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	s.serveConn(r, conn)
}

// Session returns the connected session with the given ID.
func (s *Server) Session(sid string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sid]
	return sess, ok
}

// Len returns the number of connected sessions.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Broadcast emits an event to every connected session. Sessions that close
// meanwhile are skipped.
func (s *Server) Broadcast(ctx context.Context, event string, args ...any) error {
	s.mu.RLock()
	targets := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.mu.RUnlock()

	for _, sess := range targets {
		if err := sess.Emit(ctx, event, args...); err != nil && !errors.Is(err, ErrSessionClosed) {
			return fmt.Errorf("broadcast to %s: %w", sess.SID(), err)
		}
	}
	return nil
}

// Close ends every connection. Disconnect handlers still run.
func (s *Server) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cancel := range s.cancels {
		cancel()
	}
}

// Serve accepts connections on ln until ctx is done, then closes every
// connection and shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ListenAndServe listens on Config.Address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.logger.Info("websocket server listening",
		slog.String("address", ln.Addr().String()),
		slog.String("path", s.cfg.Path),
	)
	return s.Serve(ctx, ln)
}

func (s *Server) register(sess *Session, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.sid] = sess
	s.cancels[sess.sid] = cancel
}

func (s *Server) unregister(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sid)
	delete(s.cancels, sid)
}

// serveConn runs one connection: handshake, then reader, writer and
// dispatches until either side ends it, then the disconnect handler.
func (s *Server) serveConn(r *http.Request, conn *websocket.Conn) {
	defer conn.Close()

	sid := uuid.NewString()
	logger := s.logger.With(slog.String("sid", sid))
	sess := newSession(sid, r, s, s.cfg.SendBuffer)
	defer sess.close()

	conn.SetReadLimit(s.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !s.handshake(ctx, conn, sess, logger) {
		return
	}

	s.register(sess, cancel)
	observability.LogConnectionOpened(logger, sid, r.RemoteAddr)

	c := &connection{server: s, conn: conn, session: sess, logger: logger}
	err := c.run(ctx)

	s.unregister(sid)
	sess.close()
	s.disconnect(context.WithoutCancel(ctx), sess, logger)
	observability.LogConnectionClosed(logger, sid, err)
}

// handshake reads the connect frame and runs the connect handler. It
// reports whether the connection was admitted.
func (s *Server) handshake(ctx context.Context, conn *websocket.Conn, sess *Session, logger *slog.Logger) bool {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		logger.Debug("handshake read failed", slog.String("error", err.Error()))
		return false
	}
	_ = conn.SetReadDeadline(time.Time{})

	f, err := decodeFrame(data)
	if err != nil || f.Type != FrameConnect {
		s.refuse(conn, sess.sid, tmexio.DefaultErrorPackager.Pack(ErrExpectedConnect), logger)
		return false
	}

	event := tmexio.ClientEvent{SID: sess.sid, Args: f.Args, Context: sess}
	err = s.safeConnect(ctx, event, logger)

	var refused *tmexio.ConnectionRefusedError
	switch {
	case err == nil:
	case errors.As(err, &refused):
		s.refuse(conn, sess.sid, refused.Payload, logger)
		return false
	default:
		logger.Error("connect handler failed", slog.String("error", err.Error()))
		s.refuse(conn, sess.sid, tmexio.DefaultErrorPackager.Pack(ErrInternal), logger)
		return false
	}

	if err := s.write(conn, Frame{Type: FrameConnected, SID: sess.sid}); err != nil {
		logger.Debug("handshake write failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (s *Server) safeConnect(ctx context.Context, event tmexio.ClientEvent, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			observability.LogPanic(logger, tmexio.EventConnect, r, stack)
			err = &tmexio.PanicError{Event: tmexio.EventConnect, Value: r, Stack: stack}
		}
	}()
	return s.router.Connect(ctx, event)
}

func (s *Server) refuse(conn *websocket.Conn, sid string, payload tmexio.Ack, logger *slog.Logger) {
	observability.LogConnectionRefused(logger, sid, payload.Code, payload.Message)
	if err := s.write(conn, Frame{Type: FrameConnectError, Data: payload}); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, payload.Message),
		time.Now().Add(s.cfg.WriteTimeout))
}

func (s *Server) disconnect(ctx context.Context, sess *Session, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogPanic(logger, tmexio.EventDisconnect, r, string(debug.Stack()))
		}
	}()
	event := tmexio.ClientEvent{SID: sess.sid, Context: sess}
	if err := s.router.Disconnect(ctx, event); err != nil {
		logger.Error("disconnect handler failed", slog.String("error", err.Error()))
	}
}

func (s *Server) write(conn *websocket.Conn, f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
