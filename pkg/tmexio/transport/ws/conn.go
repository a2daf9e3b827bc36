package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/tmexio/pkg/tmexio"
	"github.com/randalmurphal/tmexio/pkg/tmexio/observability"
)

// connection runs the read, write and dispatch loops of one admitted peer.
type connection struct {
	server  *Server
	conn    *websocket.Conn
	session *Session
	logger  *slog.Logger
}

// run serves the connection until the peer leaves, a write fails or ctx is
// cancelled. Every dispatch has finished when run returns. The returned
// error is nil for a normal close.
func (c *connection) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	dispatches := &errgroup.Group{}
	dispatches.SetLimit(c.server.cfg.MaxInFlight)

	g.Go(func() error {
		return c.readLoop(gctx, dispatches)
	})
	g.Go(func() error {
		return c.writeLoop(gctx)
	})

	err := g.Wait()
	_ = dispatches.Wait()

	if errors.Is(err, errPeerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *connection) readLoop(ctx context.Context, dispatches *errgroup.Group) error {
	cfg := c.server.cfg
	if cfg.PingInterval > 0 {
		pongWait := 2 * cfg.PingInterval
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errPeerClosed
			}
			return fmt.Errorf("read frame: %w", err)
		}

		f, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
			continue
		}
		if f.Type != FrameEvent {
			c.logger.Warn("dropping unexpected frame", slog.String("type", f.Type))
			continue
		}

		// Blocks while MaxInFlight dispatches are running.
		dispatches.Go(func() error {
			c.dispatch(ctx, f)
			return nil
		})
	}
}

func (c *connection) writeLoop(ctx context.Context) error {
	// Closing the socket unblocks the reader. No sends are accepted once
	// the writer is gone.
	defer c.conn.Close()
	defer c.session.close()

	var ping <-chan time.Time
	if interval := c.server.cfg.PingInterval; interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case f := <-c.session.send:
			if err := c.server.write(c.conn, f); err != nil {
				return fmt.Errorf("write %s frame: %w", f.Type, err)
			}
		case <-ping:
			deadline := time.Now().Add(c.server.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		case <-ctx.Done():
			deadline := time.Now().Add(c.server.cfg.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil
		}
	}
}

// dispatch runs one event frame through the router and queues its ack when
// the frame asked for one.
func (c *connection) dispatch(ctx context.Context, f Frame) {
	event := tmexio.ClientEvent{
		Name:    f.Event,
		SID:     c.session.sid,
		Args:    f.Args,
		Context: c.session,
	}

	ack := c.safeDispatch(ctx, event)
	if f.ID == 0 {
		return
	}

	err := c.session.enqueue(ctx, Frame{Type: FrameAck, ID: f.ID, Data: ack})
	if err != nil {
		c.logger.Debug("dropping ack",
			slog.String("event", f.Event),
			slog.Int64("id", f.ID),
			slog.String("error", err.Error()),
		)
	}
}

// safeDispatch is the fault boundary for handler panics and unexpected
// errors: both are logged and answered with ErrInternal.
func (c *connection) safeDispatch(ctx context.Context, event tmexio.ClientEvent) (ack tmexio.Ack) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogPanic(c.logger, event.Name, r, string(debug.Stack()))
			ack = tmexio.DefaultErrorPackager.Pack(ErrInternal)
		}
	}()

	ack, err := c.server.router.Dispatch(ctx, event)
	if err != nil {
		var cancelled *tmexio.CancellationError
		if errors.As(err, &cancelled) {
			c.logger.Debug("dispatch cancelled", slog.String("event", event.Name))
		} else {
			c.logger.Error("dispatch failed",
				slog.String("event", event.Name),
				slog.String("error", err.Error()),
			)
		}
		return tmexio.DefaultErrorPackager.Pack(ErrInternal)
	}
	return ack
}
