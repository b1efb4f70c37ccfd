package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Conn is a server-side WebSocket connection that pings the peer on an
// interval and drops it when a pong does not arrive in time.
type Conn struct {
	inner  *ws.Conn
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// WrapConn starts the keepalive loop for c. The caller must keep a read loop
// running on c (CloseRead is enough) or pongs are never processed.
func WrapConn(ctx context.Context, c *ws.Conn, options ...Option) *Conn {
	opts := applyOptions(options)
	ctx, cancel := context.WithCancel(ctx)
	conn := &Conn{
		inner:  c,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go conn.pingLoop(ctx)
	return conn
}

// WriteJSON sends v as a single text message.
func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.inner, v)
}

// Close stops the keepalive loop and performs the close handshake. Waiting
// for the loop is bounded by ctx.
func (c *Conn) Close(ctx context.Context, code ws.StatusCode, reason string) error {
	if !c.markClosed() {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return c.inner.Close(code, reason)
}

// ForceClose drops the connection without a close frame.
func (c *Conn) ForceClose() {
	if !c.markClosed() {
		return
	}
	c.cancel()
	c.inner.CloseNow()
}

func (c *Conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *Conn) pingLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, c.opts.PongTimeout)
			err := c.inner.Ping(pingCtx)
			pingCancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.opts.Logger.Warn("pong timeout, closing connection", slog.String("error", err.Error()))
				c.inner.CloseNow()
				return
			}
		}
	}
}
