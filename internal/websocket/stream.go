// Package websocket streams route table changes over WebSocket connections.
package websocket

import (
	"context"
	"log/slog"
	"net/http"

	ws "nhooyr.io/websocket"

	"github.com/rathix/dynamic-proxy/internal/routes"
)

// Message is one JSON frame sent to a client. The first frame on every
// connection has Type "state".
type Message struct {
	Type   string         `json:"type"`
	Target string         `json:"target"`
	Routes []routes.Route `json:"routes"`
}

// RouteSource is the route table as seen by the stream.
type RouteSource interface {
	Snapshot() []routes.Route
	Subscribe() <-chan routes.Event
	Unsubscribe(<-chan routes.Event)
}

// Stream is an http.Handler that upgrades requests and pushes route events
// until either side goes away.
type Stream struct {
	source   RouteSource
	registry *Registry
	logger   *slog.Logger
	opts     []Option
}

// NewStream creates a Stream. Connections are tracked in registry.
func NewStream(source RouteSource, registry *Registry, logger *slog.Logger, opts ...Option) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		source:   source,
		registry: registry,
		logger:   logger,
		opts:     append([]Option{WithLogger(logger)}, opts...),
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Pages on any dev origin may connect.
	c, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}

	// Client messages are ignored; CloseRead keeps pongs and close frames flowing.
	ctx := c.CloseRead(context.Background())
	conn := WrapConn(ctx, c, s.opts...)
	s.registry.register(conn)
	defer s.registry.unregister(conn)

	events := s.source.Subscribe()
	defer s.source.Unsubscribe(events)

	snapshot := s.source.Snapshot()
	if err := conn.WriteJSON(ctx, Message{Type: "state", Target: routes.ActiveTarget(snapshot), Routes: snapshot}); err != nil {
		conn.ForceClose()
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.ForceClose()
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.Close(context.Background(), ws.StatusGoingAway, "route source closed")
				return
			}
			msg := Message{Type: evt.Type.String(), Target: evt.ActiveTarget(), Routes: evt.Routes}
			if err := conn.WriteJSON(ctx, msg); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				conn.ForceClose()
				return
			}
		}
	}
}
