package sse

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rathix/dynamic-proxy/internal/routes"
)

// RouteSource is what the broker reads the route table through.
// Defined here at the consumer, not in the routes package.
type RouteSource interface {
	Snapshot() []routes.Route
	Subscribe() <-chan routes.Event
	Unsubscribe(<-chan routes.Event)
}

const defaultKeepaliveInterval = 15 * time.Second

type sseEvent struct {
	data []byte
}

// Broker streams route table changes to browser clients, so a page can show
// which backend its API calls are currently going to.
type Broker struct {
	source            RouteSource
	logger            *slog.Logger
	appVersion        string
	keepaliveInterval time.Duration

	mu      sync.Mutex
	clients map[chan sseEvent]struct{}
}

// NewBroker creates a new SSE broker.
func NewBroker(source RouteSource, logger *slog.Logger, appVersion string) *Broker {
	return newBrokerWithKeepalive(source, logger, appVersion, defaultKeepaliveInterval)
}

func newBrokerWithKeepalive(source RouteSource, logger *slog.Logger, appVersion string, keepaliveInterval time.Duration) *Broker {
	if keepaliveInterval <= 0 {
		keepaliveInterval = defaultKeepaliveInterval
	}
	return &Broker{
		source:            source,
		logger:            logger,
		appVersion:        appVersion,
		keepaliveInterval: keepaliveInterval,
		clients:           make(map[chan sseEvent]struct{}),
	}
}

// Run listens on the table's event channel and broadcasts to all connected
// clients. It blocks until the context is cancelled.
func (b *Broker) Run(ctx context.Context) {
	events := b.source.Subscribe()
	defer b.source.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			b.closeAllClients()
			b.logger.Info("SSE broker stopped")
			return
		case evt, ok := <-events:
			if !ok {
				b.closeAllClients()
				b.logger.Warn("SSE broker source channel closed")
				return
			}

			data, err := formatSSEEvent(evt.Type.String(), routesEventPayload(evt))
			if err != nil {
				b.logger.Debug("failed to format SSE event", "error", err)
				continue
			}
			b.broadcast(sseEvent{data: data})
			b.logger.Debug("SSE event broadcast", "type", evt.Type.String())
		}
	}
}

func (b *Broker) closeAllClients() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
}

// broadcast sends an event to all connected clients using non-blocking sends.
func (b *Broker) broadcast(evt sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			// Client too slow, skip this event
		}
	}
}

func (b *Broker) addClient(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[ch] = struct{}{}
	b.logger.Debug("SSE client connected", "clients", len(b.clients))
}

// removeClient unregisters a client; the channel may already be closed by shutdown.
func (b *Broker) removeClient(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, ch)
	b.logger.Debug("SSE client disconnected", "clients", len(b.clients))
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// ServeHTTP sets the stream headers, sends the current routes and then
// streams table events until the client goes away.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Register before the snapshot so no update is missed.
	clientCh := make(chan sseEvent, 16)
	b.addClient(clientCh)
	defer b.removeClient(clientCh)

	snapshot := b.source.Snapshot()
	initial, err := formatSSEEvent("state", StateEventPayload{
		AppVersion: b.appVersion,
		Target:     routes.ActiveTarget(snapshot),
		Routes:     snapshot,
	})
	if err != nil {
		b.logger.Debug("failed to format initial state event", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := writeAndFlush(w, flusher, initial); err != nil {
		return
	}

	keepalive := time.NewTicker(b.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-clientCh:
			if !ok {
				return
			}
			if err := writeAndFlush(w, flusher, evt.data); err != nil {
				b.logger.Debug("failed to write SSE event", "error", err)
				return
			}
			keepalive.Reset(b.keepaliveInterval)
		case <-keepalive.C:
			if err := writeAndFlush(w, flusher, formatKeepalive()); err != nil {
				return
			}
		}
	}
}

func writeAndFlush(w http.ResponseWriter, flusher http.Flusher, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
