// Package hub is a pathed WebSocket broadcaster. Clients attach to one of a
// fixed set of paths; broadcasts fan out to every client of a path and
// silently prune connections whose send fails.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/stagehand-live/stagehand/internal/observe"
)

const writeTimeout = 10 * time.Second

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// client is one attached connection. writeMu serialises writes; gorilla
// connections do not allow concurrent writers.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// Hub fans out messages to WebSocket clients grouped by path. All methods
// are safe for concurrent use.
type Hub struct {
	metrics  *observe.Metrics
	upgrader websocket.Upgrader

	mu    sync.Mutex
	paths map[string][]*client
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		metrics: observe.DefaultMetrics(),
		upgrader: websocket.Upgrader{
			// The operator front-end is served from a different origin in
			// development setups.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		paths: make(map[string][]*client),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Upgrade accepts the WebSocket handshake and registers the connection
// under path. The returned connection stays registered until Remove is
// called or a broadcast to it fails.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, path string) (*websocket.Conn, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("hub: upgrade %s: %w", path, err)
	}
	h.Add(conn, path)
	return conn, nil
}

// Add registers an already-upgraded connection under path.
func (h *Hub) Add(conn *websocket.Conn, path string) {
	h.mu.Lock()
	h.paths[path] = append(h.paths[path], &client{conn: conn})
	h.mu.Unlock()

	h.metrics.ConnectedClients.Add(context.Background(), 1,
		metric.WithAttributes(observe.Attr("path", path)))
	slog.Debug("websocket client attached", "path", path)
}

// Remove detaches conn from path. The connection itself is not closed.
func (h *Hub) Remove(conn *websocket.Conn, path string) {
	h.mu.Lock()
	clients := h.paths[path]
	for i, c := range clients {
		if c.conn == conn {
			h.paths[path] = append(clients[:i], clients[i+1:]...)
			h.mu.Unlock()
			h.metrics.ConnectedClients.Add(context.Background(), -1,
				metric.WithAttributes(observe.Attr("path", path)))
			slog.Debug("websocket client detached", "path", path)
			return
		}
	}
	h.mu.Unlock()
}

// Count reports the number of clients attached to path.
func (h *Hub) Count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.paths[path])
}

// Broadcast sends a text frame to every client of path. Failed clients are
// pruned; the send itself runs outside the hub lock.
func (h *Hub) Broadcast(path string, data []byte) {
	h.mu.Lock()
	clients := append([]*client(nil), h.paths[path]...)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.send(websocket.TextMessage, data); err != nil {
				slog.Debug("pruning websocket client", "path", path, "err", err)
				h.Remove(c.conn, path)
				_ = c.conn.Close()
			}
		}()
	}
	wg.Wait()
}

// BroadcastJSON marshals v and broadcasts it to path.
func (h *Hub) BroadcastJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("hub: marshal broadcast for %s: %w", path, err)
	}
	h.Broadcast(path, data)
	return nil
}

// CloseAll closes every attached connection and clears the hub.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	paths := h.paths
	h.paths = make(map[string][]*client)
	h.mu.Unlock()

	for path, clients := range paths {
		for _, c := range clients {
			_ = c.conn.Close()
			h.metrics.ConnectedClients.Add(context.Background(), -1,
				metric.WithAttributes(observe.Attr("path", path)))
		}
	}
}
