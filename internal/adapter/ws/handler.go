// Package ws streams repository activity to dashboard clients over
// WebSocket. The hub fans change, index, and query events out to every
// connected client.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all frames on the activity feed.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub tracks the connected feed clients and broadcasts events to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an activity feed hub with no clients.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// HandleWS upgrades the request to a WebSocket and subscribes the client
// to the activity feed until it disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("feed client connected", "remote", r.RemoteAddr)

	if err := c.ws.Write(ctx, websocket.MessageText, helloFrame()); err != nil {
		h.drop(c)
		return
	}

	go h.readLoop(ctx, c)
}

// helloFrame builds the first frame sent to a new client, listing the
// event types the feed carries so dashboards can register handlers.
func helloFrame() []byte {
	payload, _ := json.Marshal(struct {
		Events []string `json:"events"`
	}{Events: []string{EventChangeDetected, EventIndexResult, EventQueryAnswered}})
	data, _ := json.Marshal(Message{Type: "hello", Payload: payload})
	return data
}

// readLoop consumes inbound frames to detect disconnects and service pings.
// The feed is one-way, so the payloads are discarded.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer func() {
		h.drop(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := c.ws.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast sends a frame to every connected client. Clients whose write
// fails are dropped from the feed.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.drop(c)
		}
	}
}

// ConnectionCount returns the number of connected feed clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		c.cancel()
		delete(h.clients, c)
		slog.Info("feed client disconnected")
	}
}
