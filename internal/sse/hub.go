// Package sse is the operator status broadcast channel: cmd/record
// pushes Session Controller state transitions
// (internal/session.StatusEvent) here so /api/sessions/events can stream
// them to a connected operator as they happen (SPEC_FULL.md §12). This
// is ambient observability, not a playback surface — the explicitly
// excluded "embedded web UI"/"web playback client" Non-goals don't
// apply to it.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Client represents a connected SSE browser client.
type Client struct {
	ID     string
	Events chan []byte // outbound event data
}

// Hub manages SSE client connections and broadcasts events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
}

// NewHub creates a new SSE hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Info("sse client connected", "id", client.ID, "total", h.Count())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Events)
			}
			h.mu.Unlock()
			slog.Info("sse client disconnected", "id", client.ID, "total", h.Count())

		case data := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.Events <- data:
				default:
					// Client buffer full — drop message rather than block
					slog.Warn("sse client buffer full, dropping message", "id", client.ID)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.Events)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds a client to the hub.
// Uses a select so that sends after Close() don't block forever.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
// Uses a select so that sends after Close() don't block forever.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast sends a named SSE event to all connected clients.
// Uses a select so that sends after Close() don't block forever.
func (h *Hub) Broadcast(event string, data []byte) {
	msg := fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event, data)
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// BroadcastJSON marshals v and broadcasts it as event, for callers that
// have a Go value (e.g. internal/session.StatusEvent) rather than
// pre-encoded bytes.
func (h *Hub) BroadcastJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal %s event: %w", event, err)
	}
	h.Broadcast(event, data)
	return nil
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP streams every broadcast event to one connecting client
// until it disconnects, for GET /api/sessions/events. Grounded on the
// teacher's HandleSSE (connect header, keepalive comment, drain-then-
// flush loop) minus its per-client state-replay cache — status events
// have no retained snapshot to replay, only a live feed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &Client{
		ID:     strconv.FormatInt(time.Now().UnixNano(), 10),
		Events: make(chan []byte, 256),
	}
	h.Register(client)
	defer h.Unregister(client)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case msg, ok := <-client.Events:
			if !ok {
				return
			}
			w.Write(msg)
		drain:
			for {
				select {
				case extra, ok := <-client.Events:
					if !ok {
						flusher.Flush()
						return
					}
					w.Write(extra)
				default:
					break drain
				}
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// Close shuts down the hub.
func (h *Hub) Close() {
	close(h.done)
}
