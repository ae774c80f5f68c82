package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launchwatch/engine/internal/store"
)

const (
	feedWriteTimeout = 5 * time.Second

	// feedBuffer is how many events may queue for one client before it is
	// considered stalled and dropped
	feedBuffer = 64
)

// FeedEvent is one message on the live feed.
type FeedEvent struct {
	Type    string           `json:"type"`
	Scope   string           `json:"scope,omitempty"`
	CycleID string           `json:"cycle_id,omitempty"`
	Item    *store.Annotated `json:"item,omitempty"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// FeedHub fans annotated items out to connected websocket clients. Each client
// has its own queue and writer goroutine, so Broadcast never waits on a socket.
type FeedHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}

	// OnCountChange, when set, is called with the client count after every change
	OnCountChange func(n int)
}

// NewFeedHub returns an empty hub. The upgrader keeps gorilla's default
// origin check, which refuses browser requests from other origins.
func NewFeedHub() *FeedHub {
	return &FeedHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. Incoming messages are ignored.
func (h *FeedHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("feed_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedBuffer)}
	h.add(c)
	go h.writeLoop(c)
	slog.Debug("feed_client_connected", "remote", r.RemoteAddr)

	if b, err := json.Marshal(FeedEvent{Type: "welcome"}); err == nil {
		h.enqueue(c, b)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	slog.Debug("feed_client_disconnected", "remote", r.RemoteAddr)
}

func (h *FeedHub) add(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.countChanged(n)
}

// remove unregisters c, closes its queue and its connection. Safe to call twice.
func (h *FeedHub) remove(c *feedClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		h.countChanged(n)
	}
}

func (h *FeedHub) countChanged(n int) {
	if h.OnCountChange != nil {
		h.OnCountChange(n)
	}
}

// writeLoop is the only writer for c's connection.
func (h *FeedHub) writeLoop(c *feedClient) {
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			slog.Debug("feed_write_failed", "error", err)
			h.remove(c)
			return
		}
	}
}

// enqueue queues b for c and reports false when c's queue is full.
func (h *FeedHub) enqueue(c *feedClient, b []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enqueueLocked(c, b)
}

func (h *FeedHub) enqueueLocked(c *feedClient, b []byte) bool {
	if _, ok := h.clients[c]; !ok {
		return true
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Broadcast queues ev for every client. Clients whose queue is full are dropped.
func (h *FeedHub) Broadcast(ev FeedEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("feed_encode_failed", "error", err)
		return
	}

	h.mu.Lock()
	var stalled []*feedClient
	for c := range h.clients {
		if !h.enqueueLocked(c, b) {
			stalled = append(stalled, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stalled {
		slog.Warn("feed_client_dropped", "reason", "queue_full")
		h.remove(c)
	}
}

// Count returns the number of connected clients.
func (h *FeedHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *FeedHub) Close() {
	h.mu.Lock()
	clients := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}
