// Package feed streams committed change records to websocket clients.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dealwatch/internal/domain"
	"dealwatch/internal/jsonview"
	"dealwatch/internal/observability"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	maxReadSize         = 512
)

// Message is one frame sent to clients.
type Message struct {
	Type   string           `json:"type"` // "change"
	Change *jsonview.Change `json:"change,omitempty"`
}

// Hub fans change records out to connected clients. A client whose buffer
// is full misses messages rather than stalling the publisher.
type Hub struct {
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	sendBuffer   int
	writeTimeout time.Duration
	pongWait     time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	entity string // only forward changes for this entity, empty for all
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithSendBuffer sets the per-client queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub creates a hub with no clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:       slog.Default(),
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		pongWait:     defaultPongWait,
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and registers the client. The optional
// "entity" query parameter filters the stream to one company.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("feed upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		entity: r.URL.Query().Get("entity"),
	}
	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	observability.UpdateFeedClients(len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	observability.UpdateFeedClients(len(h.clients))
}

// readLoop discards client frames and unregisters on disconnect.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop drains the client queue and keeps the connection alive.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish queues every change for every matching client.
func (h *Hub) Publish(_ context.Context, changes []*domain.ChangeRecord) error {
	frames := make([][]byte, len(changes))
	for i, c := range changes {
		view := jsonview.FromChange(c)
		raw, err := json.Marshal(Message{Type: "change", Change: &view})
		if err != nil {
			return err
		}
		frames[i] = raw
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		for i, change := range changes {
			if c.entity != "" && c.entity != change.EntityID {
				continue
			}
			select {
			case c.send <- frames[i]:
			default:
				observability.RecordFeedDrop()
			}
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	observability.UpdateFeedClients(0)
}
