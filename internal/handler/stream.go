package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Single-user terminal; the UI may be served from another port.
		return true
	},
}

// Hub maintains the active websocket connections and pushes one snapshot
// frame per tick to each of them.
type Hub struct {
	clients    map[*streamClient]bool
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan []byte
	done       chan struct{}
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewHub creates a Hub. Run must be started before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*streamClient]bool),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes register/unregister/broadcast events until ctx is
// cancelled. Run it in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Closing done unblocks handlers still trying to attach or
			// detach after the event loop stops.
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client connected", slog.Int("total", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client disconnected", slog.Int("total", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow consumer; drop the frame rather than block the tick.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast marshals v and queues it for every connected client.
func (h *Hub) Broadcast(v any) {
	message, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal stream frame", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- message:
	default:
	}
}

// ServeHTTP upgrades GET /stream to a websocket connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &streamClient{hub: h, conn: conn, send: make(chan []byte, 16)}
	if !h.attach(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// attach registers c with the event loop. It reports false when the hub
// has already shut down.
func (h *Hub) attach(c *streamClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// detach unregisters c. Safe to call after the hub has shut down; the
// event loop closes every remaining client itself in that case.
func (h *Hub) detach(c *streamClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// streamClient is one websocket consumer of the snapshot stream.
type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// writePump forwards queued frames to the connection until the send
// channel closes.
func (c *streamClient) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// readPump discards client messages and unregisters on close. The stream
// is one-way; reading only detects disconnects.
func (c *streamClient) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
