// Package monitor mirrors the visible terminal stream to websocket clients.
// Viewers see exactly what the user sees: the stream is tapped after the
// output filter, so injected-command chatter is absent here too. Clients are
// read-only; anything they send is discarded.
package monitor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const clientSendBuffer = 256

// Hub accepts websocket viewers on /ws and broadcasts output chunks to them.
type Hub struct {
	addr       string
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener

	mu      sync.RWMutex
	clients map[string]*client

	running bool
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub that will listen on addr (for example "127.0.0.1:8766").
func NewHub(addr string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		addr:    addr,
		logger:  logger,
		clients: make(map[string]*client),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	h.httpServer = &http.Server{Handler: mux}
	return h
}

// Start binds the listen address and serves in the background.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("monitor: listen %q: %w", h.addr, err)
	}
	h.listener = ln
	h.running = true

	go func() {
		if err := h.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("monitor server error", "error", err)
		}
	}()

	h.logger.Info("monitor listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, usable after Start.
func (h *Hub) Addr() string {
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept error", "error", err)
		return
	}

	c := &client{
		id:   generateID(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("viewer connected", "client", c.id, "total", total)

	ctx := r.Context()
	go c.readPump(ctx, h)
	c.writePump(ctx, h)
}

// Broadcast fans a visible output chunk out to every connected viewer.
// Slow viewers have the chunk dropped rather than stalling the proxy.
func (h *Hub) Broadcast(data []byte) {
	if len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- chunk:
		default:
			h.logger.Warn("viewer send buffer full, dropping chunk", "client", c.id)
		}
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("viewer disconnected", "client", c.id, "total", total)
}

// Close stops the server and disconnects all viewers.
func (h *Hub) Close() error {
	if !h.running {
		return nil
	}
	h.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.httpServer.Shutdown(ctx)

	h.mu.Lock()
	for id, c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "proxy shutting down")
		close(c.send)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	return err
}

// writePump sends broadcast chunks as binary messages until the client goes
// away or the send channel closes.
func (c *client) writePump(ctx context.Context, h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for chunk := range c.send {
		if err := c.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return
		}
	}
}

// readPump discards client messages; viewers are read-only. Reading is still
// required so pings are answered and closure is noticed.
func (c *client) readPump(ctx context.Context, h *Hub) {
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func generateID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("client-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
