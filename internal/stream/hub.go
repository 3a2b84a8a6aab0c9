// Package stream fans bus events out to websocket peers.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loykin/craftvisor/internal/console"
	"github.com/loykin/craftvisor/internal/event"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// DefaultQueue is the per-peer buffer. A peer that falls this far behind
	// loses events rather than stalling the dispatcher.
	DefaultQueue = 256
	replayLines  = 100
)

// Hub is an event.Handler that broadcasts every event to connected peers.
type Hub struct {
	upgrader websocket.Upgrader
	backlog  *console.Backlog
	logger   *slog.Logger
	queue    int

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

type Option func(*Hub)

// WithBacklog replays recent console lines to each new peer.
func WithBacklog(b *console.Backlog) Option { return func(h *Hub) { h.backlog = b } }

func WithLogger(l *slog.Logger) Option { return func(h *Hub) { h.logger = l } }

// WithQueue sets the per-peer buffer size.
func WithQueue(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queue = n
		}
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:   slog.Default(),
		queue:    DefaultQueue,
		clients:  make(map[string]*Client),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Client is one websocket peer.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan event.Event
	hub  *Hub
	once sync.Once
}

// Handle implements event.Handler. It never blocks.
func (h *Hub) Handle(e event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.logger.Debug("Websocket peer queue full, dropping event", "client", c.ID, "type", e.Type)
		}
	}
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &Client{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan event.Event, h.queue+replayLines),
		hub:  h,
	}
	if h.backlog != nil {
		for _, l := range h.backlog.Last(replayLines) {
			c.send <- replay(l)
		}
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Info("Websocket peer connected", "client", c.ID, "remote", r.RemoteAddr)
	go c.writePump()
	go c.readPump()
}

func replay(l console.Line) event.Event {
	level := event.LevelInfo
	if l.Source == event.SourceStderr {
		level = event.LevelError
	}
	return event.Event{
		Type:      event.TypeLog,
		Timestamp: l.Time,
		Payload:   event.LogPayload{Level: level, Message: l.Text, Source: l.Source},
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.ID] = c
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	h.mu.Unlock()
	if ok {
		c.close()
		h.logger.Info("Websocket peer disconnected", "client", c.ID)
	}
}

// Close disconnects every peer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (c *Client) close() { c.once.Do(func() { close(c.send) }) }

// readPump discards inbound frames; it only exists to service pongs and
// notice the peer going away.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Websocket read error", "client", c.ID, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case e, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				c.hub.logger.Warn("Failed to encode event", "type", e.Type, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
