package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kalambet/jhm/internal/events"
)

const (
	hubWriteWait  = 10 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = 30 * time.Second
	hubSendBuffer = 64
)

// Envelope wraps every frame sent to event subscribers.
type Envelope struct {
	Type      string       `json:"type"`
	Data      events.Event `json:"data"`
	Timestamp int64        `json:"timestamp"`
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans data-updated events out to connected websocket clients.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*hubClient

	broadcast  chan []byte
	register   chan *hubClient
	unregister chan *hubClient
	done       chan struct{}
}

// NewHub returns a Hub. Call Run to start delivery.
func NewHub() *Hub {
	return &Hub{
		logger:     slog.Default(),
		clients:    make(map[string]*hubClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		done:       make(chan struct{}),
	}
}

// Attach forwards every event published on bus to the hub's clients.
func (h *Hub) Attach(bus *events.Bus) (detach func()) {
	return bus.Subscribe(h.Publish)
}

// Run manages client registration and broadcast until ctx ends, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("events client connected", "id", c.id, "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("events client disconnected", "id", c.id, "total", n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow consumer
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues e for every client. It never blocks; when the queue is
// full the event is dropped.
func (h *Hub) Publish(e events.Event) {
	data, err := json.Marshal(Envelope{Type: e.Name, Data: e, Timestamp: time.Now().Unix()})
	if err != nil {
		h.logger.Warn("events: marshal failed", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("events: broadcast queue full, dropping event", "name", e.Name)
	}
}

// ServeWS upgrades the request and subscribes the connection.
func (h *Hub) ServeWS(upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("events: upgrade failed", "error", err)
			return
		}
		c := &hubClient{
			id:   uuid.New().String(),
			conn: conn,
			send: make(chan []byte, hubSendBuffer),
			hub:  h,
		}
		select {
		case h.register <- c:
		case <-h.done:
			conn.Close()
			return
		}
		go c.writePump()
		go c.readPump()
	}
}

// readPump discards client frames; it exists to process control frames
// and notice disconnects.
func (c *hubClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("events: read error", "error", err)
			}
			return
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
