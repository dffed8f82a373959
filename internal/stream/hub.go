// Package stream pushes lifecycle events to connected WebSocket clients.
// Server-push only: inbound frames other than pongs are discarded.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gradient-trading/gradient/internal/bus"
)

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 256              // messages in each client send channel
)

// AuthFunc validates the ?token= query parameter presented at upgrade time.
// It returns the authenticated user id and whether the caller is an admin.
type AuthFunc func(token string) (userID string, admin bool, err error)

// Envelope is the wire format for every pushed message.
type Envelope struct {
	Type bus.EventType `json:"type"`
	Data any           `json:"data"`
	TS   time.Time     `json:"ts"`
}

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	admin  bool
}

// Hub maintains the set of active clients and routes messages to per-user
// and admin channels. Run() must be started before ServeWs is used.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	auth AuthFunc

	upgrader websocket.Upgrader

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewHub creates a hub. auth must not be nil: every connection presents a
// token at upgrade and unauthenticated upgrades are rejected.
func NewHub(auth AuthFunc, allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		auth:       auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true // dev mode: allow all
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Run processes registration and unregistration sequentially.
// Call it once as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.userID] == nil {
				h.byUser[client.userID] = make(map[*Client]bool)
			}
			h.byUser[client.userID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if set := h.byUser[client.userID]; set != nil {
					delete(set, client)
					if len(set) == 0 {
						delete(h.byUser, client.userID)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades an HTTP request to a WebSocket connection. The caller
// must present a valid token; anonymous upgrades are refused before the
// protocol switch.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, admin, err := h.auth(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		admin:  admin,
	}
	h.register <- client

	log.Debug().Str("user_id", userID).Bool("admin", admin).Msg("stream client connected")

	go client.writePump()
	go client.readPump()
}

// SendToUser delivers an event to one user's connections and to the admin
// channel. Implements notifier.Broadcaster.
func (h *Hub) SendToUser(userID string, event bus.EventType, payload any) {
	data, ok := h.marshal(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.byUser[userID] {
		h.deliver(client, data)
	}
	for client := range h.clients {
		if client.admin && client.userID != userID {
			h.deliver(client, data)
		}
	}
}

// Broadcast delivers an event to every connected client.
func (h *Hub) Broadcast(event bus.EventType, payload any) {
	data, ok := h.marshal(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		h.deliver(client, data)
	}
}

func (h *Hub) marshal(event bus.EventType, payload any) ([]byte, bool) {
	data, err := json.Marshal(Envelope{Type: event, Data: payload, TS: time.Now()})
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("stream marshal error")
		return nil, false
	}
	return data, true
}

// deliver is best-effort: a client with a full buffer drops the message,
// the write pump detects a stalled connection separately.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
		h.sent.Add(1)
	default:
		h.dropped.Add(1)
	}
}

// HubStats is a point-in-time snapshot of hub counters.
type HubStats struct {
	Connected int   `json:"connected"`
	Sent      int64 `json:"sent"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Connected: h.ConnectedCount(),
		Sent:      h.sent.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// writePump drains the client's send channel and writes to the connection,
// sending ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the connection drops, then unregisters the
// client. Unregistration is guaranteed: no listener outlives its connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("stream client dropped")
			}
			return
		}
		// Inbound messages are silently dropped; server is push-only.
	}
}
