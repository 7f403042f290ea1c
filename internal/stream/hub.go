// Package stream pushes price, P&L and risk-alert updates to WebSocket
// clients, optionally fanned out across instances through Redis pub/sub.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riskdesk/risk-engine/internal/metrics"
)

// Message types.
const (
	TypePriceUpdate = "price_update"
	TypePnLUpdate   = "pnl_update"
	TypeRiskAlert   = "risk_alert"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Message is a JSON message sent to WebSocket clients.
type Message struct {
	Type      string    `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers messages to subscribers. Both Hub (local clients only)
// and RedisRelay (every instance) implement it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// envelope is a queued broadcast with the fields clients filter on.
type envelope struct {
	msgType   string
	accountID string
	data      []byte
}

// Hub manages WebSocket connections and broadcasts messages to the clients
// subscribed to them. It is created by the caller and lives until the
// context passed to Run is cancelled.
type Hub struct {
	clients    map[*websocket.Conn]*client
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex

	upgrader websocket.Upgrader
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // dashboards are served from another origin
			},
		},
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every client connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "total", n)

		case c := <-h.unregister:
			h.remove(c.conn)

		case env := <-h.broadcast:
			for _, c := range h.snapshot() {
				if err := c.deliver(env.msgType, env.accountID, env.data); err != nil {
					h.remove(c.conn)
				}
			}
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// status returns the client count and the number of clients on each
// subscription channel.
func (h *Hub) status() (int, map[string]int) {
	clients := h.snapshot()
	active := make(map[string]int)
	for _, c := range clients {
		for _, ch := range c.subscribed() {
			active[ch]++
		}
	}
	return len(clients), active
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every connected client. It never blocks:
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws marshal failed", "type", msg.Type, "err", err)
		return
	}
	h.enqueue(envelope{msgType: msg.Type, accountID: msg.AccountID, data: data})
}

// broadcastRaw queues an already encoded Message, as received from Redis.
func (h *Hub) broadcastRaw(data []byte) {
	var head struct {
		Type      string `json:"type"`
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		slog.Warn("ws dropped undecodable message", "err", err)
		return
	}
	h.enqueue(envelope{msgType: head.Type, accountID: head.AccountID, data: data})
}

func (h *Hub) enqueue(env envelope) {
	select {
	case h.broadcast <- env:
	default:
		slog.Warn("ws broadcast queue full, dropping message")
	}
}

// Publish implements Publisher for a single instance.
func (h *Hub) Publish(_ context.Context, msg Message) error {
	h.Broadcast(msg)
	return nil
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. A new
// client is greeted with the available channels and receives every message
// until it subscribes. Client frames are JSON commands: subscribe and
// unsubscribe (with "channels" and an optional "account_id"), ping and
// get_status. An account_id query parameter sets the account filter up
// front.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := newClient(conn)
	c.account = r.URL.Query().Get("account_id")
	if err := c.send(reply{
		Type: replyConnection, Status: "connected", AvailableChannels: AvailableChannels, AccountID: c.account,
	}); err != nil {
		conn.Close()
		return
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: answer client commands and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			if err := h.handleFrame(c, data); err != nil {
				slog.Warn("ws reply failed", "err", err)
				break
			}
		}
	}()

	// WriteControl may run concurrently with the hub's writes.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
			}
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}
