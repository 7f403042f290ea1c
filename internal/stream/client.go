package stream

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subscription channels a client may ask for.
const (
	SubPrices = "prices"
	SubPnL    = "pnl"
	SubAlerts = "alerts"
	SubAll    = "all"
)

// AvailableChannels is sent in the connection greeting.
var AvailableChannels = []string{SubPrices, SubPnL, SubAlerts, SubAll}

var subscriptionFor = map[string]string{
	TypePriceUpdate: SubPrices,
	TypePnLUpdate:   SubPnL,
	TypeRiskAlert:   SubAlerts,
}

// Client frame types and the replies they produce.
const (
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
	cmdPing        = "ping"
	cmdGetStatus   = "get_status"

	replyConnection     = "connection"
	replySubscription   = "subscription"
	replyUnsubscription = "unsubscription"
	replyPong           = "pong"
	replyStatus         = "status"
	replyError          = "error"
)

// clientFrame is a message sent by a WebSocket client.
type clientFrame struct {
	Type      string   `json:"type"`
	Channels  []string `json:"channels"`
	AccountID string   `json:"account_id"`
}

// reply is a message sent to one client only.
type reply struct {
	Type                string         `json:"type"`
	Status              string         `json:"status,omitempty"`
	Message             string         `json:"message,omitempty"`
	Channels            []string       `json:"channels,omitempty"`
	AvailableChannels   []string       `json:"available_channels,omitempty"`
	AccountID           string         `json:"account_id,omitempty"`
	ConnectedClients    *int           `json:"connected_clients,omitempty"`
	ActiveSubscriptions map[string]int `json:"active_subscriptions,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`
}

// client is one WebSocket connection. mu serializes data writes and guards
// the subscription state; control frames may be written concurrently.
type client struct {
	conn *websocket.Conn

	mu sync.Mutex
	// subs is nil until the first subscribe; an unsubscribed client
	// receives every message.
	subs    map[string]bool
	account string
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn}
}

// wants reports whether the client receives a message of the given type
// and account. Messages without an account pass any account filter.
func (c *client) wants(msgType, accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wantsLocked(msgType, accountID)
}

func (c *client) wantsLocked(msgType, accountID string) bool {
	if c.account != "" && accountID != "" && accountID != c.account {
		return false
	}
	if c.subs == nil || c.subs[SubAll] {
		return true
	}
	return c.subs[subscriptionFor[msgType]]
}

// deliver writes a broadcast message if the client is subscribed to it.
func (c *client) deliver(msgType, accountID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.wantsLocked(msgType, accountID) {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) send(r reply) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// subscribed returns the client's channels, or nil when it has not
// subscribed yet.
func (c *client) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		return nil
	}
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// subscribe adds channels, rejecting unknown names. A non-empty accountID
// replaces the account filter.
func (c *client) subscribe(channels []string, accountID string) error {
	if err := validChannels(channels); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		c.subs = make(map[string]bool)
	}
	for _, ch := range channels {
		c.subs[ch] = true
	}
	if accountID != "" {
		c.account = accountID
	}
	return nil
}

func (c *client) unsubscribe(channels []string) error {
	if err := validChannels(channels); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		c.subs = make(map[string]bool)
	}
	for _, ch := range channels {
		delete(c.subs, ch)
	}
	return nil
}

func validChannels(channels []string) error {
	if len(channels) == 0 {
		return fmt.Errorf("no channels given")
	}
	for _, ch := range channels {
		switch ch {
		case SubPrices, SubPnL, SubAlerts, SubAll:
		default:
			return fmt.Errorf("unknown channel: %s", ch)
		}
	}
	return nil
}

// handleFrame answers one client frame.
func (h *Hub) handleFrame(c *client, data []byte) error {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return c.send(reply{Type: replyError, Message: "invalid JSON format"})
	}

	switch f.Type {
	case cmdSubscribe:
		if err := c.subscribe(f.Channels, f.AccountID); err != nil {
			return c.send(reply{Type: replyError, Message: err.Error()})
		}
		return c.send(reply{Type: replySubscription, Status: "subscribed", Channels: f.Channels, AccountID: f.AccountID})
	case cmdUnsubscribe:
		if err := c.unsubscribe(f.Channels); err != nil {
			return c.send(reply{Type: replyError, Message: err.Error()})
		}
		return c.send(reply{Type: replyUnsubscription, Status: "unsubscribed", Channels: f.Channels})
	case cmdPing:
		return c.send(reply{Type: replyPong})
	case cmdGetStatus:
		n, active := h.status()
		return c.send(reply{Type: replyStatus, ConnectedClients: &n, ActiveSubscriptions: active})
	default:
		return c.send(reply{Type: replyError, Message: fmt.Sprintf("unknown message type: %q", f.Type)})
	}
}
