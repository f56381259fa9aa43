package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// Channels are the signal bus channels bridged to WebSocket clients.
var Channels = []string{
	domain.ChannelAlerts,
	domain.ChannelPriceUpdates,
	domain.ChannelSubscriptions,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	subs  map[string]bool
	owner string // when set, only this owner's alerts and subscription events are delivered
	mu    sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage its feed:
//
//	{"action":"subscribe","channels":["alerts"],"owner":"12345"}
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Owner    *string  `json:"owner"`
}

// Hub manages a set of connected WebSocket clients and broadcasts messages
// from the signal bus to all subscribed clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
	tracked    func() int
}

// broadcastMsg carries a message along with its source channel and, for
// owner-scoped events, the owner it belongs to.
type broadcastMsg struct {
	channel string
	owner   string
	data    []byte
}

// Config captures runtime metadata sent to WebSocket clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// Tracked reports the current number of subscriptions. Optional.
	Tracked func() int
}

// NewHub creates a new WebSocket hub that bridges a SignalBus to connected
// WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
		tracked:    cfg.Tracked,
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration and message broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range Channels {
		go h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.wants(msg) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("ws: dropping message for slow client",
							slog.String("channel", msg.channel),
						)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChannel subscribes to a single bus channel and forwards received
// messages to the hub's broadcast channel.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, owner: ownerOf(data), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ownerOf extracts data.owner_id from a bus event envelope.
func ownerOf(payload []byte) string {
	var env struct {
		Data struct {
			OwnerID string `json:"owner_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	return env.Data.OwnerID
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. The optional ?owner= query parameter scopes the
// feed to a single owner.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		subs:  make(map[string]bool),
		owner: strings.TrimSpace(r.URL.Query().Get("owner")),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendInitialStatus()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription management messages from the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
	if msg.Owner != nil {
		c.owner = strings.TrimSpace(*msg.Owner)
	}
}

// sendInitialStatus pushes a status envelope so clients can mark the
// connection healthy before any alert flows.
func (c *client) sendInitialStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	payload := map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
		"channels":       Channels,
	}
	if c.hub.tracked != nil {
		payload["subscriptions"] = c.hub.tracked()
	}

	msg, err := json.Marshal(map[string]any{
		"event": "bot_status",
		"data":  payload,
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// wants reports whether msg should be delivered to this client.
func (c *client) wants(msg broadcastMsg) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.subs[msg.channel] {
		return false
	}
	if c.owner != "" && msg.owner != "" && msg.owner != c.owner {
		return false
	}
	return true
}

// writePump pumps messages from the hub to the connection as JSON text frames
// and sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
