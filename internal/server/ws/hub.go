// Package ws bridges the Redis signal bus to websocket clients. Deal status
// transitions, dispute events and action updates published by the services
// are fanned out here as JSON text frames.
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

	"github.com/alanyoungcy/escrowd/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Every connection starts subscribed to the full set; clients narrow it
// with subscribe messages. ch:deal:{id} carries per-deal events, the rest
// are firehoses.
var defaultChannels = []string{"ch:deal:*", "deals", "disputes", "actions"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS middleware in front of us.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config is the static metadata included in the hello frame.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub owns the connection set and routes bus messages to subscribed
// connections.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger

	mode      string
	startedAt time.Time

	inbound chan busMessage

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

type busMessage struct {
	channel string
	payload []byte
}

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
		bus:       bus,
		logger:    logger,
		mode:      mode,
		startedAt: startedAt,
		inbound:   make(chan busMessage, 256),
		conns:     make(map[*conn]struct{}),
	}
}

// Run consumes the bus subscriptions until ctx ends, then drops every
// connection.
func (h *Hub) Run(ctx context.Context) error {
	for _, channel := range defaultChannels {
		go h.pump(ctx, channel)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.conns {
				close(c.send)
				delete(h.conns, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case msg := <-h.inbound:
			h.mu.RLock()
			for c := range h.conns {
				if !c.wants(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// Slow consumer; dropping beats blocking the fanout.
					h.logger.Warn("ws: dropped frame for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pump forwards one bus channel into the hub's inbound queue.
func (h *Hub) pump(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			h.inbound <- busMessage{channel: channel, payload: payload}
		}
	}
}

// HandleWS upgrades the request and starts the connection's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &conn{
		hub:  h,
		ws:   wsConn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]bool, len(defaultChannels)),
	}
	for _, channel := range defaultChannels {
		c.subs[channel] = true
	}

	h.attach(c)
	c.hello()

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) attach(c *conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("ws: client connected", slog.Int("total_clients", n))
}

func (h *Hub) detach(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))
}

// conn is one websocket client with its subscription set.
type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg adjusts the connection's channel set. Either the action form
// {"action":"subscribe","channels":[...]} or the shorthand
// {"subscribe":[...],"unsubscribe":[...]} is accepted.
type subscribeMsg struct {
	Action      string   `json:"action"`
	Channels    []string `json:"channels"`
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

func (m subscribeMsg) empty() bool {
	return m.Action == "" && len(m.Channels) == 0 && len(m.Subscribe) == 0 && len(m.Unsubscribe) == 0
}

// readLoop consumes client frames, which only ever carry subscription
// changes, and keeps the pong deadline fresh.
func (c *conn) readLoop() {
	defer func() {
		c.hub.detach(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg subscribeMsg
		if err := json.Unmarshal(frame, &msg); err == nil && !msg.empty() {
			c.apply(msg)
		}
	}
}

func (c *conn) apply(msg subscribeMsg) {
	add := msg.Subscribe
	remove := msg.Unsubscribe
	switch msg.Action {
	case "subscribe":
		add = append(add, msg.Channels...)
	case "unsubscribe":
		remove = append(remove, msg.Channels...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, channel := range add {
		c.subs[channel] = true
	}
	for _, channel := range remove {
		delete(c.subs, channel)
	}
}

// wants reports whether the connection subscribed to channel, honoring
// trailing-star patterns like ch:deal:*.
func (c *conn) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}
	return false
}

// hello tells the client the connection is live before any deal events flow.
func (c *conn) hello() {
	uptime := max(int64(time.Since(c.hub.startedAt).Seconds()), 0)
	frame, err := json.Marshal(map[string]any{
		"type": "server_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// writeLoop drains the send queue and keeps the connection alive with pings.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
