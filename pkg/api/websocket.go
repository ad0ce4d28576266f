package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/minimarket/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is handled by the REST middleware
		return true
	},
}

// Hub maintains active WebSocket connections and fans out channel messages
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewHub creates a new WebSocket hub. m may be nil.
func NewHub(log *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
		metrics:    m,
	}
}

// Run owns client registration until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.observeClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.observeClients(n)
			h.log.Infow("ws_client_connected", "client", client.id, "total", n)

		case client := <-h.unregister:
			h.drop(client)
		}
	}
}

// drop removes client and closes its send queue once.
func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.observeClients(n)
		h.log.Infow("ws_client_disconnected", "client", client.id, "total", n)
	}
}

// BroadcastToChannel sends a message to every client subscribed to channel.
// Slow clients whose buffer is full are disconnected.
func (h *Hub) BroadcastToChannel(channel, msgType string, data any) {
	message, err := json.Marshal(WSMessage{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		h.log.Errorw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.IsSubscribed(channel) {
			continue
		}
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.log.Warnw("ws_client_too_slow", "client", client.id, "channel", channel)
		h.drop(client)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) observeClients(n int) {
	if h.metrics != nil {
		h.metrics.WebsocketClients.Set(float64(n))
	}
}

// reply queues a message for one client without blocking.
func (h *Hub) reply(c *Client, msg WSMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
}

func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
}

// readPump handles subscription requests until the connection fails
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnw("ws_read_failed", "client", c.id, "err", err)
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Debugw("ws_invalid_message", "client", c.id, "err", err)
			continue
		}

		var accepted []string
		for _, channel := range req.Channels {
			if !validChannel(channel) {
				continue
			}
			switch req.Op {
			case "subscribe":
				c.Subscribe(channel)
			case "unsubscribe":
				c.Unsubscribe(channel)
			}
			accepted = append(accepted, channel)
		}
		switch req.Op {
		case "subscribe":
			c.hub.reply(c, WSMessage{Type: "subscribed", Channels: accepted, Timestamp: time.Now().UnixMilli()})
		case "unsubscribe":
			c.hub.reply(c, WSMessage{Type: "unsubscribed", Channels: accepted, Timestamp: time.Now().UnixMilli()})
		default:
			c.hub.log.Debugw("ws_unknown_op", "client", c.id, "op", req.Op)
		}
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *Client) writePump() {
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
				// Hub closed the channel
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

func validChannel(ch string) bool {
	switch ch {
	case ChannelTrades, ChannelOrderbook, ChannelMarket:
		return true
	}
	return false
}

// handleWebSocket upgrades the connection and starts the client pumps
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
