package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/events"
)

const writeWait = 5 * time.Second

var errClientClosed = errors.New("client connection closed")

// Hub pushes pipeline events to websocket clients
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	clients map[string]*Client
	mu      sync.RWMutex

	allowedOrigins []string
	sendBufferSize int

	status      func() any
	unsubscribe func()
}

// Client represents a connected websocket client
type Client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	logger *zap.Logger

	send chan []byte

	closed bool
	mu     sync.RWMutex
}

// Message is the JSON envelope sent to and received from clients
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NewHub creates a hub
func NewHub(allowedOrigins []string, sendBufferSize int, logger *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if sendBufferSize <= 0 {
		sendBufferSize = 16
	}

	h := &Hub{
		logger:         logger.With(zap.String("component", "ws")),
		clients:        make(map[string]*Client),
		allowedOrigins: allowedOrigins,
		sendBufferSize: sendBufferSize,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// SetStatus sets the snapshot sent to clients on connect and on request
func (h *Hub) SetStatus(status func() any) {
	h.status = status
}

// Attach forwards every bus event to the connected clients
func (h *Hub) Attach(bus *events.Bus) {
	if bus == nil {
		return
	}
	h.unsubscribe = events.SubscribeAll(bus, func(ev events.Event) {
		h.Broadcast(events.Name(ev), ev)
	})
}

// checkOrigin validates the request origin against allowed origins
func (h *Hub) checkOrigin(r *http.Request) bool {
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" {
			return true
		}
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser client
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn("Origin not allowed",
		zap.String("origin", origin),
		zap.Strings("allowed_origins", h.allowedOrigins))
	return false
}

// HandleWebSocket upgrades the request and registers the client
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	id := uuid.New().String()
	client := &Client{
		id:     id,
		conn:   conn,
		hub:    h,
		logger: h.logger.With(zap.String("client_id", id)),
		send:   make(chan []byte, h.sendBufferSize),
	}

	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()

	client.logger.Info("Client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.Header.Get("User-Agent")))

	go client.writePump()
	go client.readPump()

	if h.status != nil {
		client.sendMessage("status", h.status())
	}
}

// readPump handles incoming messages from the client
func (c *Client) readPump() {
	defer c.close()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			c.sendMessage("pong", nil)
		case "status":
			if c.hub.status != nil {
				c.sendMessage("status", c.hub.status())
			}
		default:
			c.sendMessage("error", map[string]string{"message": "unknown message type: " + msg.Type})
		}
	}
}

// writePump handles outgoing messages to the client
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Debug("WebSocket write error", zap.Error(err))
			go c.close()
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// sendMessage queues a message. A client whose queue is full is dropped.
func (c *Client) sendMessage(msgType string, data any) error {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("Client too slow, closing connection", zap.String("message_type", msgType))
		go c.close()
		return errors.New("send buffer full")
	}
}

// close unregisters the client and ends both pumps
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.hub.mu.Lock()
	delete(c.hub.clients, c.id)
	c.hub.mu.Unlock()

	c.logger.Info("Client disconnected")
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msgType string, data any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.sendMessage(msgType, data)
	}
}

// Close detaches from the bus and disconnects every client
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}
