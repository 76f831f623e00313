package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cragline/cragline-core/internal/infrastructure/config"
	"github.com/cragline/cragline-core/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypePing  = "ping"
	WSTypePong  = "pong"
	WSTypeEvent = "event"
	WSTypeError = "error"

	// EventSessionRevoked reports that one session was revoked or logged out.
	EventSessionRevoked = "session.revoked"

	// EventSessionsRevoked reports a bulk revocation (password change,
	// recovery reset, account deletion).
	EventSessionsRevoked = "sessions.revoked"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 64

	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second
	defaultWSMaxMessageSize = 4096
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SessionEventPayload tells a connected tab what happened. ThisDevice is
// true when the tab's own session is gone and it should drop its state.
type SessionEventPayload struct {
	SessionID  string `json:"session_id,omitempty"`
	ThisDevice bool   `json:"this_device"`
}

// Hub tracks WebSocket connections per user and delivers session events.
type Hub struct {
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents one connected browser tab.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string

	// sessionID is the refresh-token id the tab connected with. It follows
	// rotations and is guarded by hub.mu.
	sessionID string
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", client.userID, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NotifySessionRevoked tells every tab of userID that sessionID is gone.
func (h *Hub) NotifySessionRevoked(userID, sessionID string) {
	h.sendToUser(userID, EventSessionRevoked, func(c *WSClient) any {
		return SessionEventPayload{
			SessionID:  sessionID,
			ThisDevice: c.sessionID != "" && c.sessionID == sessionID,
		}
	})
}

// NotifyAllRevoked tells every tab of userID that all sessions except
// keepSessionID are gone.
func (h *Hub) NotifyAllRevoked(userID, keepSessionID string) {
	h.sendToUser(userID, EventSessionsRevoked, func(c *WSClient) any {
		return SessionEventPayload{
			ThisDevice: keepSessionID == "" || c.sessionID != keepSessionID,
		}
	})
}

// RenameSession moves tabs from a rotated session id to its replacement.
func (h *Hub) RenameSession(oldID, newID string) {
	if oldID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.sessionID == oldID {
			c.sessionID = newID
		}
	}
}

// sendToUser builds a per-client payload under the hub read lock and
// queues it without blocking.
func (h *Hub) sendToUser(userID, eventType string, build func(c *WSClient) any) {
	now := time.Now().UTC().Format(time.RFC3339)

	h.mu.RLock()
	type outbound struct {
		client *WSClient
		data   []byte
	}
	var out []outbound
	for c := range h.clients {
		if c.userID != userID {
			continue
		}
		data, err := json.Marshal(WSMessage{
			Type:      WSTypeEvent,
			EventType: eventType,
			Timestamp: now,
			Payload:   build(c),
		})
		if err != nil {
			h.logger.Error("failed to marshal session event", "error", err)
			continue
		}
		out = append(out, outbound{client: c, data: data})
	}
	h.mu.RUnlock()

	for _, o := range out {
		o.client.trySend(o.data)
	}
	if len(out) > 0 {
		h.logger.Debug("session event sent", "event", eventType, "user_id", userID, "recipients", len(out))
	}
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleSessionEvents upgrades to a WebSocket that streams the caller's
// session events. Authentication uses the access cookie or Bearer header
// (RequireAuth); the Origin must be on the allow-list.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		userID:    claims.UserID(),
		sessionID: s.currentSessionID(r),
	}

	s.hub.Register(client)

	timings := wsTimingsFrom(s.wsCfg)
	go client.writePump(timings)
	go client.readPump(timings)
}

// wsTimings are the resolved WebSocket keepalive settings.
type wsTimings struct {
	pingInterval   time.Duration
	pongWait       time.Duration
	maxMessageSize int64
}

func wsTimingsFrom(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		pingInterval:   time.Duration(cfg.PingInterval) * time.Second,
		pongWait:       time.Duration(cfg.PongTimeout) * time.Second,
		maxMessageSize: int64(cfg.MaxMessageSize),
	}
	if t.pingInterval <= 0 {
		t.pingInterval = defaultWSPingInterval
	}
	if t.pongWait <= 0 {
		t.pongWait = defaultWSPongTimeout
	}
	if t.maxMessageSize <= 0 {
		t.maxMessageSize = defaultWSMaxMessageSize
	}
	return t
}

// readPump reads messages from the WebSocket connection. The stream is
// server-to-client; the only client message handled is ping.
func (c *WSClient) readPump(t wsTimings) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(t.maxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendResponse("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendResponse(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during a send)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}
