package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Hub manages WebSocket connections grouped into per-conversation rooms.
// Each process has one Hub instance.
type Hub struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Room membership: chat_id → set of connection_ids
	rooms  map[string]map[string]bool
	roomMu sync.RWMutex

	maxConnections int
	writeTimeout   time.Duration

	logger *slog.Logger
}

// Connection represents a single WebSocket client.
//
// room is accessed without a lock. All reads and writes happen on the single
// goroutine that owns the connection (HandleConnection's read loop and its
// deferred cleanup).
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	room   string
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub. maxConnections caps concurrent clients; further
// upgrades are rejected with an error frame before close.
func NewHub(maxConnections int, writeTimeout time.Duration) *Hub {
	return &Hub{
		connections:    make(map[string]*Connection),
		rooms:          make(map[string]map[string]bool),
		maxConnections: maxConnections,
		writeTimeout:   writeTimeout,
		logger:         slog.With("component", "events.hub"),
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection
// joined to the given conversation room. Called by the HTTP handler after
// upgrade. Blocks until the connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn, chatID string) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:     connID,
		Conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	if !h.register(c) {
		h.sendJSON(c, map[string]string{
			"type":    EventTypeError,
			"message": "connection limit reached",
		})
		cancel()
		_ = conn.Close(websocket.StatusPolicyViolation, "connection limit reached")
		return
	}
	defer h.unregister(c)

	h.joinRoom(c, chatID)

	h.sendJSON(c, &ConnectedPayload{
		Type:         EventTypeConnected,
		ChatID:       chatID,
		ConnectionID: connID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	})

	// Read loop — process client frames until the connection closes.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("Invalid WebSocket frame",
				"connection_id", connID, "error", err)
			h.sendJSON(c, map[string]string{
				"type":    EventTypeError,
				"message": "malformed frame",
			})
			continue
		}

		h.handleClientMessage(c, &msg)
	}
}

func (h *Hub) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Type {
	case "ping":
		h.sendJSON(c, map[string]string{
			"type":      EventTypePong,
			"timestamp": eventTime(),
		})

	case "subscribe":
		if msg.ChatID == "" {
			h.sendJSON(c, map[string]string{
				"type":    EventTypeError,
				"message": "chat_id is required for subscribe",
			})
			return
		}
		h.joinRoom(c, msg.ChatID)

	default:
		h.sendJSON(c, map[string]string{
			"type":    EventTypeError,
			"message": "unknown message type",
		})
	}
}

// Broadcast sends a payload to every connection in the chat's room.
// Failed writes are logged and the subscriber is dropped from the room;
// delivery is best-effort.
func (h *Hub) Broadcast(chatID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("Failed to marshal broadcast payload",
			"chat_id", chatID, "error", err)
		return
	}

	h.roomMu.RLock()
	members, exists := h.rooms[chatID]
	if !exists {
		h.roomMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	h.roomMu.RUnlock()

	// Snapshot connection pointers, then release before sending so slow
	// writes don't stall register/unregister.
	h.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := h.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := h.sendRaw(conn, data); err != nil {
			h.logger.Warn("Dropping WebSocket subscriber after failed send",
				"connection_id", conn.ID, "chat_id", chatID, "error", err)
			h.leaveRoom(conn.ID, chatID)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomSize returns the number of members in a conversation room.
func (h *Hub) RoomSize(chatID string) int {
	h.roomMu.RLock()
	defer h.roomMu.RUnlock()
	return len(h.rooms[chatID])
}

// register adds a connection, refusing when the cap is reached.
func (h *Hub) register(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxConnections > 0 && len(h.connections) >= h.maxConnections {
		return false
	}
	h.connections[c.ID] = c
	return true
}

func (h *Hub) unregister(c *Connection) {
	if c.room != "" {
		h.leaveRoom(c.ID, c.room)
	}

	h.mu.Lock()
	delete(h.connections, c.ID)
	h.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// joinRoom moves the connection into the given room, leaving any previous one.
func (h *Hub) joinRoom(c *Connection, chatID string) {
	if c.room == chatID {
		return
	}
	if c.room != "" {
		h.leaveRoom(c.ID, c.room)
	}

	h.roomMu.Lock()
	if _, exists := h.rooms[chatID]; !exists {
		h.rooms[chatID] = make(map[string]bool)
	}
	h.rooms[chatID][c.ID] = true
	h.roomMu.Unlock()

	c.room = chatID
}

func (h *Hub) leaveRoom(connID, chatID string) {
	h.roomMu.Lock()
	if members, exists := h.rooms[chatID]; exists {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	h.roomMu.Unlock()
}

func (h *Hub) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		h.logger.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

func (h *Hub) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
