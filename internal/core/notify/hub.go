// Package notify fans file-processing status deltas out to live WebSocket
// connections. This channel is a live status mirror, not a durable log: a
// client that is not connected simply misses events.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// wsConn is the slice of *websocket.Conn this hub needs. Kept as an
// interface so tests can stand in for a real socket.
type wsConn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

const writeTimeout = 10 * time.Second

// Conn is one registered client connection. Writes are serialized per
// connection; gorilla/websocket allows only one concurrent writer.
type Conn struct {
	ws     wsConn
	userID string
	mu     sync.Mutex
}

func (c *Conn) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// frame is the JSON envelope pushed to clients.
type frame struct {
	Type      string      `json:"type"`
	FileID    string      `json:"file_id,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub tracks live connections keyed by user id. Many connections per user
// (tabs, devices) are expected.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]map[*Conn]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]map[*Conn]struct{}),
		logger: logger,
	}
}

// Connect registers a connection for the user and returns its handle.
func (h *Hub) Connect(userID string, ws wsConn) *Conn {
	c := &Conn{ws: ws, userID: userID}

	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*Conn]struct{})
	}
	h.conns[userID][c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("websocket connected", "user_id", userID)
	return c
}

// Disconnect removes a connection. Safe to call more than once.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	if set, ok := h.conns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()

	h.logger.Info("websocket disconnected", "user_id", c.userID)
}

// PushFileUpdate sends a status delta to every live connection for the
// user, best-effort. A failed send removes only that connection and never
// surfaces an error to the caller; pushing to a user with no connections
// is a no-op.
func (h *Hub) PushFileUpdate(userID, fileID string, data interface{}) {
	h.mu.Lock()
	set := h.conns[userID]
	targets := make([]*Conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	msg := frame{
		Type:      "file_update",
		FileID:    fileID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			h.logger.Warn("dropping dead websocket", "user_id", userID, "error", err)
			h.Disconnect(c)
			_ = c.ws.Close()
		}
	}
}

// ConnectionCount returns the total number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

// UserConnectionCount returns the number of live connections for one user.
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}
