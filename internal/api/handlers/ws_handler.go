package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/notify"
)

const (
	wsReadLimit    = 1024
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
)

type WSHandler struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSHandler(hub *notify.Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks are handled by the CORS layer in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve upgrades the connection and registers it with the hub. The read
// pump only services heartbeats: clients never send payloads, they just
// keep the connection alive.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "user_id")
	if uid == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", uid, "error", err)
		return
	}

	conn := h.hub.Connect(uid, ws)
	go h.readPump(ws, conn, uid)
	go h.pingLoop(ws)
}

func (h *WSHandler) readPump(ws *websocket.Conn, conn *notify.Conn, uid string) {
	defer func() {
		h.hub.Disconnect(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		// Any inbound frame counts as a heartbeat.
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

func (h *WSHandler) pingLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for range ticker.C {
		deadline := time.Now().Add(10 * time.Second)
		if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			return
		}
	}
}
