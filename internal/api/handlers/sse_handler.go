package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/stream"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

const sseKeepaliveInterval = 30 * time.Second

type SSEHandler struct {
	hub    *stream.Hub
	logger *slog.Logger
}

func NewSSEHandler(hub *stream.Hub, logger *slog.Logger) *SSEHandler {
	return &SSEHandler{hub: hub, logger: logger}
}

// Serve streams session events as server-sent events until the stream
// ends, a terminal event is delivered, or the client goes away.
func (h *SSEHandler) Serve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	session := h.hub.Open(sessionID)
	// The session dies with its client: every return path, including
	// disconnect, destroys it rather than waiting for the idle reaper.
	defer h.hub.Close(sessionID)

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		ev, open := session.Next(sseKeepaliveInterval)
		if !open {
			return
		}

		if err := writeEvent(w, ev); err != nil {
			return
		}
		flusher.Flush()

		// Terminal events end the stream; the session is done serving.
		if ev.Type == models.StreamEventComplete || ev.Type == models.StreamEventError {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev models.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
