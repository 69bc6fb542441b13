package handlers

import (
	"net/http"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/jobqueue"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/notify"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/stream"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

type HealthHandler struct {
	queue  *jobqueue.Queue
	notify *notify.Hub
	stream *stream.Hub
}

func NewHealthHandler(queue *jobqueue.Queue, notifyHub *notify.Hub, streamHub *stream.Hub) *HealthHandler {
	return &HealthHandler{queue: queue, notify: notifyHub, stream: streamHub}
}

type healthResponse struct {
	Status         string                               `json:"status"`
	MemoryOK       bool                                 `json:"memory_ok"`
	Queues         map[models.JobType]jobqueue.TypeStatus `json:"queues"`
	Connections    int                                  `json:"websocket_connections"`
	StreamSessions int                                  `json:"stream_sessions"`
}

// Health reports queue depth and concurrency per job type plus a memory
// headroom flag. Degraded means new submissions would be rejected.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	queues, memOK := h.queue.Status()

	status := "ok"
	if !memOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:         status,
		MemoryOK:       memOK,
		Queues:         queues,
		Connections:    h.notify.ConnectionCount(),
		StreamSessions: h.stream.SessionCount(),
	})
}
