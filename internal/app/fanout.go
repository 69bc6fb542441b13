package app

import (
	"time"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/notify"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/stream"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

// statusFanout forwards job status transitions to both push channels: the
// per-user WebSocket hub and the per-file event-stream hub. It is the only
// piece that knows both exist.
type statusFanout struct {
	notify *notify.Hub
	stream *stream.Hub
}

func newStatusFanout(notifyHub *notify.Hub, streamHub *stream.Hub) *statusFanout {
	return &statusFanout{notify: notifyHub, stream: streamHub}
}

func (f *statusFanout) JobUpdate(job *models.Job, status, errorMessage string) {
	f.notify.PushFileUpdate(job.UserID, job.FileID, models.FileUpdate{
		Status:  status,
		JobID:   job.ID,
		JobType: job.Type,
		Error:   errorMessage,
	})

	f.stream.Publish(job.FileID, models.StreamEvent{
		Type:      streamEventType(status),
		FileID:    job.FileID,
		JobID:     job.ID,
		JobType:   job.Type,
		Message:   status,
		Error:     errorMessage,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func streamEventType(status string) string {
	switch status {
	case models.JobStatusCompleted:
		return models.StreamEventComplete
	case models.JobStatusFailed:
		return models.StreamEventError
	default:
		return models.StreamEventProgress
	}
}
