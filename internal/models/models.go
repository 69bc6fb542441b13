package models

import (
	"time"
)

// JobType identifies which worker pool a job belongs to.
type JobType string

const (
	JobTypeTextExtraction     JobType = "text_extraction"
	JobTypeOCR                JobType = "ocr"
	JobTypeAudioTranscription JobType = "audio_transcription"
	JobTypeEmbedding          JobType = "embedding"
)

// JobTypes lists every job type; used to build per-type queues and pools.
var JobTypes = []JobType{
	JobTypeTextExtraction,
	JobTypeOCR,
	JobTypeAudioTranscription,
	JobTypeEmbedding,
}

// JobPriority orders jobs within a queue. Higher values are serviced first.
type JobPriority int

const (
	PriorityLow    JobPriority = 0
	PriorityNormal JobPriority = 1
	PriorityHigh   JobPriority = 2
	PriorityUrgent JobPriority = 3
)

// Job statuses. Terminal statuses (completed, failed) are never mutated again.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobPayload carries the category-specific parameters a worker needs to
// locate and interpret the target file.
type JobPayload struct {
	StoragePath string `json:"storage_path,omitempty"`
	FileType    string `json:"file_type,omitempty"`
}

// Job is one unit of background work. The persisted row is the source of
// truth for status; the in-memory queues are a rebuildable cache.
type Job struct {
	ID           string      `db:"id" json:"id"`
	FileID       string      `db:"file_id" json:"file_id"`
	UserID       string      `db:"user_id" json:"user_id"`
	Type         JobType     `db:"job_type" json:"job_type"`
	Status       string      `db:"status" json:"status"`
	Priority     JobPriority `db:"priority" json:"priority"`
	Attempts     int         `db:"attempts" json:"attempts"`
	ErrorMessage string      `db:"error_message" json:"error_message,omitempty"`
	Payload      JobPayload  `db:"payload" json:"payload"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	StartedAt    *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// File processing statuses mirror the owning job so clients never have to
// read the jobs table directly.
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusFailed     = "failed"
)

// Extraction methods recorded on the file after a successful run.
const (
	MethodDirect  = "direct"
	MethodDocx    = "docx"
	MethodPDFText = "pdf_text"
	MethodDocconv = "docconv"
	MethodOCR     = "ocr"
	MethodWhisper = "whisper"
)

// File represents a user-uploaded document or recording.
type File struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	FolderID         string    `db:"folder_id" json:"folder_id,omitempty"`
	Title            string    `db:"title" json:"title"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	FileType         string    `db:"file_type" json:"file_type"` // pdf | docx | txt | md | audio
	StoragePath      string    `db:"storage_path" json:"storage_path"`
	Content          string    `db:"content" json:"content,omitempty"`
	ProcessingStatus string    `db:"processing_status" json:"processing_status"`
	ExtractionMethod string    `db:"extraction_method" json:"extraction_method,omitempty"`
	HasImages        bool      `db:"has_images" json:"has_images"`
	ErrorMessage     string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// FileUpdate is the JSON status delta pushed over the persistent socket.
type FileUpdate struct {
	Status  string  `json:"status"`
	JobID   string  `json:"job_id,omitempty"`
	JobType JobType `json:"job_type,omitempty"`
	Error   string  `json:"error,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Stream event types emitted on the event-stream channel.
const (
	StreamEventProgress  = "progress"
	StreamEventComplete  = "complete"
	StreamEventError     = "error"
	StreamEventKeepalive = "keepalive"
)

// StreamEvent is one frame on the event-stream channel.
type StreamEvent struct {
	Type      string  `json:"type"`
	FileID    string  `json:"file_id,omitempty"`
	JobID     string  `json:"job_id,omitempty"`
	JobType   JobType `json:"job_type,omitempty"`
	Message   string  `json:"message,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp string  `json:"timestamp"`
}
