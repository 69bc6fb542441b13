// Package dispatch routes dequeued jobs to their handlers and chains
// follow-on work: a successful extraction or transcription enqueues one
// embedding job for the same file.
package dispatch

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

// Submitter enqueues chained jobs. Satisfied by the job queue; kept as a
// local interface so this package does not depend on the queue package.
type Submitter interface {
	Submit(ctx context.Context, jobType models.JobType, fileID, userID string, payload models.JobPayload, priority models.JobPriority) (string, error)
}

// maxEmbedChars bounds how much extracted text is sent to the embedding
// service for the file-level vector.
const maxEmbedChars = 8000

type Dispatcher struct {
	db          core.DbClient
	obj         core.ObjectClient
	extractor   core.FileExtractor
	embedder    core.EmbeddingProvider
	transcriber core.Transcriber
	submitter   Submitter
	bucket      string
	embedModel  string
	logger      *slog.Logger
}

func New(db core.DbClient, obj core.ObjectClient, extractor core.FileExtractor, embedder core.EmbeddingProvider, transcriber core.Transcriber, submitter Submitter, bucket, embedModel string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		db:          db,
		obj:         obj,
		extractor:   extractor,
		embedder:    embedder,
		transcriber: transcriber,
		submitter:   submitter,
		bucket:      bucket,
		embedModel:  embedModel,
		logger:      logger,
	}
}

// Dispatch routes by job type. Handler errors are returned to the worker
// loop, which owns retry accounting and status transitions.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobTypeTextExtraction, models.JobTypeOCR:
		return d.handleExtraction(ctx, job)
	case models.JobTypeAudioTranscription:
		return d.handleAudio(ctx, job)
	case models.JobTypeEmbedding:
		return d.handleEmbedding(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (d *Dispatcher) handleExtraction(ctx context.Context, job *models.Job) error {
	data, err := d.obj.GetFile(ctx, d.bucket, job.Payload.StoragePath)
	if err != nil {
		return fmt.Errorf("fetch original upload: %w", err)
	}

	res, err := d.extractor.Extract(ctx, data, job.Payload.FileType)
	if err != nil {
		return err
	}

	if err := d.db.SetFileExtraction(ctx, job.FileID, res.Text, res.Method, res.HasImages); err != nil {
		return fmt.Errorf("persist extracted text: %w", err)
	}

	// OCR output is self-sufficient; the rasterize-and-recognize pass will
	// never be cheaper to redo, so reclaim the blob. Textual originals are
	// kept for re-extraction.
	if job.Type == models.JobTypeOCR || res.Method == models.MethodOCR {
		d.deleteOriginal(ctx, job)
	}

	d.chainEmbedding(ctx, job)
	return nil
}

func (d *Dispatcher) handleAudio(ctx context.Context, job *models.Job) error {
	data, err := d.obj.GetFile(ctx, d.bucket, job.Payload.StoragePath)
	if err != nil {
		return fmt.Errorf("fetch original upload: %w", err)
	}

	transcript, err := d.transcriber.Transcribe(ctx, data, audioMimeType(job.Payload.StoragePath))
	if err != nil {
		return fmt.Errorf("transcribe audio: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return errors.New("transcription produced no text")
	}

	text := fmt.Sprintf("# Audio Transcript\n\n%s", transcript)
	if err := d.db.SetFileExtraction(ctx, job.FileID, text, models.MethodWhisper, false); err != nil {
		return fmt.Errorf("persist transcript: %w", err)
	}

	d.deleteOriginal(ctx, job)
	d.chainEmbedding(ctx, job)
	return nil
}

func (d *Dispatcher) handleEmbedding(ctx context.Context, job *models.Job) error {
	file, err := d.db.GetFileByID(ctx, job.FileID)
	if err != nil {
		return fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return fmt.Errorf("file not found: %s", job.FileID)
	}

	content := file.Content
	if strings.TrimSpace(content) == "" {
		return errors.New("no extracted text to embed")
	}
	if len(content) > maxEmbedChars {
		content = content[:maxEmbedChars]
	}

	vectors, err := d.embedder.EmbedTexts(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("embed text: %w", err)
	}
	if len(vectors) == 0 {
		return errors.New("embedding service returned no vectors")
	}

	hash := fmt.Sprintf("%x", md5.Sum([]byte(content)))
	if err := d.db.UpsertFileEmbedding(ctx, file.ID, file.UserID, vectors[0], hash, d.embedModel); err != nil {
		return fmt.Errorf("persist embedding: %w", err)
	}
	return nil
}

// chainEmbedding submits the one-hop dependent embedding job at low
// priority: the user sees their text immediately, the vector can wait.
// A rejection under memory pressure is logged but not fatal; the user
// retry path can re-trigger the embedding later.
func (d *Dispatcher) chainEmbedding(ctx context.Context, job *models.Job) {
	_, err := d.submitter.Submit(ctx, models.JobTypeEmbedding, job.FileID, job.UserID, models.JobPayload{}, models.PriorityLow)
	if err != nil {
		d.logger.Warn("failed to chain embedding job", "file_id", job.FileID, "error", err)
	}
}

func (d *Dispatcher) deleteOriginal(ctx context.Context, job *models.Job) {
	if job.Payload.StoragePath == "" {
		return
	}
	if err := d.obj.DeleteFile(ctx, d.bucket, job.Payload.StoragePath); err != nil {
		d.logger.Warn("failed to delete original blob", "file_id", job.FileID, "key", job.Payload.StoragePath, "error", err)
	}
}

func audioMimeType(storagePath string) string {
	switch strings.ToLower(path.Ext(storagePath)) {
	case ".wav":
		return "audio/wav"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}
