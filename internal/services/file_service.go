package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileNotFound        = errors.New("file not found")
	ErrNotRetryable        = errors.New("only failed files can be retried")
)

// JobSubmitter enqueues processing work. Satisfied by the job queue.
type JobSubmitter interface {
	Submit(ctx context.Context, jobType models.JobType, fileID, userID string, payload models.JobPayload, priority models.JobPriority) (string, error)
}

type FileService struct {
	db      core.DbClient
	storage core.ObjectClient
	jobs    JobSubmitter
	bucket  string
}

func NewFileService(db core.DbClient, storage core.ObjectClient, jobs JobSubmitter, bucket string) *FileService {
	return &FileService{db: db, storage: storage, jobs: jobs, bucket: bucket}
}

// Upload stores the raw bytes, creates the pending file row, and enqueues
// the first processing job at normal priority. If the queue rejects the
// job the stored blob and row survive and the file is marked failed, so a
// later retry can reprocess it without a second upload.
func (s *FileService) Upload(ctx context.Context, userID, folderID, filename, contentType string, data []byte) (*models.File, error) {
	fileType, err := fileTypeFor(filename)
	if err != nil {
		return nil, err
	}

	fileID := uuid.NewString()
	key := s.objectKey(userID, fileID, filename)

	if _, err := s.storage.UploadFile(ctx, s.bucket, key, data, contentType); err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	now := time.Now().UTC()
	file := &models.File{
		ID:               fileID,
		UserID:           userID,
		FolderID:         folderID,
		Title:            titleFor(filename),
		OriginalFilename: filename,
		FileType:         fileType,
		StoragePath:      key,
		ProcessingStatus: models.FileStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("create file record: %w", err)
	}

	payload := models.JobPayload{StoragePath: key, FileType: fileType}
	if _, err := s.jobs.Submit(ctx, jobTypeFor(fileType), fileID, userID, payload, models.PriorityNormal); err != nil {
		// Leave the row behind as failed so the client can retry later.
		_ = s.db.SetFileError(ctx, fileID, err.Error())
		return nil, err
	}

	return file, nil
}

func (s *FileService) Get(ctx context.Context, userID, fileID string) (*models.File, error) {
	file, err := s.db.GetFileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil || file.UserID != userID {
		return nil, ErrFileNotFound
	}
	return file, nil
}

func (s *FileService) ListByUser(ctx context.Context, userID string) ([]models.File, error) {
	return s.db.ListFilesByUser(ctx, userID)
}

// Retry resubmits a failed file at high priority: the user is actively
// waiting, so their retry jumps ahead of the background backlog.
func (s *FileService) Retry(ctx context.Context, userID, fileID string) (*models.File, error) {
	file, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if file.ProcessingStatus != models.FileStatusFailed {
		return nil, ErrNotRetryable
	}

	if err := s.db.UpdateFileStatus(ctx, fileID, models.FileStatusPending); err != nil {
		return nil, fmt.Errorf("reset file status: %w", err)
	}

	payload := models.JobPayload{StoragePath: file.StoragePath, FileType: file.FileType}
	if _, err := s.jobs.Submit(ctx, jobTypeFor(file.FileType), fileID, userID, payload, models.PriorityHigh); err != nil {
		_ = s.db.SetFileError(ctx, fileID, err.Error())
		return nil, err
	}

	file.ProcessingStatus = models.FileStatusPending
	file.ErrorMessage = ""
	return file, nil
}

func jobTypeFor(fileType string) models.JobType {
	if fileType == "audio" {
		return models.JobTypeAudioTranscription
	}
	return models.JobTypeTextExtraction
}

func fileTypeFor(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "pdf", nil
	case ".docx":
		return "docx", nil
	case ".txt":
		return "txt", nil
	case ".md", ".markdown":
		return "md", nil
	case ".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm":
		return "audio", nil
	default:
		return "", ErrUnsupportedFileType
	}
}

func titleFor(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// objectKey creates a consistent S3 key layout.
func (s *FileService) objectKey(userID, fileID, filename string) string {
	filename = filepath.Base(strings.TrimSpace(filename))
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("users", userID, "files", fileID, filename)
}
