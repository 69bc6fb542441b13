package core

import (
	"context"
	"time"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

// DbClient defines all persistence operations the scheduler and the API
// layer need. It abstracts Postgres/pgvector so higher layers never depend
// on a specific DB.
type DbClient interface {
	CreateFile(ctx context.Context, file *models.File) error
	GetFileByID(ctx context.Context, id string) (*models.File, error)
	ListFilesByUser(ctx context.Context, userID string) ([]models.File, error)
	UpdateFileStatus(ctx context.Context, id string, status string) error
	SetFileExtraction(ctx context.Context, id, content, method string, hasImages bool) error
	SetFileError(ctx context.Context, id, errorMessage string) error
	UpsertFileEmbedding(ctx context.Context, fileID, userID string, embedding []float32, contentHash, model string) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	MarkJobProcessing(ctx context.Context, id string) error
	MarkJobCompleted(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id string, attempts int, errorMessage string) error
	RequeueJob(ctx context.Context, id string, attempts int, errorMessage string) error
	ListQueuedJobs(ctx context.Context, jobType models.JobType, limit int) ([]models.Job, error)
	ListStaleProcessingJobs(ctx context.Context, olderThan time.Duration) ([]models.Job, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
