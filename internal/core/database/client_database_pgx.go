package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/config"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

type DatabaseClient struct {
	db       *sql.DB
	embedDim int
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, embedDim: cfg.EmbedDim}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for files

func (c *DatabaseClient) CreateFile(ctx context.Context, file *models.File) error {
	if file == nil {
		return errors.New("nil file")
	}
	const q = `
		INSERT INTO files
			(id, user_id, folder_id, title, original_filename, file_type, storage_path,
			 processing_status, has_images, created_at, updated_at)
		VALUES
			($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, COALESCE($10, now()), COALESCE($11, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		file.ID, file.UserID, file.FolderID, file.Title, file.OriginalFilename,
		file.FileType, file.StoragePath, file.ProcessingStatus, file.HasImages,
		file.CreatedAt, file.UpdatedAt)
	return err
}

const fileColumns = `
	id, user_id, COALESCE(folder_id, ''), title, original_filename, file_type,
	storage_path, COALESCE(content, ''), processing_status,
	COALESCE(extraction_method, ''), has_images, COALESCE(error_message, ''),
	created_at, updated_at
`

func scanFile(row interface{ Scan(...any) error }) (*models.File, error) {
	var f models.File
	err := row.Scan(
		&f.ID, &f.UserID, &f.FolderID, &f.Title, &f.OriginalFilename, &f.FileType,
		&f.StoragePath, &f.Content, &f.ProcessingStatus,
		&f.ExtractionMethod, &f.HasImages, &f.ErrorMessage,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *DatabaseClient) GetFileByID(ctx context.Context, id string) (*models.File, error) {
	q := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	f, err := scanFile(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (c *DatabaseClient) ListFilesByUser(ctx context.Context, userID string) ([]models.File, error) {
	q := `SELECT ` + fileColumns + ` FROM files WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateFileStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE files
		SET processing_status = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("file not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) SetFileExtraction(ctx context.Context, id, content, method string, hasImages bool) error {
	const q = `
		UPDATE files
		SET content = $2,
		    extraction_method = $3,
		    has_images = $4,
		    processing_status = 'completed',
		    error_message = NULL,
		    updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, content, method, hasImages)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("file not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) SetFileError(ctx context.Context, id, errorMessage string) error {
	const q = `
		UPDATE files
		SET processing_status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, errorMessage)
	return err
}

func (c *DatabaseClient) UpsertFileEmbedding(ctx context.Context, fileID, userID string, embedding []float32, contentHash, model string) error {
	if len(embedding) != c.embedDim {
		return fmt.Errorf("embedding has %d dimensions, column expects %d", len(embedding), c.embedDim)
	}
	const q = `
		INSERT INTO file_embeddings (file_id, user_id, embedding, content_hash, model, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (file_id) DO UPDATE
		SET embedding = EXCLUDED.embedding,
		    content_hash = EXCLUDED.content_hash,
		    model = EXCLUDED.model,
		    updated_at = now()
	`
	vec := pgvector.NewVector(embedding)
	_, err := c.db.ExecContext(ctx, q, fileID, userID, vec, contentHash, model)
	return err
}

// Implementing the db interface for processing jobs

func (c *DatabaseClient) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	const q = `
		INSERT INTO processing_jobs
			(id, file_id, user_id, job_type, status, priority, attempts, payload, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		job.ID, job.FileID, job.UserID, job.Type, job.Status, job.Priority,
		job.Attempts, payload, job.CreatedAt)
	return err
}

const jobColumns = `
	id, file_id, user_id, job_type, status, priority, attempts,
	COALESCE(error_message, ''), payload, created_at, started_at, completed_at
`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var (
		j         models.Job
		payload   []byte
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.FileID, &j.UserID, &j.Type, &j.Status, &j.Priority, &j.Attempts,
		&j.ErrorMessage, &payload, &j.CreatedAt, &started, &completed,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if completed.Valid {
		j.CompletedAt = &completed.Time
	}
	return &j, nil
}

func (c *DatabaseClient) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`
	j, err := scanJob(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (c *DatabaseClient) MarkJobProcessing(ctx context.Context, id string) error {
	const q = `
		UPDATE processing_jobs
		SET status = 'processing', started_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id)
	return err
}

func (c *DatabaseClient) MarkJobCompleted(ctx context.Context, id string) error {
	const q = `
		UPDATE processing_jobs
		SET status = 'completed', completed_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id)
	return err
}

func (c *DatabaseClient) MarkJobFailed(ctx context.Context, id string, attempts int, errorMessage string) error {
	const q = `
		UPDATE processing_jobs
		SET status = 'failed', attempts = $2, error_message = $3, completed_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, attempts, errorMessage)
	return err
}

func (c *DatabaseClient) RequeueJob(ctx context.Context, id string, attempts int, errorMessage string) error {
	const q = `
		UPDATE processing_jobs
		SET status = 'queued', attempts = $2, error_message = $3, started_at = NULL
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, attempts, errorMessage)
	return err
}

func (c *DatabaseClient) ListQueuedJobs(ctx context.Context, jobType models.JobType, limit int) ([]models.Job, error) {
	q := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE job_type = $1 AND status = 'queued'
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, jobType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListStaleProcessingJobs(ctx context.Context, olderThan time.Duration) ([]models.Job, error) {
	q := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE status = 'processing'
		  AND started_at < now() - ($1 * interval '1 second')
	`
	rows, err := c.db.QueryContext(ctx, q, olderThan.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}
