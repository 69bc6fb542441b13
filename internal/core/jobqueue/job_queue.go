// Package jobqueue schedules background file-processing work across fixed
// per-type worker pools with memory-based admission control and bounded
// retries. The persisted job row is the source of truth; the in-memory
// priority queues are a cache rebuilt from rows with status "queued".
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/memory"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

var (
	// ErrCapacityRejected is returned by Submit when system memory usage
	// is above the configured threshold. No job record is created.
	ErrCapacityRejected = errors.New("system memory usage too high, try again later")

	// ErrQueueClosed is returned by Submit after Shutdown.
	ErrQueueClosed = errors.New("job queue is shut down")
)

// Dispatcher routes a dequeued job to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// Notifier receives job status transitions for fan-out to connected
// clients. Implementations must not block the worker for long.
type Notifier interface {
	JobUpdate(job *models.Job, status, errorMessage string)
}

// Config tunes the queue.
//
// MaxConcurrent: worker-pool size (and therefore concurrency ceiling) per
// job type. OCR is deliberately throttled far below the others: each OCR
// job rasterizes pages to images, and unbounded OCR concurrency can
// exhaust process memory and take the host down.
type Config struct {
	MaxConcurrent      map[models.JobType]int
	MemoryThreshold    float64
	RetryLimit         int
	PollInterval       time.Duration
	ParkDelay          time.Duration
	JobTimeout         time.Duration
	StaleProcessingAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent: map[models.JobType]int{
			models.JobTypeTextExtraction:     5,
			models.JobTypeOCR:                2,
			models.JobTypeAudioTranscription: 3,
			models.JobTypeEmbedding:          10,
		},
		MemoryThreshold:    0.80,
		RetryLimit:         3,
		PollInterval:       time.Second,
		ParkDelay:          time.Second,
		JobTimeout:         10 * time.Minute,
		StaleProcessingAge: 15 * time.Minute,
	}
}

// TypeStatus is the health snapshot for one job type.
type TypeStatus struct {
	Queued        int `json:"queued"`
	Active        int `json:"active"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Queue owns the per-type priority queues and worker pools. Lifecycle:
// New → Run → Shutdown. Construct one per process; tests construct their
// own isolated instances.
type Queue struct {
	cfg        Config
	db         core.DbClient
	mem        memory.Monitor
	dispatcher Dispatcher
	notifier   Notifier
	logger     *slog.Logger

	mu       sync.Mutex
	queues   map[models.JobType]*priorityQueue
	active   map[models.JobType]int
	inflight map[string]struct{} // job ids held in memory or being processed
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, db core.DbClient, mem memory.Monitor, notifier Notifier, logger *slog.Logger) *Queue {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultConfig().RetryLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ParkDelay <= 0 {
		cfg.ParkDelay = DefaultConfig().ParkDelay
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = DefaultConfig().MemoryThreshold
	}
	if len(cfg.MaxConcurrent) == 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		cfg:      cfg,
		db:       db,
		mem:      mem,
		notifier: notifier,
		logger:   logger,
		queues:   make(map[models.JobType]*priorityQueue, len(models.JobTypes)),
		active:   make(map[models.JobType]int, len(models.JobTypes)),
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, t := range models.JobTypes {
		q.queues[t] = newPriorityQueue()
	}
	return q
}

// SetDispatcher wires the dispatcher after construction; the dispatcher
// needs the queue as its submitter for job chaining, so the two are
// connected in the composition root.
func (q *Queue) SetDispatcher(d Dispatcher) {
	q.dispatcher = d
}

// Submit persists a job record with status queued and inserts it into the
// type's priority queue. It fails fast with ErrCapacityRejected when the
// host is under memory pressure; that rejection has no side effects and
// does not consume a retry attempt.
func (q *Queue) Submit(ctx context.Context, jobType models.JobType, fileID, userID string, payload models.JobPayload, priority models.JobPriority) (string, error) {
	if !memory.OK(q.mem, q.cfg.MemoryThreshold) {
		return "", ErrCapacityRejected
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		FileID:    fileID,
		UserID:    userID,
		Type:      jobType,
		Status:    models.JobStatusQueued,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	if err := q.db.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	q.queues[jobType].push(job)
	q.inflight[job.ID] = struct{}{}

	q.logger.Info("job enqueued",
		"job_id", job.ID,
		"job_type", jobType,
		"file_id", fileID,
		"priority", priority)
	return job.ID, nil
}

// Run recovers persisted work and starts the worker pools. Each pool has
// exactly MaxConcurrent[type] workers, which is what enforces the
// per-type concurrency ceiling.
func (q *Queue) Run() error {
	if q.dispatcher == nil {
		return errors.New("job queue started without a dispatcher")
	}

	if err := q.recover(); err != nil {
		return fmt.Errorf("recover persisted jobs: %w", err)
	}

	for _, jobType := range models.JobTypes {
		workers := q.cfg.MaxConcurrent[jobType]
		if workers <= 0 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			q.wg.Add(1)
			go q.worker(jobType, i)
		}
	}

	q.logger.Info("job queue workers started")
	return nil
}

// recover rebuilds the in-memory queues from rows left behind by a
// previous process: everything still queued, plus processing rows older
// than the staleness threshold (a crash mid-job leaves those orphaned).
func (q *Queue) recover() error {
	ctx := context.Background()

	stale, err := q.db.ListStaleProcessingJobs(ctx, q.cfg.StaleProcessingAge)
	if err != nil {
		return fmt.Errorf("list stale processing jobs: %w", err)
	}
	for i := range stale {
		job := &stale[i]
		if err := q.db.RequeueJob(ctx, job.ID, job.Attempts, "requeued after restart"); err != nil {
			q.logger.Error("failed to requeue stale job", "job_id", job.ID, "error", err)
			continue
		}
		job.Status = models.JobStatusQueued
		q.enqueueRecovered(job)
	}

	total := len(stale)
	for _, jobType := range models.JobTypes {
		queued, err := q.db.ListQueuedJobs(ctx, jobType, 1000)
		if err != nil {
			return fmt.Errorf("list queued %s jobs: %w", jobType, err)
		}
		for i := range queued {
			q.enqueueRecovered(&queued[i])
		}
		total += len(queued)
	}

	if total > 0 {
		q.logger.Info("recovered persisted jobs", "count", total, "stale_processing", len(stale))
	}
	return nil
}

func (q *Queue) enqueueRecovered(job *models.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[job.ID]; ok {
		return
	}
	q.queues[job.Type].push(job)
	q.inflight[job.ID] = struct{}{}
}

// Shutdown stops admitting new work and waits for in-flight jobs to
// finish. A job that was dequeued but not yet started is parked back at
// the head of its queue so it is not lost.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.logger.Info("job queue workers stopped")
}

// Status returns a read-only snapshot per type plus a memory headroom flag.
func (q *Queue) Status() (map[models.JobType]TypeStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[models.JobType]TypeStatus, len(q.queues))
	for jobType, pq := range q.queues {
		out[jobType] = TypeStatus{
			Queued:        pq.len(),
			Active:        q.active[jobType],
			MaxConcurrent: q.cfg.MaxConcurrent[jobType],
		}
	}
	return out, memory.OK(q.mem, q.cfg.MemoryThreshold)
}

// worker is one goroutine of a type's pool. It waits cooperatively: a
// bounded poll when the queue is empty, and a park-and-sleep loop when
// memory headroom is insufficient to start a dequeued job.
func (q *Queue) worker(jobType models.JobType, workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		q.mu.Lock()
		item, ok := q.queues[jobType].pop()
		q.mu.Unlock()

		if !ok {
			q.backfill(jobType)
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(q.cfg.PollInterval):
			}
			continue
		}

		// Re-check headroom before starting; park rather than fail.
		for !memory.OK(q.mem, q.cfg.MemoryThreshold) {
			select {
			case <-q.ctx.Done():
				q.mu.Lock()
				q.queues[jobType].pushFront(item)
				q.mu.Unlock()
				return
			case <-time.After(q.cfg.ParkDelay):
			}
		}

		select {
		case <-q.ctx.Done():
			q.mu.Lock()
			q.queues[jobType].pushFront(item)
			q.mu.Unlock()
			return
		default:
		}

		q.process(item.job, jobType, workerID)
	}
}

// backfill pulls one queued row from the store when the in-memory queue is
// empty, skipping ids already held in memory. This is what makes the
// in-memory queue a cache: rows created by other processes (or left by a
// crash after recovery ran) still get picked up.
func (q *Queue) backfill(jobType models.JobType) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := q.db.ListQueuedJobs(ctx, jobType, 5)
	if err != nil {
		q.logger.Error("backfill query failed", "job_type", jobType, "error", err)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range rows {
		job := &rows[i]
		if _, held := q.inflight[job.ID]; held {
			continue
		}
		q.queues[jobType].push(job)
		q.inflight[job.ID] = struct{}{}
	}
}

// process runs a single job to completion. In-flight work is never
// cancelled by Shutdown; it gets a fresh bounded context instead of the
// queue's lifecycle context.
func (q *Queue) process(job *models.Job, jobType models.JobType, workerID int) {
	q.mu.Lock()
	q.active[jobType]++
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.active[jobType]--
		q.mu.Unlock()
	}()

	logger := q.logger.With("job_id", job.ID, "job_type", jobType, "file_id", job.FileID, "worker_id", workerID)

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.JobTimeout)
	defer cancel()

	if err := q.db.MarkJobProcessing(ctx, job.ID); err != nil {
		logger.Error("failed to mark job processing", "error", err)
	}
	job.Status = models.JobStatusProcessing
	if jobType != models.JobTypeEmbedding {
		if err := q.db.UpdateFileStatus(ctx, job.FileID, models.FileStatusProcessing); err != nil {
			logger.Error("failed to mirror processing status to file", "error", err)
		}
	}
	q.notify(job, models.JobStatusProcessing, "")

	logger.Info("processing job", "attempt", job.Attempts+1)
	err := q.safeDispatch(ctx, job)

	if err == nil {
		if dbErr := q.db.MarkJobCompleted(ctx, job.ID); dbErr != nil {
			logger.Error("failed to mark job completed", "error", dbErr)
		}
		q.finish(job.ID)
		q.notify(job, models.JobStatusCompleted, "")
		logger.Info("job completed")
		return
	}

	attempts := job.Attempts + 1
	job.Attempts = attempts
	job.ErrorMessage = err.Error()

	if attempts >= q.cfg.RetryLimit {
		logger.Error("job failed terminally", "error", err, "attempts", attempts)
		if dbErr := q.db.MarkJobFailed(ctx, job.ID, attempts, err.Error()); dbErr != nil {
			logger.Error("failed to mark job failed", "error", dbErr)
		}
		if dbErr := q.db.SetFileError(ctx, job.FileID, err.Error()); dbErr != nil {
			logger.Error("failed to mirror failure to file", "error", dbErr)
		}
		q.finish(job.ID)
		q.notify(job, models.JobStatusFailed, err.Error())
		return
	}

	logger.Warn("job failed, requeueing", "error", err, "attempt", attempts, "retry_limit", q.cfg.RetryLimit)
	if dbErr := q.db.RequeueJob(ctx, job.ID, attempts, err.Error()); dbErr != nil {
		logger.Error("failed to requeue job", "error", dbErr)
	}
	job.Status = models.JobStatusQueued

	// Tail of the same priority band: retries never jump ahead of work
	// that was already waiting.
	q.mu.Lock()
	q.queues[jobType].push(job)
	q.mu.Unlock()
	q.notify(job, models.JobStatusQueued, err.Error())
}

// safeDispatch converts a handler panic into an ordinary job failure so a
// malformed input can never take a worker down with it.
func (q *Queue) safeDispatch(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.dispatcher.Dispatch(ctx, job)
}

// finish releases a terminal job's id so a later row with the same id
// (explicit user retry) can be admitted again.
func (q *Queue) finish(jobID string) {
	q.mu.Lock()
	delete(q.inflight, jobID)
	q.mu.Unlock()
}

func (q *Queue) notify(job *models.Job, status, errorMessage string) {
	if q.notifier == nil {
		return
	}
	q.notifier.JobUpdate(job, status, errorMessage)
}
