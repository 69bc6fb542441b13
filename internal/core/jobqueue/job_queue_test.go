package jobqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

// fakeDB keeps job rows in memory and mutates their statuses the way the
// real store does, so backfill stops returning rows once they leave the
// queued state.
type fakeDB struct {
	mu             sync.Mutex
	jobs           map[string]*models.Job
	createJobCalls int
	fileStatuses   map[string]string
	fileErrors     map[string]string
	requeueReasons map[string][]string
	failedAttempts map[string]int
	completed      []string
	stale          []models.Job
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		jobs:           make(map[string]*models.Job),
		fileStatuses:   make(map[string]string),
		fileErrors:     make(map[string]string),
		requeueReasons: make(map[string][]string),
		failedAttempts: make(map[string]int),
	}
}

func (f *fakeDB) CreateFile(ctx context.Context, file *models.File) error { return nil }
func (f *fakeDB) GetFileByID(ctx context.Context, id string) (*models.File, error) {
	return nil, nil
}
func (f *fakeDB) ListFilesByUser(ctx context.Context, userID string) ([]models.File, error) {
	return nil, nil
}

func (f *fakeDB) UpdateFileStatus(ctx context.Context, id string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileStatuses[id] = status
	return nil
}

func (f *fakeDB) SetFileExtraction(ctx context.Context, id, content, method string, hasImages bool) error {
	return nil
}

func (f *fakeDB) SetFileError(ctx context.Context, id, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileErrors[id] = errorMessage
	f.fileStatuses[id] = models.FileStatusFailed
	return nil
}

func (f *fakeDB) UpsertFileEmbedding(ctx context.Context, fileID, userID string, embedding []float32, contentHash, model string) error {
	return nil
}

func (f *fakeDB) CreateJob(ctx context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createJobCalls++
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeDB) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		cp := *job
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDB) MarkJobProcessing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = models.JobStatusProcessing
	}
	return nil
}

func (f *fakeDB) MarkJobCompleted(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = models.JobStatusCompleted
	}
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeDB) MarkJobFailed(ctx context.Context, id string, attempts int, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = models.JobStatusFailed
		job.Attempts = attempts
	}
	f.failedAttempts[id] = attempts
	return nil
}

func (f *fakeDB) RequeueJob(ctx context.Context, id string, attempts int, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = models.JobStatusQueued
		job.Attempts = attempts
	}
	f.requeueReasons[id] = append(f.requeueReasons[id], errorMessage)
	return nil
}

func (f *fakeDB) ListQueuedJobs(ctx context.Context, jobType models.JobType, limit int) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Job
	for _, job := range f.jobs {
		if job.Type == jobType && job.Status == models.JobStatusQueued {
			out = append(out, *job)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDB) ListStaleProcessingJobs(ctx context.Context, olderThan time.Duration) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Job(nil), f.stale...), nil
}

func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) jobCreations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createJobCalls
}

func (f *fakeDB) jobStatus(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		return job.Status
	}
	return ""
}

func (f *fakeDB) fileStatus(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileStatuses[id]
}

func (f *fakeDB) failedWithAttempts(id string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.failedAttempts[id]
	return n, ok
}

// fakeDispatcher records dispatched jobs and tracks peak concurrency.
type fakeDispatcher struct {
	fn      func(job *models.Job) error
	delay   time.Duration
	mu      sync.Mutex
	seen    []string
	running int32
	peak    int32
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	now := atomic.AddInt32(&d.running, 1)
	for {
		prev := atomic.LoadInt32(&d.peak)
		if now <= prev || atomic.CompareAndSwapInt32(&d.peak, prev, now) {
			break
		}
	}
	defer atomic.AddInt32(&d.running, -1)

	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.mu.Lock()
	d.seen = append(d.seen, job.ID)
	d.mu.Unlock()

	if d.fn != nil {
		return d.fn(job)
	}
	return nil
}

func (d *fakeDispatcher) dispatchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// recordingNotifier captures status transitions in order.
type recordingNotifier struct {
	mu      sync.Mutex
	updates []string // "jobID:status"
}

func (n *recordingNotifier) JobUpdate(job *models.Job, status, errorMessage string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, job.ID+":"+status)
}

func (n *recordingNotifier) statuses(jobID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	prefix := jobID + ":"
	for _, u := range n.updates {
		if len(u) > len(prefix) && u[:len(prefix)] == prefix {
			out = append(out, u[len(prefix):])
		}
	}
	return out
}

type stubMon struct {
	mu       sync.Mutex
	fraction float64
}

func (m *stubMon) UsedFraction() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fraction, nil
}

func (m *stubMon) set(f float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fraction = f
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ParkDelay = 5 * time.Millisecond
	return cfg
}

func newTestQueue(t *testing.T, cfg Config, db *fakeDB, mon *stubMon, d Dispatcher, n Notifier) *Queue {
	t.Helper()
	q := New(cfg, db, mon, n, slog.New(slog.DiscardHandler))
	if d != nil {
		q.SetDispatcher(d)
	}
	return q
}

func TestSubmitRejectsUnderMemoryPressureWithoutSideEffects(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.92}
	q := newTestQueue(t, fastConfig(), db, mon, &fakeDispatcher{}, nil)

	_, err := q.Submit(context.Background(), models.JobTypeTextExtraction, "file-1", "user-1", models.JobPayload{}, models.PriorityNormal)

	require.ErrorIs(t, err, ErrCapacityRejected)
	assert.Equal(t, 0, db.jobCreations())

	status, _ := q.Status()
	assert.Equal(t, 0, status[models.JobTypeTextExtraction].Queued)
}

func TestSubmitPersistsAndEnqueues(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.30}
	q := newTestQueue(t, fastConfig(), db, mon, &fakeDispatcher{}, nil)

	id, err := q.Submit(context.Background(), models.JobTypeTextExtraction, "file-1", "user-1", models.JobPayload{StoragePath: "k"}, models.PriorityHigh)

	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, models.JobStatusQueued, db.jobStatus(id))

	status, memOK := q.Status()
	assert.True(t, memOK)
	assert.Equal(t, 1, status[models.JobTypeTextExtraction].Queued)
}

func TestSuccessfulJobCompletesAndNotifies(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.30}
	disp := &fakeDispatcher{}
	notifier := &recordingNotifier{}
	q := newTestQueue(t, fastConfig(), db, mon, disp, notifier)

	id, err := q.Submit(context.Background(), models.JobTypeTextExtraction, "file-1", "user-1", models.JobPayload{}, models.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.Run())
	defer q.Shutdown()

	require.Eventually(t, func() bool {
		return db.jobStatus(id) == models.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{models.JobStatusProcessing, models.JobStatusCompleted}, notifier.statuses(id))
	assert.Equal(t, models.FileStatusProcessing, db.fileStatus("file-1"))
}

func TestFailingJobRetriesThenFailsTerminally(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.30}
	disp := &fakeDispatcher{fn: func(job *models.Job) error {
		return errors.New("extraction blew up")
	}}
	notifier := &recordingNotifier{}

	cfg := fastConfig()
	cfg.RetryLimit = 3
	q := newTestQueue(t, cfg, db, mon, disp, notifier)

	id, err := q.Submit(context.Background(), models.JobTypeTextExtraction, "file-1", "user-1", models.JobPayload{}, models.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.Run())
	defer q.Shutdown()

	require.Eventually(t, func() bool {
		return db.jobStatus(id) == models.JobStatusFailed
	}, 5*time.Second, 5*time.Millisecond)

	attempts, ok := db.failedWithAttempts(id)
	require.True(t, ok)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, disp.dispatchCount(), 3)
	assert.Equal(t, models.FileStatusFailed, db.fileStatus("file-1"))
	assert.Contains(t, notifier.statuses(id), models.JobStatusFailed)
}

func TestPanickingHandlerFailsJobWithoutKillingWorker(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.30}
	disp := &fakeDispatcher{fn: func(job *models.Job) error {
		if job.FileID == "file-bad" {
			panic("corrupt input")
		}
		return nil
	}}

	cfg := fastConfig()
	cfg.RetryLimit = 3
	cfg.MaxConcurrent = map[models.JobType]int{models.JobTypeTextExtraction: 1}
	q := newTestQueue(t, cfg, db, mon, disp, nil)

	badID, err := q.Submit(context.Background(), models.JobTypeTextExtraction, "file-bad", "user-1", models.JobPayload{}, models.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.Run())
	defer q.Shutdown()

	require.Eventually(t, func() bool {
		return db.jobStatus(badID) == models.JobStatusFailed
	}, 5*time.Second, 5*time.Millisecond)

	// The single worker must survive the panic and process the next job.
	goodID, err := q.Submit(context.Background(), models.JobTypeTextExtraction, "file-good", "user-1", models.JobPayload{}, models.PriorityNormal)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return db.jobStatus(goodID) == models.JobStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
}

func TestConcurrencyCeilingIsNeverExceeded(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.30}
	disp := &fakeDispatcher{delay: 20 * time.Millisecond}

	cfg := fastConfig()
	cfg.MaxConcurrent = map[models.JobType]int{models.JobTypeTextExtraction: 2}
	q := newTestQueue(t, cfg, db, mon, disp, nil)

	for i := 0; i < 8; i++ {
		_, err := q.Submit(context.Background(), models.JobTypeTextExtraction, "file-1", "user-1", models.JobPayload{}, models.PriorityNormal)
		require.NoError(t, err)
	}

	require.NoError(t, q.Run())
	defer q.Shutdown()

	require.Eventually(t, func() bool {
		return disp.dispatchCount() >= 8
	}, 5*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, atomic.LoadInt32(&disp.peak), int32(2))
}

func TestEmbeddingJobsDoNotTouchFileStatus(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.30}
	disp := &fakeDispatcher{}
	q := newTestQueue(t, fastConfig(), db, mon, disp, nil)

	id, err := q.Submit(context.Background(), models.JobTypeEmbedding, "file-1", "user-1", models.JobPayload{}, models.PriorityLow)
	require.NoError(t, err)

	require.NoError(t, q.Run())
	defer q.Shutdown()

	require.Eventually(t, func() bool {
		return db.jobStatus(id) == models.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, db.fileStatus("file-1"))
}

func TestRunRecoversQueuedAndStaleProcessingRows(t *testing.T) {
	db := newFakeDB()
	db.jobs["queued-1"] = &models.Job{
		ID:     "queued-1",
		FileID: "file-q",
		Type:   models.JobTypeTextExtraction,
		Status: models.JobStatusQueued,
	}
	db.jobs["stale-1"] = &models.Job{
		ID:       "stale-1",
		FileID:   "file-s",
		Type:     models.JobTypeOCR,
		Status:   models.JobStatusProcessing,
		Attempts: 1,
	}
	db.stale = []models.Job{*db.jobs["stale-1"]}

	mon := &stubMon{fraction: 0.30}
	disp := &fakeDispatcher{}
	q := newTestQueue(t, fastConfig(), db, mon, disp, nil)

	require.NoError(t, q.Run())
	defer q.Shutdown()

	require.Eventually(t, func() bool {
		return db.jobStatus("queued-1") == models.JobStatusCompleted &&
			db.jobStatus("stale-1") == models.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	db.mu.Lock()
	reasons := db.requeueReasons["stale-1"]
	db.mu.Unlock()
	assert.Contains(t, reasons, "requeued after restart")
}

func TestWorkersParkUnderMemoryPressureAndResume(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.30}
	disp := &fakeDispatcher{}
	q := newTestQueue(t, fastConfig(), db, mon, disp, nil)

	id, err := q.Submit(context.Background(), models.JobTypeTextExtraction, "file-1", "user-1", models.JobPayload{}, models.PriorityNormal)
	require.NoError(t, err)

	// Pressure arrives after admission but before the workers start.
	mon.set(0.95)
	require.NoError(t, q.Run())
	defer q.Shutdown()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, disp.dispatchCount())
	assert.Equal(t, models.JobStatusQueued, db.jobStatus(id))

	mon.set(0.30)
	require.Eventually(t, func() bool {
		return db.jobStatus(id) == models.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.30}
	q := newTestQueue(t, fastConfig(), db, mon, &fakeDispatcher{}, nil)

	require.NoError(t, q.Run())
	q.Shutdown()

	_, err := q.Submit(context.Background(), models.JobTypeTextExtraction, "file-1", "user-1", models.JobPayload{}, models.PriorityNormal)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestRunWithoutDispatcherFails(t *testing.T) {
	db := newFakeDB()
	mon := &stubMon{fraction: 0.30}
	q := newTestQueue(t, fastConfig(), db, mon, nil, nil)

	assert.Error(t, q.Run())
}
