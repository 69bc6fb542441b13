package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/config"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core"
	db "github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/database"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/dispatch"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/extraction"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/jobqueue"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/llm"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/memory"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/notify"
	objectclient "github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/object-client"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/stream"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/services"
)

// App owns every long-lived component and their startup/shutdown order.
type App struct {
	Logger    *slog.Logger
	DBClient  core.DbClient
	Queue     *jobqueue.Queue
	NotifyHub *notify.Hub
	StreamHub *stream.Hub
	Server    *Server

	embedder    *llm.GeminiEmbedder
	transcriber *llm.GeminiTranscriber
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	logger.Info("database initialized and bootstrapped")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	logger.Info("object storage client ready")

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	transcriber, err := llm.NewGeminiTranscriber(appCtx, cfg.AIAPIKey, cfg.AudioModel)
	if err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}

	monitor := memory.NewSystemMonitor(logger)

	notifyHub := notify.NewHub(logger)
	streamHub := stream.NewHub(stream.Config{
		QueueCapacity: cfg.StreamQueueCapacity,
		IdleTimeout:   time.Duration(cfg.StreamIdleMins) * time.Minute,
	}, logger)

	queueCfg := jobqueue.DefaultConfig()
	queueCfg.MaxConcurrent = map[models.JobType]int{
		models.JobTypeTextExtraction:     cfg.MaxTextExtraction,
		models.JobTypeOCR:                cfg.MaxOCR,
		models.JobTypeAudioTranscription: cfg.MaxAudio,
		models.JobTypeEmbedding:          cfg.MaxEmbedding,
	}
	queueCfg.MemoryThreshold = cfg.MemoryThreshold
	queueCfg.StaleProcessingAge = time.Duration(cfg.StaleProcessingMins) * time.Minute

	queue := jobqueue.New(queueCfg, dbClient, monitor, newStatusFanout(notifyHub, streamHub), logger)

	extractorCfg := extraction.DefaultConfig()
	extractorCfg.MemoryThreshold = cfg.MemoryThreshold
	extractor := extraction.NewCascadeExtractor(extractorCfg, monitor, logger)

	dispatcher := dispatch.New(dbClient, objClient, extractor, embedder, transcriber,
		queue, cfg.BucketName, cfg.EmbedModel, logger)
	queue.SetDispatcher(dispatcher)

	fileService := services.NewFileService(dbClient, objClient, queue, cfg.BucketName)

	server := NewServer(cfg, logger, fileService, queue, notifyHub, streamHub)

	return &App{
		Logger:      logger,
		DBClient:    dbClient,
		Queue:       queue,
		NotifyHub:   notifyHub,
		StreamHub:   streamHub,
		Server:      server,
		embedder:    embedder,
		transcriber: transcriber,
	}, nil
}

// Start launches the background machinery; the HTTP server is started
// separately by the caller so it can own the listen error.
func (a *App) Start() error {
	a.StreamHub.Start()
	if err := a.Queue.Run(); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}
	return nil
}

// Close tears components down in reverse dependency order: stop admitting
// work, drain workers, then release clients.
func (a *App) Close() {
	a.Queue.Shutdown()
	a.StreamHub.Stop()
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.transcriber != nil {
		_ = a.transcriber.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
