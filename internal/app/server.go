package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/api/handlers"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/config"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/jobqueue"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/notify"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/stream"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, logger *slog.Logger, files *services.FileService, queue *jobqueue.Queue, notifyHub *notify.Hub, streamHub *stream.Hub) *Server {
	fileHandler := handlers.NewFileHandler(files)
	wsHandler := handlers.NewWSHandler(notifyHub, logger)
	sseHandler := handlers.NewSSEHandler(streamHub, logger)
	healthHandler := handlers.NewHealthHandler(queue, notifyHub, streamHub)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	r.Get("/health", healthHandler.Health)

	// Long-lived push channels sit outside the request timeout.
	r.Get("/ws/{user_id}", wsHandler.Serve)
	r.Get("/events/{session_id}", sseHandler.Serve)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(60 * time.Second))
		api.Post("/files/upload", fileHandler.UploadFile)
		api.Get("/files", fileHandler.ListFiles)
		api.Get("/files/{file_id}", fileHandler.GetFile)
		api.Post("/files/{file_id}/retry", fileHandler.RetryFile)
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
