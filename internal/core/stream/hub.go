// Package stream manages bounded per-session event queues for the
// unidirectional event-stream channel, with drop-oldest overflow, periodic
// keepalives, and an idle-session reaper.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

// Config tunes the hub.
type Config struct {
	QueueCapacity int
	IdleTimeout   time.Duration
	ReapInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueCapacity: 100,
		IdleTimeout:   10 * time.Minute,
		ReapInterval:  time.Minute,
	}
}

// Hub owns the session map. Lifecycle: NewHub → Start → Stop.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultConfig().ReapInterval
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Start launches the background reaper.
func (h *Hub) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)
	go h.reaper(ctx)
}

// Stop halts the reaper and closes every open session.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// Open returns the session for the id, creating it on first subscribe.
func (h *Hub) Open(sessionID string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[sessionID]; ok {
		return s
	}
	s := newSession(sessionID, h.cfg.QueueCapacity)
	h.sessions[sessionID] = s
	h.logger.Info("stream session opened", "session_id", sessionID)
	return s
}

// Publish enqueues an event for the session, non-blocking. Publishing to
// an unknown session is a logged no-op: status events are fire-and-forget.
func (h *Hub) Publish(sessionID string, ev models.StreamEvent) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	h.mu.Unlock()

	if !ok {
		h.logger.Debug("publish to unknown stream session", "session_id", sessionID)
		return
	}
	s.publish(ev)
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close drains and discards the session's queue, signals end-of-stream to
// any blocked reader, and forgets the session.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	h.logger.Info("stream session closed", "session_id", sessionID)
}

// reaper closes sessions whose last activity is older than the idle
// timeout, bounding the total number of held queues.
func (h *Hub) reaper(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.reapIdle(now)
		}
	}
}

func (h *Hub) reapIdle(now time.Time) {
	h.mu.Lock()
	var stale []string
	for id, s := range h.sessions {
		if s.idleSince(now) > h.cfg.IdleTimeout {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.logger.Info("reaping idle stream session", "session_id", id)
		h.Close(id)
	}
}
