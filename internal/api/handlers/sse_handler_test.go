package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/stream"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
)

func newSSETestServer(t *testing.T) (*stream.Hub, chi.Router) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	hub := stream.NewHub(stream.Config{}, logger)
	t.Cleanup(hub.Stop)

	r := chi.NewRouter()
	r.Get("/events/{session_id}", NewSSEHandler(hub, logger).Serve)
	return hub, r
}

func TestSSEClientDisconnectDestroysSession(t *testing.T) {
	hub, router := newSSETestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events/file-1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return hub.SessionCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	hub.Publish("file-1", models.StreamEvent{Type: models.StreamEventProgress, FileID: "file-1"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}
	assert.Equal(t, 0, hub.SessionCount())
}

func TestSSETerminalEventClosesSession(t *testing.T) {
	hub, router := newSSETestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/events/file-2", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return hub.SessionCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	hub.Publish("file-2", models.StreamEvent{Type: models.StreamEventComplete, FileID: "file-2"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after terminal event")
	}
	assert.Equal(t, 0, hub.SessionCount())
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.True(t, strings.HasSuffix(rec.Body.String(), "\n\n"))
}
