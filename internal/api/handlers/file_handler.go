package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/core/jobqueue"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/models"
	"github.com/owenreynolds5050-ux/study-sharper-backend-sub000/internal/services"
)

const maxUploadBytes = 52 << 20 // 52 MB

type FileHandler struct {
	files *services.FileService
}

func NewFileHandler(files *services.FileService) *FileHandler {
	return &FileHandler{files: files}
}

// userID pulls the caller identity from the X-User-ID header. Auth proper
// lives in the gateway in front of this service.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// UploadFile handles multipart upload, blob storage, and job submission.
func (h *FileHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, "X-User-ID header required", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	created, err := h.files.Upload(uploadCtx, uid,
		r.FormValue("folder_id"),
		filepath.Base(header.Filename),
		contentType, data)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, "X-User-ID header required", http.StatusUnauthorized)
		return
	}

	files, err := h.files.ListByUser(r.Context(), uid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []models.File{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, "X-User-ID header required", http.StatusUnauthorized)
		return
	}

	file, err := h.files.Get(r.Context(), uid, chi.URLParam(r, "file_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// RetryFile resets a failed file and resubmits it at high priority.
func (h *FileHandler) RetryFile(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, "X-User-ID header required", http.StatusUnauthorized)
		return
	}

	file, err := h.files.Retry(r.Context(), uid, chi.URLParam(r, "file_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, file)
}

func (h *FileHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUnsupportedFileType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrFileNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrNotRetryable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, jobqueue.ErrCapacityRejected):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, fmt.Sprintf("internal error: %v", err), http.StatusInternalServerError)
	}
}
