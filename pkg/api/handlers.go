package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/events"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/metrics"
)

const uploadField = "file"

// ============================================================================
// DATASET UPLOAD
// ============================================================================

// uploadDataset stores the CSV and announces it. Generation runs in the
// background; the response carries the job id to poll.
func (h *Handler) uploadDataset(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.config.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", fmt.Sprintf("dataset exceeds %d bytes", h.config.MaxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", fmt.Sprintf("dataset exceeds %d bytes", h.config.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "MISSING_FILE", fmt.Sprintf("multipart field %q is required", uploadField))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		writeError(w, http.StatusBadRequest, "INVALID_FILE_TYPE", "only .csv datasets are accepted")
		return
	}

	jobID := uuid.NewString()
	path, err := h.saveUpload(file, jobID+"-"+name)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("filename", name).Msg("failed to store dataset")
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to store dataset")
		return
	}

	err = h.deps.Bus.Notify(r.Context(), events.DatasetUploaded, map[string]any{
		events.PayloadPath:  path,
		events.PayloadJobID: jobID,
	})
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", path).Msg("failed to start dataset job")
		writeError(w, http.StatusInternalServerError, "JOB_NOT_STARTED", "dataset stored but processing could not be started")
		return
	}

	metrics.UploadsTotal.Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "dataset uploaded, recommendation generation started",
		"job_id":  jobID,
	})
}

// saveUpload writes to a temporary file first so that a job never sees a
// partially written dataset
func (h *Handler) saveUpload(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(h.config.UploadDir, 0o750); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(h.config.UploadDir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := filepath.Join(h.config.UploadDir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// ============================================================================
// READ-OUT
// ============================================================================

func (h *Handler) getRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "query parameter id must be a non-negative integer")
		return
	}

	ids, err := h.deps.Recommender.GetRecommendations(r.Context(), id)
	switch {
	case errs.IsNotFound(err):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no recommendations for this id yet")
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Int64("id", id).Msg("recommendation lookup failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "recommendations are temporarily unavailable")
	case len(ids) == 0:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no recommendations for this id yet")
	default:
		writeData(w, http.StatusOK, ids)
	}
}

// ============================================================================
// JOBS
// ============================================================================

func (h *Handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	status, ok := h.deps.Jobs.Status(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown job")
		return
	}
	writeData(w, http.StatusOK, status)
}

// ============================================================================
// OPERATIONS
// ============================================================================

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.deps.Health))
	healthy := true
	for name, check := range h.deps.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (h *Handler) cacheStats(w http.ResponseWriter, _ *http.Request) {
	if h.deps.CacheStats == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "cache statistics are not available")
		return
	}
	writeData(w, http.StatusOK, h.deps.CacheStats.GetSnapshot())
}
