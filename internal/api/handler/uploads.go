package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/probelab/dataprobe/internal/api/middleware"
	"github.com/probelab/dataprobe/internal/api/response"
	"github.com/probelab/dataprobe/internal/pipeline"
	"github.com/probelab/dataprobe/internal/store"
	"github.com/probelab/dataprobe/pkg/models"
)

// UploadService defines the upload coordination the handler depends on.
type UploadService interface {
	IssueUploadURLs(ctx context.Context, task *models.Task, manifest []string) ([]pipeline.UploadTarget, error)
}

// NewUploadURLsHandler returns an http.HandlerFunc for
// POST /api/v1/tasks/{taskID}/uploads. The body names the logical files the
// client intends to upload; the response carries one presigned PUT URL each.
func NewUploadURLsHandler(reader TaskReader, svc UploadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid task id", nil)
			return
		}

		var req struct {
			Files []string `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.Files) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "files is required", nil)
			return
		}

		task, err := reader.GetTask(r.Context(), taskID, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "TASK_NOT_FOUND", "Task not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		targets, err := svc.IssueUploadURLs(r.Context(), task, req.Files)
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrUnknownInput):
				response.Error(w, http.StatusBadRequest, "UNKNOWN_INPUT",
					"One or more file names are not declared by the tool", nil)
			case errors.Is(err, store.ErrInvalidTransition):
				response.Error(w, http.StatusConflict, "INVALID_STATE",
					"Uploads are only allowed before processing starts", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "STORAGE_FAILURE",
					"Failed to generate upload URLs", nil)
			}
			return
		}

		response.JSON(w, map[string]any{"uploads": targets})
	}
}
