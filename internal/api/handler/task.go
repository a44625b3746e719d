package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/probelab/dataprobe/internal/api/middleware"
	"github.com/probelab/dataprobe/internal/api/response"
	"github.com/probelab/dataprobe/internal/cache"
	"github.com/probelab/dataprobe/internal/catalog"
	"github.com/probelab/dataprobe/internal/pipeline"
	"github.com/probelab/dataprobe/internal/store"
	"github.com/probelab/dataprobe/pkg/models"
)

// snapshotTTL bounds how stale a cached task status may be under polling.
const snapshotTTL = 5 * time.Second

// TaskService defines the lifecycle operations the task handlers depend on.
type TaskService interface {
	CreateTask(ctx context.Context, userID uuid.UUID, toolID string, agentIDs []string) (*models.Task, error)
	Trigger(ctx context.Context, taskID, userID uuid.UUID) (*models.Task, error)
	Retry(ctx context.Context, taskID, userID uuid.UUID) (*models.Task, error)
	ListDownloads(ctx context.Context, task *models.Task) ([]pipeline.Download, error)
}

// TaskReader is the read-side store surface the handlers depend on.
type TaskReader interface {
	GetTask(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Task, error)
}

type taskResponse struct {
	ID           uuid.UUID  `json:"id"`
	ToolID       string     `json:"tool_id"`
	Agents       []string   `json:"agents"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	CurrentAgent string     `json:"current_agent,omitempty"`
	Error        *taskError `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type taskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toTaskResponse(t *models.Task) taskResponse {
	resp := taskResponse{
		ID:           t.ID,
		ToolID:       t.ToolID,
		Agents:       t.Agents,
		Status:       t.Status,
		Progress:     t.Progress,
		CurrentAgent: t.CurrentAgent,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if t.ErrorCode != nil {
		resp.Error = &taskError{Code: *t.ErrorCode}
		if t.ErrorMessage != nil {
			resp.Error.Message = *t.ErrorMessage
		}
	}
	return resp
}

// NewCreateTaskHandler returns an http.HandlerFunc for POST /api/v1/tasks.
func NewCreateTaskHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			ToolID string   `json:"tool_id"`
			Agents []string `json:"agents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.ToolID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "tool_id is required", nil)
			return
		}

		task, err := svc.CreateTask(r.Context(), userID, req.ToolID, req.Agents)
		if err != nil {
			switch {
			case errors.Is(err, catalog.ErrToolNotFound):
				response.Error(w, http.StatusNotFound, "TOOL_NOT_FOUND",
					"The requested tool does not exist", nil)
			case errors.Is(err, catalog.ErrAgentNotFound):
				response.Error(w, http.StatusBadRequest, "UNKNOWN_AGENT",
					"One or more requested agents do not exist", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Created(w, toTaskResponse(task))
	}
}

// NewGetTaskHandler returns an http.HandlerFunc for GET /api/v1/tasks/{taskID}.
// Status reads go through the Redis snapshot first so aggressive polling
// stays off the database.
func NewGetTaskHandler(reader TaskReader, c cache.Cache) http.HandlerFunc {
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

		// Snapshots are keyed per owner, so a cache hit can never leak
		// another user's task status.
		if snapshot, hit, err := c.GetTaskSnapshot(r.Context(), userID, taskID); err == nil && hit {
			var cached taskResponse
			if json.Unmarshal(snapshot, &cached) == nil {
				response.JSON(w, cached)
				return
			}
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

		resp := toTaskResponse(task)
		if snapshot, err := json.Marshal(resp); err == nil {
			// Best effort; a cold cache only costs the next poll a DB read.
			_ = c.SetTaskSnapshot(r.Context(), userID, taskID, snapshot, snapshotTTL)
		}
		response.JSON(w, resp)
	}
}

// NewProcessTaskHandler returns an http.HandlerFunc for
// POST /api/v1/tasks/{taskID}/process. All required inputs must be uploaded;
// the task moves to queued and is dispatched.
func NewProcessTaskHandler(svc TaskService) http.HandlerFunc {
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

		task, err := svc.Trigger(r.Context(), taskID, userID)
		if err != nil {
			writeTriggerError(w, err)
			return
		}

		response.Accepted(w, toTaskResponse(task))
	}
}

// NewRetryTaskHandler returns an http.HandlerFunc for
// POST /api/v1/tasks/{taskID}/retry. Only failed tasks can be retried.
func NewRetryTaskHandler(svc TaskService) http.HandlerFunc {
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

		task, err := svc.Retry(r.Context(), taskID, userID)
		if err != nil {
			writeTriggerError(w, err)
			return
		}

		response.Accepted(w, toTaskResponse(task))
	}
}

// NewDownloadsHandler returns an http.HandlerFunc for
// GET /api/v1/tasks/{taskID}/downloads. Artifacts are only retrievable from
// completed tasks; URLs are presigned per request.
func NewDownloadsHandler(reader TaskReader, svc TaskService) http.HandlerFunc {
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

		if task.Status != models.TaskStatusCompleted {
			response.Error(w, http.StatusConflict, "TASK_NOT_COMPLETED",
				"Downloads are only available for completed tasks",
				map[string]string{"status": task.Status})
			return
		}

		downloads, err := svc.ListDownloads(r.Context(), task)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "STORAGE_FAILURE",
				"Failed to generate download URLs", nil)
			return
		}

		response.JSON(w, map[string]any{"downloads": downloads})
	}
}

func writeTriggerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "TASK_NOT_FOUND", "Task not found", nil)
	case errors.Is(err, pipeline.ErrMissingInputs):
		response.Error(w, http.StatusConflict, "MISSING_INPUTS",
			"Required input files have not been uploaded", nil)
	case errors.Is(err, pipeline.ErrTaskLocked):
		response.Error(w, http.StatusConflict, "TASK_LOCKED",
			"The task is already being processed", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_STATE",
			"The task is not in a state that allows this operation", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
