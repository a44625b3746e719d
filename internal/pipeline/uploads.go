package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/probelab/dataprobe/internal/catalog"
	"github.com/probelab/dataprobe/internal/objectstore"
	"github.com/probelab/dataprobe/internal/store"
	"github.com/probelab/dataprobe/pkg/models"
)

var ErrUnknownInput = errors.New("logical file name not declared by tool")

// UploadTarget is one time-limited write URL plus the deterministic key it
// targets.
type UploadTarget struct {
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	URL       string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UploadCoordinator issues presigned PUT URLs for a task's declared inputs
// and moves the task into the uploading state. URLs are single-use-intent:
// bytes may be overwritten, and the orchestrator trusts whatever exists at
// trigger time. Expiry does not touch the task — only the retention sweep
// expires tasks.
type UploadCoordinator struct {
	store   store.Store
	objects objectstore.Store
	catalog *catalog.Registry
	ttl     time.Duration
}

// NewUploadCoordinator creates an UploadCoordinator.
func NewUploadCoordinator(s store.Store, objects objectstore.Store, reg *catalog.Registry, ttl time.Duration) *UploadCoordinator {
	return &UploadCoordinator{store: s, objects: objects, catalog: reg, ttl: ttl}
}

// IssueUploadURLs validates the manifest against the tool's declared inputs
// and returns one presigned PUT URL per file. On the first successful call
// the task moves created -> uploading; repeat calls while uploading are
// allowed so a caller can re-request URLs after expiry.
func (c *UploadCoordinator) IssueUploadURLs(ctx context.Context, task *models.Task, manifest []string) ([]UploadTarget, error) {
	if len(manifest) == 0 {
		return nil, fmt.Errorf("%w: empty manifest", ErrUnknownInput)
	}

	tool, err := c.catalog.Tool(task.ToolID)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool, len(tool.Inputs))
	for _, name := range tool.InputNames() {
		declared[name] = true
	}
	for _, name := range manifest {
		if !declared[name] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInput, name)
		}
	}

	// Presign before the state transition: a storage failure here must leave
	// the task exactly where it was.
	targets := make([]UploadTarget, 0, len(manifest))
	for _, name := range manifest {
		key := objectstore.InputKey(task.UserID, task.ID, name)
		u, err := c.objects.PresignPut(ctx, key, c.ttl)
		if err != nil {
			return nil, fmt.Errorf("presign upload %s: %w", name, err)
		}
		targets = append(targets, UploadTarget{
			Name:      name,
			Key:       key,
			URL:       u.URL.String(),
			ExpiresAt: u.ExpiresAt,
		})
	}

	if task.Status == models.TaskStatusCreated {
		if err := c.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCreated, models.TaskStatusUploading); err != nil {
			return nil, err
		}
	} else if task.Status != models.TaskStatusUploading {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, task.Status, models.TaskStatusUploading)
	}

	return targets, nil
}

// StorageKeyFor exposes the deterministic key an upload targets; used by the
// API layer for response bodies and by tests.
func StorageKeyFor(userID, taskID uuid.UUID, logicalName string) string {
	return objectstore.InputKey(userID, taskID, logicalName)
}
