package pipeline_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/dataprobe/internal/catalog"
	"github.com/probelab/dataprobe/internal/pipeline"
	"github.com/probelab/dataprobe/internal/store"
	"github.com/probelab/dataprobe/pkg/models"
)

func newUploadFixture(t *testing.T) (*fixture, *pipeline.UploadCoordinator) {
	t.Helper()
	f := newFixture(t, catalog.PolicyAny, 100)
	coord := pipeline.NewUploadCoordinator(f.store, f.objects, testCatalog(t, catalog.PolicyAny), 15*time.Minute)
	return f, coord
}

func TestIssueUploadURLs_MovesCreatedToUploading(t *testing.T) {
	f, coord := newUploadFixture(t)
	ctx := context.Background()

	task, err := f.orch.CreateTask(ctx, f.userID, "audit", nil)
	require.NoError(t, err)

	targets, err := coord.IssueUploadURLs(ctx, task, []string{"primary", "baseline"})
	require.NoError(t, err)
	require.Len(t, targets, 2)

	for _, target := range targets {
		assert.Equal(t, pipeline.StorageKeyFor(f.userID, task.ID, target.Name), target.Key)
		assert.NotEmpty(t, target.URL)
		assert.False(t, target.ExpiresAt.IsZero())
	}

	got, err := f.store.GetTask(ctx, task.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusUploading, got.Status)
}

func TestIssueUploadURLs_RepeatWhileUploading(t *testing.T) {
	f, coord := newUploadFixture(t)
	ctx := context.Background()

	task, err := f.orch.CreateTask(ctx, f.userID, "audit", nil)
	require.NoError(t, err)

	_, err = coord.IssueUploadURLs(ctx, task, []string{"primary"})
	require.NoError(t, err)

	// Re-request after expiry: caller fetches the fresh task and asks again.
	task, err = f.store.GetTask(ctx, task.ID, f.userID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusUploading, task.Status)

	targets, err := coord.IssueUploadURLs(ctx, task, []string{"primary"})
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

func TestIssueUploadURLs_UndeclaredName(t *testing.T) {
	f, coord := newUploadFixture(t)
	ctx := context.Background()

	task, err := f.orch.CreateTask(ctx, f.userID, "audit", nil)
	require.NoError(t, err)

	_, err = coord.IssueUploadURLs(ctx, task, []string{"primary", "bogus"})
	assert.ErrorIs(t, err, pipeline.ErrUnknownInput)

	// Rejected manifests leave the task untouched.
	got, err := f.store.GetTask(ctx, task.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCreated, got.Status)
}

func TestIssueUploadURLs_EmptyManifest(t *testing.T) {
	f, coord := newUploadFixture(t)

	task, err := f.orch.CreateTask(context.Background(), f.userID, "audit", nil)
	require.NoError(t, err)

	_, err = coord.IssueUploadURLs(context.Background(), task, nil)
	assert.ErrorIs(t, err, pipeline.ErrUnknownInput)
}

func TestIssueUploadURLs_RejectedAfterQueued(t *testing.T) {
	f, coord := newUploadFixture(t)
	ctx := context.Background()

	task := f.createReadyTask(t, "audit")
	require.NoError(t, f.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusUploading, models.TaskStatusQueued))

	task, err := f.store.GetTask(ctx, task.ID, f.userID)
	require.NoError(t, err)

	_, err = coord.IssueUploadURLs(ctx, task, []string{"primary"})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestStorageKeysAreDeterministic(t *testing.T) {
	f, _ := newUploadFixture(t)
	task, err := f.orch.CreateTask(context.Background(), f.userID, "audit", nil)
	require.NoError(t, err)

	key := pipeline.StorageKeyFor(f.userID, task.ID, "primary")
	assert.Equal(t, fmt.Sprintf("users/%s/tasks/%s/inputs/primary", f.userID, task.ID), key)
	assert.Equal(t, key, pipeline.StorageKeyFor(f.userID, task.ID, "primary"))
}
