package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/probelab/dataprobe/internal/store"
	"github.com/probelab/dataprobe/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("dataprobe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// defaultUserID returns the UUID of the seeded default user.
func defaultUserID(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	user, err := s.GetDefaultUser(context.Background())
	require.NoError(t, err)
	return user.ID
}

func newTask(userID uuid.UUID) *models.Task {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Task{
		ID:        uuid.New(),
		UserID:    userID,
		ToolID:    "quality-audit",
		Agents:    []string{"blank-line-scrubber", "profiler"},
		Status:    models.TaskStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- User Tests ---

func TestGetDefaultUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	user, err := s.GetDefaultUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", user.Name)
	assert.Equal(t, int64(1000), user.Credits)
	assert.NotEqual(t, uuid.Nil, user.ID)
}

// --- Task Tests ---

func TestTask_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := defaultUserID(t, s)

	task := newTask(userID)
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "quality-audit", got.ToolID)
	assert.Equal(t, []string{"blank-line-scrubber", "profiler"}, got.Agents)
	assert.Equal(t, models.TaskStatusCreated, got.Status)
	assert.Zero(t, got.Progress)
	assert.Nil(t, got.ErrorCode)
}

func TestTask_GetScopedToUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	task := newTask(defaultUserID(t, s))
	require.NoError(t, s.CreateTask(ctx, task))

	_, err := s.GetTask(ctx, task.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTask_StatusTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := defaultUserID(t, s)

	task := newTask(userID)
	require.NoError(t, s.CreateTask(ctx, task))

	// Walk the happy path.
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCreated, models.TaskStatusUploading))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusUploading, models.TaskStatusQueued))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusQueued, models.TaskStatusProcessing))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusProcessing, models.TaskStatusCompleted,
		store.WithProgress(100)))

	got, err := s.GetTask(ctx, task.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestTask_CompareAndSwapRejectsStaleWriter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := defaultUserID(t, s)

	task := newTask(userID)
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCreated, models.TaskStatusUploading))

	// A writer still assuming created loses.
	err := s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCreated, models.TaskStatusUploading)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	// Backward moves are rejected before touching the database.
	err = s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusUploading, models.TaskStatusCreated)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestTask_CompletedIsTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := defaultUserID(t, s)

	task := newTask(userID)
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCreated, models.TaskStatusUploading))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusUploading, models.TaskStatusQueued))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusQueued, models.TaskStatusProcessing))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusProcessing, models.TaskStatusCompleted))

	err := s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted, models.TaskStatusProcessing)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestTask_FailureRecordsErrorAndRetryClearsIt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := defaultUserID(t, s)

	task := newTask(userID)
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCreated, models.TaskStatusUploading))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusUploading, models.TaskStatusQueued))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusQueued, models.TaskStatusProcessing,
		store.WithProgress(5)))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusProcessing, models.TaskStatusFailed,
		store.WithTaskError("INSUFFICIENT_CREDITS", "need 5, have 3"), store.WithAgentCleared()))

	got, err := s.GetTask(ctx, task.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "INSUFFICIENT_CREDITS", *got.ErrorCode)
	assert.Equal(t, "need 5, have 3", *got.ErrorMessage)
	assert.Empty(t, got.CurrentAgent)

	// The retry edge wipes the failure and resets progress.
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusFailed, models.TaskStatusQueued))
	got, err = s.GetTask(ctx, task.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, got.Status)
	assert.Nil(t, got.ErrorCode)
	assert.Nil(t, got.ErrorMessage)
	assert.Zero(t, got.Progress)
}

func TestTask_ProgressIsMonotonicAndProcessingOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := defaultUserID(t, s)

	task := newTask(userID)
	require.NoError(t, s.CreateTask(ctx, task))

	// Progress updates outside processing are rejected.
	err := s.UpdateTaskProgress(ctx, task.ID, 10, "profiler")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCreated, models.TaskStatusUploading))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusUploading, models.TaskStatusQueued))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusQueued, models.TaskStatusProcessing))

	require.NoError(t, s.UpdateTaskProgress(ctx, task.ID, 50, "profiler"))
	// A lower value never wins.
	require.NoError(t, s.UpdateTaskProgress(ctx, task.ID, 20, "scrubber"))

	got, err := s.GetTask(ctx, task.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, "scrubber", got.CurrentAgent)
}

func TestTask_ListExpiryCandidates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := defaultUserID(t, s)

	stale := newTask(userID)
	require.NoError(t, s.CreateTask(ctx, stale))
	queued := newTask(userID)
	require.NoError(t, s.CreateTask(ctx, queued))
	require.NoError(t, s.UpdateTaskStatus(ctx, queued.ID, models.TaskStatusCreated, models.TaskStatusUploading))
	require.NoError(t, s.UpdateTaskStatus(ctx, queued.ID, models.TaskStatusUploading, models.TaskStatusQueued))

	// Everything is younger than this cutoff: no candidates.
	past, err := s.ListExpiryCandidates(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, past)

	// With a future cutoff only the task stuck in created qualifies;
	// the queued task is past the expiry-eligible states.
	future, err := s.ListExpiryCandidates(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, future, 1)
	assert.Equal(t, stale.ID, future[0].ID)
}

func TestTask_ListTerminalBefore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := defaultUserID(t, s)

	task := newTask(userID)
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCreated, models.TaskStatusExpired))

	terminal, err := s.ListTerminalBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, task.ID, terminal[0].ID)
	assert.Equal(t, models.TaskStatusExpired, terminal[0].Status)
}

// --- API Key Tests ---

func TestAPIKey_CreateGetRevoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := defaultUserID(t, s)

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "dpk_abcd",
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "dpk_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"read", "write"}, keys[0].Scopes)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID, userID))

	// Revoked keys no longer resolve by prefix.
	keys, err = s.GetAPIKeyByPrefix(ctx, "dpk_abcd")
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID, userID), store.ErrNotFound)
}
