package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/probelab/dataprobe/pkg/models"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicateKey      = errors.New("duplicate key violation")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetDefaultUser(ctx context.Context) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Task, error)
	SetTaskAgents(ctx context.Context, id uuid.UUID, agents []string) error
	// UpdateTaskStatus moves a task from one status to another as a single
	// compare-and-swap: the update applies only if the task is still in the
	// expected status, enforcing single-writer discipline at the row level.
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, from, to string, opts ...TaskUpdateOption) error
	// UpdateTaskProgress records execution progress while a task is
	// processing. Progress never decreases.
	UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress int, currentAgent string) error
	// ListExpiryCandidates returns non-terminal tasks that never reached
	// processing and have been idle past the cutoff.
	ListExpiryCandidates(ctx context.Context, cutoff time.Time) ([]*models.Task, error)
	// ListTerminalBefore returns terminal tasks last touched before the
	// cutoff, for artifact reclamation.
	ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*models.Task, error)
}

// validTransitions is the task state machine. Backward moves are forbidden;
// the only loop is the explicit retry edge failed -> queued.
var validTransitions = map[string][]string{
	models.TaskStatusCreated:    {models.TaskStatusUploading, models.TaskStatusExpired},
	models.TaskStatusUploading:  {models.TaskStatusQueued, models.TaskStatusExpired},
	models.TaskStatusQueued:     {models.TaskStatusProcessing},
	models.TaskStatusProcessing: {models.TaskStatusCompleted, models.TaskStatusFailed},
	models.TaskStatusFailed:     {models.TaskStatusQueued},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskUpdate carries the optional column changes riding along with a status
// transition. Exported so alternate Store implementations can honor the same
// options.
type TaskUpdate struct {
	ErrorCode    *string
	ErrorMessage *string
	Progress     *int
	ClearAgent   bool
}

type TaskUpdateOption func(*TaskUpdate)

// ApplyTaskUpdates folds a list of options into a single TaskUpdate.
func ApplyTaskUpdates(opts []TaskUpdateOption) TaskUpdate {
	var u TaskUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// WithTaskError records a structured failure reason alongside the transition.
func WithTaskError(code, message string) TaskUpdateOption {
	return func(u *TaskUpdate) {
		u.ErrorCode = &code
		u.ErrorMessage = &message
	}
}

// WithProgress sets progress as part of the transition (e.g. 100 on completion).
func WithProgress(progress int) TaskUpdateOption {
	return func(u *TaskUpdate) {
		u.Progress = &progress
	}
}

// WithAgentCleared blanks current_agent; used when leaving the processing state.
func WithAgentCleared() TaskUpdateOption {
	return func(u *TaskUpdate) {
		u.ClearAgent = true
	}
}
