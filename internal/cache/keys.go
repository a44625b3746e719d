package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskSnapshotKey scopes the cached status to its owner; a snapshot written
// for one user must never be served to another.
func TaskSnapshotKey(userID, taskID uuid.UUID) string {
	return fmt.Sprintf("task:snapshot:%s:%s", userID, taskID)
}

func TaskLockKey(taskID uuid.UUID) string {
	return fmt.Sprintf("task:lock:%s", taskID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
