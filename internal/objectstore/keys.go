package objectstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Deterministic key convention. (user_id, task_id) is sufficient to
// reconstruct a task's full artifact set, so task rows never store paths.
//
//	users/{user_id}/tasks/{task_id}/inputs/{logical_name}
//	users/{user_id}/tasks/{task_id}/outputs/{artifact_name}

func TaskPrefix(userID, taskID uuid.UUID) string {
	return fmt.Sprintf("users/%s/tasks/%s/", userID, taskID)
}

func InputsPrefix(userID, taskID uuid.UUID) string {
	return TaskPrefix(userID, taskID) + "inputs/"
}

func OutputsPrefix(userID, taskID uuid.UUID) string {
	return TaskPrefix(userID, taskID) + "outputs/"
}

func InputKey(userID, taskID uuid.UUID, logicalName string) string {
	return InputsPrefix(userID, taskID) + logicalName
}

func OutputKey(userID, taskID uuid.UUID, artifactName string) string {
	return OutputsPrefix(userID, taskID) + artifactName
}

// BaseName returns the artifact name of a key relative to its inputs/ or
// outputs/ prefix.
func BaseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
