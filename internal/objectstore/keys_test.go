package objectstore_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/probelab/dataprobe/internal/objectstore"
	"github.com/stretchr/testify/assert"
)

func TestKeyConvention(t *testing.T) {
	userID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	taskID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	base := fmt.Sprintf("users/%s/tasks/%s/", userID, taskID)

	assert.Equal(t, base, objectstore.TaskPrefix(userID, taskID))
	assert.Equal(t, base+"inputs/", objectstore.InputsPrefix(userID, taskID))
	assert.Equal(t, base+"outputs/", objectstore.OutputsPrefix(userID, taskID))
	assert.Equal(t, base+"inputs/primary", objectstore.InputKey(userID, taskID, "primary"))
	assert.Equal(t, base+"outputs/report.json", objectstore.OutputKey(userID, taskID, "report.json"))
}

func TestKeyConvention_Deterministic(t *testing.T) {
	userID := uuid.New()
	taskID := uuid.New()

	// Same identifiers must always derive the same keys; nothing else feeds in.
	assert.Equal(t,
		objectstore.InputKey(userID, taskID, "baseline"),
		objectstore.InputKey(userID, taskID, "baseline"))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "report.json", objectstore.BaseName("users/a/tasks/b/outputs/report.json"))
	assert.Equal(t, "plain", objectstore.BaseName("plain"))
}
