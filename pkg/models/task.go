// Package models contains shared data models used across the dataprobe codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Task lifecycle states. A task is created empty, collects uploads, is queued
// for processing, and ends in exactly one terminal state.
const (
	TaskStatusCreated    = "created"
	TaskStatusUploading  = "uploading"
	TaskStatusQueued     = "queued"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusExpired    = "expired"
)

// TerminalStatuses are the states a task never leaves (except via retry).
var TerminalStatuses = map[string]bool{
	TaskStatusCompleted: true,
	TaskStatusFailed:    true,
	TaskStatusExpired:   true,
}

// Task is one user-initiated request to run a tool's agent pipeline over
// uploaded data. It carries status, progress, and billing scope — never file
// bytes or storage paths: artifact keys are derived from (user_id, task_id)
// by the objectstore key convention.
type Task struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	UserID       uuid.UUID `db:"user_id"       json:"user_id"`
	ToolID       string    `db:"tool_id"       json:"tool_id"`
	Agents       []string  `db:"agents"        json:"agents"`
	Status       string    `db:"status"        json:"status"`
	Progress     int       `db:"progress"      json:"progress"`
	CurrentAgent string    `db:"current_agent" json:"current_agent,omitempty"`
	ErrorCode    *string   `db:"error_code"    json:"error_code,omitempty"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the task has reached a terminal state.
func (t *Task) Terminal() bool {
	return TerminalStatuses[t.Status]
}
