package models

import (
	"time"

	"github.com/google/uuid"
)

// Billing entry outcomes.
const (
	BillingOutcomeConsumed = "consumed"
	BillingOutcomeRefunded = "refunded"
)

// BillingEntry is one ledger row per (task, agent) charge. Entries for a task
// are written atomically at reservation time; a refund flips the outcome, it
// never deletes the row.
type BillingEntry struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	TaskID    uuid.UUID `db:"task_id"    json:"task_id"`
	UserID    uuid.UUID `db:"user_id"    json:"user_id"`
	AgentID   string    `db:"agent_id"   json:"agent_id"`
	Credits   int64     `db:"credits"    json:"credits"`
	Outcome   string    `db:"outcome"    json:"outcome"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User owns tasks, API keys, and a credit balance. Every storage key and
// billing charge is scoped to a user.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Credits   int64     `db:"credits"    json:"credits"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
