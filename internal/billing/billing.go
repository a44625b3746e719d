// Package billing implements the credit ledger gate in front of pipeline
// execution. Reservation is all-or-nothing: one ledger entry per agent is
// written in a single transaction before any agent runs, so a crash
// mid-pipeline can never leave a partial charge.
package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/probelab/dataprobe/pkg/models"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnknownAgentCost    = errors.New("unknown agent cost")
	ErrUserNotFound        = errors.New("user not found")
	ErrNothingToRefund     = errors.New("no consumed entries to refund")
)

// AgentCharge is the declared cost of one agent in a resolved pipeline.
type AgentCharge struct {
	AgentID string
	Credits int64
}

// Ledger is the billing gate interface.
type Ledger interface {
	// ReserveAndCharge atomically validates the user's balance against the
	// total cost of every agent and writes one consumed entry per agent.
	// On any failure no entries are written and the balance is untouched.
	ReserveAndCharge(ctx context.Context, userID, taskID uuid.UUID, charges []AgentCharge) error
	// Refund flips every consumed entry for the task to refunded and credits
	// the balance back, in one transaction. Used on fatal pipeline aborts.
	Refund(ctx context.Context, taskID uuid.UUID) error
	// EntriesForTask returns the ledger rows for a task, oldest first.
	EntriesForTask(ctx context.Context, taskID uuid.UUID) ([]*models.BillingEntry, error)
}
