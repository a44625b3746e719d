package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/probelab/dataprobe/pkg/models"
)

// PostgresLedger implements Ledger using pgx/v5 transactions.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgresLedger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) ReserveAndCharge(ctx context.Context, userID, taskID uuid.UUID, charges []AgentCharge) error {
	var total int64
	for _, c := range charges {
		if c.Credits <= 0 {
			return fmt.Errorf("%w: agent %s", ErrUnknownAgentCost, c.AgentID)
		}
		total += c.Credits
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin billing tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock serializes concurrent reservations for the same user.
	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT credits FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lock user balance: %w", err)
	}

	if balance < total {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientCredits, total, balance)
	}

	now := time.Now().UTC()
	for _, c := range charges {
		_, err = tx.Exec(ctx,
			`INSERT INTO billing_entries (id, task_id, user_id, agent_id, credits, outcome, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), taskID, userID, c.AgentID, c.Credits, models.BillingOutcomeConsumed, now)
		if err != nil {
			return fmt.Errorf("insert billing entry for %s: %w", c.AgentID, err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET credits = credits - $2, updated_at = NOW() WHERE id = $1`, userID, total)
	if err != nil {
		return fmt.Errorf("decrement balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit billing tx: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Refund(ctx context.Context, taskID uuid.UUID) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	var total int64
	err = tx.QueryRow(ctx,
		`SELECT user_id, COALESCE(SUM(credits), 0) FROM billing_entries
		 WHERE task_id = $1 AND outcome = $2 GROUP BY user_id`,
		taskID, models.BillingOutcomeConsumed).Scan(&userID, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNothingToRefund
	}
	if err != nil {
		return fmt.Errorf("sum consumed entries: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE billing_entries SET outcome = $2 WHERE task_id = $1 AND outcome = $3`,
		taskID, models.BillingOutcomeRefunded, models.BillingOutcomeConsumed)
	if err != nil {
		return fmt.Errorf("mark entries refunded: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET credits = credits + $2, updated_at = NOW() WHERE id = $1`, userID, total)
	if err != nil {
		return fmt.Errorf("restore balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit refund tx: %w", err)
	}
	return nil
}

func (l *PostgresLedger) EntriesForTask(ctx context.Context, taskID uuid.UUID) ([]*models.BillingEntry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, task_id, user_id, agent_id, credits, outcome, created_at
		 FROM billing_entries WHERE task_id = $1 ORDER BY created_at, agent_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list billing entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.BillingEntry
	for rows.Next() {
		var e models.BillingEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.UserID, &e.AgentID, &e.Credits, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan billing entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
