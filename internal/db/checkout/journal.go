package checkoutdb

import (
	"context"
	"database/sql"

	"storefront/internal/checkout/saga"
)

// Journal persists saga steps in Postgres.
type Journal struct {
	db *sql.DB
}

// NewJournal constructs a Journal backed by Postgres.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// NewJournalWithSchema initializes the schema then returns the journal.
func NewJournalWithSchema(ctx context.Context, db *sql.DB) (*Journal, error) {
	journal := NewJournal(db)
	if err := journal.InitSchema(ctx); err != nil {
		return nil, err
	}
	return journal, nil
}

// InitSchema creates the step table. Rows outlive their order: compensated
// reservations delete the order but keep the trail.
func (j *Journal) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS order_saga_steps (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS order_saga_steps_order_idx ON order_saga_steps (order_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// AddStep appends a saga step row. An empty order id is stored as NULL.
func (j *Journal) AddStep(ctx context.Context, orderID string, step saga.Step, status saga.StepStatus, detail string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO order_saga_steps (order_id, step, status, detail)
		VALUES (NULLIF($1, ''), $2, $3, $4)`,
		orderID, string(step), string(status), detail,
	)
	return err
}

// Steps returns an order's steps in insertion order.
func (j *Journal) Steps(ctx context.Context, orderID string) ([]saga.StepRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT order_id, step, status, COALESCE(detail, '')
		FROM order_saga_steps
		WHERE order_id = $1
		ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []saga.StepRecord
	for rows.Next() {
		var (
			rec    saga.StepRecord
			step   string
			status string
		)
		if err := rows.Scan(&rec.OrderID, &step, &status, &rec.Detail); err != nil {
			return nil, err
		}
		rec.Step = saga.Step(step)
		rec.Status = saga.StepStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}
