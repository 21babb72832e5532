package checkoutdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"storefront/internal/checkout"
)

// tx implements checkout.Tx on a serializable sql.Tx. Every read locks its rows.
type tx struct {
	tx *sql.Tx
}

func (t *tx) GetProduct(ctx context.Context, productID string) (checkout.Product, error) {
	var p checkout.Product
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, available, reserved
		FROM products
		WHERE id = $1
		FOR UPDATE`,
		productID,
	).Scan(&p.ID, &p.Name, &p.Available, &p.Reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return checkout.Product{}, checkout.ErrProductNotFound
	}
	return p, err
}

func (t *tx) SaveProduct(ctx context.Context, p checkout.Product) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET available = $2, reserved = $3, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Available, p.Reserved,
	)
	if err != nil {
		return err
	}
	return requireRow(res, checkout.ErrProductNotFound)
}

func (t *tx) ListProducts(ctx context.Context) ([]checkout.Product, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, available, reserved
		FROM products
		ORDER BY id
		FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]checkout.Product, 0)
	for rows.Next() {
		var p checkout.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Available, &p.Reserved); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *tx) InsertOrder(ctx context.Context, o checkout.Order) error {
	lines, address, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, lines, total_price, currency, address, provider_session_id,
			status, status_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)`,
		o.ID, o.UserID, lines, o.TotalPrice, o.Currency, address, o.ProviderSessionID,
		string(o.Status), o.StatusMessage, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (t *tx) GetOrder(ctx context.Context, orderID string) (checkout.Order, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE`,
		orderID,
	)
	return scanOrder(row)
}

func (t *tx) GetOrderBySession(ctx context.Context, sessionID string) (checkout.Order, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE provider_session_id = $1
		FOR UPDATE`,
		sessionID,
	)
	return scanOrder(row)
}

func (t *tx) UpdateOrder(ctx context.Context, o checkout.Order) error {
	_, address, err := encodeOrder(o)
	if err != nil {
		return err
	}
	var (
		paymentID sql.NullString
		settledAt sql.NullTime
	)
	if o.PaymentProof != nil {
		paymentID = sql.NullString{String: o.PaymentProof.ProviderPaymentID, Valid: true}
		settledAt = sql.NullTime{Time: o.PaymentProof.SettledAt, Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, status_message = $3, address = $4, provider_session_id = NULLIF($5, ''),
			provider_payment_id = $6, settled_at = $7, updated_at = $8
		WHERE id = $1`,
		o.ID, string(o.Status), o.StatusMessage, address, o.ProviderSessionID,
		paymentID, settledAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res, checkout.ErrOrderNotFound)
}

func (t *tx) DeleteOrder(ctx context.Context, orderID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	return err
}

func (t *tx) ListPendingOrders(ctx context.Context, createdBefore time.Time) ([]checkout.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1`
	args := []any{string(checkout.StatusPending)}
	if !createdBefore.IsZero() {
		query += ` AND created_at < $2`
		args = append(args, createdBefore)
	}
	query += ` ORDER BY created_at`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (t *tx) DeleteCart(ctx context.Context, userID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}

func encodeOrder(o checkout.Order) (lines, address []byte, err error) {
	if lines, err = json.Marshal(o.Lines); err != nil {
		return nil, nil, err
	}
	if address, err = json.Marshal(o.Address); err != nil {
		return nil, nil, err
	}
	return lines, address, nil
}

func requireRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
