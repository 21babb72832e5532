package checkoutdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"storefront/internal/checkout"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrWriteConflict signals a serialization failure; the transaction was rolled back.
var ErrWriteConflict = errors.New("concurrent write conflict")

// Store persists inventory, orders and carts in Postgres.
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewStore constructs a Store backed by Postgres.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, tracer: otel.Tracer("storefront/db/checkout")}
}

// NewStoreWithSchema initializes the schema then returns the store.
func NewStoreWithSchema(ctx context.Context, db *sql.DB) (*Store, error) {
	store := NewStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the checkout tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			available BIGINT NOT NULL DEFAULT 0 CHECK (available >= 0),
			reserved BIGINT NOT NULL DEFAULT 0 CHECK (reserved >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			lines JSONB NOT NULL,
			total_price BIGINT NOT NULL,
			currency TEXT NOT NULL,
			address JSONB NOT NULL,
			provider_session_id TEXT UNIQUE,
			status TEXT NOT NULL,
			status_message TEXT NOT NULL,
			provider_payment_id TEXT,
			settled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS orders_pending_idx ON orders (created_at) WHERE status = 'Pending'`,
		`CREATE TABLE IF NOT EXISTS cart_items (
			user_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			quantity BIGINT NOT NULL CHECK (quantity > 0),
			unit_price BIGINT NOT NULL CHECK (unit_price >= 0),
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, product_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// InTx runs fn inside a serializable transaction and commits when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) (err error) {
	ctx, span := s.tracer.Start(ctx, "Store.InTx")
	defer span.End()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &tx{tx: sqlTx}); err != nil {
		return classify(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// AttachSession stores the provider session id on an order. Re-applying the same id is a no-op.
func (s *Store) AttachSession(ctx context.Context, orderID, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET provider_session_id = $2, updated_at = NOW()
		WHERE id = $1 AND (provider_session_id IS NULL OR provider_session_id = $2)`,
		orderID, sessionID,
	)
	if err != nil {
		return classify(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s has no attachable session", checkout.ErrOrderNotFound, orderID)
	}
	return nil
}

// ListOrdersByUser returns the user's orders, newest first.
func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]checkout.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// GetOrder reads one order without locking it.
func (s *Store) GetOrder(ctx context.Context, orderID string) (checkout.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1`,
		orderID,
	)
	return scanOrder(row)
}

// ReadCart returns the user's cart snapshot. TotalPrice is the sum of quantity times unit price.
func (s *Store) ReadCart(ctx context.Context, userID string) (checkout.Cart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at, product_id`,
		userID,
	)
	if err != nil {
		return checkout.Cart{}, classify(err)
	}
	defer rows.Close()

	cart := checkout.Cart{UserID: userID}
	for rows.Next() {
		var (
			line      checkout.Line
			unitPrice int64
		)
		if err := rows.Scan(&line.ProductID, &line.Quantity, &unitPrice); err != nil {
			return checkout.Cart{}, err
		}
		cart.Lines = append(cart.Lines, line)
		cart.TotalPrice += line.Quantity * unitPrice
	}
	return cart, rows.Err()
}

// PutProduct upserts a product's name and counters.
func (s *Store) PutProduct(ctx context.Context, p checkout.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, available, reserved)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, available = EXCLUDED.available, reserved = EXCLUDED.reserved, updated_at = NOW()`,
		p.ID, p.Name, p.Available, p.Reserved,
	)
	return classify(err)
}

// AddCartItem adds quantity of a product to the user's cart.
func (s *Store) AddCartItem(ctx context.Context, userID, productID string, quantity, unitPrice int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity, unit_price = EXCLUDED.unit_price`,
		userID, productID, quantity, unitPrice,
	)
	return classify(err)
}

const orderColumns = `id, user_id, lines, total_price, currency, address, provider_session_id,
		status, status_message, provider_payment_id, settled_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (checkout.Order, error) {
	var (
		o         checkout.Order
		lines     []byte
		address   []byte
		sessionID sql.NullString
		status    string
		paymentID sql.NullString
		settledAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &lines, &o.TotalPrice, &o.Currency, &address, &sessionID,
		&status, &o.StatusMessage, &paymentID, &settledAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return checkout.Order{}, checkout.ErrOrderNotFound
	}
	if err != nil {
		return checkout.Order{}, classify(err)
	}

	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return checkout.Order{}, fmt.Errorf("decode order %s lines: %w", o.ID, err)
	}
	if err := json.Unmarshal(address, &o.Address); err != nil {
		return checkout.Order{}, fmt.Errorf("decode order %s address: %w", o.ID, err)
	}
	o.ProviderSessionID = sessionID.String
	o.Status = checkout.OrderStatus(status)
	if paymentID.Valid {
		o.PaymentProof = &checkout.PaymentProof{ProviderPaymentID: paymentID.String, SettledAt: settledAt.Time}
	}
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]checkout.Order, error) {
	out := make([]checkout.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// classify maps Postgres serialization and deadlock failures to ErrWriteConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrWriteConflict, pgErr.Message)
		}
	}
	return err
}
