package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"storefront/internal/app"
	"storefront/internal/checkout"
	"storefront/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var addr = checkout.Address{Street: "221B Baker St", City: "Mumbai", State: "MH"}

// memoryEnv builds one in-memory app shared by every command run.
func memoryEnv(t *testing.T) (env, *app.App) {
	t.Helper()
	cfg := config.Config{
		Postgres: config.PostgresConfig{URL: "postgres://unused"},
		Payment:  config.PaymentConfig{SigningSecret: "whsec_test", AttemptTimeout: time.Second},
	}
	memCfg := cfg
	memCfg.Postgres.URL = ""
	a, err := app.Build(context.Background(), memCfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.Memory.PutProduct(checkout.Product{ID: "p1", Name: "Desk Lamp", Available: 5})
	a.Memory.SetCart(checkout.Cart{
		UserID:     "u1",
		Lines:      []checkout.Line{{ProductID: "p1", Quantity: 2}},
		TotalPrice: 40000,
	})

	return env{
		load: func() (config.Config, error) { return cfg, nil },
		build: func(context.Context, config.Config, *zap.Logger) (*app.App, error) {
			return a, nil
		},
	}, a
}

func execute(t *testing.T, e env, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(e)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReleaseCommand(t *testing.T) {
	e, a := memoryEnv(t)
	res, err := a.Service.Reserve(context.Background(), "u1", 40000, addr)
	require.NoError(t, err)

	out, err := execute(t, e, "release", res.SessionID)
	require.NoError(t, err)
	require.Contains(t, out, "released "+res.SessionID)

	p, _ := a.Memory.Product("p1")
	require.Equal(t, int64(5), p.Available)

	_, err = execute(t, e, "release", res.SessionID)
	require.ErrorIs(t, err, checkout.ErrOrderNotPending)
}

func TestCancelCommand(t *testing.T) {
	e, a := memoryEnv(t)
	res, err := a.Service.Reserve(context.Background(), "u1", 40000, addr)
	require.NoError(t, err)

	out, err := execute(t, e, "cancel", res.OrderID, "--reason", "suspected fraud")
	require.NoError(t, err)
	require.Contains(t, out, "Cancelled: Order cancelled by operator: suspected fraud")
}

func TestExpireCommand(t *testing.T) {
	e, a := memoryEnv(t)
	_, err := a.Service.Reserve(context.Background(), "u1", 40000, addr)
	require.NoError(t, err)

	out, err := execute(t, e, "expire", "--older-than", "1h")
	require.NoError(t, err)
	require.Contains(t, out, "expired 0 order(s)")

	time.Sleep(5 * time.Millisecond)
	out, err = execute(t, e, "expire", "--older-than", "1ms")
	require.NoError(t, err)
	require.Contains(t, out, "expired 1 order(s)")
}

func TestReconcileCommandJSON(t *testing.T) {
	e, a := memoryEnv(t)
	a.Memory.PutProduct(checkout.Product{ID: "p2", Name: "Notebook", Available: 1, Reserved: 3})

	out, err := execute(t, e, "reconcile", "--json")
	require.NoError(t, err)

	var drifts []checkout.Drift
	require.NoError(t, json.Unmarshal([]byte(out), &drifts))
	require.Equal(t, []checkout.Drift{{ProductID: "p2", Reserved: 3, Expected: 0}}, drifts)

	p, _ := a.Memory.Product("p2")
	require.Equal(t, int64(4), p.Available)
	require.Zero(t, p.Reserved)
}

func TestCommandsRequireDatabaseURL(t *testing.T) {
	e := env{load: func() (config.Config, error) { return config.Config{}, nil }}

	_, err := execute(t, e, "reconcile")
	require.EqualError(t, err, "DATABASE_URL is required")
}

func TestInitSchemaCommand(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS products",
		"CREATE TABLE IF NOT EXISTS orders",
		"CREATE INDEX IF NOT EXISTS orders_user_created_idx",
		"CREATE INDEX IF NOT EXISTS orders_pending_idx",
		"CREATE TABLE IF NOT EXISTS cart_items",
		"CREATE TABLE IF NOT EXISTS order_saga_steps",
		"CREATE INDEX IF NOT EXISTS order_saga_steps_order_idx",
	} {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectClose()

	e := env{
		load: func() (config.Config, error) {
			return config.Config{Postgres: config.PostgresConfig{URL: "postgres://test"}}, nil
		},
		openDB: func(context.Context, config.PostgresConfig) (*sql.DB, error) { return db, nil },
	}

	out, err := execute(t, e, "init-schema")
	require.NoError(t, err)
	require.Contains(t, out, "schema ready")
	require.NoError(t, mock.ExpectationsWereMet())
}
