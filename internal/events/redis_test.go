package events

import (
	"context"
	"testing"
	"time"

	"storefront/internal/checkout"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

var paidEvent = checkout.Event{
	Type:      checkout.EventPaid,
	OrderID:   "ord-1",
	UserID:    "u1",
	Status:    checkout.StatusPaid,
	Message:   "Payment successful. Order confirmed.",
	SessionID: "order_sess_1",
	At:        time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC),
}

func TestRedisStreamPublisher_WritesStreamAndHash(t *testing.T) {
	mr, client := newMiniredis(t)
	pub := NewRedisStreamPublisher(client, "", time.Hour, 0)

	require.NoError(t, pub.Publish(context.Background(), paidEvent))

	entries, err := client.XRange(context.Background(), "order_events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "order.paid", entries[0].Values["type"])
	require.Equal(t, "ord-1", entries[0].Values["order_id"])
	require.Equal(t, "Paid", entries[0].Values["status"])

	require.Equal(t, "Paid", mr.HGet("order:ord-1", "status"))
	require.Equal(t, "u1", mr.HGet("order:ord-1", "user_id"))
	require.Equal(t, time.Hour, mr.TTL("order:ord-1"))
}

func TestRedisStreamPublisher_CapsStream(t *testing.T) {
	_, client := newMiniredis(t)
	pub := NewRedisStreamPublisher(client, "orders_capped", 0, 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(context.Background(), paidEvent))
	}
	n, err := client.XLen(context.Background(), "orders_capped").Result()
	require.NoError(t, err)
	require.LessOrEqual(t, n, int64(5))
	require.GreaterOrEqual(t, n, int64(2))
}

func TestRedisStreamPublisher_CancelledContext(t *testing.T) {
	_, client := newMiniredis(t)
	pub := NewRedisStreamPublisher(client, "", 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pub.Publish(ctx, paidEvent), context.Canceled)
}
