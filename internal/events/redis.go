package events

import (
	"context"
	"time"

	"storefront/internal/checkout"

	"github.com/redis/go-redis/v9"
)

// PipelineClient is the Redis surface the stream publisher needs.
type PipelineClient interface {
	Pipeline() redis.Pipeliner
}

// RedisStreamPublisher appends order events to a capped stream and keeps the
// latest status per order in a hash.
type RedisStreamPublisher struct {
	client    PipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// NewRedisStreamPublisher constructs a Redis-backed publisher.
func NewRedisStreamPublisher(client PipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisStreamPublisher {
	if stream == "" {
		stream = "order_events"
	}
	return &RedisStreamPublisher{
		client:    client,
		stream:    stream,
		keyPrefix: "order:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// Publish writes the status hash and the stream entry in one pipeline.
func (r *RedisStreamPublisher) Publish(ctx context.Context, evt checkout.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	at := evt.At.UTC().Format(time.RFC3339Nano)
	key := r.keyPrefix + evt.OrderID

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"user_id":    evt.UserID,
		"status":     string(evt.Status),
		"message":    evt.Message,
		"session_id": evt.SessionID,
		"updated_at": at,
	})
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"type":     string(evt.Type),
			"order_id": evt.OrderID,
			"user_id":  evt.UserID,
			"status":   string(evt.Status),
			"message":  evt.Message,
			"at":       at,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}
