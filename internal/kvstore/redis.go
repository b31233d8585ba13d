package kvstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RedisStore implements Store on top of Redis, with OpenTelemetry tracing
// around every command.
type RedisStore struct {
	cmdable redis.Cmdable
}

// NewRedisStore creates a traced store backed by a single Redis instance.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{cmdable: client}
}

// NewRedisClusterStore creates a traced store backed by a Redis cluster.
func NewRedisClusterStore(client *redis.ClusterClient) *RedisStore {
	return &RedisStore{cmdable: client}
}

func (r *RedisStore) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span, time.Time) {
	ctx, span := otel.Tracer("kvstore").Start(ctx, "redis."+op,
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.String("redis.operation", op),
			attribute.String("redis.client", "app-sync"),
		),
	)
	return ctx, span, time.Now()
}

func endSpan(span trace.Span, start time.Time, err error) {
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int64("redis.duration_ms", duration.Milliseconds()),
	)
	span.End()
}

// Get returns the value stored at key, or ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span, start := r.startSpan(ctx, "get", key)

	value, err := r.cmdable.Get(ctx, key).Bytes()
	endSpan(span, start, err)

	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value at key. A zero ttl means no expiration.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span, start := r.startSpan(ctx, "set", key)

	err := r.cmdable.Set(ctx, key, value, ttl).Err()
	endSpan(span, start, err)
	return err
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, span, start := r.startSpan(ctx, "del", key)

	err := r.cmdable.Del(ctx, key).Err()
	endSpan(span, start, err)
	return err
}

// ListByPrefix scans for keys matching prefix and fetches their values.
// Keys that disappear between the scan and the fetch are skipped.
func (r *RedisStore) ListByPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	ctx, span, start := r.startSpan(ctx, "scan", prefix+"*")

	out := make(map[string][]byte)
	var cursor uint64
	for {
		keys, next, err := r.cmdable.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			endSpan(span, start, err)
			return nil, err
		}
		for _, key := range keys {
			value, err := r.cmdable.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				endSpan(span, start, err)
				return nil, err
			}
			out[key] = value
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	span.SetAttributes(attribute.Int("redis.key_count", len(out)))
	endSpan(span, start, nil)
	return out, nil
}

// Incr atomically increments the counter at key.
func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, span, start := r.startSpan(ctx, "incr", key)

	value, err := r.cmdable.Incr(ctx, key).Result()
	endSpan(span, start, err)
	return value, err
}
