package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	pendingMarker        = "pending"
)

// completeScript swaps the pending marker for the result ID, keeping the key's TTL window.
var completeScript = redis.NewScript(`
local key = KEYS[1]
local current = redis.call('GET', key)
if current and current ~= ARGV[1] then
	return 0
end

redis.call('SET', key, ARGV[2], 'PX', ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('GET', key) == ARGV[1] then
	redis.call('DEL', key)
	return 1
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

var _ port.IdempotencyStore = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) Reserve(ctx context.Context, key string) (string, bool, error) {
	key = idempotencyKeyPrefix + key

	ok, err := r.client.SetNX(ctx, key, pendingMarker, r.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: reserve idempotency key: %w", domain.ErrUnavailable, err)
	}
	if ok {
		return "", true, nil
	}

	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; the caller retries as in-flight
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: read idempotency key: %w", domain.ErrUnavailable, err)
	}
	if val == pendingMarker {
		return "", false, nil
	}
	return val, false, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key, resultID string) error {
	key = idempotencyKeyPrefix + key

	ok, err := completeScript.Run(ctx, r.client, []string{key}, pendingMarker, resultID, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("%w: complete idempotency key: %w", domain.ErrUnavailable, err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: idempotency key %s already completed", domain.ErrConflict, key)
	}
	return nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	key = idempotencyKeyPrefix + key

	if err := releaseScript.Run(ctx, r.client, []string{key}, pendingMarker).Err(); err != nil {
		return fmt.Errorf("%w: release idempotency key: %w", domain.ErrUnavailable, err)
	}
	return nil
}
