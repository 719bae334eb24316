package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

// once runs create at most once per key. A repeated key returns the entity
// recorded for it through load with replayed set; a key whose first attempt
// is still running fails with ErrConflict. Without a store or a key, create
// simply runs.
func once[T any](
	ctx context.Context,
	store port.IdempotencyStore,
	logger *zap.Logger,
	key string,
	load func(ctx context.Context, id string) (T, error),
	create func(ctx context.Context) (T, string, error),
) (v T, replayed bool, err error) {
	if store == nil || key == "" {
		v, _, err = create(ctx)
		return v, false, err
	}

	var zero T
	existing, reserved, err := store.Reserve(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if !reserved {
		if existing == "" {
			return zero, false, fmt.Errorf("%w: operation for idempotency key is still in progress", domain.ErrConflict)
		}
		v, err = load(ctx, existing)
		return v, err == nil, err
	}

	v, id, err := create(ctx)
	if err != nil {
		if relErr := store.Release(ctx, key); relErr != nil {
			logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
		}
		return zero, false, err
	}
	if err := store.Complete(ctx, key, id); err != nil {
		// the entity exists; only replay protection is lost
		logger.Warn("failed to complete idempotency key", zap.String("key", key), zap.String("result_id", id), zap.Error(err))
	}
	return v, false, nil
}

func idempotencyKey(scope string, caller domain.Account, key string) string {
	if key == "" {
		return ""
	}
	return scope + ":" + caller.ID + ":" + key
}
