package port

import "context"

type IdempotencyStore interface {
	// Reserve claims key for a new operation. When the key is already taken it
	// returns reserved=false together with the ID recorded by Complete, or an
	// empty ID while the first attempt is still in flight.
	Reserve(ctx context.Context, key string) (resultID string, reserved bool, err error)

	// Complete records the ID produced under a reserved key.
	Complete(ctx context.Context, key, resultID string) error

	// Release drops a reservation whose operation failed so it can be retried.
	Release(ctx context.Context, key string) error
}
