package counter

import (
	"context"
	"time"
)

// Store defines operations for the rate-limit counter backend.
//
// IncrementWithExpiry bumps the counter for key and returns the new value.
// The ttl is only established when the key is created; later increments in
// the same window keep the original expiry (fixed-window semantics).
type Store interface {
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, bool, error)
	Close() error
}
