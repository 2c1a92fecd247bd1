package cache

import (
	"context"
	"time"
)

// Store is the shared key/value cache used by the eligibility aggregator.
// Values are opaque bytes with a TTL; a missing or expired key reads as
// (nil, false, nil).
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
