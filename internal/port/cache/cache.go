// Package cache defines the port for the key-value cache that backs
// webhook dedup keys and query answer caching.
package cache

import (
	"context"
	"time"
)

// Cache stores byte values under string keys with a per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
