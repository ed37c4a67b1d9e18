// Package cache provides the key/value storage tiers consulted by the store
// in speed order: an in-process memory cache and an optional shared Redis
// cache. Both implement the same KV contract so the store can treat them
// interchangeably.
package cache

import (
	"context"
	"time"
)

// KV is the uniform key/value contract of a cache tier.
//
// Get returns found=false for a missing key and never treats a miss as an
// error; a non-nil error always means the tier itself failed (connectivity,
// serialization), which callers must handle distinctly from a miss.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
