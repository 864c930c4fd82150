// Package cache provides the shared key/value cache used for discussion
// progress snapshots and round-summary entries. Redis backs it in production;
// a process-local map fallback keeps caching working when Redis is down.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache is a TTL'd key/value store. Values are JSON-marshaled by
// implementations; dest in Get must be a pointer.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
