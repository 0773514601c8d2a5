package cache

import (
	"context"
	"time"
)

// Cache is the key/value surface the result cache needs.
// Implementations return ("", nil) on a miss.
type Cache interface {
	// Get retrieves the value for the given key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; a ttl of 0 means no expiry
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists returns how many of the keys are present
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close releases the underlying connection
	Close() error
}
