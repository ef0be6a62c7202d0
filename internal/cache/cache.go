// Package cache provides result caching for completed conversions.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key joins key components with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
