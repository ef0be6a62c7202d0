package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryClient is an in-process cache bounded by entry count.
type MemoryClient struct {
	mu      sync.Mutex
	data    map[string]cacheEntry
	maxSize int
	now     func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &MemoryClient{
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get retrieves a value; expired entries are dropped on access.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores a value with TTL, evicting the entry closest to expiry when full.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictOldest()
	}

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Delete removes a value from cache.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Close is a no-op for memory cache.
func (c *MemoryClient) Close() error {
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *MemoryClient) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.data {
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}

	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}
