// Package cache provides verdict and counter caches for FraudGuard.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

const defaultLocalSize = 10000

// LRUCache is an in-process cache with per-entry TTL. It backs single-node
// deployments and is the L1 of the two-phase cache. Values and frequency
// counters are bounded separately by maxSize.
type LRUCache struct {
	prefix  string
	maxSize int

	values *lru.Cache[string, cacheEntry]

	// counterMu makes read-modify-write on counters atomic.
	counterMu sync.Mutex
	counters  *lru.Cache[string, counterEntry]
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxSize values.
func NewLRUCache(maxSize int, prefix string) *LRUCache {
	if maxSize <= 0 {
		maxSize = defaultLocalSize
	}
	values, err := lru.New[string, cacheEntry](maxSize)
	if err != nil {
		panic(fmt.Sprintf("cache: %v", err))
	}
	counters, err := lru.New[string, counterEntry](maxSize)
	if err != nil {
		panic(fmt.Sprintf("cache: %v", err))
	}
	return &LRUCache{
		prefix:   prefix,
		maxSize:  maxSize,
		values:   values,
		counters: counters,
	}
}

// Get returns nil, nil on a miss or an expired entry.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	fullKey := makeKey(c.prefix, key)

	entry, ok := c.values.Get(fullKey)
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.values.Remove(fullKey)
		return nil, nil
	}
	return entry.value, nil
}

// Set stores value until ttl elapses, evicting the least recently used
// entry when full.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.values.Add(makeKey(c.prefix, key), cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	return nil
}

// Delete removes a value.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.values.Remove(makeKey(c.prefix, key))
	return nil
}

// GetVerdict retrieves a cached verdict.
func (c *LRUCache) GetVerdict(ctx context.Context, txID string) (*domain.Verdict, error) {
	return getVerdict(ctx, c, txID)
}

// SetVerdict caches a verdict.
func (c *LRUCache) SetVerdict(ctx context.Context, v *domain.Verdict, ttl time.Duration) error {
	return setVerdict(ctx, c, v, ttl)
}

// DeleteVerdict drops a cached verdict.
func (c *LRUCache) DeleteVerdict(ctx context.Context, txID string) error {
	return c.Delete(ctx, verdictKey(txID))
}

// IncrementCounter increments a fixed-window counter. The window starts
// at the first increment and the count resets once it has elapsed.
func (c *LRUCache) IncrementCounter(_ context.Context, key string, window time.Duration) (int64, error) {
	fullKey := makeKey(c.prefix, counterKey(key))
	now := time.Now()

	c.counterMu.Lock()
	defer c.counterMu.Unlock()

	entry, ok := c.counters.Get(fullKey)
	if !ok || now.After(entry.expiresAt) {
		entry = counterEntry{expiresAt: now.Add(window)}
	}
	entry.count++
	c.counters.Add(fullKey, entry)
	return entry.count, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.values.Purge()
	c.counters.Purge()
	return nil
}

// Stats returns the number of cached values and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	return c.values.Len(), c.maxSize
}
