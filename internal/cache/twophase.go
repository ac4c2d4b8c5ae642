package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

const (
	invalidateChannel = "invalidate"
	defaultL1TTL      = 5 * time.Minute
)

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2). Writes and
// deletes go to both tiers and are announced on a Redis channel so that
// other nodes drop their L1 copy. Counters live in Redis only.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
	nodeID string

	stop context.CancelFunc
	done chan struct{}
}

// NewTwoPhaseCache connects to Redis and starts listening for
// invalidations.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
	if err != nil {
		return nil, err
	}
	c := newTwoPhase(NewLRUCache(cfg.LocalMaxSize, cfg.KeyPrefix), remote, cfg.LocalTTL)
	c.listen()
	return c, nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = defaultL1TTL
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
		nodeID: uuid.NewString(),
	}
}

func (c *TwoPhaseCache) listen() {
	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	c.done = make(chan struct{})

	pubsub := c.remote.subscribe(ctx, invalidateChannel)
	go func() {
		defer close(c.done)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				origin, key, ok := parseInvalidation(msg.Payload)
				if !ok || origin == c.nodeID {
					continue
				}
				_ = c.local.Delete(ctx, key)
			}
		}
	}()
}

func (c *TwoPhaseCache) invalidate(ctx context.Context, key string) {
	if err := c.remote.publish(ctx, invalidateChannel, formatInvalidation(c.nodeID, key)); err != nil {
		slog.Warn("cache invalidation not published", "key", key, "error", err)
	}
}

// Get serves L1 hits locally and back-fills L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := c.local.Get(ctx, key); val != nil {
		return val, nil
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, key, val, c.l1TTL)
	return val, nil
}

// Set writes L2 first so that L1 never holds a value Redis rejected. L1
// keeps the shorter of the two TTLs.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	_ = c.local.Set(ctx, key, value, min(c.l1TTL, ttl))
	c.invalidate(ctx, key)
	return nil
}

func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	if err := c.remote.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: redis delete: %w", err)
	}
	c.invalidate(ctx, key)
	return nil
}

func (c *TwoPhaseCache) GetVerdict(ctx context.Context, txID string) (*domain.Verdict, error) {
	return getVerdict(ctx, c, txID)
}

func (c *TwoPhaseCache) SetVerdict(ctx context.Context, v *domain.Verdict, ttl time.Duration) error {
	return setVerdict(ctx, c, v, ttl)
}

func (c *TwoPhaseCache) DeleteVerdict(ctx context.Context, txID string) error {
	return c.Delete(ctx, verdictKey(txID))
}

func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, key, window)
}

// Ping reports L2 health; L1 cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("cache: L2 unreachable: %w", err)
	}
	return nil
}

// Close stops the invalidation listener and closes both tiers.
func (c *TwoPhaseCache) Close() error {
	if c.stop != nil {
		c.stop()
		<-c.done
	}
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports L1 occupancy.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// Invalidation messages are "<node id> <key>". Keys may contain spaces.
func formatInvalidation(nodeID, key string) string {
	return nodeID + " " + key
}

func parseInvalidation(payload string) (nodeID, key string, ok bool) {
	nodeID, key, ok = strings.Cut(payload, " ")
	return nodeID, key, ok && nodeID != "" && key != ""
}
