package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisAddr = "localhost:6379"
	redisDialTimeout = 5 * time.Second
)

// windowIncr increments KEYS[1] and arms its expiry (ARGV[1] ms) when the
// increment opened a new window.
var windowIncr = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCache is the shared cache for multi-node deployments. Counters kept
// here are consistent across nodes.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache dials addr, a single address or a comma-separated cluster
// seed list, and pings it.
func NewRedisCache(addr, password string, db int, prefix string) (*RedisCache, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       redisAddrs(addr),
		Password:    password,
		DB:          db,
		DialTimeout: redisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", addr, err)
	}

	return &RedisCache{client: client, prefix: prefix}, nil
}

func redisAddrs(addr string) []string {
	var addrs []string
	for a := range strings.SplitSeq(addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return []string{defaultRedisAddr}
	}
	return addrs
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, makeKey(c.prefix, key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, makeKey(c.prefix, key), value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, makeKey(c.prefix, key)).Err()
}

func (c *RedisCache) GetVerdict(ctx context.Context, txID string) (*domain.Verdict, error) {
	return getVerdict(ctx, c, txID)
}

func (c *RedisCache) SetVerdict(ctx context.Context, v *domain.Verdict, ttl time.Duration) error {
	return setVerdict(ctx, c, v, ttl)
}

func (c *RedisCache) DeleteVerdict(ctx context.Context, txID string) error {
	return c.Delete(ctx, verdictKey(txID))
}

// IncrementCounter runs INCR and PEXPIRE atomically in a script.
func (c *RedisCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	keys := []string{makeKey(c.prefix, counterKey(key))}
	n, err := windowIncr.Run(ctx, c.client, keys, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("cache: redis counter: %w", err)
	}
	return n, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// publish and subscribe carry L1 invalidations between nodes.
func (c *RedisCache) publish(ctx context.Context, channel, message string) error {
	return c.client.Publish(ctx, makeKey(c.prefix, channel), message).Err()
}

func (c *RedisCache) subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.client.Subscribe(ctx, makeKey(c.prefix, channel))
}
