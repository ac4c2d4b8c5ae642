package domain

import (
	"context"
	"time"
)

// Cache stores verdicts and velocity counters. Implementations namespace
// every key with CacheConfig.KeyPrefix. A miss is (nil, nil), never an
// error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	GetVerdict(ctx context.Context, txID string) (*Verdict, error)
	SetVerdict(ctx context.Context, v *Verdict, ttl time.Duration) error
	// DeleteVerdict drops the cached verdict so the next read goes to the
	// repository.
	DeleteVerdict(ctx context.Context, txID string) error

	// IncrementCounter bumps a fixed-window counter and returns the count
	// within the current window. The velocity feature is derived from it.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the cache.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type      string `yaml:"type"`
	KeyPrefix string `yaml:"keyPrefix"`

	LocalMaxSize int           `yaml:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTTL"`

	VerdictTTL time.Duration `yaml:"verdictTTL"`

	// RedisAddr may list several comma-separated addresses, which selects a
	// cluster client.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	// EnableTwoPhase puts a local LRU in front of Redis. Nodes invalidate
	// each other's local entries over Redis pub/sub.
	EnableTwoPhase bool `yaml:"enableTwoPhase"`
}
