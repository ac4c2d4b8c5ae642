package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// New builds the cache selected by cfg.Type. A redis cache gets a local
// L1 in front of it when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewLRUCache(cfg.LocalMaxSize, cfg.KeyPrefix), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
	}
	return nil, fmt.Errorf("cache: unsupported type %q", cfg.Type)
}

var errNoTransactionID = errors.New("cache: verdict has no transaction ID")

// byteStore is the raw half of domain.Cache the verdict codec sits on.
type byteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func getVerdict(ctx context.Context, s byteStore, txID string) (*domain.Verdict, error) {
	data, err := s.Get(ctx, verdictKey(txID))
	if err != nil || data == nil {
		return nil, err
	}

	v := new(domain.Verdict)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("cache: corrupt verdict for %s: %w", txID, err)
	}
	return v, nil
}

func setVerdict(ctx context.Context, s byteStore, v *domain.Verdict, ttl time.Duration) error {
	if v == nil || v.TransactionID == "" {
		return errNoTransactionID
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode verdict: %w", err)
	}
	return s.Set(ctx, verdictKey(v.TransactionID), data, ttl)
}

func makeKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

func verdictKey(txID string) string { return "verdict:" + txID }

func counterKey(key string) string { return "counter:" + key }
