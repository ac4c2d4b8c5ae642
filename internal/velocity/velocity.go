// Package velocity derives transaction frequency from a per-customer
// windowed counter.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// DefaultWindow is the counting window for transaction_frequency.
const DefaultWindow = 24 * time.Hour

// Service counts transactions per customer in the cache.
type Service struct {
	cache  domain.Cache
	window time.Duration
}

// NewService creates a new velocity service.
func NewService(cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		cache:  cache,
		window: window,
	}
}

// Record counts one transaction for customerID and returns the count in
// the current window, this transaction included.
func (s *Service) Record(ctx context.Context, customerID string) (int64, error) {
	if customerID == "" {
		return 0, fmt.Errorf("customerID is required")
	}
	if s.cache == nil {
		return 0, fmt.Errorf("no counter store available")
	}

	count, err := s.cache.IncrementCounter(ctx, "freq:"+customerID, s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, nil
}

// Resolve fills tx.TransactionFrequency when the request omitted it. Every
// transaction with a customer ID is counted, even when the caller supplied
// the frequency. Without a count the frequency defaults to 1.
func (s *Service) Resolve(ctx context.Context, req *domain.TransactionRequest, tx *domain.Transaction) {
	count := int64(1)
	if tx.CustomerID != "" {
		n, err := s.Record(ctx, tx.CustomerID)
		if err != nil {
			slog.Warn("velocity counter unavailable",
				"customer_id", tx.CustomerID,
				"error", err,
			)
		} else {
			count = n
		}
	}

	if req != nil && req.HasFrequency() {
		return
	}
	tx.TransactionFrequency = int(count)
}
