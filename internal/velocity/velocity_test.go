package velocity

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/fraudguard/internal/cache"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

func request(customerID string, frequency *int) *domain.TransactionRequest {
	amount, age := 120.0, 400
	return &domain.TransactionRequest{
		Amount:               &amount,
		AccountAgeDays:       &age,
		ProductCategory:      "Fashion",
		CustomerLocation:     "Online",
		CustomerID:           customerID,
		TransactionFrequency: frequency,
	}
}

func TestVelocityService(t *testing.T) {
	lruCache := cache.NewLRUCache(100, "test")
	defer lruCache.Close()

	svc := NewService(lruCache, time.Hour)
	ctx := context.Background()

	t.Run("CountsPerCustomer", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			count, err := svc.Record(ctx, "cust-001")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if count != int64(i) {
				t.Errorf("expected count %d, got %d", i, count)
			}
		}

		count, err := svc.Record(ctx, "cust-002")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 1 {
			t.Errorf("expected count 1 for a new customer, got %d", count)
		}
	})

	t.Run("RequiresCustomerID", func(t *testing.T) {
		if _, err := svc.Record(ctx, ""); err == nil {
			t.Error("expected error for empty customerID")
		}
	})

	t.Run("ResolveDerivesFrequency", func(t *testing.T) {
		req := request("cust-100", nil)
		for i := 1; i <= 3; i++ {
			tx := req.ToTransaction()
			svc.Resolve(ctx, req, tx)
			if tx.TransactionFrequency != i {
				t.Errorf("expected frequency %d, got %d", i, tx.TransactionFrequency)
			}
		}
	})

	t.Run("ResolveKeepsExplicitFrequency", func(t *testing.T) {
		freq := 9
		req := request("cust-200", &freq)
		tx := req.ToTransaction()
		svc.Resolve(ctx, req, tx)
		if tx.TransactionFrequency != 9 {
			t.Errorf("expected explicit frequency 9, got %d", tx.TransactionFrequency)
		}

		// The explicit transaction was still counted.
		count, _ := svc.Record(ctx, "cust-200")
		if count != 2 {
			t.Errorf("expected count 2, got %d", count)
		}
	})

	t.Run("ResolveWithoutCustomer", func(t *testing.T) {
		req := request("", nil)
		tx := req.ToTransaction()
		svc.Resolve(ctx, req, tx)
		if tx.TransactionFrequency != 1 {
			t.Errorf("expected default frequency 1, got %d", tx.TransactionFrequency)
		}
	})
}

func TestWindowExpiry(t *testing.T) {
	lruCache := cache.NewLRUCache(100, "test")
	defer lruCache.Close()

	svc := NewService(lruCache, 20*time.Millisecond)
	ctx := context.Background()

	svc.Record(ctx, "cust-001")
	svc.Record(ctx, "cust-001")
	time.Sleep(40 * time.Millisecond)

	count, err := svc.Record(ctx, "cust-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the window to reset, got count %d", count)
	}
}

func TestNoCounterStore(t *testing.T) {
	svc := NewService(nil, 0)
	ctx := context.Background()

	if _, err := svc.Record(ctx, "cust-001"); err == nil {
		t.Error("expected error with no counter store")
	}

	req := request("cust-001", nil)
	tx := req.ToTransaction()
	svc.Resolve(ctx, req, tx)
	if tx.TransactionFrequency != 1 {
		t.Errorf("expected fallback frequency 1, got %d", tx.TransactionFrequency)
	}
}
