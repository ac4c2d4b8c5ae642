package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/fraudguard/internal/bus"
	"github.com/opensource-finance/fraudguard/internal/cache"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/scoring"
)

// amountScorer flags every transaction above a fixed amount.
type amountScorer struct {
	limit float64
}

func (s amountScorer) ScoreTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Verdict, error) {
	v := &domain.Verdict{
		ID:            "verdict-" + tx.ID,
		TransactionID: tx.ID,
		IsFraudulent:  tx.Amount > s.limit,
		Explanation:   domain.ExplanationLegitimate,
		CreatedAt:     time.Now().UTC(),
		Metadata:      domain.VerdictMetadata{TraceID: domain.TraceIDFrom(ctx)},
	}
	if v.IsFraudulent {
		v.Explanation = domain.ExplanationFraud + " Flagged by: amount."
	}
	return v, nil
}

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func saveTx(t *testing.T, repo domain.Repository, id string, amount float64) {
	t.Helper()
	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:                   id,
		Amount:               amount,
		ProductCategory:      "Electronics",
		CustomerLocation:     "Online",
		AccountAgeDays:       30,
		TransactionTime:      13,
		TransactionFrequency: 1,
		TransactionDate:      now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := repo.SaveTransaction(context.Background(), tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}
}

func submit(t *testing.T, b domain.EventBus, txID, traceID string) {
	t.Helper()
	payload, _ := json.Marshal(domain.ScoreRequest{TransactionID: txID, TraceID: traceID})
	if err := b.Publish(context.Background(), domain.TopicTransactionSubmitted, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

// collector records payloads published on a topic.
type collector struct {
	mu       sync.Mutex
	payloads [][]byte
}

func collect(t *testing.T, b domain.EventBus, topic string) *collector {
	t.Helper()
	c := &collector{}
	sub, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		c.mu.Lock()
		c.payloads = append(c.payloads, msg.Payload)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return c
}

func (c *collector) wait(n int, timeout time.Duration) [][]byte {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.payloads) >= n {
			out := append([][]byte(nil), c.payloads...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newRepo(t), nil, amountScorer{limit: 1000}, Config{})

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.Stats()
		if !stats.Running || stats.Topic != domain.TopicTransactionSubmitted {
			t.Errorf("unexpected stats after start: %+v", stats)
		}
		if err := w.Start(); err != nil {
			t.Errorf("second Start failed: %v", err)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if w.Stats().Running {
			t.Error("expected worker to be stopped")
		}
		if err := w.Stop(); err != nil {
			t.Errorf("second Stop failed: %v", err)
		}
	})

	t.Run("RequiresRepository", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, amountScorer{}, Config{})
		if err := w.Start(); err == nil {
			t.Error("expected error without repository")
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		repo := newRepo(t)
		lru := cache.NewLRUCache(100, "test")
		defer lru.Close()

		w := NewWorker(eventBus, repo, lru, amountScorer{limit: 1000}, Config{VerdictTTL: time.Minute})
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		verdicts := collect(t, eventBus, domain.TopicVerdict)

		saveTx(t, repo, "tx-001", 250)
		submit(t, eventBus, "tx-001", "trace-001")

		got := verdicts.wait(1, time.Second)
		if len(got) != 1 {
			t.Fatalf("expected 1 verdict, got %d", len(got))
		}

		var v domain.Verdict
		if err := json.Unmarshal(got[0], &v); err != nil {
			t.Fatalf("failed to parse verdict: %v", err)
		}
		if v.TransactionID != "tx-001" {
			t.Errorf("expected transaction 'tx-001', got '%s'", v.TransactionID)
		}
		if v.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", v.Metadata.TraceID)
		}
		if v.IsFraudulent {
			t.Error("expected a legitimate verdict")
		}

		stored, err := repo.GetLatestVerdict(context.Background(), "tx-001")
		if err != nil {
			t.Fatalf("verdict not stored: %v", err)
		}
		if stored.ID != v.ID {
			t.Errorf("stored verdict %s, published %s", stored.ID, v.ID)
		}

		cached, err := lru.GetVerdict(context.Background(), "tx-001")
		if err != nil || cached == nil {
			t.Fatalf("verdict not cached: %v", err)
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		repo := newRepo(t)
		w := NewWorker(eventBus, repo, nil, amountScorer{limit: 1000}, Config{})
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		alerts := collect(t, eventBus, domain.TopicAlert)

		saveTx(t, repo, "tx-small", 20)
		saveTx(t, repo, "tx-large", 4000)
		submit(t, eventBus, "tx-small", "")
		submit(t, eventBus, "tx-large", "")

		got := alerts.wait(1, time.Second)
		time.Sleep(50 * time.Millisecond)
		got = alerts.wait(len(got), 0)
		if len(got) != 1 {
			t.Fatalf("expected exactly 1 alert, got %d", len(got))
		}

		var v domain.Verdict
		json.Unmarshal(got[0], &v)
		if v.TransactionID != "tx-large" {
			t.Errorf("expected alert for 'tx-large', got '%s'", v.TransactionID)
		}

		if stats := w.Stats(); stats.Processed != 2 || stats.Alerts != 1 || stats.Failed != 0 {
			t.Errorf("unexpected counters: %+v", stats)
		}
	})
}

func TestProcess(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	repo := newRepo(t)

	cfg := domain.DefaultConfig()
	svc, err := scoring.Build(cfg, eventBus)
	if err != nil {
		t.Fatalf("failed to build scoring service: %v", err)
	}

	w := NewWorker(eventBus, repo, nil, svc, Config{})
	ctx := context.Background()

	t.Run("UnknownTransaction", func(t *testing.T) {
		if _, err := w.Process(ctx, "missing"); err == nil {
			t.Error("expected error for unknown transaction")
		}
	})

	t.Run("ScoresStoredTransaction", func(t *testing.T) {
		saveTx(t, repo, "tx-real", 75)
		v, err := w.Process(domain.WithTraceID(ctx, "trace-real"), "tx-real")
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if v.Metadata.EngineVersion != scoring.EngineVersion {
			t.Errorf("unexpected engine version %q", v.Metadata.EngineVersion)
		}
		if v.Metadata.TraceID != "trace-real" {
			t.Errorf("expected traceID 'trace-real', got '%s'", v.Metadata.TraceID)
		}
	})
}
