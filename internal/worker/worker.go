// Package worker scores transactions submitted on the event bus.
package worker

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Scorer produces a verdict for a transaction.
type Scorer interface {
	ScoreTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Verdict, error)
}

// Config tunes the worker.
type Config struct {
	// VerdictTTL is how long verdicts stay cached. Zero skips caching.
	VerdictTTL time.Duration
}

// Worker consumes domain.TopicTransactionSubmitted. For each request it
// loads the transaction, scores it, stores and caches the verdict, then
// publishes it on domain.TopicVerdict and, when fraudulent, on
// domain.TopicAlert.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	scorer Scorer
	cfg    Config

	mu   sync.Mutex
	sub  domain.Subscription
	stop context.CancelFunc

	// inflight is read-held by every handler; Stop write-locks it to wait
	// for them.
	inflight sync.RWMutex

	processed atomic.Int64
	failed    atomic.Int64
	alerts    atomic.Int64
}

// NewWorker creates a worker. cache may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, scorer Scorer, cfg Config) *Worker {
	return &Worker{bus: bus, repo: repo, cache: cache, scorer: scorer, cfg: cfg}
}

// Start subscribes. Calling Start on a running worker is a no-op.
func (w *Worker) Start() error {
	if w.repo == nil {
		return errors.New("worker: repository is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := w.bus.Subscribe(ctx, domain.TopicTransactionSubmitted, w.handle)
	if err != nil {
		cancel()
		return fmt.Errorf("worker: subscribe: %w", err)
	}
	w.sub, w.stop = sub, cancel

	slog.Info("worker started", "topic", domain.TopicTransactionSubmitted)
	return nil
}

// Stop unsubscribes and waits for requests already being scored.
func (w *Worker) Stop() error {
	w.mu.Lock()
	sub, stop := w.sub, w.stop
	w.sub, w.stop = nil, nil
	w.mu.Unlock()

	if sub == nil {
		return nil
	}

	err := sub.Unsubscribe()
	w.inflight.Lock()
	stop()
	w.inflight.Unlock()

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	if err != nil {
		return fmt.Errorf("worker: unsubscribe: %w", err)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	w.inflight.RLock()
	defer w.inflight.RUnlock()

	var req domain.ScoreRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		return fmt.Errorf("worker: malformed score request %s: %w", msg.ID, err)
	}
	traceID := cmp.Or(req.TraceID, domain.TraceIDFrom(ctx), msg.ID)

	_, err := w.Process(domain.WithTraceID(ctx, traceID), req.TransactionID)
	return err
}

// Process scores one stored transaction. Failing to store, cache or
// publish the verdict is logged and does not fail the call.
func (w *Worker) Process(ctx context.Context, txID string) (*domain.Verdict, error) {
	start := time.Now()
	log := slog.With("tx_id", txID, "trace_id", domain.TraceIDFrom(ctx))

	tx, err := w.repo.GetTransaction(ctx, txID)
	if err != nil {
		w.failed.Add(1)
		log.Error("cannot load transaction", "error", err)
		return nil, err
	}

	verdict, err := w.scorer.ScoreTransaction(ctx, tx)
	if err != nil {
		w.failed.Add(1)
		log.Error("scoring failed", "error", err)
		return nil, fmt.Errorf("score %s: %w", txID, err)
	}

	if err := w.repo.SaveVerdict(ctx, verdict); err != nil {
		log.Error("verdict not stored", "error", err)
	}
	if w.cache != nil && w.cfg.VerdictTTL > 0 {
		if err := w.cache.SetVerdict(ctx, verdict, w.cfg.VerdictTTL); err != nil {
			log.Warn("verdict not cached", "error", err)
		}
	}
	w.announce(ctx, log, verdict)
	w.processed.Add(1)

	log.Info("transaction scored",
		"fraudulent", verdict.IsFraudulent,
		"risk_score", verdict.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return verdict, nil
}

func (w *Worker) announce(ctx context.Context, log *slog.Logger, v *domain.Verdict) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error("verdict not encodable", "error", err)
		return
	}

	topics := []string{domain.TopicVerdict}
	if v.IsFraudulent {
		topics = append(topics, domain.TopicAlert)
		w.alerts.Add(1)
	}
	for _, topic := range topics {
		if err := w.bus.Publish(ctx, topic, payload); err != nil {
			log.Error("publish failed", "topic", topic, "error", err)
		}
	}
}

// Stats is a snapshot of the worker's counters.
type Stats struct {
	Running   bool   `json:"running"`
	Topic     string `json:"topic,omitempty"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	Alerts    int64  `json:"alerts"`
}

// Stats reports whether the worker is subscribed and what it has done.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	s := Stats{Running: w.sub != nil}
	if w.sub != nil {
		s.Topic = w.sub.Topic()
	}
	w.mu.Unlock()

	s.Processed = w.processed.Load()
	s.Failed = w.failed.Load()
	s.Alerts = w.alerts.Load()
	return s
}
