// Package scoring is the single inference entry point. It validates a
// transaction, extracts both feature profiles, runs the classifier
// ensemble next to the weighted risk score and combines the signals into
// a verdict.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudguard/internal/classifier"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/ensemble"
	"github.com/opensource-finance/fraudguard/internal/features"
	"github.com/opensource-finance/fraudguard/internal/risk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EngineVersion is stamped on every verdict.
const EngineVersion = "fraudguard-1.0"

var tracer = otel.Tracer("fraudguard-scoring")

// Service scores transactions. It holds no per-request state and is safe
// for concurrent use.
type Service struct {
	scorer   *risk.Scorer
	lexical  *features.Lexical
	riskFeat *features.Risk
	adapters []classifier.Adapter
	runner   *ensemble.Runner

	// AlertThreshold is the risk score at or above which the risk signal
	// votes fraud. 0 keeps the score informational.
	AlertThreshold float64
}

// NewService wires a service from already built components.
func NewService(scorer *risk.Scorer, lexical *features.Lexical, adapters []classifier.Adapter, runner *ensemble.Runner) *Service {
	if runner == nil {
		runner = ensemble.NewRunner(0, 0)
	}
	return &Service{
		scorer:   scorer,
		lexical:  lexical,
		riskFeat: features.NewRisk(scorer),
		adapters: adapters,
		runner:   runner,
	}
}

// Build constructs the scorer, extractors and classifiers from cfg.
// Weight and rule configuration errors are returned; unusable model
// artifacts only leave their classifier unavailable.
func Build(cfg *domain.Config, bus domain.EventBus) (*Service, error) {
	scorer, err := risk.NewScorer(cfg.Scoring)
	if err != nil {
		return nil, fmt.Errorf("risk scorer: %w", err)
	}

	lexical, err := features.NewLexical(cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("lexical features: %w", err)
	}

	adapters, err := classifier.Build(cfg.Classifiers, lexical.Names(), bus)
	if err != nil {
		return nil, fmt.Errorf("classifiers: %w", err)
	}

	svc := NewService(scorer, lexical, adapters, ensemble.NewRunner(cfg.Classifiers.Timeout, cfg.Classifiers.MaxWorkers))
	svc.AlertThreshold = cfg.Scoring.AlertThreshold
	return svc, nil
}

// Scorer returns the risk scorer shared with the generator.
func (s *Service) Scorer() *risk.Scorer {
	return s.scorer
}

// Adapters returns the ensemble members in evaluation order.
func (s *Service) Adapters() []classifier.Adapter {
	return s.adapters
}

// Explain returns the risk score breakdown of tx without running the
// classifiers.
func (s *Service) Explain(tx *domain.Transaction) (risk.Result, error) {
	v, err := s.riskFeat.Extract(tx)
	if err != nil {
		return risk.Result{}, err
	}
	return s.scorer.Weigh(v)
}

// ScoreTransaction produces a verdict for tx. Input errors
// (*domain.MissingFieldError, *domain.UnknownCategoryError) are returned;
// classifier failures never are.
func (s *Service) ScoreTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Verdict, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "ScoreTransaction")
	defer span.End()

	if tx == nil {
		err := &domain.MissingFieldError{Field: "transaction", Reason: "required"}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("tx.id", tx.ID))

	lexical, err := s.lexical.Extract(tx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	score, err := s.Explain(tx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	extractMs := time.Since(start).Milliseconds()

	classifyStart := time.Now()
	signals := s.runner.Run(ctx, s.adapters, classifier.Input{
		Transaction: tx,
		Lexical:     lexical,
		Summary:     classifier.Summarize(tx, s.lexical.IsHighRisk(tx.ProductCategory)),
	})
	if s.AlertThreshold > 0 {
		signals = append(signals, riskSignal(score, s.AlertThreshold))
	}
	classifyMs := time.Since(classifyStart).Milliseconds()

	v := ensemble.Combine(signals)
	v.ID = uuid.New().String()
	v.TransactionID = tx.ID
	v.RiskScore = score.Score
	v.CreatedAt = time.Now().UTC()
	v.Metadata = domain.VerdictMetadata{
		TraceID:       traceID(ctx, span),
		ExtractMs:     extractMs,
		ClassifyMs:    classifyMs,
		TotalMs:       time.Since(start).Milliseconds(),
		EngineVersion: EngineVersion,
	}

	span.SetAttributes(
		attribute.Bool("verdict.fraudulent", v.IsFraudulent),
		attribute.Float64("verdict.risk_score", v.RiskScore),
	)
	return &v, nil
}

func riskSignal(score risk.Result, threshold float64) domain.Signal {
	fraud := score.Score >= threshold
	explanation := fmt.Sprintf("risk score %.2f below %.2f", score.Score, threshold)
	if fraud {
		explanation = fmt.Sprintf("risk score %.2f at or above %.2f", score.Score, threshold)
	}
	return domain.Signal{
		Source:      "risk",
		Kind:        domain.KindRisk,
		Fraudulent:  fraud,
		Available:   true,
		Probability: score.Score,
		Explanation: explanation,
	}
}

func traceID(ctx context.Context, span trace.Span) string {
	if sc := span.SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return domain.TraceIDFrom(ctx)
}
