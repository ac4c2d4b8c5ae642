package classifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Analysis is a text analyzer's answer.
type Analysis struct {
	Fraudulent  bool   `json:"fraudulent"`
	Explanation string `json:"explanation"`
}

// TextAnalyzer judges a transaction summary and explains the judgement.
type TextAnalyzer interface {
	Analyze(ctx context.Context, s Summary) (Analysis, error)
}

// HeuristicAdapter turns a TextAnalyzer into an ensemble member. Its
// explanation is the one surfaced on fraudulent verdicts.
type HeuristicAdapter struct {
	analyzer TextAnalyzer
}

// NewHeuristic wraps analyzer. A nil analyzer is always unavailable.
func NewHeuristic(analyzer TextAnalyzer) *HeuristicAdapter {
	return &HeuristicAdapter{analyzer: analyzer}
}

func (a *HeuristicAdapter) Name() string { return "heuristic" }

func (a *HeuristicAdapter) Kind() domain.SignalKind { return domain.KindHeuristic }

// Predict asks the analyzer for a judgement.
func (a *HeuristicAdapter) Predict(ctx context.Context, in Input) (domain.Signal, error) {
	if a.analyzer == nil {
		return domain.Signal{}, unavailable(a.Name(), errors.New("no analyzer configured"))
	}

	start := time.Now()
	res, err := a.analyzer.Analyze(ctx, in.Summary)
	if err != nil {
		return domain.Signal{}, err
	}

	return domain.Signal{
		Source:      a.Name(),
		Kind:        domain.KindHeuristic,
		Fraudulent:  res.Fraudulent,
		Available:   true,
		Explanation: strings.TrimSpace(res.Explanation),
		LatencyMs:   time.Since(start).Milliseconds(),
	}, nil
}
