package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/rules"
)

// RuleAnalyzer is a TextAnalyzer backed by CEL rules over the summary fields.
type RuleAnalyzer struct {
	engine *rules.Engine
}

// NewRuleAnalyzer compiles ruleSet, or the built-in rules when empty.
func NewRuleAnalyzer(ruleSet []domain.HeuristicRule, maxWorkers int) (*RuleAnalyzer, error) {
	engine, err := rules.NewEngine(maxWorkers)
	if err != nil {
		return nil, err
	}
	if len(ruleSet) == 0 {
		ruleSet = rules.BuiltinRules()
	}
	if err := engine.LoadRules(ruleSet); err != nil {
		return nil, fmt.Errorf("load heuristic rules: %w", err)
	}
	return &RuleAnalyzer{engine: engine}, nil
}

// Analyze flags the summary when any rule matches. The explanation joins
// the reasons of every matched rule.
func (r *RuleAnalyzer) Analyze(ctx context.Context, s Summary) (Analysis, error) {
	results, err := r.engine.Evaluate(ctx, s.Fields)
	if err != nil {
		return Analysis{}, fmt.Errorf("heuristic rules: %w: %w", domain.ErrTransient, err)
	}

	var reasons []string
	for _, res := range results {
		if res.Err != nil {
			slog.Warn("heuristic rule failed", "rule", res.Rule, "error", res.Err)
			continue
		}
		if res.Matched {
			reasons = append(reasons, res.Reason)
		}
	}

	if len(reasons) == 0 {
		return Analysis{Explanation: "No heuristic rule matched."}, nil
	}
	return Analysis{Fraudulent: true, Explanation: strings.Join(reasons, " ")}, nil
}
