package rules

import (
	"context"
	"testing"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func fields(amount float64, ageDays int64, category string, highRisk bool) map[string]any {
	return map[string]any{
		"amount":                amount,
		"account_age_days":      ageDays,
		"product_category":      category,
		"customer_location":     "Online",
		"location_distance":     0.0,
		"transaction_time":      12.0,
		"transaction_frequency": int64(1),
		"amount_per_age_day":    amount / float64(ageDays+1),
		"high_risk_category":    highRisk,
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.LoadRules(BuiltinRules()); err != nil {
		t.Fatalf("failed to load builtin rules: %v", err)
	}
	if engine.RulesCount() != len(BuiltinRules()) {
		t.Errorf("expected %d rules, got %d", len(BuiltinRules()), engine.RulesCount())
	}
}

func TestLoadInvalidRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	_ = engine.LoadRules([]domain.HeuristicRule{{Name: "ok", Expression: "amount > 1.0", Reason: "r"}})

	tests := []struct {
		name  string
		rules []domain.HeuristicRule
	}{
		{"syntax", []domain.HeuristicRule{{Name: "bad", Expression: "this is not valid CEL !!!"}}},
		{"non-bool output", []domain.HeuristicRule{{Name: "score", Expression: "amount * 2.0"}}},
		{"unknown variable", []domain.HeuristicRule{{Name: "ghost", Expression: "debtor_id == 'x'"}}},
		{"missing name", []domain.HeuristicRule{{Expression: "amount > 1.0"}}},
		{"duplicate", []domain.HeuristicRule{
			{Name: "dup", Expression: "amount > 1.0"},
			{Name: "dup", Expression: "amount > 2.0"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRules(tt.rules); err == nil {
				t.Error("expected error")
			}
			if engine.RulesCount() != 1 {
				t.Errorf("failed load must keep previous rules, got %d", engine.RulesCount())
			}
		})
	}
}

func TestEvaluateBuiltinRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()
	if err := engine.LoadRules(BuiltinRules()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	ctx := context.Background()

	t.Run("HighRiskPurchase", func(t *testing.T) {
		results, err := engine.Evaluate(ctx, fields(10000, 5, "Jewelry", true))
		if err != nil {
			t.Fatalf("evaluation failed: %v", err)
		}

		matched := 0
		for _, r := range results {
			if r.Err != nil {
				t.Errorf("rule %s errored: %v", r.Rule, r.Err)
			}
			if r.Matched {
				matched++
				if r.Reason == "" {
					t.Errorf("rule %s matched without a reason", r.Rule)
				}
			}
		}
		if matched == 0 {
			t.Error("expected at least one rule to match")
		}
	})

	t.Run("RoutineGroceryPurchase", func(t *testing.T) {
		results, err := engine.Evaluate(ctx, fields(50, 1000, "Groceries", false))
		if err != nil {
			t.Fatalf("evaluation failed: %v", err)
		}
		for _, r := range results {
			if r.Matched {
				t.Errorf("rule %s should not match a routine purchase", r.Rule)
			}
		}
	})
}

func TestEvaluatePreservesOrder(t *testing.T) {
	engine, _ := NewEngine(2)
	defer engine.Close()

	rules := []domain.HeuristicRule{
		{Name: "a", Expression: "amount > 0.0", Reason: "a"},
		{Name: "b", Expression: "amount > 1000000.0", Reason: "b"},
		{Name: "c", Expression: "account_age_days >= 0", Reason: "c"},
		{Name: "d", Expression: "product_category == 'Travel'", Reason: "d"},
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		results, err := engine.Evaluate(context.Background(), fields(10, 10, "Travel", false))
		if err != nil {
			t.Fatalf("evaluation failed: %v", err)
		}
		want := []bool{true, false, true, true}
		for j, r := range results {
			if r.Rule != rules[j].Name {
				t.Fatalf("result %d: expected rule %s, got %s", j, rules[j].Name, r.Rule)
			}
			if r.Matched != want[j] {
				t.Errorf("rule %s: expected matched=%v", r.Rule, want[j])
			}
		}
	}
}

func TestEvaluateMissingField(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()
	_ = engine.LoadRules([]domain.HeuristicRule{{Name: "amt", Expression: "amount > 1.0", Reason: "r"}})

	results, err := engine.Evaluate(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results[0].Err == nil {
		t.Error("expected per-rule error for missing variable")
	}
	if results[0].Matched {
		t.Error("errored rule must not match")
	}
}

func TestEvaluateNoRules(t *testing.T) {
	engine, _ := NewEngine(5)
	results, err := engine.Evaluate(context.Background(), fields(1, 1, "x", false))
	if err != nil || results != nil {
		t.Errorf("expected nil, nil without rules, got %v, %v", results, err)
	}
}
