// Package rules provides the CEL-Go based heuristic rule engine.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Variables exposed to rule expressions.
var variables = []cel.EnvOption{
	cel.Variable("amount", cel.DoubleType),
	cel.Variable("account_age_days", cel.IntType),
	cel.Variable("product_category", cel.StringType),
	cel.Variable("customer_location", cel.StringType),
	cel.Variable("location_distance", cel.DoubleType),
	cel.Variable("transaction_time", cel.DoubleType),
	cel.Variable("transaction_frequency", cel.IntType),
	cel.Variable("amount_per_age_day", cel.DoubleType),
	cel.Variable("high_risk_category", cel.BoolType),
}

// Engine evaluates boolean CEL rules against transaction fields.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	rules      []*CompiledRule
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.HeuristicRule
	Program cel.Program
}

// Result is the outcome of one rule.
type Result struct {
	Rule      string
	Matched   bool
	Reason    string
	Err       error
	ProcessMs int64
}

// NewEngine creates an engine with no rules loaded.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(variables...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env, maxWorkers: maxWorkers}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule domain.HeuristicRule) error {
	_, err := e.compileRule(rule)
	return err
}

// LoadRules compiles rules and replaces the loaded set. Nothing changes
// if any rule fails to compile.
func (e *Engine) LoadRules(rules []domain.HeuristicRule) error {
	compiled := make([]*CompiledRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true

		c, err := e.compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Evaluate runs every loaded rule in parallel. Results follow load order.
func (e *Engine) Evaluate(ctx context.Context, fields map[string]any) ([]Result, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	results := make([]Result, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(r, fields)
		}(i, rule)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func evaluateRule(rule *CompiledRule, fields map[string]any) Result {
	start := time.Now()
	result := Result{Rule: rule.Config.Name}

	out, _, err := rule.Program.Eval(fields)
	if err != nil {
		result.Err = fmt.Errorf("rule %s: %w", rule.Config.Name, err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	if b, ok := out.(types.Bool); ok && bool(b) {
		result.Matched = true
		result.Reason = rule.Config.Reason
	}
	result.ProcessMs = time.Since(start).Milliseconds()
	return result
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Close unloads every rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(rule domain.HeuristicRule) (*CompiledRule, error) {
	if rule.Name == "" {
		return nil, fmt.Errorf("rule name is required")
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.Name, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.Name, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.Name, err)
	}

	return &CompiledRule{Config: rule, Program: program}, nil
}
