// Package rules provides the CEL-Go based custom rule engine.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates operator-defined CEL rules over a transaction snapshot.
type Engine struct {
	env        *cel.Env
	rules      []*CompiledRule
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.CustomRule
	Program cel.Program
}

// Matches is a single rule's outcome across one snapshot. Hits are in
// snapshot order. Errors counts transactions whose evaluation failed at
// runtime; compile-time checking makes that rare.
type Matches struct {
	Rule   domain.CustomRule
	Hits   []domain.RuleMatch
	Errors int
}

// NewEngine compiles the configured rules. A rule that fails to compile,
// or whose expression does not produce a boolean, fails construction so
// that bad expressions surface at startup rather than mid-run.
func NewEngine(configs []domain.CustomRule, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with per-transaction variables
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType), // 0 = Sunday
		cel.Variable("card_id", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("category", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env, maxWorkers: maxWorkers}
	for i := range configs {
		compiled, err := e.compileRule(configs[i])
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, compiled)
	}

	return e, nil
}

// RulesCount returns the number of compiled rules.
func (e *Engine) RulesCount() int {
	return len(e.rules)
}

func (e *Engine) compileRule(cfg domain.CustomRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.Name, issues.Err())
	}

	if outputType := ast.OutputType(); outputType != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.Name, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.Name, err)
	}

	return &CompiledRule{Config: cfg, Program: program}, nil
}

// Evaluate runs every rule against every snapshot transaction. Rules run
// in parallel under the worker cap; each rule scans transactions in
// snapshot order, so the output is deterministic for a given snapshot and
// rule configuration. Results follow configuration order.
func (e *Engine) Evaluate(ctx context.Context, snapshot domain.Snapshot) ([]Matches, error) {
	if len(e.rules) == 0 {
		return nil, nil
	}

	// Prepare CEL activation variables once per transaction; the maps are
	// read-only from here on and shared across rule goroutines.
	activations := make([]map[string]any, len(snapshot.Transactions))
	for i := range snapshot.Transactions {
		activations[i] = activation(&snapshot.Transactions[i])
	}

	// Parallel evaluation using worker pool pattern
	results := make([]Matches, len(e.rules))
	errs := make([]error, len(e.rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range e.rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx], errs[idx] = e.evaluateRule(ctx, r, snapshot.Transactions, activations)
		}(i, rule)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

// evaluateRule scans one rule across the full transaction slice.
func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, txs []domain.Transaction, activations []map[string]any) (Matches, error) {
	m := Matches{Rule: rule.Config}

	for i := range txs {
		if ctx.Err() != nil {
			return Matches{}, ctx.Err()
		}

		out, _, err := rule.Program.Eval(activations[i])
		if err != nil {
			m.Errors++
			continue
		}

		if matched, ok := out.(types.Bool); ok && bool(matched) {
			m.Hits = append(m.Hits, domain.RuleMatch{
				RuleName:      rule.Config.Name,
				TransactionID: txs[i].ID,
				CardID:        txs[i].CardID,
			})
		}
	}

	return m, nil
}

// activation maps one transaction onto the CEL variable set.
func activation(tx *domain.Transaction) map[string]any {
	return map[string]any{
		"amount":      tx.Amount.InexactFloat64(),
		"hour":        tx.Hour(),
		"weekday":     int(tx.Timestamp.UTC().Weekday()),
		"card_id":     tx.CardID,
		"merchant_id": tx.MerchantID,
		"category":    tx.CategoryName,
	}
}
