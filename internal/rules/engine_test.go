package rules

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// base is a Sunday.
var base = time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)

func tx(id, card, merchant, category string, amount float64, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		Timestamp:    at,
		Amount:       decimal.NewFromFloat(amount),
		CardID:       card,
		CardHolderID: "holder-" + card,
		MerchantID:   merchant,
		CategoryName: category,
	}
}

func newTestEngine(t *testing.T, configs []domain.CustomRule) *Engine {
	t.Helper()
	engine, err := NewEngine(configs, 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestNewEngineCompilesConfiguredRules(t *testing.T) {
	engine := newTestEngine(t, []domain.CustomRule{
		{Name: "high-value", Expression: "amount > 500.0"},
		{Name: "night-spend", Expression: "hour < 6"},
	})

	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 compiled rules, got %d", engine.RulesCount())
	}
}

func TestNewEngineRejectsMalformedExpression(t *testing.T) {
	_, err := NewEngine([]domain.CustomRule{
		{Name: "broken", Expression: "amount >"},
	}, 4)
	if err == nil {
		t.Fatal("expected compile error for malformed expression")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("expected error to name the rule, got %v", err)
	}
}

func TestNewEngineRejectsNonBoolExpression(t *testing.T) {
	_, err := NewEngine([]domain.CustomRule{
		{Name: "arithmetic", Expression: "amount * 2.0"},
	}, 4)
	if err == nil {
		t.Fatal("expected error for non-boolean expression")
	}
	if !strings.Contains(err.Error(), "bool") {
		t.Errorf("expected bool output error, got %v", err)
	}
}

func TestNewEngineRejectsUnknownVariable(t *testing.T) {
	_, err := NewEngine([]domain.CustomRule{
		{Name: "unknown-var", Expression: "balance > 100.0"},
	}, 4)
	if err == nil {
		t.Fatal("expected compile error for undeclared variable")
	}
}

func TestEvaluateAmountRule(t *testing.T) {
	engine := newTestEngine(t, []domain.CustomRule{
		{Name: "high-value", Expression: "amount > 100.0"},
	})

	snap := domain.NewSnapshot([]domain.Transaction{
		tx("tx-1", "card-1", "merch-1", "Grocery", 50.00, base.Add(1*time.Hour)),
		tx("tx-2", "card-1", "merch-2", "Jewelry", 250.00, base.Add(2*time.Hour)),
		tx("tx-3", "card-2", "merch-2", "Jewelry", 100.00, base.Add(3*time.Hour)),
		tx("tx-4", "card-2", "merch-3", "Travel", 999.99, base.Add(4*time.Hour)),
	})

	results, err := engine.Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	m := results[0]
	if m.Rule.Name != "high-value" {
		t.Errorf("expected rule high-value, got %s", m.Rule.Name)
	}
	if len(m.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(m.Hits))
	}
	if m.Hits[0].TransactionID != "tx-2" || m.Hits[1].TransactionID != "tx-4" {
		t.Errorf("expected hits tx-2, tx-4 in snapshot order, got %s, %s",
			m.Hits[0].TransactionID, m.Hits[1].TransactionID)
	}
	if m.Hits[0].CardID != "card-1" {
		t.Errorf("expected first hit to carry card-1, got %s", m.Hits[0].CardID)
	}
}

func TestEvaluateTimeVariables(t *testing.T) {
	engine := newTestEngine(t, []domain.CustomRule{
		{Name: "sunday-night", Expression: "hour < 6 && weekday == 0"},
	})

	snap := domain.NewSnapshot([]domain.Transaction{
		tx("tx-1", "card-1", "merch-1", "Grocery", 20.00, base.Add(3*time.Hour)),  // Sunday 03:00
		tx("tx-2", "card-1", "merch-1", "Grocery", 20.00, base.Add(12*time.Hour)), // Sunday noon
		tx("tx-3", "card-1", "merch-1", "Grocery", 20.00, base.Add(27*time.Hour)), // Monday 03:00
	})

	results, err := engine.Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	m := results[0]
	if len(m.Hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(m.Hits))
	}
	if m.Hits[0].TransactionID != "tx-1" {
		t.Errorf("expected hit tx-1, got %s", m.Hits[0].TransactionID)
	}
}

func TestEvaluateStringVariables(t *testing.T) {
	engine := newTestEngine(t, []domain.CustomRule{
		{Name: "watch", Expression: `card_id == "card-9" || category == "Jewelry"`},
	})

	snap := domain.NewSnapshot([]domain.Transaction{
		tx("tx-1", "card-1", "merch-1", "Grocery", 20.00, base.Add(1*time.Hour)),
		tx("tx-2", "card-1", "merch-2", "Jewelry", 20.00, base.Add(2*time.Hour)),
		tx("tx-3", "card-9", "merch-1", "Grocery", 20.00, base.Add(3*time.Hour)),
	})

	results, err := engine.Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	m := results[0]
	if len(m.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(m.Hits))
	}
	if m.Hits[0].TransactionID != "tx-2" || m.Hits[1].TransactionID != "tx-3" {
		t.Errorf("expected hits tx-2, tx-3, got %s, %s",
			m.Hits[0].TransactionID, m.Hits[1].TransactionID)
	}
}

func TestEvaluateResultsFollowConfigurationOrder(t *testing.T) {
	configs := []domain.CustomRule{
		{Name: "over-10", Expression: "amount > 10.0"},
		{Name: "over-20", Expression: "amount > 20.0"},
		{Name: "over-30", Expression: "amount > 30.0"},
	}
	engine := newTestEngine(t, configs)

	snap := domain.NewSnapshot([]domain.Transaction{
		tx("tx-1", "card-1", "merch-1", "Grocery", 15.00, base.Add(1*time.Hour)),
		tx("tx-2", "card-1", "merch-1", "Grocery", 25.00, base.Add(2*time.Hour)),
		tx("tx-3", "card-1", "merch-1", "Grocery", 35.00, base.Add(3*time.Hour)),
	})

	results, err := engine.Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	wantCounts := []int{3, 2, 1}
	for i, cfg := range configs {
		if results[i].Rule.Name != cfg.Name {
			t.Errorf("result %d: expected rule %s, got %s", i, cfg.Name, results[i].Rule.Name)
		}
		if len(results[i].Hits) != wantCounts[i] {
			t.Errorf("rule %s: expected %d hits, got %d", cfg.Name, wantCounts[i], len(results[i].Hits))
		}
	}
}

func TestEvaluateNoRules(t *testing.T) {
	engine := newTestEngine(t, nil)

	snap := domain.NewSnapshot([]domain.Transaction{
		tx("tx-1", "card-1", "merch-1", "Grocery", 20.00, base.Add(1*time.Hour)),
	})

	results, err := engine.Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for empty rule set, got %d", len(results))
	}
}

func TestEvaluateRuntimeErrorDoesNotAbortScan(t *testing.T) {
	// Integer division by zero fails on one transaction; the scan continues.
	engine := newTestEngine(t, []domain.CustomRule{
		{Name: "ratio", Expression: "100 / int(amount) > 5"},
	})

	snap := domain.NewSnapshot([]domain.Transaction{
		tx("tx-1", "card-1", "merch-1", "Grocery", 0.00, base.Add(1*time.Hour)),
		tx("tx-2", "card-1", "merch-1", "Grocery", 10.00, base.Add(2*time.Hour)),
		tx("tx-3", "card-1", "merch-1", "Grocery", 50.00, base.Add(3*time.Hour)),
	})

	results, err := engine.Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	m := results[0]
	if m.Errors != 1 {
		t.Errorf("expected 1 evaluation error, got %d", m.Errors)
	}
	if len(m.Hits) != 1 || m.Hits[0].TransactionID != "tx-2" {
		t.Fatalf("expected single hit tx-2, got %+v", m.Hits)
	}
}

func TestEvaluateHonorsCancellation(t *testing.T) {
	engine := newTestEngine(t, []domain.CustomRule{
		{Name: "high-value", Expression: "amount > 100.0"},
	})

	snap := domain.NewSnapshot([]domain.Transaction{
		tx("tx-1", "card-1", "merch-1", "Grocery", 200.00, base.Add(1*time.Hour)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Evaluate(ctx, snap); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
