package outlier

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

func snapshotOf(amounts map[string]float64) domain.Snapshot {
	txs := make([]domain.Transaction, 0, len(amounts))
	for id, amount := range amounts {
		txs = append(txs, domain.Transaction{
			ID:     id,
			CardID: "card-1",
			Amount: decimal.NewFromFloat(amount),
		})
	}
	return domain.NewSnapshot(txs)
}

func describe(t *testing.T, snap domain.Snapshot) domain.DistributionStatistics {
	t.Helper()
	s, err := stats.Describe(snap.Amounts())
	if err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	return s
}

func TestClassifySkewedCorpus(t *testing.T) {
	// One very large amount among small ones: far outside the IQR
	// fences yet only ~1.5 standard deviations from the mean, because
	// the outlier itself inflates both mean and spread. The IQR path
	// is what catches it.
	snap := snapshotOf(map[string]float64{
		"tx-1": 1.00,
		"tx-2": 1.50,
		"tx-3": 1.80,
		"tx-4": 500.00,
	})
	s := describe(t, snap)
	b := stats.Bounds(s, 1.5, 3.0)

	findings := Classify(snap, s, b)
	if len(findings) != 4 {
		t.Fatalf("expected 4 findings, got %d", len(findings))
	}

	// Highest z first.
	if findings[0].TransactionID != "tx-4" {
		t.Errorf("expected tx-4 first by z-score, got %s", findings[0].TransactionID)
	}
	if findings[0].Classification != domain.ClassificationIQR {
		t.Errorf("expected tx-4 classified iqr_outlier, got %s", findings[0].Classification)
	}
	for _, f := range findings[1:] {
		if f.Classification != domain.ClassificationNormal {
			t.Errorf("expected %s normal, got %s", f.TransactionID, f.Classification)
		}
	}

	c := Counts(findings)
	if c.Normal != 3 || c.IQROutlier != 1 || c.ZScoreOutlier != 0 {
		t.Errorf("unexpected counts: %+v", c)
	}
}

func TestClassifyIQRPrecedence(t *testing.T) {
	// Twenty tight values and one extreme: the extreme breaks both the
	// IQR fences and the z band, and must be reported as an IQR
	// outlier only.
	amounts := map[string]float64{"tx-big": 1000.00}
	for i := 0; i < 20; i++ {
		amounts[txID(i)] = 10.00
	}
	snap := snapshotOf(amounts)
	s := describe(t, snap)
	b := stats.Bounds(s, 1.5, 3.0)

	zBig := stats.ZScore(1000.00, s)
	if zBig <= 3.0 {
		t.Fatalf("test corpus is wrong: expected z > 3 for the extreme value, got %v", zBig)
	}

	findings := Classify(snap, s, b)
	c := Counts(findings)
	if c.IQROutlier != 1 {
		t.Errorf("expected exactly 1 IQR outlier, got %d", c.IQROutlier)
	}
	if c.ZScoreOutlier != 0 {
		t.Errorf("expected z-score classification suppressed by IQR precedence, got %d", c.ZScoreOutlier)
	}
	if c.Normal != 20 {
		t.Errorf("expected 20 normal, got %d", c.Normal)
	}
}

func TestClassifyZScoreOnly(t *testing.T) {
	// A uniform spread stays inside the IQR fences at the default
	// multiplier. Tightening the z threshold to 1 pushes the tail
	// values outside the z band alone.
	amounts := make(map[string]float64)
	for i := 1; i <= 10; i++ {
		amounts[txID(i)] = float64(i)
	}
	snap := snapshotOf(amounts)
	s := describe(t, snap)
	b := stats.Bounds(s, 1.5, 1.0)

	findings := Classify(snap, s, b)
	c := Counts(findings)
	if c.IQROutlier != 0 {
		t.Errorf("expected no IQR outliers, got %d", c.IQROutlier)
	}
	if c.ZScoreOutlier != 4 {
		t.Errorf("expected 4 z-score outliers (both tails), got %d", c.ZScoreOutlier)
	}
	if c.Normal != 6 {
		t.Errorf("expected 6 normal, got %d", c.Normal)
	}

	only := Outliers(findings)
	if len(only) != 4 {
		t.Fatalf("expected 4 outliers from filter, got %d", len(only))
	}
	for _, f := range only {
		if f.Classification != domain.ClassificationZScore {
			t.Errorf("expected z_score_outlier, got %s for %s", f.Classification, f.TransactionID)
		}
	}
}

func TestClassifyConstantCorpus(t *testing.T) {
	// No spread: z is defined as zero for every value, so nothing can
	// be a z-score outlier and the degenerate fences flag nothing.
	snap := snapshotOf(map[string]float64{
		"tx-1": 25.00,
		"tx-2": 25.00,
		"tx-3": 25.00,
		"tx-4": 25.00,
	})
	s := describe(t, snap)
	b := stats.Bounds(s, 1.5, 3.0)

	findings := Classify(snap, s, b)
	for _, f := range findings {
		if f.Classification != domain.ClassificationNormal {
			t.Errorf("expected %s normal on constant corpus, got %s", f.TransactionID, f.Classification)
		}
		if f.ZScore != 0 {
			t.Errorf("expected z 0 on constant corpus, got %v", f.ZScore)
		}
	}
}

func TestClassifyTieOrdering(t *testing.T) {
	// Equal amounts share a z-score; transaction ID decides.
	snap := snapshotOf(map[string]float64{
		"tx-b": 10.00,
		"tx-a": 10.00,
		"tx-c": 50.00,
		"tx-d": 11.00,
	})
	s := describe(t, snap)
	b := stats.Bounds(s, 1.5, 3.0)

	findings := Classify(snap, s, b)
	var idx struct{ a, b int }
	for i, f := range findings {
		switch f.TransactionID {
		case "tx-a":
			idx.a = i
		case "tx-b":
			idx.b = i
		}
	}
	if idx.a > idx.b {
		t.Errorf("expected tx-a before tx-b on equal z, got positions %d and %d", idx.a, idx.b)
	}
}

func txID(i int) string {
	return fmt.Sprintf("tx-%02d", i)
}
