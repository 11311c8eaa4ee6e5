// Package outlier classifies transactions against distribution bounds.
package outlier

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Classify labels every snapshot transaction against the corpus
// distribution. A transaction outside the IQR fences is an IQR
// outlier even when it also breaks the z band; only transactions
// inside the fences can be z-score outliers. That precedence keeps
// the three classifications mutually exclusive and exhaustive.
//
// Findings come back ordered by z-score descending, transaction ID
// breaking ties.
func Classify(snap domain.Snapshot, s domain.DistributionStatistics, b domain.OutlierBounds) []domain.OutlierFinding {
	findings := make([]domain.OutlierFinding, 0, snap.Size())
	for i := range snap.Transactions {
		tx := &snap.Transactions[i]
		amount := tx.Amount.InexactFloat64()

		classification := domain.ClassificationNormal
		switch {
		case amount < b.IQRLower || amount > b.IQRUpper:
			classification = domain.ClassificationIQR
		case s.StdDev > 0 && (amount < b.ZLower || amount > b.ZUpper):
			// A corpus with no spread has a degenerate z band; the
			// guard keeps every value of a constant corpus normal.
			classification = domain.ClassificationZScore
		}

		findings = append(findings, domain.OutlierFinding{
			TransactionID:  tx.ID,
			CardID:         tx.CardID,
			MerchantName:   tx.MerchantName,
			Amount:         tx.Amount,
			ZScore:         stats.ZScore(amount, s),
			Classification: classification,
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].ZScore == findings[j].ZScore {
			return findings[i].TransactionID < findings[j].TransactionID
		}
		return findings[i].ZScore > findings[j].ZScore
	})
	return findings
}

// Counts tallies findings per classification.
func Counts(findings []domain.OutlierFinding) domain.ClassificationCounts {
	var c domain.ClassificationCounts
	for _, f := range findings {
		switch f.Classification {
		case domain.ClassificationIQR:
			c.IQROutlier++
		case domain.ClassificationZScore:
			c.ZScoreOutlier++
		default:
			c.Normal++
		}
	}
	return c
}

// Outliers filters findings down to the non-normal ones, preserving
// their order.
func Outliers(findings []domain.OutlierFinding) []domain.OutlierFinding {
	out := make([]domain.OutlierFinding, 0)
	for _, f := range findings {
		if f.Classification != domain.ClassificationNormal {
			out = append(out, f)
		}
	}
	return out
}
