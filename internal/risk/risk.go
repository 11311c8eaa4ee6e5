// Package risk computes weighted composite risk scores from the
// normalized fraud indicators.
package risk

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Signals are the raw per-transaction facts the upstream detectors
// produced, before normalization into indicators.
type Signals struct {
	// Small transactions on the transaction's card across the corpus.
	SmallCount int

	// Distribution classification and distance for this transaction.
	Classification domain.Classification
	ZScore         float64

	// Whether the transaction sits in a rapid-succession pair.
	RapidVelocity bool

	// Whether the transaction falls in the early-morning range.
	EarlyMorning bool
}

// HolderSignals aggregate a cardholder's exposure across every card
// and transaction they own.
type HolderSignals struct {
	HolderID     string
	HolderName   string
	Cards        int
	Transactions int

	// Total small transactions across the holder's cards.
	SmallCount int

	// Worst per-transaction outlier indicator observed.
	MaxOutlier float64

	AnyRapid bool
	AnyEarly bool
}

// Scorer turns signals into indicators and composite scores. The
// weighted sum is taken as configured: weights are expected to total
// 1.0 but are deliberately not forced to, so an operator can run an
// overweight configuration during tuning.
type Scorer struct {
	weights    domain.RiskWeights
	thresholds domain.AlertThresholds
	zThreshold float64
	maxSmall   int
}

// NewScorer builds a Scorer from validated analysis configuration.
func NewScorer(cfg domain.AnalysisConfig) *Scorer {
	return &Scorer{
		weights:    cfg.RiskWeights,
		thresholds: cfg.Alerts,
		zThreshold: cfg.Outliers.ZScoreThreshold,
		maxSmall:   cfg.SmallTransactions.MaxCountPerCard,
	}
}

// Indicators normalizes raw signals into the four [0, 1] indicator
// values.
//
// The outlier indicator is graded: a classified outlier of either
// family scores 1.0 outright, anything else scores its z distance as
// a fraction of the z threshold. An IQR outlier therefore never
// scores low just because the corpus spread is degenerate.
func (s *Scorer) Indicators(sig Signals) domain.Indicators {
	small := clamp(float64(sig.SmallCount)/float64(s.maxSmall), 0, 1)

	outlier := clamp(sig.ZScore/s.zThreshold, 0, 1)
	if sig.Classification != domain.ClassificationNormal {
		outlier = 1.0
	}

	velocity := 0.0
	if sig.RapidVelocity {
		velocity = 1.0
	}
	temporal := 0.0
	if sig.EarlyMorning {
		temporal = 1.0
	}

	return domain.Indicators{
		SmallTransactions: small,
		Outlier:           outlier,
		Velocity:          velocity,
		TemporalAnomaly:   temporal,
	}
}

// Combine produces the weighted composite of already-normalized
// indicators. Indicator order does not matter: the sum is commutative
// and each indicator binds to its own weight.
func (s *Scorer) Combine(ind domain.Indicators) float64 {
	return s.weights.SmallTransactionCount*ind.SmallTransactions +
		s.weights.OutlierScore*ind.Outlier +
		s.weights.VelocityScore*ind.Velocity +
		s.weights.TemporalAnomaly*ind.TemporalAnomaly
}

// ScoreTransaction scores one transaction from its signals.
func (s *Scorer) ScoreTransaction(txID, cardID string, sig Signals) domain.RiskScore {
	ind := s.Indicators(sig)
	score := s.Combine(ind)
	return domain.RiskScore{
		TransactionID: txID,
		CardID:        cardID,
		Indicators:    ind,
		Score:         score,
		Severity:      s.Severity(score),
		Reasons:       s.reasons(sig),
	}
}

// ScoreCardHolder scores a cardholder from their aggregated signals:
// small counts sum across cards, the other indicators take the worst
// value seen on any of the holder's transactions.
func (s *Scorer) ScoreCardHolder(sig HolderSignals) domain.CardHolderRisk {
	ind := domain.Indicators{
		SmallTransactions: clamp(float64(sig.SmallCount)/float64(s.maxSmall), 0, 1),
		Outlier:           clamp(sig.MaxOutlier, 0, 1),
	}
	if sig.AnyRapid {
		ind.Velocity = 1.0
	}
	if sig.AnyEarly {
		ind.TemporalAnomaly = 1.0
	}
	score := s.Combine(ind)

	var reasons []string
	if sig.SmallCount > s.maxSmall {
		reasons = append(reasons, fmt.Sprintf("%d small transactions across %d cards", sig.SmallCount, sig.Cards))
	}
	if ind.Outlier >= 1.0 {
		reasons = append(reasons, "owns amount outliers")
	}
	if sig.AnyRapid {
		reasons = append(reasons, "rapid transaction succession")
	}
	if sig.AnyEarly {
		reasons = append(reasons, "early-morning activity")
	}

	return domain.CardHolderRisk{
		CardHolderID:   sig.HolderID,
		CardHolderName: sig.HolderName,
		Transactions:   sig.Transactions,
		Cards:          sig.Cards,
		Indicators:     ind,
		Score:          score,
		Severity:       s.Severity(score),
		Reasons:        reasons,
	}
}

// Severity buckets a score against the alert thresholds,
// lower-inclusive on each boundary.
func (s *Scorer) Severity(score float64) domain.Severity {
	switch {
	case score < s.thresholds.Low:
		return domain.SeverityLow
	case score < s.thresholds.Medium:
		return domain.SeverityMedium
	case score < s.thresholds.High:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}

// Critical reports whether a score reached the immediate-attention
// threshold.
func (s *Scorer) Critical(score float64) bool {
	return score >= s.thresholds.Critical
}

func (s *Scorer) reasons(sig Signals) []string {
	var reasons []string
	if sig.SmallCount > s.maxSmall {
		reasons = append(reasons, fmt.Sprintf("card accumulated %d small transactions", sig.SmallCount))
	}
	switch sig.Classification {
	case domain.ClassificationIQR:
		reasons = append(reasons, fmt.Sprintf("amount outside IQR fences (z=%.2f)", sig.ZScore))
	case domain.ClassificationZScore:
		reasons = append(reasons, fmt.Sprintf("amount beyond z-score threshold (z=%.2f)", sig.ZScore))
	}
	if sig.RapidVelocity {
		reasons = append(reasons, "rapid succession on card")
	}
	if sig.EarlyMorning {
		reasons = append(reasons, "early-morning transaction")
	}
	return reasons
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
