// Package report assembles pipeline results into the analysis report
// and exports it as JSON or CSV.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/outlier"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// extremeZScore marks amounts far enough from the mean to always
// warrant manual review, independent of the configured threshold.
const extremeZScore = 5.0

// highValueAmount is the early-morning amount above which a transaction
// counts toward the high-value assessment.
var highValueAmount = decimal.NewFromInt(100)

// Summarizer builds reports, applying the configured presentation caps
// and assessment thresholds.
type Summarizer struct {
	analysis domain.AnalysisConfig
	cfg      domain.ReportConfig
}

// NewSummarizer creates a summarizer.
func NewSummarizer(analysis domain.AnalysisConfig, cfg domain.ReportConfig) *Summarizer {
	return &Summarizer{analysis: analysis, cfg: cfg}
}

// Inputs carries everything the analysis pipeline produced for one run.
type Inputs struct {
	Snapshot     domain.Snapshot
	Stats        domain.DistributionStatistics
	Bounds       domain.OutlierBounds
	Findings     []domain.OutlierFinding
	Rapid        []domain.VelocityFinding
	Bursts       []domain.BurstFinding
	EarlyMorning []domain.EarlyMorningFinding
	SmallCards   []domain.CardActivity
	CardTesting  []domain.CardTestingSuspect
	Merchants    []domain.MerchantExposure
	Hourly       []domain.HourlyPattern
	RuleMatches  []rules.Matches
	TxScores     []domain.RiskScore
	HolderScores []domain.CardHolderRisk
}

// Summarize builds the report from pipeline results. It is pure: no
// clock, no randomness, so equal inputs always produce an equal report.
func (s *Summarizer) Summarize(in Inputs) *domain.Report {
	rep := &domain.Report{
		Corpus:              corpusStats(in.Snapshot),
		Distribution:        in.Stats,
		Bounds:              in.Bounds,
		Classifications:     outlier.Counts(in.Findings),
		Severities:          severityCounts(in.TxScores),
		RapidSequences:      in.Rapid,
		Bursts:              in.Bursts,
		EarlyMorning:        in.EarlyMorning,
		SmallTransactions:   in.SmallCards,
		CardTestingSuspects: in.CardTesting,
		HourlyPatterns:      in.Hourly,
	}

	topOut := outlier.Outliers(in.Findings)
	if len(topOut) > s.cfg.TopOutliers {
		topOut = topOut[:s.cfg.TopOutliers]
	}
	rep.TopOutliers = topOut

	merchants := in.Merchants
	if len(merchants) > s.cfg.TopMerchants {
		merchants = merchants[:s.cfg.TopMerchants]
	}
	rep.VulnerableMerchants = merchants

	rep.TopRiskTransactions = topTransactions(in.TxScores, s.cfg.TopTransactions)
	rep.TopRiskCardHolders = topCardHolders(in.HolderScores, s.cfg.TopCardHolders)
	rep.RuleMatches = ruleSummaries(in.RuleMatches, s.cfg.RuleSamples)
	rep.Assessment = s.assess(in)
	rep.Recommendations = recommendations(in, rep.Assessment)

	return rep
}

// NewEnvelope wraps a report with its per-generation identity. These
// are the only volatile fields of an exported report.
func NewEnvelope(rep *domain.Report, filter domain.Filter, version string) *domain.ReportEnvelope {
	return &domain.ReportEnvelope{
		ID:            uuid.New().String(),
		GeneratedAt:   time.Now().UTC(),
		EngineVersion: version,
		Filter:        filter,
		Report:        rep,
	}
}

func corpusStats(snap domain.Snapshot) domain.CorpusStats {
	cs := domain.CorpusStats{Transactions: snap.Size()}
	if snap.Size() == 0 {
		return cs
	}

	cards := make(map[string]struct{})
	holders := make(map[string]struct{})
	merchants := make(map[string]struct{})
	total := decimal.Zero
	minAmt := snap.Transactions[0].Amount
	maxAmt := snap.Transactions[0].Amount

	for i := range snap.Transactions {
		tx := &snap.Transactions[i]
		cards[tx.CardID] = struct{}{}
		holders[tx.CardHolderID] = struct{}{}
		merchants[tx.MerchantID] = struct{}{}
		total = total.Add(tx.Amount)
		if tx.Amount.LessThan(minAmt) {
			minAmt = tx.Amount
		}
		if tx.Amount.GreaterThan(maxAmt) {
			maxAmt = tx.Amount
		}
	}

	cs.UniqueCards = len(cards)
	cs.UniqueCardHolders = len(holders)
	cs.UniqueMerchants = len(merchants)
	cs.TotalVolume = total
	cs.MinAmount = minAmt
	cs.MaxAmount = maxAmt
	// The snapshot is time-ordered, so the range is first to last.
	cs.From = snap.Transactions[0].Timestamp
	cs.To = snap.Transactions[snap.Size()-1].Timestamp
	return cs
}

func severityCounts(scores []domain.RiskScore) domain.SeverityCounts {
	var c domain.SeverityCounts
	for i := range scores {
		switch scores[i].Severity {
		case domain.SeverityLow:
			c.Low++
		case domain.SeverityMedium:
			c.Medium++
		case domain.SeverityHigh:
			c.High++
		case domain.SeverityCritical:
			c.Critical++
		}
	}
	return c
}

func topTransactions(scores []domain.RiskScore, n int) []domain.RiskScore {
	out := append([]domain.RiskScore(nil), scores...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topCardHolders(scores []domain.CardHolderRisk, n int) []domain.CardHolderRisk {
	out := append([]domain.CardHolderRisk(nil), scores...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CardHolderID < out[j].CardHolderID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func ruleSummaries(matches []rules.Matches, sampleCap int) []domain.RuleMatchSummary {
	if len(matches) == 0 {
		return nil
	}
	out := make([]domain.RuleMatchSummary, 0, len(matches))
	for _, m := range matches {
		sum := domain.RuleMatchSummary{
			Name:       m.Rule.Name,
			Expression: m.Rule.Expression,
			Matches:    len(m.Hits),
			Errors:     m.Errors,
		}
		for i, hit := range m.Hits {
			if i == sampleCap {
				break
			}
			sum.SampleIDs = append(sum.SampleIDs, hit.TransactionID)
		}
		out = append(out, sum)
	}
	return out
}

func (s *Summarizer) assess(in Inputs) domain.RiskAssessment {
	var a domain.RiskAssessment

	for i := range in.SmallCards {
		if in.SmallCards[i].Count >= s.analysis.SmallTransactions.MaxCountPerCard {
			a.HighRiskCards++
		}
	}
	for i := range in.Findings {
		if in.Findings[i].Classification != domain.ClassificationNormal && in.Findings[i].ZScore > extremeZScore {
			a.ExtremeOutliers++
		}
	}
	for i := range in.EarlyMorning {
		if in.EarlyMorning[i].Amount.GreaterThan(highValueAmount) {
			a.EarlyMorningHighValue++
		}
	}
	for i := range in.TxScores {
		if in.TxScores[i].Score >= s.analysis.Alerts.Critical {
			a.ImmediateAttention++
		}
	}
	return a
}

// recommendations derives operator guidance from the uncapped pipeline
// results, in a fixed order.
func recommendations(in Inputs, a domain.RiskAssessment) []string {
	var recs []string

	if a.ImmediateAttention > 0 {
		recs = append(recs, fmt.Sprintf("%d transactions scored at or above the critical threshold; review them before the next settlement cycle.", a.ImmediateAttention))
	}
	if n := len(in.CardTesting); n > 0 {
		recs = append(recs, fmt.Sprintf("%d cards show card-testing activity; consider temporary holds pending cardholder verification.", n))
	}
	if n := len(in.Merchants); n > 0 {
		recs = append(recs, fmt.Sprintf("%d merchants absorb repeated small transactions across multiple cards; audit their terminal security.", n))
	}
	if a.ExtremeOutliers > 0 {
		recs = append(recs, fmt.Sprintf("%d amounts sit more than five standard deviations from the mean; verify them manually.", a.ExtremeOutliers))
	}
	if n := len(in.Rapid); n > 0 {
		recs = append(recs, fmt.Sprintf("%d transactions occur in rapid succession on a single card; check for automated use.", n))
	}
	if a.EarlyMorningHighValue > 0 {
		recs = append(recs, fmt.Sprintf("%d high-value transactions fall inside the early-morning window; confirm cardholder presence.", a.EarlyMorningHighValue))
	}
	if len(recs) == 0 {
		recs = append(recs, "No elevated fraud indicators found; maintain baseline monitoring.")
	}
	return recs
}
