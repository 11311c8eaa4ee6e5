package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CorpusStats summarizes the analyzed transaction set. Monetary totals
// stay fixed-point; distribution moments live in the Distribution
// section of the report.
type CorpusStats struct {
	Transactions      int             `json:"transactions"`
	UniqueCards       int             `json:"uniqueCards"`
	UniqueCardHolders int             `json:"uniqueCardHolders"`
	UniqueMerchants   int             `json:"uniqueMerchants"`
	TotalVolume       decimal.Decimal `json:"totalVolume"`
	MinAmount         decimal.Decimal `json:"minAmount"`
	MaxAmount         decimal.Decimal `json:"maxAmount"`
	From              time.Time       `json:"from"`
	To                time.Time       `json:"to"`
}

// RuleMatchSummary reports how one custom rule fared across the run.
// Errors counts transactions the expression failed on at runtime; the
// scan continues past them.
type RuleMatchSummary struct {
	Name       string   `json:"name"`
	Expression string   `json:"expression"`
	Matches    int      `json:"matches"`
	Errors     int      `json:"errors,omitempty"`
	SampleIDs  []string `json:"sampleIds,omitempty"`
}

// RiskAssessment is the report's headline exposure counts.
type RiskAssessment struct {
	// Cards whose small-transaction count reached the per-card maximum.
	HighRiskCards int `json:"highRiskCards"`
	// Transactions more than five standard deviations from the mean.
	ExtremeOutliers int `json:"extremeOutliers"`
	// Early-morning transactions above the high-value mark.
	EarlyMorningHighValue int `json:"earlyMorningHighValue"`
	// Transactions at or above the critical risk threshold.
	ImmediateAttention int `json:"immediateAttention"`
}

// Report is the complete result of one analysis run. It is fully
// deterministic: same snapshot and configuration produce byte-identical
// JSON. Anything volatile (IDs, generation time) belongs on the
// envelope, never here.
type Report struct {
	Corpus          CorpusStats            `json:"corpus"`
	Distribution    DistributionStatistics `json:"distribution"`
	Bounds          OutlierBounds          `json:"bounds"`
	Classifications ClassificationCounts   `json:"classifications"`
	Severities      SeverityCounts         `json:"severities"`

	TopOutliers         []OutlierFinding      `json:"topOutliers"`
	RapidSequences      []VelocityFinding     `json:"rapidSequences"`
	Bursts              []BurstFinding        `json:"bursts"`
	EarlyMorning        []EarlyMorningFinding `json:"earlyMorning"`
	SmallTransactions   []CardActivity        `json:"smallTransactions"`
	CardTestingSuspects []CardTestingSuspect  `json:"cardTestingSuspects"`
	VulnerableMerchants []MerchantExposure    `json:"vulnerableMerchants"`
	TopRiskTransactions []RiskScore           `json:"topRiskTransactions"`
	TopRiskCardHolders  []CardHolderRisk      `json:"topRiskCardHolders"`
	HourlyPatterns      []HourlyPattern       `json:"hourlyPatterns"`
	RuleMatches         []RuleMatchSummary    `json:"ruleMatches"`

	Assessment      RiskAssessment `json:"assessment"`
	Recommendations []string       `json:"recommendations"`
}

// ReportEnvelope wraps a Report with its per-generation metadata.
type ReportEnvelope struct {
	ID            string    `json:"id"`
	GeneratedAt   time.Time `json:"generatedAt"`
	EngineVersion string    `json:"engineVersion"`
	Filter        Filter    `json:"filter"`
	Report        *Report   `json:"report"`
}
