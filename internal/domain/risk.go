package domain

// Severity buckets a composite risk score against the alert
// thresholds. Buckets are lower-inclusive: a score equal to a
// threshold lands in the bucket above it.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Indicators are the four normalized fraud signals, each in [0, 1].
type Indicators struct {
	SmallTransactions float64 `json:"smallTransactions"`
	Outlier           float64 `json:"outlier"`
	Velocity          float64 `json:"velocity"`
	TemporalAnomaly   float64 `json:"temporalAnomaly"`
}

// RiskScore is the weighted composite for one transaction.
type RiskScore struct {
	TransactionID string     `json:"transactionId"`
	CardID        string     `json:"cardId"`
	Indicators    Indicators `json:"indicators"`
	Score         float64    `json:"score"`
	Severity      Severity   `json:"severity"`
	Reasons       []string   `json:"reasons,omitempty"`
}

// CardHolderRisk is the per-cardholder composite: category indicators
// aggregated across all of the holder's cards and transactions.
type CardHolderRisk struct {
	CardHolderID   string     `json:"cardHolderId"`
	CardHolderName string     `json:"cardHolderName,omitempty"`
	Transactions   int        `json:"transactions"`
	Cards          int        `json:"cards"`
	Indicators     Indicators `json:"indicators"`
	Score          float64    `json:"score"`
	Severity       Severity   `json:"severity"`
	Reasons        []string   `json:"reasons,omitempty"`
}

// SeverityCounts tallies scored transactions per severity bucket.
type SeverityCounts struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}
