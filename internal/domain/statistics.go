package domain

import "github.com/shopspring/decimal"

// DistributionStatistics summarizes an amount distribution. StdDev is
// the sample standard deviation (n-1 denominator); quartiles come from
// linear interpolation between order statistics.
type DistributionStatistics struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	IQR    float64 `json:"iqr"`
}

// OutlierBounds are the acceptance intervals derived from a
// distribution: the IQR fences and the z-score band.
type OutlierBounds struct {
	IQRLower float64 `json:"iqrLower"`
	IQRUpper float64 `json:"iqrUpper"`
	ZLower   float64 `json:"zLower"`
	ZUpper   float64 `json:"zUpper"`
}

// Classification labels a transaction's relationship to the corpus
// distribution. Every transaction gets exactly one.
type Classification string

const (
	ClassificationNormal Classification = "normal"
	ClassificationIQR    Classification = "iqr_outlier"
	ClassificationZScore Classification = "z_score_outlier"
)

// OutlierFinding records one transaction's distance from the corpus
// distribution and its classification.
type OutlierFinding struct {
	TransactionID  string          `json:"transactionId"`
	CardID         string          `json:"cardId"`
	MerchantName   string          `json:"merchantName,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	ZScore         float64         `json:"zScore"`
	Classification Classification  `json:"classification"`
}

// ClassificationCounts tallies outlier classifications across a run.
// Fixed fields keep report serialization order stable.
type ClassificationCounts struct {
	Normal        int `json:"normal"`
	IQROutlier    int `json:"iqrOutlier"`
	ZScoreOutlier int `json:"zScoreOutlier"`
}

// HourlyPattern describes transaction activity within one hour of day.
type HourlyPattern struct {
	Hour   int     `json:"hour"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stdDev"`
}
