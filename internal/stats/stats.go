// Package stats computes amount distribution statistics.
package stats

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Describe summarizes the distribution of amounts. The standard
// deviation is the sample form (n-1 denominator); a single observation
// has zero spread. Quartiles interpolate linearly between order
// statistics at position p*(n-1).
//
// An empty input is an error, never a zeroed result: callers that can
// tolerate missing statistics must check the sample size themselves
// before calling.
func Describe(amounts []float64) (domain.DistributionStatistics, error) {
	n := len(amounts)
	if n == 0 {
		return domain.DistributionStatistics{}, &domain.InsufficientDataError{Op: "stats.Describe", Need: 1, Got: 0}
	}

	sorted := make([]float64, n)
	copy(sorted, amounts)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	stdDev := 0.0
	if n > 1 {
		stdDev = math.Sqrt(sq / float64(n-1))
	}

	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)

	return domain.DistributionStatistics{
		Count:  n,
		Mean:   mean,
		StdDev: stdDev,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Q1:     q1,
		Median: Quantile(sorted, 0.50),
		Q3:     q3,
		IQR:    q3 - q1,
	}, nil
}

// Quantile returns the p-quantile of ascending sorted values. The
// quantile sits at position p*(n-1); fractional positions interpolate
// between the two surrounding order statistics. sorted must be
// non-empty.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// ZScore returns the absolute distance of v from the mean in standard
// deviations. A distribution with no spread yields zero for every
// value, so nothing is ever a z-score outlier of a constant corpus.
func ZScore(v float64, s domain.DistributionStatistics) float64 {
	if s.StdDev == 0 {
		return 0
	}
	return math.Abs(v-s.Mean) / s.StdDev
}

// Bounds derives the outlier acceptance intervals from a distribution:
// the IQR fences and the z-score band.
func Bounds(s domain.DistributionStatistics, iqrMultiplier, zThreshold float64) domain.OutlierBounds {
	return domain.OutlierBounds{
		IQRLower: s.Q1 - iqrMultiplier*s.IQR,
		IQRUpper: s.Q3 + iqrMultiplier*s.IQR,
		ZLower:   s.Mean - zThreshold*s.StdDev,
		ZUpper:   s.Mean + zThreshold*s.StdDev,
	}
}

// GroupStats pairs a grouping key with its distribution summary.
type GroupStats struct {
	Key   string
	Stats domain.DistributionStatistics
}

// DescribeGroups summarizes each group holding at least minSize
// transactions and silently omits the rest. Group order follows the
// input, which GroupBy already sorts by key. Per-group breakdowns are
// the one place thin data is skipped rather than fatal; the run-level
// sample guard has already passed by the time this runs.
func DescribeGroups(groups []domain.Group, minSize int) []GroupStats {
	if minSize < 1 {
		minSize = 1
	}
	out := make([]GroupStats, 0, len(groups))
	for _, g := range groups {
		if len(g.Transactions) < minSize {
			continue
		}
		amounts := make([]float64, len(g.Transactions))
		for i := range g.Transactions {
			amounts[i] = g.Transactions[i].Amount.InexactFloat64()
		}
		s, err := Describe(amounts)
		if err != nil {
			continue
		}
		out = append(out, GroupStats{Key: g.Key, Stats: s})
	}
	return out
}
