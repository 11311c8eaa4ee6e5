// Package patterns implements the temporal and structuring detectors:
// early-morning activity, small-transaction accumulation, card-testing
// windows, and merchant exposure.
package patterns

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Early-morning findings are capped so one noisy corpus cannot flood
// the report section.
const maxEarlyMorningFindings = 100

// Detector holds the pattern thresholds for one run. The amount
// threshold converts to fixed-point exactly once, here.
type Detector struct {
	startHour  int
	endHour    int
	threshold  decimal.Decimal
	maxPerCard int
	window     time.Duration
	minSmall   int
	minCards   int
}

// NewDetector builds a Detector from validated analysis configuration.
func NewDetector(cfg domain.AnalysisConfig) *Detector {
	return &Detector{
		startHour:  cfg.EarlyMorning.StartHour,
		endHour:    cfg.EarlyMorning.EndHour,
		threshold:  decimal.NewFromFloat(cfg.SmallTransactions.AmountThreshold),
		maxPerCard: cfg.SmallTransactions.MaxCountPerCard,
		window:     time.Duration(cfg.SmallTransactions.TimeWindowHours) * time.Hour,
		minSmall:   cfg.MerchantRules.MinSmallTransactions,
		minCards:   cfg.MerchantRules.MinUniqueCardsAffected,
	}
}

// EarlyMorning returns transactions whose hour of day falls inside the
// configured range, both ends inclusive. Largest amounts first,
// transaction ID breaking ties, capped at 100 findings.
func (d *Detector) EarlyMorning(snap domain.Snapshot) []domain.EarlyMorningFinding {
	findings := make([]domain.EarlyMorningFinding, 0)
	for i := range snap.Transactions {
		tx := &snap.Transactions[i]
		hour := tx.Hour()
		if hour < d.startHour || hour > d.endHour {
			continue
		}
		findings = append(findings, domain.EarlyMorningFinding{
			TransactionID:  tx.ID,
			CardID:         tx.CardID,
			CardHolderName: tx.CardHolderName,
			MerchantName:   tx.MerchantName,
			Timestamp:      tx.Timestamp,
			Hour:           hour,
			Amount:         tx.Amount,
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if c := findings[i].Amount.Cmp(findings[j].Amount); c != 0 {
			return c > 0
		}
		return findings[i].TransactionID < findings[j].TransactionID
	})
	if len(findings) > maxEarlyMorningFindings {
		findings = findings[:maxEarlyMorningFindings]
	}
	return findings
}

// smallOf filters a transaction slice down to amounts strictly below
// the small-transaction threshold, preserving order.
func (d *Detector) smallOf(txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for i := range txs {
		if txs[i].Amount.LessThan(d.threshold) {
			out = append(out, txs[i])
		}
	}
	return out
}

// SmallTransactions aggregates each card's sub-threshold activity:
// count, mean, min, max, and how many distinct merchant categories the
// small amounts touched. Cards with the most small transactions come
// first; card ID breaks ties.
func (d *Detector) SmallTransactions(snap domain.Snapshot) []domain.CardActivity {
	small := d.smallOf(snap.Transactions)
	groups := domain.GroupBy(small, func(tx *domain.Transaction) string { return tx.CardID })

	activities := make([]domain.CardActivity, 0, len(groups))
	for _, g := range groups {
		sum := decimal.Zero
		min := g.Transactions[0].Amount
		max := g.Transactions[0].Amount
		categories := make(map[string]struct{})
		for i := range g.Transactions {
			amt := g.Transactions[i].Amount
			sum = sum.Add(amt)
			if amt.LessThan(min) {
				min = amt
			}
			if amt.GreaterThan(max) {
				max = amt
			}
			if c := g.Transactions[i].CategoryID; c != "" {
				categories[c] = struct{}{}
			}
		}
		count := len(g.Transactions)
		activities = append(activities, domain.CardActivity{
			CardID:         g.Key,
			CardHolderID:   g.Transactions[0].CardHolderID,
			CardHolderName: g.Transactions[0].CardHolderName,
			Count:          count,
			Mean:           sum.Div(decimal.NewFromInt(int64(count))),
			Min:            min,
			Max:            max,
			Categories:     len(categories),
		})
	}

	sort.SliceStable(activities, func(i, j int) bool {
		if activities[i].Count != activities[j].Count {
			return activities[i].Count > activities[j].Count
		}
		return activities[i].CardID < activities[j].CardID
	})
	return activities
}

// CardTestingSuspects finds cards whose small-transaction count inside
// some rolling window exceeds the per-card maximum. The window is
// evaluated per transaction, so a card that briefly spikes is caught
// even when its overall daily volume looks ordinary. Densest windows
// first, card ID breaking ties.
func (d *Detector) CardTestingSuspects(snap domain.Snapshot) []domain.CardTestingSuspect {
	small := d.smallOf(snap.Transactions)
	groups := domain.GroupBy(small, func(tx *domain.Transaction) string { return tx.CardID })

	suspects := make([]domain.CardTestingSuspect, 0)
	for _, g := range groups {
		if len(g.Transactions) <= d.maxPerCard {
			continue
		}
		w := velocity.DensestWindow(g.Transactions, d.window)
		if w.Count <= d.maxPerCard {
			continue
		}
		suspects = append(suspects, domain.CardTestingSuspect{
			CardID:         g.Key,
			CardHolderName: g.Transactions[0].CardHolderName,
			WindowStart:    g.Transactions[w.Lo].Timestamp,
			WindowEnd:      g.Transactions[w.Hi].Timestamp,
			Count:          w.Count,
			Threshold:      d.maxPerCard,
		})
	}

	sort.SliceStable(suspects, func(i, j int) bool {
		if suspects[i].Count != suspects[j].Count {
			return suspects[i].Count > suspects[j].Count
		}
		return suspects[i].CardID < suspects[j].CardID
	})
	return suspects
}

// VulnerableMerchants returns merchants accumulating small
// transactions from several distinct cards: the signature of a
// merchant being used to probe stolen card numbers. Both the
// small-transaction floor and the distinct-card floor must be met.
// Most-exposed merchants first, merchant ID breaking ties.
func (d *Detector) VulnerableMerchants(snap domain.Snapshot) []domain.MerchantExposure {
	small := d.smallOf(snap.Transactions)
	groups := domain.GroupBy(small, func(tx *domain.Transaction) string { return tx.MerchantID })

	exposures := make([]domain.MerchantExposure, 0)
	for _, g := range groups {
		cards := make(map[string]struct{})
		holders := make(map[string]struct{})
		total := decimal.Zero
		for i := range g.Transactions {
			cards[g.Transactions[i].CardID] = struct{}{}
			holders[g.Transactions[i].CardHolderID] = struct{}{}
			total = total.Add(g.Transactions[i].Amount)
		}
		if len(g.Transactions) < d.minSmall || len(cards) < d.minCards {
			continue
		}
		exposures = append(exposures, domain.MerchantExposure{
			MerchantID:      g.Key,
			MerchantName:    g.Transactions[0].MerchantName,
			CategoryName:    g.Transactions[0].CategoryName,
			SmallTxCount:    len(g.Transactions),
			DistinctCards:   len(cards),
			DistinctHolders: len(holders),
			TotalAmount:     total,
		})
	}

	sort.SliceStable(exposures, func(i, j int) bool {
		if exposures[i].SmallTxCount != exposures[j].SmallTxCount {
			return exposures[i].SmallTxCount > exposures[j].SmallTxCount
		}
		return exposures[i].MerchantID < exposures[j].MerchantID
	})
	return exposures
}

// Hourly summarizes amounts per hour of day for the hours that saw
// activity, ascending by hour. Zero-padded group keys keep the
// lexicographic group order numeric.
func Hourly(snap domain.Snapshot) []domain.HourlyPattern {
	groups := domain.GroupBy(snap.Transactions, func(tx *domain.Transaction) string {
		return fmt.Sprintf("%02d", tx.Hour())
	})

	summaries := stats.DescribeGroups(groups, 1)
	out := make([]domain.HourlyPattern, 0, len(summaries))
	for _, g := range summaries {
		hour, err := strconv.Atoi(g.Key)
		if err != nil {
			continue
		}
		out = append(out, domain.HourlyPattern{
			Hour:   hour,
			Count:  g.Stats.Count,
			Mean:   g.Stats.Mean,
			Min:    g.Stats.Min,
			Max:    g.Stats.Max,
			StdDev: g.Stats.StdDev,
		})
	}
	return out
}
