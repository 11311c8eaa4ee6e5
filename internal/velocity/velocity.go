// Package velocity provides transaction velocity detection.
package velocity

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DetectRapid flags transactions in rapid succession on the same card.
// Each card's transactions form an independent partition, ordered by
// timestamp; a transaction is flagged when the gap to either neighbor
// is at most windowMinutes. Gaps are symmetric: when two transactions
// sit three minutes apart, both are flagged, one through its
// minutes-to-next and the other through its minutes-since-previous.
//
// Findings come back ordered by card, then timestamp. Boundary gaps
// are nil: a card's first transaction has no predecessor and its last
// has no successor.
func DetectRapid(snap domain.Snapshot, windowMinutes int) []domain.VelocityFinding {
	window := float64(windowMinutes)
	groups := domain.GroupBy(snap.Transactions, func(tx *domain.Transaction) string { return tx.CardID })

	findings := make([]domain.VelocityFinding, 0)
	for _, g := range groups {
		txs := sortedByTime(g.Transactions)
		for i := range txs {
			var sincePrev, toNext *float64
			if i > 0 {
				m := txs[i].Timestamp.Sub(txs[i-1].Timestamp).Minutes()
				sincePrev = &m
			}
			if i < len(txs)-1 {
				m := txs[i+1].Timestamp.Sub(txs[i].Timestamp).Minutes()
				toNext = &m
			}

			flagged := (sincePrev != nil && *sincePrev <= window) ||
				(toNext != nil && *toNext <= window)
			if !flagged {
				continue
			}

			findings = append(findings, domain.VelocityFinding{
				TransactionID:    txs[i].ID,
				CardID:           txs[i].CardID,
				CardHolderName:   txs[i].CardHolderName,
				MerchantName:     txs[i].MerchantName,
				Timestamp:        txs[i].Timestamp,
				Amount:           txs[i].Amount,
				MinutesSincePrev: sincePrev,
				MinutesToNext:    toNext,
			})
		}
	}
	return findings
}

// DetectBursts runs the strict window checks: a rolling window that
// must not accumulate min_count_per_window transactions, plus hard
// per-minute and per-hour rate caps. Where DetectRapid looks only at
// neighbor gaps, these count every transaction inside a sliding span.
// At most one finding per card and window family is reported: the
// densest window observed.
func DetectBursts(snap domain.Snapshot, cfg domain.VelocityConfig) []domain.BurstFinding {
	groups := domain.GroupBy(snap.Transactions, func(tx *domain.Transaction) string { return tx.CardID })

	findings := make([]domain.BurstFinding, 0)
	for _, g := range groups {
		txs := sortedByTime(g.Transactions)
		if len(txs) == 0 {
			continue
		}

		rolling := DensestWindow(txs, time.Duration(cfg.TimeWindowMinutes)*time.Minute)
		if rolling.Count >= cfg.MinCountPerWindow {
			findings = append(findings, burstFinding(g.Key, domain.BurstWindowRolling, txs, rolling, cfg.MinCountPerWindow))
		}

		minute := DensestWindow(txs, time.Minute)
		if minute.Count > cfg.MaxPerMinute {
			findings = append(findings, burstFinding(g.Key, domain.BurstWindowMinute, txs, minute, cfg.MaxPerMinute))
		}

		hour := DensestWindow(txs, time.Hour)
		if hour.Count > cfg.MaxPerHour {
			findings = append(findings, burstFinding(g.Key, domain.BurstWindowHour, txs, hour, cfg.MaxPerHour))
		}
	}
	return findings
}

// Window is a contiguous run of transactions whose timestamps span at
// most some duration: indices into a time-sorted slice.
type Window struct {
	Lo    int
	Hi    int
	Count int
}

// DensestWindow returns the window of maximal transaction count whose
// first and last timestamps sit at most span apart. Ties resolve to
// the earliest window. txs must be sorted by timestamp and non-empty.
func DensestWindow(txs []domain.Transaction, span time.Duration) Window {
	best := Window{Lo: 0, Hi: 0, Count: 1}
	j := 0
	for i := range txs {
		if j < i {
			j = i
		}
		for j+1 < len(txs) && txs[j+1].Timestamp.Sub(txs[i].Timestamp) <= span {
			j++
		}
		if c := j - i + 1; c > best.Count {
			best = Window{Lo: i, Hi: j, Count: c}
		}
	}
	return best
}

func burstFinding(cardID string, family domain.BurstWindow, txs []domain.Transaction, w Window, threshold int) domain.BurstFinding {
	ids := make([]string, 0, w.Count)
	for i := w.Lo; i <= w.Hi; i++ {
		ids = append(ids, txs[i].ID)
	}
	return domain.BurstFinding{
		CardID:         cardID,
		Window:         family,
		Start:          txs[w.Lo].Timestamp,
		End:            txs[w.Hi].Timestamp,
		Count:          w.Count,
		Threshold:      threshold,
		TransactionIDs: ids,
	}
}

func sortedByTime(txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
