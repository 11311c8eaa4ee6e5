package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// WriteJSON writes the envelope as indented JSON. The report section is
// byte-stable across runs; only the envelope fields vary.
func WriteJSON(w io.Writer, env *domain.ReportEnvelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteCSV writes one CSV file per result family into dir, creating the
// directory if needed.
func WriteCSV(dir string, rep *domain.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	files := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"outliers.csv",
			[]string{"transaction_id", "card_id", "merchant", "amount", "z_score", "classification"},
			outlierRows(rep.TopOutliers)},
		{"rapid_sequences.csv",
			[]string{"transaction_id", "card_id", "card_holder", "merchant", "timestamp", "amount", "minutes_since_prev", "minutes_to_next"},
			rapidRows(rep.RapidSequences)},
		{"bursts.csv",
			[]string{"card_id", "window", "start", "end", "count", "threshold", "transaction_ids"},
			burstRows(rep.Bursts)},
		{"early_morning.csv",
			[]string{"transaction_id", "card_id", "card_holder", "merchant", "timestamp", "hour", "amount"},
			earlyMorningRows(rep.EarlyMorning)},
		{"small_transactions.csv",
			[]string{"card_id", "card_holder_id", "card_holder", "count", "mean", "min", "max", "categories"},
			smallCardRows(rep.SmallTransactions)},
		{"card_testing.csv",
			[]string{"card_id", "card_holder", "window_start", "window_end", "count", "threshold"},
			cardTestingRows(rep.CardTestingSuspects)},
		{"vulnerable_merchants.csv",
			[]string{"merchant_id", "merchant", "category", "small_tx_count", "distinct_cards", "distinct_holders", "total_amount"},
			merchantRows(rep.VulnerableMerchants)},
		{"risk_transactions.csv",
			[]string{"transaction_id", "card_id", "score", "severity", "reasons"},
			riskTxRows(rep.TopRiskTransactions)},
		{"risk_card_holders.csv",
			[]string{"card_holder_id", "card_holder", "transactions", "cards", "score", "severity"},
			riskHolderRows(rep.TopRiskCardHolders)},
		{"hourly_patterns.csv",
			[]string{"hour", "count", "mean", "min", "max", "std_dev"},
			hourlyRows(rep.HourlyPatterns)},
		{"rule_matches.csv",
			[]string{"rule", "expression", "matches", "sample_ids"},
			ruleRows(rep.RuleMatches)},
	}

	for _, f := range files {
		if err := writeFile(filepath.Join(dir, f.name), f.header, f.rows); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	return w.WriteAll(rows)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableMinutes(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func outlierRows(findings []domain.OutlierFinding) [][]string {
	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, []string{
			f.TransactionID,
			f.CardID,
			f.MerchantName,
			f.Amount.String(),
			formatFloat(f.ZScore),
			string(f.Classification),
		})
	}
	return rows
}

func rapidRows(findings []domain.VelocityFinding) [][]string {
	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, []string{
			f.TransactionID,
			f.CardID,
			f.CardHolderName,
			f.MerchantName,
			formatTime(f.Timestamp),
			f.Amount.String(),
			nullableMinutes(f.MinutesSincePrev),
			nullableMinutes(f.MinutesToNext),
		})
	}
	return rows
}

func burstRows(findings []domain.BurstFinding) [][]string {
	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, []string{
			f.CardID,
			string(f.Window),
			formatTime(f.Start),
			formatTime(f.End),
			strconv.Itoa(f.Count),
			strconv.Itoa(f.Threshold),
			strings.Join(f.TransactionIDs, ";"),
		})
	}
	return rows
}

func earlyMorningRows(findings []domain.EarlyMorningFinding) [][]string {
	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, []string{
			f.TransactionID,
			f.CardID,
			f.CardHolderName,
			f.MerchantName,
			formatTime(f.Timestamp),
			strconv.Itoa(f.Hour),
			f.Amount.String(),
		})
	}
	return rows
}

func smallCardRows(cards []domain.CardActivity) [][]string {
	rows := make([][]string, 0, len(cards))
	for _, c := range cards {
		rows = append(rows, []string{
			c.CardID,
			c.CardHolderID,
			c.CardHolderName,
			strconv.Itoa(c.Count),
			c.Mean.String(),
			c.Min.String(),
			c.Max.String(),
			strconv.Itoa(c.Categories),
		})
	}
	return rows
}

func cardTestingRows(suspects []domain.CardTestingSuspect) [][]string {
	rows := make([][]string, 0, len(suspects))
	for _, s := range suspects {
		rows = append(rows, []string{
			s.CardID,
			s.CardHolderName,
			formatTime(s.WindowStart),
			formatTime(s.WindowEnd),
			strconv.Itoa(s.Count),
			strconv.Itoa(s.Threshold),
		})
	}
	return rows
}

func merchantRows(merchants []domain.MerchantExposure) [][]string {
	rows := make([][]string, 0, len(merchants))
	for _, m := range merchants {
		rows = append(rows, []string{
			m.MerchantID,
			m.MerchantName,
			m.CategoryName,
			strconv.Itoa(m.SmallTxCount),
			strconv.Itoa(m.DistinctCards),
			strconv.Itoa(m.DistinctHolders),
			m.TotalAmount.String(),
		})
	}
	return rows
}

func riskTxRows(scores []domain.RiskScore) [][]string {
	rows := make([][]string, 0, len(scores))
	for _, s := range scores {
		rows = append(rows, []string{
			s.TransactionID,
			s.CardID,
			formatFloat(s.Score),
			string(s.Severity),
			strings.Join(s.Reasons, "; "),
		})
	}
	return rows
}

func riskHolderRows(scores []domain.CardHolderRisk) [][]string {
	rows := make([][]string, 0, len(scores))
	for _, s := range scores {
		rows = append(rows, []string{
			s.CardHolderID,
			s.CardHolderName,
			strconv.Itoa(s.Transactions),
			strconv.Itoa(s.Cards),
			formatFloat(s.Score),
			string(s.Severity),
		})
	}
	return rows
}

func hourlyRows(patterns []domain.HourlyPattern) [][]string {
	rows := make([][]string, 0, len(patterns))
	for _, p := range patterns {
		rows = append(rows, []string{
			strconv.Itoa(p.Hour),
			strconv.Itoa(p.Count),
			formatFloat(p.Mean),
			formatFloat(p.Min),
			formatFloat(p.Max),
			formatFloat(p.StdDev),
		})
	}
	return rows
}

func ruleRows(summaries []domain.RuleMatchSummary) [][]string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Name,
			s.Expression,
			strconv.Itoa(s.Matches),
			strings.Join(s.SampleIDs, ";"),
		})
	}
	return rows
}
