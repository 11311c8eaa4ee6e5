// Package ingest loads a corpus from CSV files into the repository.
//
// Five files are read in dependency order: merchant categories,
// cardholders, merchants, credit cards, transactions. Columns are
// located by header name, so column order does not matter. Referential
// integrity is checked while reading; a row referencing a key that has
// not been loaded stops the import with a MalformedRecordError naming
// the file, line, and field.
package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Corpus file names, loaded in dependency order.
const (
	fileCategories   = "merchant_categories.csv"
	fileCardHolders  = "card_holders.csv"
	fileMerchants    = "merchants.csv"
	fileCards        = "credit_cards.csv"
	fileTransactions = "transactions.csv"
)

// Loader reads corpus CSV files and saves them through the repository.
type Loader struct {
	repo domain.Repository
	bus  domain.EventBus
}

// NewLoader creates a loader. The bus may be nil to disable the
// corpus-loaded event.
func NewLoader(repo domain.Repository, bus domain.EventBus) *Loader {
	return &Loader{repo: repo, bus: bus}
}

// Summary counts the records a completed import saved. It is also the
// payload published on the corpus-loaded topic.
type Summary struct {
	Categories   int   `json:"categories"`
	CardHolders  int   `json:"cardHolders"`
	Merchants    int   `json:"merchants"`
	Cards        int   `json:"cards"`
	Transactions int   `json:"transactions"`
	DurationMs   int64 `json:"durationMs"`
}

// LoadDir imports the corpus from dir. Dimension files load and save
// before the transactions that reference them.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Summary, error) {
	start := time.Now()

	categories, err := l.loadCategories(filepath.Join(dir, fileCategories))
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	if err := l.repo.SaveCategories(ctx, categories); err != nil {
		return nil, fmt.Errorf("failed to save categories: %w", err)
	}
	slog.Info("corpus dimension loaded", "file", fileCategories, "count", len(categories))

	holders, err := l.loadCardHolders(filepath.Join(dir, fileCardHolders))
	if err != nil {
		return nil, fmt.Errorf("failed to load cardholders: %w", err)
	}
	if err := l.repo.SaveCardHolders(ctx, holders); err != nil {
		return nil, fmt.Errorf("failed to save cardholders: %w", err)
	}
	slog.Info("corpus dimension loaded", "file", fileCardHolders, "count", len(holders))

	merchants, err := l.loadMerchants(filepath.Join(dir, fileMerchants), keySet(categories, func(c domain.MerchantCategory) string { return c.ID }))
	if err != nil {
		return nil, fmt.Errorf("failed to load merchants: %w", err)
	}
	if err := l.repo.SaveMerchants(ctx, merchants); err != nil {
		return nil, fmt.Errorf("failed to save merchants: %w", err)
	}
	slog.Info("corpus dimension loaded", "file", fileMerchants, "count", len(merchants))

	cards, err := l.loadCards(filepath.Join(dir, fileCards), keySet(holders, func(h domain.CardHolder) string { return h.ID }))
	if err != nil {
		return nil, fmt.Errorf("failed to load cards: %w", err)
	}
	if err := l.repo.SaveCards(ctx, cards); err != nil {
		return nil, fmt.Errorf("failed to save cards: %w", err)
	}
	slog.Info("corpus dimension loaded", "file", fileCards, "count", len(cards))

	transactions, err := l.loadTransactions(
		filepath.Join(dir, fileTransactions),
		keySet(cards, func(c domain.CreditCard) string { return c.ID }),
		keySet(merchants, func(m domain.Merchant) string { return m.ID }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	if err := l.repo.SaveTransactions(ctx, transactions); err != nil {
		return nil, fmt.Errorf("failed to save transactions: %w", err)
	}

	summary := &Summary{
		Categories:   len(categories),
		CardHolders:  len(holders),
		Merchants:    len(merchants),
		Cards:        len(cards),
		Transactions: len(transactions),
		DurationMs:   time.Since(start).Milliseconds(),
	}

	slog.Info("corpus import completed",
		"transactions", summary.Transactions,
		"cards", summary.Cards,
		"merchants", summary.Merchants,
		"duration_ms", summary.DurationMs,
	)

	l.publish(ctx, summary)
	return summary, nil
}

func (l *Loader) publish(ctx context.Context, summary *Summary) {
	if l.bus == nil {
		return
	}
	payload, _ := json.Marshal(summary)
	if err := l.bus.Publish(ctx, domain.TopicCorpusLoaded, payload); err != nil {
		slog.Error("failed to publish corpus event", "error", err)
	}
}

func (l *Loader) loadCategories(path string) ([]domain.MerchantCategory, error) {
	var categories []domain.MerchantCategory
	err := readCSV(path, fileCategories, []string{"id", "name"}, func(line int, record []string, col map[string]int) error {
		id := record[col["id"]]
		if id == "" {
			return &domain.MalformedRecordError{Source: fileCategories, Line: line, Field: "id", Reason: "missing category id"}
		}
		categories = append(categories, domain.MerchantCategory{
			ID:          id,
			Name:        record[col["name"]],
			Description: field(record, col, "description"),
		})
		return nil
	})
	return categories, err
}

func (l *Loader) loadCardHolders(path string) ([]domain.CardHolder, error) {
	var holders []domain.CardHolder
	err := readCSV(path, fileCardHolders, []string{"id", "name"}, func(line int, record []string, col map[string]int) error {
		id := record[col["id"]]
		if id == "" {
			return &domain.MalformedRecordError{Source: fileCardHolders, Line: line, Field: "id", Reason: "missing cardholder id"}
		}
		holders = append(holders, domain.CardHolder{
			ID:      id,
			Name:    record[col["name"]],
			Email:   field(record, col, "email"),
			Phone:   field(record, col, "phone"),
			Address: field(record, col, "address"),
		})
		return nil
	})
	return holders, err
}

func (l *Loader) loadMerchants(path string, categories map[string]struct{}) ([]domain.Merchant, error) {
	var merchants []domain.Merchant
	err := readCSV(path, fileMerchants, []string{"id", "name", "category_id"}, func(line int, record []string, col map[string]int) error {
		id := record[col["id"]]
		if id == "" {
			return &domain.MalformedRecordError{Source: fileMerchants, Line: line, Field: "id", Reason: "missing merchant id"}
		}
		categoryID := record[col["category_id"]]
		if _, ok := categories[categoryID]; !ok {
			return &domain.MalformedRecordError{
				Source: fileMerchants, Line: line, Field: "category_id",
				Reason: fmt.Sprintf("unknown category %q", categoryID),
			}
		}
		merchants = append(merchants, domain.Merchant{
			ID:         id,
			Name:       record[col["name"]],
			CategoryID: categoryID,
			Address:    field(record, col, "address"),
		})
		return nil
	})
	return merchants, err
}

func (l *Loader) loadCards(path string, holders map[string]struct{}) ([]domain.CreditCard, error) {
	var cards []domain.CreditCard
	err := readCSV(path, fileCards, []string{"id", "card_holder_id", "card_number"}, func(line int, record []string, col map[string]int) error {
		id := record[col["id"]]
		if id == "" {
			return &domain.MalformedRecordError{Source: fileCards, Line: line, Field: "id", Reason: "missing card id"}
		}
		holderID := record[col["card_holder_id"]]
		if _, ok := holders[holderID]; !ok {
			return &domain.MalformedRecordError{
				Source: fileCards, Line: line, Field: "card_holder_id",
				Reason: fmt.Sprintf("unknown cardholder %q", holderID),
			}
		}
		cards = append(cards, domain.CreditCard{
			ID:           id,
			CardHolderID: holderID,
			CardNumber:   record[col["card_number"]],
			Expiration:   field(record, col, "expiration"),
		})
		return nil
	})
	return cards, err
}

func (l *Loader) loadTransactions(path string, cards, merchants map[string]struct{}) ([]domain.TransactionRecord, error) {
	var records []domain.TransactionRecord
	required := []string{"id", "card_id", "merchant_id", "amount", "timestamp"}
	err := readCSV(path, fileTransactions, required, func(line int, record []string, col map[string]int) error {
		id := record[col["id"]]
		if id == "" {
			return &domain.MalformedRecordError{Source: fileTransactions, Line: line, Field: "id", Reason: "missing transaction id"}
		}

		cardID := record[col["card_id"]]
		if _, ok := cards[cardID]; !ok {
			return &domain.MalformedRecordError{
				Source: fileTransactions, Line: line, TxID: id, Field: "card_id",
				Reason: fmt.Sprintf("unknown card %q", cardID),
			}
		}
		merchantID := record[col["merchant_id"]]
		if _, ok := merchants[merchantID]; !ok {
			return &domain.MalformedRecordError{
				Source: fileTransactions, Line: line, TxID: id, Field: "merchant_id",
				Reason: fmt.Sprintf("unknown merchant %q", merchantID),
			}
		}

		amount, err := decimal.NewFromString(record[col["amount"]])
		if err != nil {
			return &domain.MalformedRecordError{
				Source: fileTransactions, Line: line, TxID: id, Field: "amount",
				Reason: fmt.Sprintf("invalid amount %q", record[col["amount"]]),
			}
		}
		timestamp, err := parseTime(record[col["timestamp"]])
		if err != nil {
			return &domain.MalformedRecordError{
				Source: fileTransactions, Line: line, TxID: id, Field: "timestamp",
				Reason: err.Error(),
			}
		}

		records = append(records, domain.TransactionRecord{
			ID:         id,
			CardID:     cardID,
			MerchantID: merchantID,
			Amount:     amount,
			Timestamp:  timestamp,
		})
		return nil
	})
	return records, err
}

// readCSV opens path, verifies the required header columns, and calls
// row for each data record with its 1-based line number.
func readCSV(path, name string, requiredCols []string, row func(line int, record []string, col map[string]int) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%s: failed to read header: %w", name, err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredCols {
		if _, ok := colIndex[col]; !ok {
			return fmt.Errorf("%s: missing required column %q", name, col)
		}
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return fmt.Errorf("%s: line %d: %w", name, line, err)
		}
		if err := row(line, record, colIndex); err != nil {
			return err
		}
	}
	return nil
}

// field returns the named column's value, or empty when the column is
// absent. Used for optional columns only.
func field(record []string, col map[string]int, name string) string {
	if i, ok := col[name]; ok && i < len(record) {
		return record[i]
	}
	return ""
}

// keySet projects records to the set of their keys for reference
// checks.
func keySet[T any](records []T, key func(T) string) map[string]struct{} {
	set := make(map[string]struct{}, len(records))
	for _, r := range records {
		set[key(r)] = struct{}{}
	}
	return set
}

// parseTime accepts RFC3339 or a bare datetime, taken as UTC.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
