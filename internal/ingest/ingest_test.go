package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type recordingRepo struct {
	categories   []domain.MerchantCategory
	holders      []domain.CardHolder
	merchants    []domain.Merchant
	cards        []domain.CreditCard
	transactions []domain.TransactionRecord
}

func (r *recordingRepo) SaveCategories(_ context.Context, c []domain.MerchantCategory) error {
	r.categories = append(r.categories, c...)
	return nil
}

func (r *recordingRepo) SaveCardHolders(_ context.Context, h []domain.CardHolder) error {
	r.holders = append(r.holders, h...)
	return nil
}

func (r *recordingRepo) SaveMerchants(_ context.Context, m []domain.Merchant) error {
	r.merchants = append(r.merchants, m...)
	return nil
}

func (r *recordingRepo) SaveCards(_ context.Context, c []domain.CreditCard) error {
	r.cards = append(r.cards, c...)
	return nil
}

func (r *recordingRepo) SaveTransactions(_ context.Context, t []domain.TransactionRecord) error {
	r.transactions = append(r.transactions, t...)
	return nil
}

func (r *recordingRepo) FetchSnapshot(context.Context, domain.Filter) (domain.Snapshot, error) {
	return domain.Snapshot{}, nil
}

func (r *recordingRepo) CountTransactions(context.Context) (int, error) {
	return len(r.transactions), nil
}

func (r *recordingRepo) Ping(context.Context) error { return nil }
func (r *recordingRepo) Close() error               { return nil }

type recordingBus struct {
	topics   []string
	payloads [][]byte
}

func (b *recordingBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Ping(context.Context) error { return nil }
func (b *recordingBus) Close() error               { return nil }

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, fileCategories, `id,name,description
cat-1,Retail,Everyday purchases
cat-2,Jewelry,
`)
	writeFile(t, dir, fileCardHolders, `id,name,email
holder-1,Ada Wong,ada@example.com
holder-2,Ben Ito,
`)
	writeFile(t, dir, fileMerchants, `id,name,category_id,address
merch-1,Corner Store,cat-1,12 Main St
merch-2,Acme Jewelers,cat-2,
`)
	writeFile(t, dir, fileCards, `id,card_holder_id,card_number,expiration
card-1,holder-1,4111111111111111,12/27
card-2,holder-2,5500000000000004,
`)
	writeFile(t, dir, fileTransactions, `id,card_id,merchant_id,amount,timestamp
tx-1,card-1,merch-1,12.50,2025-11-03 10:00:00
tx-2,card-2,merch-2,250.00,2025-11-03T11:00:00Z
tx-3,card-1,merch-2,3.75,2025-11-03 09:00:00
`)
	return dir
}

func TestLoadDir(t *testing.T) {
	repo := &recordingRepo{}
	loader := NewLoader(repo, nil)

	summary, err := loader.LoadDir(context.Background(), writeCorpus(t))
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	if summary.Categories != 2 || summary.CardHolders != 2 || summary.Merchants != 2 ||
		summary.Cards != 2 || summary.Transactions != 3 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	if len(repo.transactions) != 3 {
		t.Fatalf("expected 3 saved transactions, got %d", len(repo.transactions))
	}
	tx := repo.transactions[0]
	if tx.ID != "tx-1" || tx.CardID != "card-1" || tx.MerchantID != "merch-1" {
		t.Errorf("unexpected first transaction: %+v", tx)
	}
	if !tx.Amount.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("expected amount 12.50, got %s", tx.Amount)
	}
	if !tx.Timestamp.Equal(time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("expected bare datetime taken as UTC, got %v", tx.Timestamp)
	}
	if !repo.transactions[1].Timestamp.Equal(time.Date(2025, 11, 3, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("expected RFC3339 timestamp, got %v", repo.transactions[1].Timestamp)
	}

	if repo.holders[1].Name != "Ben Ito" || repo.holders[1].Email != "" {
		t.Errorf("unexpected second cardholder: %+v", repo.holders[1])
	}
	if repo.merchants[0].CategoryID != "cat-1" || repo.merchants[0].Address != "12 Main St" {
		t.Errorf("unexpected first merchant: %+v", repo.merchants[0])
	}
}

func TestLoadDirPublishesEvent(t *testing.T) {
	bus := &recordingBus{}
	loader := NewLoader(&recordingRepo{}, bus)

	if _, err := loader.LoadDir(context.Background(), writeCorpus(t)); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	if len(bus.topics) != 1 || bus.topics[0] != domain.TopicCorpusLoaded {
		t.Fatalf("expected one corpus-loaded event, got %v", bus.topics)
	}
	var summary Summary
	if err := json.Unmarshal(bus.payloads[0], &summary); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if summary.Transactions != 3 {
		t.Errorf("expected 3 transactions in payload, got %d", summary.Transactions)
	}
}

func TestLoadDirUnknownCard(t *testing.T) {
	dir := writeCorpus(t)
	writeFile(t, dir, fileTransactions, `id,card_id,merchant_id,amount,timestamp
tx-1,card-999,merch-1,12.50,2025-11-03 10:00:00
`)

	_, err := NewLoader(&recordingRepo{}, nil).LoadDir(context.Background(), dir)

	var malformed *domain.MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	if malformed.Source != fileTransactions || malformed.Line != 2 || malformed.Field != "card_id" {
		t.Errorf("expected %s line 2 card_id, got %s line %d %s",
			fileTransactions, malformed.Source, malformed.Line, malformed.Field)
	}
	if malformed.TxID != "tx-1" {
		t.Errorf("expected tx-1, got %s", malformed.TxID)
	}
}

func TestLoadDirUnknownCategory(t *testing.T) {
	dir := writeCorpus(t)
	writeFile(t, dir, fileMerchants, `id,name,category_id
merch-1,Corner Store,cat-999
`)

	_, err := NewLoader(&recordingRepo{}, nil).LoadDir(context.Background(), dir)

	var malformed *domain.MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	if malformed.Source != fileMerchants || malformed.Field != "category_id" {
		t.Errorf("expected %s category_id, got %s %s", fileMerchants, malformed.Source, malformed.Field)
	}
}

func TestLoadDirBadAmount(t *testing.T) {
	dir := writeCorpus(t)
	writeFile(t, dir, fileTransactions, `id,card_id,merchant_id,amount,timestamp
tx-1,card-1,merch-1,not-a-number,2025-11-03 10:00:00
`)

	_, err := NewLoader(&recordingRepo{}, nil).LoadDir(context.Background(), dir)

	var malformed *domain.MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	if malformed.Field != "amount" {
		t.Errorf("expected amount, got %s", malformed.Field)
	}
}

func TestLoadDirMissingColumn(t *testing.T) {
	dir := writeCorpus(t)
	writeFile(t, dir, fileTransactions, `id,card_id,merchant_id,timestamp
tx-1,card-1,merch-1,2025-11-03 10:00:00
`)

	_, err := NewLoader(&recordingRepo{}, nil).LoadDir(context.Background(), dir)
	if err == nil {
		t.Fatal("expected error for missing column")
	}
	if !strings.Contains(err.Error(), `missing required column "amount"`) {
		t.Errorf("expected missing column error, got %v", err)
	}
}

func TestLoadDirMissingFile(t *testing.T) {
	_, err := NewLoader(&recordingRepo{}, nil).LoadDir(context.Background(), t.TempDir())
	if err == nil {
		t.Fatal("expected error for empty corpus directory")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"2025-11-03T10:00:00Z", time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC), false},
		{"2025-11-03 10:00:00", time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC), false},
		{"11/03/2025", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := parseTime(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseTime(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTime(%q) failed: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
