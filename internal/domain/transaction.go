package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one joined corpus record: the transaction row together
// with the card, cardholder, merchant, and category attributes the
// analyzers read. Amounts stay fixed-point until the statistics layer
// converts them for distribution math.
type Transaction struct {
	// Core identifiers
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Financial details
	Amount decimal.Decimal `json:"amount"`

	// Card dimension
	CardID     string `json:"cardId"`
	CardNumber string `json:"cardNumber,omitempty"`

	// Cardholder dimension
	CardHolderID   string `json:"cardHolderId"`
	CardHolderName string `json:"cardHolderName,omitempty"`

	// Merchant dimension
	MerchantID   string `json:"merchantId"`
	MerchantName string `json:"merchantName,omitempty"`
	CategoryID   string `json:"categoryId,omitempty"`
	CategoryName string `json:"categoryName,omitempty"`
}

// Hour returns the transaction's hour of day in UTC. Timestamps are
// normalized to UTC at ingest, so this is stable across environments.
func (t *Transaction) Hour() int {
	return t.Timestamp.UTC().Hour()
}

// Validate reports the first missing required field as a
// MalformedRecordError. Dangling dimension references are caught
// earlier, by the repository join or the ingest loader.
func (t *Transaction) Validate() error {
	switch {
	case t.ID == "":
		return &MalformedRecordError{TxID: t.ID, Field: "id", Reason: "missing transaction id"}
	case t.Timestamp.IsZero():
		return &MalformedRecordError{TxID: t.ID, Field: "timestamp", Reason: "missing timestamp"}
	case t.CardID == "":
		return &MalformedRecordError{TxID: t.ID, Field: "cardId", Reason: "missing card reference"}
	case t.CardHolderID == "":
		return &MalformedRecordError{TxID: t.ID, Field: "cardHolderId", Reason: "missing cardholder reference"}
	case t.MerchantID == "":
		return &MalformedRecordError{TxID: t.ID, Field: "merchantId", Reason: "missing merchant reference"}
	}
	return nil
}

// MerchantCategory is a merchant classification dimension record.
type MerchantCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CardHolder is a cardholder dimension record.
type CardHolder struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Merchant is a merchant dimension record.
type Merchant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CategoryID string `json:"categoryId"`
	Address    string `json:"address,omitempty"`
}

// CreditCard is a card dimension record. Only the number's last four
// digits ever reach a report.
type CreditCard struct {
	ID           string `json:"id"`
	CardHolderID string `json:"cardHolderId"`
	CardNumber   string `json:"cardNumber"`
	Expiration   string `json:"expiration,omitempty"`
}

// TransactionRecord is the normalized transaction row as stored: bare
// foreign keys, no joined dimension attributes.
type TransactionRecord struct {
	ID         string          `json:"id"`
	CardID     string          `json:"cardId"`
	MerchantID string          `json:"merchantId"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Snapshot is the immutable, canonically ordered transaction set a
// single analysis run operates on. Build one with NewSnapshot; the
// analyzers never mutate it.
type Snapshot struct {
	Transactions []Transaction `json:"transactions"`
}

// NewSnapshot copies txs and sorts them into canonical order, timestamp
// ascending with transaction ID breaking ties. Canonical input order is
// what makes repeated runs byte-identical.
func NewSnapshot(txs []Transaction) Snapshot {
	ordered := make([]Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return Snapshot{Transactions: ordered}
}

// Size returns the number of transactions in the snapshot.
func (s *Snapshot) Size() int {
	return len(s.Transactions)
}

// Amounts converts every amount to float64 in snapshot order. This is
// the single decimal-to-float crossing for distribution math.
func (s *Snapshot) Amounts() []float64 {
	out := make([]float64, len(s.Transactions))
	for i, tx := range s.Transactions {
		out[i] = tx.Amount.InexactFloat64()
	}
	return out
}

// Validate runs per-record validation over the whole snapshot.
func (s *Snapshot) Validate() error {
	for i := range s.Transactions {
		if err := s.Transactions[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Group is one partition of transactions sharing a key, in snapshot
// order.
type Group struct {
	Key          string
	Transactions []Transaction
}

// GroupBy partitions txs by the given key, ordering groups by key so
// that iteration is deterministic. Input order is preserved inside each
// group.
func GroupBy(txs []Transaction, key func(*Transaction) string) []Group {
	byKey := make(map[string][]Transaction)
	for i := range txs {
		k := key(&txs[i])
		byKey[k] = append(byKey[k], txs[i])
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, Group{Key: k, Transactions: byKey[k]})
	}
	return groups
}

// Filter narrows the transaction set a run analyzes. Zero times mean
// unbounded; nil amounts mean unbounded; empty ID lists mean all.
type Filter struct {
	From        time.Time        `json:"from,omitempty"`
	To          time.Time        `json:"to,omitempty"`
	MinAmount   *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount   *decimal.Decimal `json:"maxAmount,omitempty"`
	CardIDs     []string         `json:"cardIds,omitempty"`
	MerchantIDs []string         `json:"merchantIds,omitempty"`
}

// Matches reports whether tx passes the filter.
func (f *Filter) Matches(tx *Transaction) bool {
	if !f.From.IsZero() && tx.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Timestamp.After(f.To) {
		return false
	}
	if f.MinAmount != nil && tx.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && tx.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	if len(f.CardIDs) > 0 && !containsString(f.CardIDs, tx.CardID) {
		return false
	}
	if len(f.MerchantIDs) > 0 && !containsString(f.MerchantIDs, tx.MerchantID) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// MaskCardNumber keeps the last four digits of a card number and
// replaces the rest with asterisks.
func MaskCardNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	masked := make([]byte, len(number))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(masked)-4:], number[len(number)-4:])
	return string(masked)
}
