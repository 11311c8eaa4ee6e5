// Package repository provides corpus persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCategories upserts merchant category dimension records.
func (r *SQLRepository) SaveCategories(ctx context.Context, categories []domain.MerchantCategory) error {
	query := `
		INSERT INTO merchant_categories (id, name, description)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description
	`

	for _, c := range categories {
		if c.ID == "" {
			return fmt.Errorf("%w: category id is required", ErrInvalidInput)
		}
		if _, err := r.db.ExecContext(ctx, r.rebind(query), c.ID, c.Name, c.Description); err != nil {
			return fmt.Errorf("failed to save category %s: %w", c.ID, err)
		}
	}
	return nil
}

// SaveCardHolders upserts cardholder dimension records.
func (r *SQLRepository) SaveCardHolders(ctx context.Context, holders []domain.CardHolder) error {
	query := `
		INSERT INTO card_holders (id, name, email, phone, address)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			address = excluded.address
	`

	for _, h := range holders {
		if h.ID == "" {
			return fmt.Errorf("%w: cardholder id is required", ErrInvalidInput)
		}
		if _, err := r.db.ExecContext(ctx, r.rebind(query), h.ID, h.Name, h.Email, h.Phone, h.Address); err != nil {
			return fmt.Errorf("failed to save cardholder %s: %w", h.ID, err)
		}
	}
	return nil
}

// SaveMerchants upserts merchant dimension records. The category
// reference is enforced by the schema, so categories must load first.
func (r *SQLRepository) SaveMerchants(ctx context.Context, merchants []domain.Merchant) error {
	query := `
		INSERT INTO merchants (id, name, category_id, address)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category_id = excluded.category_id,
			address = excluded.address
	`

	for _, m := range merchants {
		if m.ID == "" {
			return fmt.Errorf("%w: merchant id is required", ErrInvalidInput)
		}
		if _, err := r.db.ExecContext(ctx, r.rebind(query), m.ID, m.Name, m.CategoryID, m.Address); err != nil {
			return fmt.Errorf("failed to save merchant %s: %w", m.ID, err)
		}
	}
	return nil
}

// SaveCards upserts credit card dimension records. The cardholder
// reference is enforced by the schema, so holders must load first.
func (r *SQLRepository) SaveCards(ctx context.Context, cards []domain.CreditCard) error {
	query := `
		INSERT INTO credit_cards (id, card_holder_id, card_number, expiration)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			card_holder_id = excluded.card_holder_id,
			card_number = excluded.card_number,
			expiration = excluded.expiration
	`

	for _, c := range cards {
		if c.ID == "" {
			return fmt.Errorf("%w: card id is required", ErrInvalidInput)
		}
		if _, err := r.db.ExecContext(ctx, r.rebind(query), c.ID, c.CardHolderID, c.CardNumber, c.Expiration); err != nil {
			return fmt.Errorf("failed to save card %s: %w", c.ID, err)
		}
	}
	return nil
}

// SaveTransactions loads fact rows inside one database transaction,
// upserting on id so a corpus can be reloaded idempotently.
func (r *SQLRepository) SaveTransactions(ctx context.Context, records []domain.TransactionRecord) error {
	query := `
		INSERT INTO transactions (id, card_id, merchant_id, amount, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			card_id = excluded.card_id,
			merchant_id = excluded.merchant_id,
			amount = excluded.amount,
			timestamp = excluded.timestamp
	`

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.ID == "" || rec.CardID == "" || rec.MerchantID == "" {
			return fmt.Errorf("%w: transaction %q is missing required fields", ErrInvalidInput, rec.ID)
		}
		if rec.Timestamp.IsZero() {
			return fmt.Errorf("%w: transaction %q is missing a timestamp", ErrInvalidInput, rec.ID)
		}

		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.CardID, rec.MerchantID,
			rec.Amount,
			rec.Timestamp.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("failed to save transaction %s: %w", rec.ID, err)
		}
	}

	return dbTx.Commit()
}

// FetchSnapshot joins the fact table with its card, cardholder,
// merchant, and category dimensions and returns the canonically
// ordered snapshot. A transaction referencing a missing card or
// merchant fails the whole fetch with a MalformedRecordError.
//
// Time bounds narrow the scan in SQL; the rest of the filter applies
// in Go, where amounts stay fixed-point.
func (r *SQLRepository) FetchSnapshot(ctx context.Context, filter domain.Filter) (domain.Snapshot, error) {
	query := `
		SELECT t.id, t.amount, t.timestamp,
		       t.card_id, c.card_number, c.card_holder_id, h.name,
		       t.merchant_id, m.name, m.category_id, g.name
		FROM transactions t
		LEFT JOIN credit_cards c ON c.id = t.card_id
		LEFT JOIN card_holders h ON h.id = c.card_holder_id
		LEFT JOIN merchants m ON m.id = t.merchant_id
		LEFT JOIN merchant_categories g ON g.id = m.category_id
	`

	var conds []string
	var args []any
	if !filter.From.IsZero() {
		conds = append(conds, "t.timestamp >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "t.timestamp <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY t.timestamp, t.id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var (
			tx           domain.Transaction
			timestamp    string
			cardNumber   sql.NullString
			cardHolderID sql.NullString
			holderName   sql.NullString
			merchantName sql.NullString
			categoryID   sql.NullString
			categoryName sql.NullString
		)

		if err := rows.Scan(
			&tx.ID, &tx.Amount, &timestamp,
			&tx.CardID, &cardNumber, &cardHolderID, &holderName,
			&tx.MerchantID, &merchantName, &categoryID, &categoryName,
		); err != nil {
			return domain.Snapshot{}, err
		}

		// A present card always carries its holder id and a present
		// merchant always carries its name, so NULL means the
		// dimension row does not exist.
		if !cardHolderID.Valid {
			return domain.Snapshot{}, &domain.MalformedRecordError{
				TxID: tx.ID, Field: "cardId", Reason: fmt.Sprintf("card %s not found", tx.CardID),
			}
		}
		if !merchantName.Valid {
			return domain.Snapshot{}, &domain.MalformedRecordError{
				TxID: tx.ID, Field: "merchantId", Reason: fmt.Sprintf("merchant %s not found", tx.MerchantID),
			}
		}

		tx.Timestamp, err = time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return domain.Snapshot{}, &domain.MalformedRecordError{
				TxID: tx.ID, Field: "timestamp", Reason: err.Error(),
			}
		}

		// Snapshots feed reports, so only the masked number leaves
		// storage.
		tx.CardNumber = domain.MaskCardNumber(cardNumber.String)
		tx.CardHolderID = cardHolderID.String
		tx.CardHolderName = holderName.String
		tx.MerchantName = merchantName.String
		tx.CategoryID = categoryID.String
		tx.CategoryName = categoryName.String

		if !filter.Matches(&tx) {
			continue
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	return domain.NewSnapshot(txs), nil
}

// CountTransactions returns the number of stored fact rows.
func (r *SQLRepository) CountTransactions(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	return count, err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
