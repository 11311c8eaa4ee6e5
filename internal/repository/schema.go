package repository

// Schema definitions for the Kestrel corpus database.
// Compatible with both SQLite and PostgreSQL.

const schemaMerchantCategories = `
CREATE TABLE IF NOT EXISTS merchant_categories (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT
);
`

const schemaCardHolders = `
CREATE TABLE IF NOT EXISTS card_holders (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT,
    phone TEXT,
    address TEXT
);
`

const schemaMerchants = `
CREATE TABLE IF NOT EXISTS merchants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category_id TEXT NOT NULL REFERENCES merchant_categories(id),
    address TEXT
);

CREATE INDEX IF NOT EXISTS idx_merchants_category ON merchants(category_id);
`

const schemaCreditCards = `
CREATE TABLE IF NOT EXISTS credit_cards (
    id TEXT PRIMARY KEY,
    card_holder_id TEXT NOT NULL REFERENCES card_holders(id),
    card_number TEXT NOT NULL,
    expiration TEXT
);

CREATE INDEX IF NOT EXISTS idx_credit_cards_holder ON credit_cards(card_holder_id);
`

// schemaTransactions is the fact table. Card and merchant references
// are deliberately unconstrained: fact rows load in bulk and dangling
// references surface at snapshot assembly, not at insert. Amounts are
// stored as decimal text to survive the round trip exactly; timestamps
// are RFC3339 UTC text, which orders lexicographically.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_card ON transactions(card_id);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(merchant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

// AllSchemas returns all schema statements in dependency order.
func AllSchemas() []string {
	return []string{
		schemaMerchantCategories,
		schemaCardHolders,
		schemaMerchants,
		schemaCreditCards,
		schemaTransactions,
	}
}
