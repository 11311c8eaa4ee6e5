// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for corpus persistence. Dimension
// records load before the transactions that reference them; the
// snapshot fetch joins everything back together.
type Repository interface {
	// Dimension loads
	SaveCategories(ctx context.Context, categories []MerchantCategory) error
	SaveCardHolders(ctx context.Context, holders []CardHolder) error
	SaveMerchants(ctx context.Context, merchants []Merchant) error
	SaveCards(ctx context.Context, cards []CreditCard) error

	// Transaction loads
	SaveTransactions(ctx context.Context, records []TransactionRecord) error

	// Snapshot assembly. The fetch fails with a MalformedRecordError
	// when any transaction references a missing card or merchant.
	FetchSnapshot(ctx context.Context, filter Filter) (Snapshot, error)
	CountTransactions(ctx context.Context) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgres_port"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgres_user"`
	PostgresPassword string `json:"-" mapstructure:"postgres_password"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime"`
}
