// Package domain defines the core interfaces and types for Sentra.
package domain

import (
	"context"
	"time"
)

// ConfirmedFraudScore is the score written when an analyst confirms fraud.
const ConfirmedFraudScore = 0.95

// TransactionStore persists decided transactions.
type TransactionStore interface {
	// Save stores the record. Saving an id that already exists is a no-op
	// returning the same id.
	Save(ctx context.Context, rec *TransactionRecord) (string, error)

	// Get retrieves a record by transaction id.
	Get(ctx context.Context, txID string) (*TransactionRecord, error)

	// MarkConfirmedFraud flags the transaction as confirmed fraud. applied is
	// false when the transaction was already confirmed.
	MarkConfirmedFraud(ctx context.Context, txID string, score float64, reason string) (applied bool, err error)

	// CountRecent counts the customer's transactions with an event time after since.
	CountRecent(ctx context.Context, customerID string, since time.Time) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertStore persists alerts.
type AlertStore interface {
	Insert(ctx context.Context, alert *Alert) error
	Update(ctx context.Context, alert *Alert) error

	// FindByID returns ErrNotFound for unknown ids.
	FindByID(ctx context.Context, alertID string) (*Alert, error)

	// ListOpen returns unreviewed alerts, newest first. An empty severity
	// matches all bands.
	ListOpen(ctx context.Context, severity Severity, limit int) ([]*Alert, error)
}

// Repository is the SQL-backed implementation of both stores.
type Repository interface {
	TransactionStore
	AlertStore
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
