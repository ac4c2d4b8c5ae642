// Package domain holds FraudGuard's core types and the interfaces its
// infrastructure implements.
package domain

import (
	"context"
	"time"
)

// Repository persists transactions and the verdicts scored for them. Every
// scoring run adds a verdict; none is ever overwritten.
type Repository interface {
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	// ListTransactions pages through transactions oldest first.
	ListTransactions(ctx context.Context, skip, limit int) ([]*Transaction, error)
	UpdateTransactionLabel(ctx context.Context, txID string, update *TransactionUpdate) (*Transaction, error)
	// DeleteTransaction also removes the transaction's verdicts.
	DeleteTransaction(ctx context.Context, txID string) error

	SaveVerdict(ctx context.Context, v *Verdict) error
	GetLatestVerdict(ctx context.Context, txID string) (*Verdict, error)
	// ListVerdicts returns a transaction's verdict history, newest first.
	ListVerdicts(ctx context.Context, txID string, limit int) ([]*Verdict, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects the SQL backend.
type RepositoryConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	SQLitePath string `yaml:"sqlitePath"`

	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"`

	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
