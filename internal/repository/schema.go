package repository

import (
	"context"
	"fmt"
	"time"
)

// migration is one schema step. Statements are portable between SQLite and
// PostgreSQL and run in a single transaction.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{1, "transactions", []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			amount REAL NOT NULL,
			product_category TEXT NOT NULL,
			customer_location TEXT NOT NULL,
			location_distance REAL NOT NULL DEFAULT 0,
			account_age_days INTEGER NOT NULL,
			transaction_time REAL NOT NULL,
			transaction_frequency INTEGER NOT NULL DEFAULT 1,
			customer_id TEXT,
			transaction_date TIMESTAMP NOT NULL,
			is_fraudulent BOOLEAN,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at)`,
	}},
	{2, "verdicts", []string{
		`CREATE TABLE IF NOT EXISTS verdicts (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			is_fraudulent BOOLEAN NOT NULL,
			explanation TEXT NOT NULL,
			risk_score REAL NOT NULL,
			signals TEXT NOT NULL,
			metadata TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_tx ON verdicts(transaction_id, created_at)`,
	}},
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`

// migrate applies pending migrations in version order and returns the
// resulting schema version.
func (r *SQLRepository) migrate(ctx context.Context) (int, error) {
	if _, err := r.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return current, fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		current = m.version
	}
	return current, nil
}

func (r *SQLRepository) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		r.rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
		m.version, m.name, time.Now().UTC(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
