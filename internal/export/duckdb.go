package export

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
)

// DatasetTable holds exported synthetic transactions.
const DatasetTable = "synthetic_transactions"

const createDatasetTable = `
CREATE TABLE IF NOT EXISTS synthetic_transactions (
    id VARCHAR PRIMARY KEY,
    amount DOUBLE NOT NULL,
    product_category VARCHAR NOT NULL,
    customer_location VARCHAR NOT NULL,
    location_distance DOUBLE NOT NULL,
    account_age_days INTEGER NOT NULL,
    transaction_time DOUBLE NOT NULL,
    transaction_frequency INTEGER NOT NULL,
    transaction_date TIMESTAMP NOT NULL,
    fraud_score DOUBLE NOT NULL,
    is_fraudulent BOOLEAN NOT NULL
)`

// DuckDBWriter stores datasets in a DuckDB file for offline analysis.
type DuckDBWriter struct {
	db   *sql.DB
	path string
}

// NewDuckDBWriter opens the database at path and creates the dataset
// table. ":memory:" or an empty path gives an in-memory database.
func NewDuckDBWriter(path string) (*DuckDBWriter, error) {
	if path == ":memory:" {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	if _, err := db.Exec(createDatasetTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create %s: %w", DatasetTable, err)
	}

	return &DuckDBWriter{db: db, path: path}, nil
}

// Write upserts a batch inside one transaction.
func (d *DuckDBWriter) Write(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO synthetic_transactions (
			id, amount, product_category, customer_location, location_distance,
			account_age_days, transaction_time, transaction_frequency,
			transaction_date, fraud_score, is_fraudulent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range batch {
		t := r.Transaction
		_, err := stmt.ExecContext(ctx,
			t.ID, t.Amount, t.ProductCategory, t.CustomerLocation, t.LocationDistance,
			t.AccountAgeDays, t.TransactionTime, t.TransactionFrequency,
			t.TransactionDate, r.FraudScore, r.IsFraudulent,
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of stored rows.
func (d *DuckDBWriter) Count(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM synthetic_transactions").Scan(&n)
	return n, err
}

// FraudRate returns the share of rows labelled fraudulent.
func (d *DuckDBWriter) FraudRate(ctx context.Context) (float64, error) {
	var rate sql.NullFloat64
	err := d.db.QueryRowContext(ctx,
		"SELECT AVG(CASE WHEN is_fraudulent THEN 1.0 ELSE 0.0 END) FROM synthetic_transactions",
	).Scan(&rate)
	if err != nil {
		return 0, err
	}
	return rate.Float64, nil
}

// DB returns the underlying connection.
func (d *DuckDBWriter) DB() *sql.DB {
	return d.db
}

// Close closes the database.
func (d *DuckDBWriter) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
