// Package repository stores transactions and verdicts in SQLite or
// PostgreSQL through database/sql.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

var (
	// ErrNotFound unwraps to domain.ErrNotFound so callers outside the
	// package can match on either.
	ErrNotFound     = fmt.Errorf("record %w", domain.ErrNotFound)
	ErrInvalidInput = errors.New("repository: invalid input")
)

const (
	maxListLimit   = 1000
	migrateTimeout = 30 * time.Second
)

// SQLRepository is the domain.Repository for both drivers. Queries are
// written with ? placeholders and rebound for PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database and brings its schema up to date.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewWithDB(db, cfg.Driver)

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	version, err := repo.migrate(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: %w", err)
	}
	slog.Debug("schema up to date", "driver", cfg.Driver, "version", version)

	return repo, nil
}

// NewWithDB wraps an already opened database. No migrations are run.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

// SaveTransaction inserts a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, amount, product_category, customer_location, location_distance,
			account_age_days, transaction_time, transaction_frequency, customer_id,
			transaction_date, is_fraudulent, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Amount, tx.ProductCategory, tx.CustomerLocation, tx.LocationDistance,
		tx.AccountAgeDays, tx.TransactionTime, tx.TransactionFrequency, nullString(tx.CustomerID),
		tx.TransactionDate, nullBool(tx.IsFraudulent), tx.CreatedAt, tx.UpdatedAt,
	)
	return err
}

const selectTransaction = `
	SELECT id, amount, product_category, customer_location, location_distance,
		   account_age_days, transaction_time, transaction_frequency, customer_id,
		   transaction_date, is_fraudulent, created_at, updated_at
	FROM transactions
`

// GetTransaction returns ErrNotFound for an unknown ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectTransaction+" WHERE id = ?"), txID)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions returns transactions oldest first, paginated by skip and limit.
func (r *SQLRepository) ListTransactions(ctx context.Context, skip, limit int) ([]*domain.Transaction, error) {
	if skip < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: skip and limit must not be negative", ErrInvalidInput)
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	query := selectTransaction + " ORDER BY created_at, id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// UpdateTransactionLabel sets the reviewer's fraud label.
func (r *SQLRepository) UpdateTransactionLabel(ctx context.Context, txID string, update *domain.TransactionUpdate) (*domain.Transaction, error) {
	if update == nil || update.IsFraudulent == nil {
		return nil, fmt.Errorf("%w: isFraudulent is required", ErrInvalidInput)
	}

	query := `UPDATE transactions SET is_fraudulent = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), *update.IsFraudulent, time.Now().UTC(), txID)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}

	return r.GetTransaction(ctx, txID)
}

// DeleteTransaction removes a transaction and its verdicts.
func (r *SQLRepository) DeleteTransaction(ctx context.Context, txID string) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, r.rebind(`DELETE FROM verdicts WHERE transaction_id = ?`), txID); err != nil {
		return err
	}

	result, err := sqlTx.ExecContext(ctx, r.rebind(`DELETE FROM transactions WHERE id = ?`), txID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return sqlTx.Commit()
}

// SaveVerdict stores a verdict.
func (r *SQLRepository) SaveVerdict(ctx context.Context, v *domain.Verdict) error {
	if v == nil || v.ID == "" || v.TransactionID == "" {
		return fmt.Errorf("%w: verdict ID and transaction ID are required", ErrInvalidInput)
	}

	signals, err := json.Marshal(v.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO verdicts (
			id, transaction_id, is_fraudulent, explanation, risk_score, signals, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		v.ID, v.TransactionID, v.IsFraudulent, v.Explanation, v.RiskScore,
		string(signals), string(metadata), v.CreatedAt,
	)
	return err
}

const selectVerdict = `
	SELECT id, transaction_id, is_fraudulent, explanation, risk_score, signals, metadata, created_at
	FROM verdicts
	WHERE transaction_id = ?
	ORDER BY created_at DESC, id DESC
`

// GetLatestVerdict returns the most recent verdict for a transaction.
func (r *SQLRepository) GetLatestVerdict(ctx context.Context, txID string) (*domain.Verdict, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectVerdict+" LIMIT 1"), txID)
	v, err := scanVerdict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListVerdicts returns up to limit verdicts for a transaction, newest first.
// The result is empty, not ErrNotFound, for a transaction never scored.
func (r *SQLRepository) ListVerdicts(ctx context.Context, txID string, limit int) ([]*domain.Verdict, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(selectVerdict+" LIMIT ?"), txID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Verdict{}
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var customerID sql.NullString
	var label sql.NullBool

	if err := s.Scan(
		&tx.ID, &tx.Amount, &tx.ProductCategory, &tx.CustomerLocation, &tx.LocationDistance,
		&tx.AccountAgeDays, &tx.TransactionTime, &tx.TransactionFrequency, &customerID,
		&tx.TransactionDate, &label, &tx.CreatedAt, &tx.UpdatedAt,
	); err != nil {
		return nil, err
	}

	tx.CustomerID = customerID.String
	if label.Valid {
		b := label.Bool
		tx.IsFraudulent = &b
	}
	return &tx, nil
}

func scanVerdict(s scanner) (*domain.Verdict, error) {
	var v domain.Verdict
	var signals, metadata string

	if err := s.Scan(
		&v.ID, &v.TransactionID, &v.IsFraudulent, &v.Explanation, &v.RiskScore,
		&signals, &metadata, &v.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(signals), &v.Signals); err != nil {
		return nil, fmt.Errorf("verdict %s: corrupt signals: %w", v.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &v.Metadata); err != nil {
		return nil, fmt.Errorf("verdict %s: corrupt metadata: %w", v.ID, err)
	}
	return &v, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL. Queries
// contain no string literals holding '?'.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for part := range strings.SplitSeq(query, "?") {
		if n > 0 {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		}
		b.WriteString(part)
		n++
	}
	return b.String()
}
