package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/logger"

	_ "github.com/lib/pq"
)

// PostgresStore persists loans in PostgreSQL. Loan rows read inside InTx are
// locked with SELECT ... FOR UPDATE.
type PostgresStore struct {
	*sqlRepo
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool. It does not touch the schema.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlRepo: &sqlRepo{q: db, d: postgresDialect}, db: db}
}

// OpenPostgresStore connects to dsn, verifies the connection and ensures the
// schema exists.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.Info("postgres store ready")
	return s, nil
}

// Migrate creates the tables if they don't already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		principal NUMERIC(12,2) NOT NULL,
		term_months INTEGER NOT NULL,
		interest_rate NUMERIC(7,4) NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		remaining_balance NUMERIC(12,2) NOT NULL,
		monthly_payment NUMERIC(12,2) NOT NULL,
		rejection_reason TEXT,
		approved_at TIMESTAMPTZ,
		disbursed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_owner ON loans(owner_id, created_at);
	CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		loan_id UUID NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		amount NUMERIC(12,2) NOT NULL,
		tendered NUMERIC(12,2) NOT NULL,
		principal NUMERIC(12,2) NOT NULL,
		interest NUMERIC(12,2) NOT NULL,
		remaining_balance NUMERIC(12,2) NOT NULL,
		paid_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(loan_id, number)
	);
	CREATE TABLE IF NOT EXISTS abonos (
		id UUID PRIMARY KEY,
		loan_id UUID NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		amount NUMERIC(12,2) NOT NULL,
		balance_before NUMERIC(12,2) NOT NULL,
		balance_after NUMERIC(12,2) NOT NULL,
		note TEXT,
		abono_date TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	return s.InTx(ctx, func(r Repository) error {
		return r.DeleteLoan(ctx, id)
	})
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Repository) error) error {
	return runInTx(ctx, s.db, postgresDialect, fn)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
