package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures the differences between the SQL backends.
type dialect struct {
	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool
	// rowLocks appends FOR UPDATE to loan reads inside a transaction.
	rowLocks bool
}

var (
	sqliteDialect   = dialect{}
	postgresDialect = dialect{numbered: true, rowLocks: true}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const loanColumns = `id, owner_id, principal, term_months, interest_rate, method, status, remaining_balance, monthly_payment, rejection_reason, approved_at, disbursed_at, created_at, updated_at`

const paymentColumns = `id, loan_id, number, amount, tendered, principal, interest, remaining_balance, paid_at, created_at`

const abonoColumns = `id, loan_id, amount, balance_before, balance_after, note, abono_date, created_at`

// sqlRepo implements Repository on top of database/sql.
type sqlRepo struct {
	q    querier
	d    dialect
	inTx bool
}

func (r *sqlRepo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.d.rebind(query), args...)
}

func (r *sqlRepo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.d.rebind(query), args...)
}

func (r *sqlRepo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.d.rebind(query), args...)
}

// CreateLoan inserts a new loan.
func (r *sqlRepo) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := r.exec(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.OwnerID, loan.Principal, loan.TermMonths, loan.InterestRate, string(loan.Method), string(loan.Status),
		loan.RemainingBalance, loan.MonthlyPayment, loan.RejectionReason, loan.ApprovedAt, loan.DisbursedAt, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (r *sqlRepo) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`
	if r.inTx && r.d.rowLocks {
		query += ` FOR UPDATE`
	}

	loan, err := scanLoan(r.queryRow(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loanerr.NotFound("loan %s not found", id)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// ListLoansByOwner retrieves every loan of an owner, newest first.
func (r *sqlRepo) ListLoansByOwner(ctx context.Context, ownerID string) ([]*models.Loan, error) {
	rows, err := r.query(ctx, `SELECT `+loanColumns+` FROM loans WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	loans := []*models.Loan{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// UpdateLoan persists the mutable fields of a loan.
func (r *sqlRepo) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := r.exec(ctx,
		`UPDATE loans SET status = ?, remaining_balance = ?, monthly_payment = ?, rejection_reason = ?, approved_at = ?, disbursed_at = ?, updated_at = ? WHERE id = ?`,
		string(loan.Status), loan.RemainingBalance, loan.MonthlyPayment, loan.RejectionReason, loan.ApprovedAt, loan.DisbursedAt, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return loanerr.NotFound("loan %s not found", loan.ID)
	}
	return nil
}

// DeleteLoan removes a loan and its payments and abonos. Callers outside a
// transaction should go through the owning store, which wraps this in one.
func (r *sqlRepo) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	if _, err := r.exec(ctx, `DELETE FROM payments WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated payments: %w", err)
	}
	if _, err := r.exec(ctx, `DELETE FROM abonos WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated abonos: %w", err)
	}

	result, err := r.exec(ctx, `DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return loanerr.NotFound("loan %s not found", id)
	}
	return nil
}

// CreatePayment inserts a payment record.
func (r *sqlRepo) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := r.exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.LoanID.String(), p.Number, p.Amount, p.Tendered, p.Principal, p.Interest, p.RemainingBalance, p.PaidAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPaymentByNumber returns the payment with the given number, or nil.
func (r *sqlRepo) GetPaymentByNumber(ctx context.Context, loanID uuid.UUID, number int) (*models.Payment, error) {
	p, err := scanPayment(r.queryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? AND number = ?`, loanID.String(), number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment %d for loan %s: %w", number, loanID, err)
	}
	return p, nil
}

func (r *sqlRepo) CountPayments(ctx context.Context, loanID uuid.UUID) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM payments WHERE loan_id = ?`, loanID.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count payments for loan %s: %w", loanID, err)
	}
	return n, nil
}

// CreateAbono inserts an abono record.
func (r *sqlRepo) CreateAbono(ctx context.Context, a *models.Abono) error {
	_, err := r.exec(ctx,
		`INSERT INTO abonos (`+abonoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.LoanID.String(), a.Amount, a.BalanceBefore, a.BalanceAfter, a.Note, a.AbonoDate, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create abono: %w", err)
	}
	return nil
}

func (r *sqlRepo) CountAbonos(ctx context.Context, loanID uuid.UUID) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM abonos WHERE loan_id = ?`, loanID.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count abonos for loan %s: %w", loanID, err)
	}
	return n, nil
}

// GetLoanDetail loads the loan aggregate.
func (r *sqlRepo) GetLoanDetail(ctx context.Context, id uuid.UUID) (*models.LoanDetail, error) {
	loan, err := r.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &models.LoanDetail{Loan: *loan, Payments: []models.Payment{}, Abonos: []models.Abono{}}

	rows, err := r.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? ORDER BY number ASC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", id, err)
	}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		detail.Payments = append(detail.Payments, *p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}

	rows, err = r.query(ctx, `SELECT `+abonoColumns+` FROM abonos WHERE loan_id = ? ORDER BY abono_date ASC, created_at ASC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get abonos for loan %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAbono(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan abono row: %w", err)
		}
		detail.Abonos = append(detail.Abonos, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan abonos: %w", err)
	}
	return detail, nil
}

// runInTx executes fn inside a database transaction bound to d.
func runInTx(ctx context.Context, db *sql.DB, d dialect, fn func(Repository) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlRepo{q: tx, d: d, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (*models.Loan, error) {
	var (
		loan        models.Loan
		method      string
		status      string
		reason      sql.NullString
		approvedAt  sql.NullTime
		disbursedAt sql.NullTime
	)
	err := row.Scan(&loan.ID, &loan.OwnerID, &loan.Principal, &loan.TermMonths, &loan.InterestRate, &method, &status,
		&loan.RemainingBalance, &loan.MonthlyPayment, &reason, &approvedAt, &disbursedAt, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.Method = models.AmortizationMethod(method)
	loan.Status = models.LoanStatus(status)
	if reason.Valid {
		loan.RejectionReason = &reason.String
	}
	if approvedAt.Valid {
		loan.ApprovedAt = &approvedAt.Time
	}
	if disbursedAt.Valid {
		loan.DisbursedAt = &disbursedAt.Time
	}
	return &loan, nil
}

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.LoanID, &p.Number, &p.Amount, &p.Tendered, &p.Principal, &p.Interest, &p.RemainingBalance, &p.PaidAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanAbono(row scanner) (*models.Abono, error) {
	var (
		a    models.Abono
		note sql.NullString
	)
	if err := row.Scan(&a.ID, &a.LoanID, &a.Amount, &a.BalanceBefore, &a.BalanceAfter, &note, &a.AbonoDate, &a.CreatedAt); err != nil {
		return nil, err
	}
	if note.Valid {
		a.Note = &note.String
	}
	return &a, nil
}
