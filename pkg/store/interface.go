package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
)

// Repository defines the loan, payment and abono operations available both
// on a Storage and inside one of its transactions.
type Repository interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	// GetLoan returns a loanerr NotFound error when the loan does not exist.
	// Inside a PostgreSQL transaction the row is locked until commit.
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// ListLoansByOwner returns the owner's loans, newest first.
	ListLoansByOwner(ctx context.Context, ownerID string) ([]*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	// DeleteLoan removes the loan together with its payments and abonos.
	DeleteLoan(ctx context.Context, id uuid.UUID) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	// GetPaymentByNumber returns nil, nil when no payment carries number.
	GetPaymentByNumber(ctx context.Context, loanID uuid.UUID, number int) (*models.Payment, error)
	CountPayments(ctx context.Context, loanID uuid.UUID) (int, error)

	CreateAbono(ctx context.Context, abono *models.Abono) error
	CountAbonos(ctx context.Context, loanID uuid.UUID) (int, error)

	// GetLoanDetail returns the loan with payments ordered by number and
	// abonos ordered by date.
	GetLoanDetail(ctx context.Context, id uuid.UUID) (*models.LoanDetail, error)
}

// Storage is a Repository that can run a group of operations atomically.
type Storage interface {
	Repository

	// InTx runs fn against a transactional Repository. The transaction
	// commits when fn returns nil and is rolled back otherwise; fn's error is
	// returned unchanged.
	InTx(ctx context.Context, fn func(Repository) error) error
	Close() error
}
