package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/amortization"
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/lock"
	"github.com/mcclellann/loanbook/pkg/logger"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger handles the business logic for loans, payments and abonos.
type Ledger struct {
	storage store.Storage
	locks   lock.Locker
	now     func() time.Time
	log     *zap.SugaredLogger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLocker replaces the default in-process locker.
func WithLocker(locker lock.Locker) Option {
	return func(l *Ledger) { l.locks = locker }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		locks:   lock.NewKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logger.WithComponent("ledger")
	return l
}

// mutate runs fn atomically with every other mutation of the same loan.
func (l *Ledger) mutate(ctx context.Context, loanID uuid.UUID, fn func(context.Context, store.Repository) error) error {
	return l.locks.WithLock(ctx, lock.LoanKey(loanID), func(ctx context.Context) error {
		return l.storage.InTx(ctx, func(r store.Repository) error {
			return fn(ctx, r)
		})
	})
}

// AmortizationResult is a disbursed loan's terms with its repayment schedule.
type AmortizationResult struct {
	LoanID         uuid.UUID                 `json:"loan_id"`
	OwnerID        string                    `json:"owner_id"`
	Principal      decimal.Decimal           `json:"amount"`
	InterestRate   decimal.Decimal           `json:"interest_rate"`
	TermMonths     int                       `json:"term_months"`
	Method         models.AmortizationMethod `json:"amortization_method"`
	MonthlyPayment decimal.Decimal           `json:"monthly_payment"`
	Schedule       []models.ScheduleItem     `json:"amortization_schedule"`
}

// initialPayment is the installment (FIXED) or principal share (VARIABLE)
// stored on a new loan.
func initialPayment(principal, rate decimal.Decimal, term int, method models.AmortizationMethod) (decimal.Decimal, error) {
	switch method {
	case models.MethodFixed:
		return amortization.MonthlyInstallment(principal, rate, term)
	case models.MethodVariable:
		return amortization.ConstantPrincipal(principal, term)
	default:
		return decimal.Zero, loanerr.Validation("unknown amortization method %q", method)
	}
}

// CreateLoan records a new PENDING loan for an owner.
func (l *Ledger) CreateLoan(ctx context.Context, in CreateLoanInput) (*models.Loan, error) {
	if err := in.Validate().Err(); err != nil {
		return nil, err
	}

	monthly, err := initialPayment(in.Principal, in.InterestRate, in.TermMonths, in.Method)
	if err != nil {
		return nil, err
	}

	now := l.now()
	loan := &models.Loan{
		ID:               uuid.New(),
		OwnerID:          in.OwnerID,
		Principal:        in.Principal,
		TermMonths:       in.TermMonths,
		InterestRate:     in.InterestRate,
		Method:           in.Method,
		Status:           models.LoanStatusPending,
		RemainingBalance: in.Principal,
		MonthlyPayment:   monthly,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.Infow("loan created", "loan_id", loan.ID, "owner_id", loan.OwnerID,
		"principal", loan.Principal.StringFixed(2), "method", loan.Method, "monthly_payment", loan.MonthlyPayment.StringFixed(2))
	return loan, nil
}

// GetLoan returns a loan with its payments and abonos.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.LoanDetail, error) {
	return l.storage.GetLoanDetail(ctx, id)
}

// ListLoans returns an owner's loans, newest first.
func (l *Ledger) ListLoans(ctx context.Context, ownerID string) ([]*models.Loan, error) {
	if err := check(required("owner_id", ownerID)).Err(); err != nil {
		return nil, err
	}
	return l.storage.ListLoansByOwner(ctx, ownerID)
}

// GetLoanWithSchedule returns the loan aggregate plus the schedule derived
// from its original terms, whatever its status.
func (l *Ledger) GetLoanWithSchedule(ctx context.Context, id uuid.UUID) (*models.LoanDetail, error) {
	detail, err := l.storage.GetLoanDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	schedule, err := amortization.Schedule(detail.Principal, detail.InterestRate, detail.TermMonths, detail.Method)
	if err != nil {
		return nil, err
	}
	detail.Schedule = schedule
	return detail, nil
}

// GetAmortization returns the repayment schedule of a disbursed or paid loan.
func (l *Ledger) GetAmortization(ctx context.Context, id uuid.UUID) (*AmortizationResult, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusDisbursed && loan.Status != models.LoanStatusPaid {
		return nil, loanerr.InvalidState("loan %s is %s, amortization is only available once disbursed", loan.ID, loan.Status)
	}

	schedule, err := amortization.Schedule(loan.Principal, loan.InterestRate, loan.TermMonths, loan.Method)
	if err != nil {
		return nil, err
	}
	return &AmortizationResult{
		LoanID:         loan.ID,
		OwnerID:        loan.OwnerID,
		Principal:      loan.Principal,
		InterestRate:   loan.InterestRate,
		TermMonths:     loan.TermMonths,
		Method:         loan.Method,
		MonthlyPayment: loan.MonthlyPayment,
		Schedule:       schedule,
	}, nil
}

// DeleteLoan removes a loan together with its payments and abonos.
func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	err := l.mutate(ctx, id, func(ctx context.Context, r store.Repository) error {
		return r.DeleteLoan(ctx, id)
	})
	if err != nil {
		return err
	}
	l.log.Infow("loan deleted", "loan_id", id)
	return nil
}
