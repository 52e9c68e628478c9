package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "PENDING"
	LoanStatusApproved  LoanStatus = "APPROVED"
	LoanStatusRejected  LoanStatus = "REJECTED"
	LoanStatusDisbursed LoanStatus = "DISBURSED"
	LoanStatusPaid      LoanStatus = "PAID"
)

// AmortizationMethod selects how the schedule splits each period.
type AmortizationMethod string

const (
	// MethodFixed is the constant-installment (French) method.
	MethodFixed AmortizationMethod = "FIXED"
	// MethodVariable is the constant-principal (German) method.
	MethodVariable AmortizationMethod = "VARIABLE"
)

type Loan struct {
	ID               uuid.UUID          `json:"id"`
	OwnerID          string             `json:"owner_id"`
	Principal        decimal.Decimal    `json:"principal"`
	TermMonths       int                `json:"term_months"`
	InterestRate     decimal.Decimal    `json:"interest_rate"` // annual, in percent
	Method           AmortizationMethod `json:"amortization_method"`
	Status           LoanStatus         `json:"status"`
	RemainingBalance decimal.Decimal    `json:"remaining_balance"`
	// MonthlyPayment is the current installment for FIXED loans and the
	// constant principal share for VARIABLE loans.
	MonthlyPayment  decimal.Decimal `json:"monthly_payment"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	DisbursedAt     *time.Time      `json:"disbursed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Payment is a scheduled installment applied to a loan.
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	Number           int             `json:"payment_number"`
	Amount           decimal.Decimal `json:"amount"`   // principal + interest applied
	Tendered         decimal.Decimal `json:"tendered"` // amount submitted by the borrower
	Principal        decimal.Decimal `json:"principal"`
	Interest         decimal.Decimal `json:"interest"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PaidAt           time.Time       `json:"paid_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Abono is an extraordinary principal prepayment.
type Abono struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Note          *string         `json:"note,omitempty"`
	AbonoDate     time.Time       `json:"abono_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LoanDetail is a loan together with its ledger, payments ordered by number
// and abonos ordered by date.
type LoanDetail struct {
	Loan
	Payments []Payment      `json:"payments"`
	Abonos   []Abono        `json:"abonos"`
	Schedule []ScheduleItem `json:"amortization_schedule,omitempty"`
}

type ScheduleItem struct {
	PaymentNumber    int             `json:"payment_number"`
	PaymentAmount    decimal.Decimal `json:"payment_amount"`
	Principal        decimal.Decimal `json:"principal"`
	Interest         decimal.Decimal `json:"interest"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}
