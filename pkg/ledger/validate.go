package ledger

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

const maxNoteLength = 500

var (
	minPrincipal = decimal.NewFromInt(1000)
	maxPrincipal = decimal.NewFromInt(1000000)
	maxRate      = decimal.NewFromInt(100)
	minAmount    = decimal.RequireFromString("0.01")
)

var validate = validator.New()

// Violation is one failed rule.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult collects every violated rule of an input.
type ValidationResult struct {
	Violations []Violation `json:"violations,omitempty"`
}

func (r ValidationResult) Valid() bool {
	return len(r.Violations) == 0
}

// Err converts the result to a loanerr Validation error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.Field + " " + v.Message
	}
	return loanerr.Validation("%s", strings.Join(msgs, "; "))
}

type rule func() *Violation

func check(rules ...rule) ValidationResult {
	var res ValidationResult
	for _, r := range rules {
		if v := r(); v != nil {
			res.Violations = append(res.Violations, *v)
		}
	}
	return res
}

func violation(field, format string, args ...any) *Violation {
	return &Violation{Field: field, Message: fmt.Sprintf(format, args...)}
}

func required(field, value string) rule {
	return func() *Violation {
		if validate.Var(strings.TrimSpace(value), "required") != nil {
			return violation(field, "is required")
		}
		return nil
	}
}

func requiredID(field string, id uuid.UUID) rule {
	return func() *Violation {
		if validate.Var(id, "required") != nil {
			return violation(field, "is required")
		}
		return nil
	}
}

// Integer and decimal bounds are plain comparisons; validator handles the
// string, enum and length rules.

func intBetween(field string, value, lo, hi int) rule {
	return func() *Violation {
		if value < lo || value > hi {
			return violation(field, "must be between %d and %d", lo, hi)
		}
		return nil
	}
}

func intAtLeast(field string, value, lo int) rule {
	return func() *Violation {
		if value < lo {
			return violation(field, "must be at least %d", lo)
		}
		return nil
	}
}

func oneOf(field, value string, allowed ...string) rule {
	return func() *Violation {
		if validate.Var(value, "required,oneof="+strings.Join(allowed, " ")) != nil {
			return violation(field, "must be one of %s", strings.Join(allowed, ", "))
		}
		return nil
	}
}

func maxLength(field string, value *string, n int) rule {
	return func() *Violation {
		if value == nil {
			return nil
		}
		if validate.Var(*value, fmt.Sprintf("max=%d", n)) != nil {
			return violation(field, "must be at most %d characters", n)
		}
		return nil
	}
}

func decimalBetween(field string, value, min, max decimal.Decimal) rule {
	return func() *Violation {
		if value.LessThan(min) || value.GreaterThan(max) {
			return violation(field, "must be between %s and %s", min, max)
		}
		return nil
	}
}

func decimalAtLeast(field string, value, min decimal.Decimal) rule {
	return func() *Violation {
		if value.LessThan(min) {
			return violation(field, "must be at least %s", min.StringFixed(2))
		}
		return nil
	}
}

func maxPlaces(field string, value decimal.Decimal, places int32) rule {
	return func() *Violation {
		if !value.Equal(value.Truncate(places)) {
			return violation(field, "must have at most %d decimal places", places)
		}
		return nil
	}
}

// CreateLoanInput requests a new loan.
type CreateLoanInput struct {
	OwnerID      string                    `json:"-"`
	Principal    decimal.Decimal           `json:"amount"`
	TermMonths   int                       `json:"term_months"`
	InterestRate decimal.Decimal           `json:"interest_rate"`
	Method       models.AmortizationMethod `json:"amortization_method"`
}

func (in CreateLoanInput) Validate() ValidationResult {
	return check(
		required("owner_id", in.OwnerID),
		decimalBetween("amount", in.Principal, minPrincipal, maxPrincipal),
		maxPlaces("amount", in.Principal, 2),
		intBetween("term_months", in.TermMonths, 1, 360),
		decimalBetween("interest_rate", in.InterestRate, decimal.Zero, maxRate),
		maxPlaces("interest_rate", in.InterestRate, 4),
		oneOf("amortization_method", string(in.Method), string(models.MethodFixed), string(models.MethodVariable)),
	)
}

// ApproveInput decides a pending loan.
type ApproveInput struct {
	LoanID   uuid.UUID         `json:"-"`
	Decision models.LoanStatus `json:"status"`
	Reason   *string           `json:"rejection_reason,omitempty"`
}

func (in ApproveInput) Validate() ValidationResult {
	return check(
		requiredID("loan_id", in.LoanID),
		oneOf("status", string(in.Decision), string(models.LoanStatusApproved), string(models.LoanStatusRejected)),
		maxLength("rejection_reason", in.Reason, maxNoteLength),
	)
}

// PaymentInput registers scheduled installment number Number.
type PaymentInput struct {
	LoanID uuid.UUID       `json:"-"`
	Number int             `json:"payment_number"`
	Amount decimal.Decimal `json:"amount"`
}

func (in PaymentInput) Validate() ValidationResult {
	return check(
		requiredID("loan_id", in.LoanID),
		intAtLeast("payment_number", in.Number, 1),
		decimalAtLeast("amount", in.Amount, minAmount),
		maxPlaces("amount", in.Amount, 2),
	)
}

// AbonoInput registers an extraordinary principal prepayment.
type AbonoInput struct {
	LoanID uuid.UUID       `json:"-"`
	Amount decimal.Decimal `json:"amount"`
	Note   *string         `json:"notes,omitempty"`
}

func (in AbonoInput) Validate() ValidationResult {
	return check(
		requiredID("loan_id", in.LoanID),
		decimalAtLeast("amount", in.Amount, minAmount),
		maxPlaces("amount", in.Amount, 2),
		maxLength("notes", in.Note, maxNoteLength),
	)
}
