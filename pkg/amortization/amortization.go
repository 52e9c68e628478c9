// Package amortization computes repayment schedules and installments for the
// constant-installment (French) and constant-principal (German) methods.
//
// All functions are pure. Monetary outputs are rounded to cents; intermediate
// balances keep full precision so rounding does not compound across periods.
package amortization

import (
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	// compoundScale bounds the precision of (1+r)^n while it is built up.
	compoundScale = 28
	centsPlaces   = 2
)

var (
	one          = decimal.NewFromInt(1)
	hundred      = decimal.NewFromInt(100)
	monthsInYear = decimal.NewFromInt(12)
)

type options struct {
	prepayment  decimal.Decimal
	afterPeriod int
}

// Option customizes schedule generation.
type Option func(*options)

// WithPrepayment injects an extraordinary principal reduction. With
// afterPeriod 0 the balance is reduced before the first period and the
// installment is derived from the reduced balance; otherwise the reduction
// lands right after the split of period afterPeriod.
func WithPrepayment(amount decimal.Decimal, afterPeriod int) Option {
	return func(o *options) {
		o.prepayment = amount
		o.afterPeriod = afterPeriod
	}
}

// MonthlyRate converts an annual percentage rate to a monthly fraction.
func MonthlyRate(annualRatePct decimal.Decimal) decimal.Decimal {
	return annualRatePct.Div(hundred).Div(monthsInYear)
}

// MonthlyInstallment returns the fixed French installment for the given
// terms, rounded to cents. A zero rate degenerates to principal/termMonths.
func MonthlyInstallment(principal, annualRatePct decimal.Decimal, termMonths int) (decimal.Decimal, error) {
	if err := checkTerms(principal, annualRatePct, termMonths); err != nil {
		return decimal.Zero, err
	}
	return installment(principal, MonthlyRate(annualRatePct), termMonths).Round(centsPlaces), nil
}

// ConstantPrincipal returns the German principal share per period, rounded
// to cents.
func ConstantPrincipal(principal decimal.Decimal, termMonths int) (decimal.Decimal, error) {
	if err := checkTerms(principal, decimal.Zero, termMonths); err != nil {
		return decimal.Zero, err
	}
	return principal.Div(decimal.NewFromInt(int64(termMonths))).Round(centsPlaces), nil
}

// Schedule computes the repayment schedule. Generation stops at the first
// period whose balance reaches zero, which may come before termMonths when a
// prepayment is injected.
func Schedule(principal, annualRatePct decimal.Decimal, termMonths int, method models.AmortizationMethod, opts ...Option) ([]models.ScheduleItem, error) {
	if err := checkTerms(principal, annualRatePct, termMonths); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.prepayment.IsNegative() {
		return nil, loanerr.Validation("prepayment must not be negative")
	}
	if o.prepayment.GreaterThan(principal) {
		return nil, loanerr.Validation("prepayment %s exceeds principal %s", o.prepayment.StringFixed(2), principal.StringFixed(2))
	}
	if o.afterPeriod < 0 || o.afterPeriod > termMonths {
		return nil, loanerr.Validation("prepayment period %d is outside the term", o.afterPeriod)
	}

	rate := MonthlyRate(annualRatePct)
	balance := principal
	if o.afterPeriod == 0 {
		balance = balance.Sub(o.prepayment)
	}

	var perPeriod decimal.Decimal
	switch method {
	case models.MethodFixed:
		perPeriod = installment(balance, rate, termMonths)
	case models.MethodVariable:
		perPeriod = balance.Div(decimal.NewFromInt(int64(termMonths)))
	default:
		return nil, loanerr.Validation("unknown amortization method %q", method)
	}

	schedule := make([]models.ScheduleItem, 0, termMonths)
	for period := 1; period <= termMonths && balance.IsPositive(); period++ {
		interest := balance.Mul(rate)

		principalPart := perPeriod
		if method == models.MethodFixed {
			principalPart = perPeriod.Sub(interest)
		}
		if principalPart.GreaterThan(balance) {
			principalPart = balance
		}

		balance = balance.Sub(principalPart)
		if period == o.afterPeriod && o.prepayment.IsPositive() {
			balance = balance.Sub(o.prepayment)
		}

		remaining := balance.Round(centsPlaces)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}

		schedule = append(schedule, models.ScheduleItem{
			PaymentNumber:    period,
			PaymentAmount:    principalPart.Add(interest).Round(centsPlaces),
			Principal:        principalPart.Round(centsPlaces),
			Interest:         interest.Round(centsPlaces),
			RemainingBalance: remaining,
		})

		if !remaining.IsPositive() {
			break
		}
	}

	return schedule, nil
}

// installment solves A = P·r·(1+r)^n / ((1+r)^n − 1) at full precision.
func installment(balance, rate decimal.Decimal, periods int) decimal.Decimal {
	if rate.IsZero() {
		return balance.Div(decimal.NewFromInt(int64(periods)))
	}
	factor := compound(rate, periods)
	return balance.Mul(rate).Mul(factor).Div(factor.Sub(one))
}

func compound(rate decimal.Decimal, periods int) decimal.Decimal {
	base := one.Add(rate)
	factor := one
	for i := 0; i < periods; i++ {
		factor = factor.Mul(base).Round(compoundScale)
	}
	return factor
}

func checkTerms(principal, annualRatePct decimal.Decimal, termMonths int) error {
	if termMonths < 1 {
		return loanerr.Validation("term must be at least 1 month, got %d", termMonths)
	}
	if principal.IsNegative() {
		return loanerr.Validation("principal must not be negative")
	}
	if annualRatePct.IsNegative() {
		return loanerr.Validation("interest rate must not be negative")
	}
	return nil
}
