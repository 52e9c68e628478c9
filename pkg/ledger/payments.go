package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/amortization"
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/shopspring/decimal"
)

// installmentSplit is what a single scheduled payment owes and leaves behind.
type installmentSplit struct {
	Principal decimal.Decimal
	Interest  decimal.Decimal
	Due       decimal.Decimal
	Balance   decimal.Decimal
}

// dueInstallment derives the split of payment number from the loan's current
// balance and monthly payment, so earlier abonos are reflected. The last
// period of the term always clears the balance.
func dueInstallment(loan *models.Loan, number int) installmentSplit {
	balance := loan.RemainingBalance
	interest := balance.Mul(amortization.MonthlyRate(loan.InterestRate)).Round(2)

	principal := loan.MonthlyPayment
	if loan.Method == models.MethodFixed {
		principal = principal.Sub(interest)
	}
	if number >= loan.TermMonths || principal.GreaterThan(balance) {
		principal = balance
	}
	if principal.IsNegative() {
		principal = decimal.Zero
	}

	return installmentSplit{
		Principal: principal,
		Interest:  interest,
		Due:       principal.Add(interest),
		Balance:   balance.Sub(principal),
	}
}

// RegisterPayment applies scheduled installment in.Number to a disbursed loan
// and returns the updated aggregate. Payments must arrive in order and cover
// the installment due.
func (l *Ledger) RegisterPayment(ctx context.Context, in PaymentInput) (*models.LoanDetail, error) {
	if err := in.Validate().Err(); err != nil {
		return nil, err
	}

	var (
		detail  *models.LoanDetail
		payment *models.Payment
	)
	err := l.mutate(ctx, in.LoanID, func(ctx context.Context, r store.Repository) error {
		loan, err := r.GetLoan(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusDisbursed {
			return loanerr.InvalidState("loan %s is %s, payments require a DISBURSED loan", loan.ID, loan.Status)
		}

		existing, err := r.GetPaymentByNumber(ctx, loan.ID, in.Number)
		if err != nil {
			return err
		}
		if existing != nil {
			return loanerr.Conflict("payment %d is already registered for loan %s", in.Number, loan.ID)
		}

		count, err := r.CountPayments(ctx, loan.ID)
		if err != nil {
			return err
		}
		if in.Number != count+1 {
			return loanerr.Validation("payment %d is out of order, next expected payment is %d", in.Number, count+1)
		}
		if in.Number > loan.TermMonths {
			return loanerr.Validation("unknown payment number %d, loan term is %d months", in.Number, loan.TermMonths)
		}

		split := dueInstallment(loan, in.Number)
		if in.Amount.LessThan(split.Due) {
			return loanerr.Validation("insufficient amount %s, installment %d is due %s",
				in.Amount.StringFixed(2), in.Number, split.Due.StringFixed(2))
		}

		now := l.now()
		payment = &models.Payment{
			ID:               uuid.New(),
			LoanID:           loan.ID,
			Number:           in.Number,
			Amount:           split.Due,
			Tendered:         in.Amount,
			Principal:        split.Principal,
			Interest:         split.Interest,
			RemainingBalance: split.Balance,
			PaidAt:           now,
			CreatedAt:        now,
		}
		if err := r.CreatePayment(ctx, payment); err != nil {
			return err
		}

		loan.RemainingBalance = split.Balance
		loan.UpdatedAt = now
		if err := settle(loan); err != nil {
			return err
		}
		if err := r.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		detail, err = r.GetLoanDetail(ctx, loan.ID)
		return err
	})
	if err != nil {
		l.log.Debugw("payment rejected", "loan_id", in.LoanID, "payment_number", in.Number, "error", err)
		return nil, err
	}

	l.log.Infow("payment registered", "loan_id", detail.ID, "payment_number", payment.Number,
		"principal", payment.Principal.StringFixed(2), "interest", payment.Interest.StringFixed(2),
		"remaining_balance", detail.RemainingBalance.StringFixed(2), "status", detail.Status)
	return detail, nil
}
