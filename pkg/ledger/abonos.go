package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/amortization"
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
)

// RegisterAbono applies an extraordinary principal prepayment to a disbursed
// loan. FIXED loans get their installment recomputed over the remaining term;
// VARIABLE loans keep their principal share and finish earlier.
func (l *Ledger) RegisterAbono(ctx context.Context, in AbonoInput) (*models.LoanDetail, error) {
	if err := in.Validate().Err(); err != nil {
		return nil, err
	}

	var (
		detail *models.LoanDetail
		abono  *models.Abono
	)
	err := l.mutate(ctx, in.LoanID, func(ctx context.Context, r store.Repository) error {
		loan, err := r.GetLoan(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusDisbursed {
			return loanerr.InvalidState("loan %s is %s, abonos require a DISBURSED loan", loan.ID, loan.Status)
		}
		if in.Amount.GreaterThan(loan.RemainingBalance) {
			return loanerr.Validation("abono %s exceeds remaining balance %s",
				in.Amount.StringFixed(2), loan.RemainingBalance.StringFixed(2))
		}

		now := l.now()
		abono = &models.Abono{
			ID:            uuid.New(),
			LoanID:        loan.ID,
			Amount:        in.Amount,
			BalanceBefore: loan.RemainingBalance,
			BalanceAfter:  loan.RemainingBalance.Sub(in.Amount),
			Note:          in.Note,
			AbonoDate:     now,
			CreatedAt:     now,
		}
		if err := r.CreateAbono(ctx, abono); err != nil {
			return err
		}

		loan.RemainingBalance = abono.BalanceAfter
		loan.UpdatedAt = now

		if loan.Method == models.MethodFixed {
			paid, err := r.CountPayments(ctx, loan.ID)
			if err != nil {
				return err
			}
			if remaining := loan.TermMonths - paid; remaining > 0 {
				installment, err := amortization.MonthlyInstallment(loan.RemainingBalance, loan.InterestRate, remaining)
				if err != nil {
					return err
				}
				loan.MonthlyPayment = installment
			}
		}

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
		l.log.Debugw("abono rejected", "loan_id", in.LoanID, "amount", in.Amount.StringFixed(2), "error", err)
		return nil, err
	}

	l.log.Infow("abono registered", "loan_id", detail.ID, "amount", abono.Amount.StringFixed(2),
		"remaining_balance", detail.RemainingBalance.StringFixed(2), "monthly_payment", detail.MonthlyPayment.StringFixed(2),
		"status", detail.Status)
	return detail, nil
}
