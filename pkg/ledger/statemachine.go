package ledger

import (
	"context"
	"strings"

	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
)

// DefaultRejectionReason is recorded when a loan is rejected without a reason.
const DefaultRejectionReason = "No reason provided"

// transitions lists the legal moves out of each status. APPROVED is accepted
// as a decision but never stored: approval disburses the loan immediately.
// PAID and REJECTED are terminal.
var transitions = map[models.LoanStatus][]models.LoanStatus{
	models.LoanStatusPending:   {models.LoanStatusRejected, models.LoanStatusDisbursed},
	models.LoanStatusDisbursed: {models.LoanStatusPaid},
}

// CanTransition reports whether a loan may move from one status to another.
func CanTransition(from, to models.LoanStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(loan *models.Loan, to models.LoanStatus) error {
	if !CanTransition(loan.Status, to) {
		return loanerr.InvalidState("loan %s cannot move from %s to %s", loan.ID, loan.Status, to)
	}
	loan.Status = to
	return nil
}

// Approve applies an approval decision to a pending loan. APPROVED disburses
// the loan in the same step; REJECTED without a reason records
// DefaultRejectionReason.
func (l *Ledger) Approve(ctx context.Context, in ApproveInput) (*models.Loan, error) {
	if err := in.Validate().Err(); err != nil {
		return nil, err
	}

	var decided *models.Loan
	err := l.mutate(ctx, in.LoanID, func(ctx context.Context, r store.Repository) error {
		loan, err := r.GetLoan(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusPending {
			return loanerr.InvalidState("loan %s is %s, only PENDING loans can be approved or rejected", loan.ID, loan.Status)
		}

		now := l.now()
		loan.ApprovedAt = &now
		loan.UpdatedAt = now

		switch in.Decision {
		case models.LoanStatusApproved:
			if err := transition(loan, models.LoanStatusDisbursed); err != nil {
				return err
			}
			loan.DisbursedAt = &now
			loan.RejectionReason = nil
		case models.LoanStatusRejected:
			if err := transition(loan, models.LoanStatusRejected); err != nil {
				return err
			}
			reason := DefaultRejectionReason
			if in.Reason != nil && strings.TrimSpace(*in.Reason) != "" {
				reason = *in.Reason
			}
			loan.RejectionReason = &reason
		}

		if err := r.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		decided = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Infow("loan decided", "loan_id", decided.ID, "status", decided.Status)
	return decided, nil
}

// settle marks the loan PAID once its balance is exhausted.
func settle(loan *models.Loan) error {
	if loan.RemainingBalance.IsPositive() {
		return nil
	}
	return transition(loan, models.LoanStatusPaid)
}
