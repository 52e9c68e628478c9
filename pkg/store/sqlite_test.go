package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "loans.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	testRepositoryContract(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_DecimalsKeepPrecision(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	loan := newTestLoan("cust_test", time.Now())
	loan.Principal = decimal.RequireFromString("1234567.89")
	loan.InterestRate = decimal.RequireFromString("7.25")
	loan.RemainingBalance = decimal.RequireFromString("1234567.89")
	loan.MonthlyPayment = decimal.RequireFromString("333.33")

	if err := s.CreateLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	fetched, err := s.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}

	if !fetched.Principal.Equal(loan.Principal) {
		t.Errorf("Expected Principal %s, got %s", loan.Principal, fetched.Principal)
	}
	if !fetched.InterestRate.Equal(loan.InterestRate) {
		t.Errorf("Expected InterestRate %s, got %s", loan.InterestRate, fetched.InterestRate)
	}
	if !fetched.MonthlyPayment.Equal(loan.MonthlyPayment) {
		t.Errorf("Expected MonthlyPayment %s, got %s", loan.MonthlyPayment, fetched.MonthlyPayment)
	}
}

func TestSQLiteStore_RejectionReason(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	loan := newTestLoan("cust_test", time.Now())
	if err := s.CreateLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	reason := "insufficient income"
	now := time.Now()
	loan.Status = models.LoanStatusRejected
	loan.RejectionReason = &reason
	loan.ApprovedAt = &now
	if err := s.UpdateLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to update loan: %v", err)
	}

	fetched, err := s.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}
	if fetched.RejectionReason == nil || *fetched.RejectionReason != reason {
		t.Errorf("Expected rejection reason %q, got %v", reason, fetched.RejectionReason)
	}
	if fetched.DisbursedAt != nil {
		t.Errorf("Expected no disbursement date, got %v", fetched.DisbursedAt)
	}
}

func TestSQLiteStore_PaymentRequiresLoan(t *testing.T) {
	s := newTestSQLiteStore(t)

	// foreign keys are enforced
	if err := s.CreatePayment(context.Background(), newTestPayment(newTestLoan("x", time.Now()).ID, 1, "0")); err == nil {
		t.Fatal("Expected foreign key violation for orphan payment")
	}
}
