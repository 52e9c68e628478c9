package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoan(owner string, createdAt time.Time) *models.Loan {
	return &models.Loan{
		ID:               uuid.New(),
		OwnerID:          owner,
		Principal:        decimal.RequireFromString("12000.00"),
		TermMonths:       12,
		InterestRate:     decimal.RequireFromString("12.00"),
		Method:           models.MethodFixed,
		Status:           models.LoanStatusPending,
		RemainingBalance: decimal.RequireFromString("12000.00"),
		MonthlyPayment:   decimal.RequireFromString("1066.19"),
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func newTestPayment(loanID uuid.UUID, number int, balance string) *models.Payment {
	now := time.Now().UTC()
	return &models.Payment{
		ID:               uuid.New(),
		LoanID:           loanID,
		Number:           number,
		Amount:           decimal.RequireFromString("1066.19"),
		Tendered:         decimal.RequireFromString("1100.00"),
		Principal:        decimal.RequireFromString("946.19"),
		Interest:         decimal.RequireFromString("120.00"),
		RemainingBalance: decimal.RequireFromString(balance),
		PaidAt:           now,
		CreatedAt:        now,
	}
}

// testRepositoryContract exercises behaviour every Storage must share.
func testRepositoryContract(t *testing.T, s Storage) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	older := newTestLoan("owner-1", base.Add(-time.Hour))
	newer := newTestLoan("owner-1", base)
	other := newTestLoan("owner-2", base)
	for _, l := range []*models.Loan{older, newer, other} {
		require.NoError(t, s.CreateLoan(ctx, l))
	}

	t.Run("GetLoan round trips", func(t *testing.T) {
		got, err := s.GetLoan(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, older.OwnerID, got.OwnerID)
		assert.True(t, older.Principal.Equal(got.Principal))
		assert.True(t, older.MonthlyPayment.Equal(got.MonthlyPayment))
		assert.Equal(t, models.MethodFixed, got.Method)
		assert.Equal(t, models.LoanStatusPending, got.Status)
		assert.Equal(t, 12, got.TermMonths)
		assert.Nil(t, got.ApprovedAt)
		assert.Nil(t, got.RejectionReason)
		assert.WithinDuration(t, older.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("GetLoan unknown id", func(t *testing.T) {
		_, err := s.GetLoan(ctx, uuid.New())
		assert.True(t, loanerr.Is(err, loanerr.KindNotFound), "got %v", err)
	})

	t.Run("ListLoansByOwner newest first", func(t *testing.T) {
		loans, err := s.ListLoansByOwner(ctx, "owner-1")
		require.NoError(t, err)
		require.Len(t, loans, 2)
		assert.Equal(t, newer.ID, loans[0].ID)
		assert.Equal(t, older.ID, loans[1].ID)

		none, err := s.ListLoansByOwner(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("UpdateLoan", func(t *testing.T) {
		approved := base.Add(time.Minute)
		older.Status = models.LoanStatusDisbursed
		older.ApprovedAt = &approved
		older.DisbursedAt = &approved
		older.UpdatedAt = approved
		require.NoError(t, s.UpdateLoan(ctx, older))

		got, err := s.GetLoan(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LoanStatusDisbursed, got.Status)
		require.NotNil(t, got.DisbursedAt)
		assert.WithinDuration(t, approved, *got.DisbursedAt, time.Second)

		missing := newTestLoan("owner-1", base)
		assert.True(t, loanerr.Is(s.UpdateLoan(ctx, missing), loanerr.KindNotFound))
	})

	t.Run("Payments and abonos", func(t *testing.T) {
		require.NoError(t, s.CreatePayment(ctx, newTestPayment(older.ID, 2, "10098.16")))
		require.NoError(t, s.CreatePayment(ctx, newTestPayment(older.ID, 1, "11053.81")))
		assert.Error(t, s.CreatePayment(ctx, newTestPayment(older.ID, 1, "11053.81")))

		n, err := s.CountPayments(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		p, err := s.GetPaymentByNumber(ctx, older.ID, 2)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.True(t, decimal.RequireFromString("10098.16").Equal(p.RemainingBalance))

		p, err = s.GetPaymentByNumber(ctx, older.ID, 3)
		require.NoError(t, err)
		assert.Nil(t, p)

		note := "bonus"
		first := &models.Abono{
			ID: uuid.New(), LoanID: older.ID, Amount: decimal.RequireFromString("500"),
			BalanceBefore: decimal.RequireFromString("10098.16"), BalanceAfter: decimal.RequireFromString("9598.16"),
			Note: &note, AbonoDate: base, CreatedAt: base,
		}
		second := &models.Abono{
			ID: uuid.New(), LoanID: older.ID, Amount: decimal.RequireFromString("98.16"),
			BalanceBefore: decimal.RequireFromString("9598.16"), BalanceAfter: decimal.RequireFromString("9500"),
			AbonoDate: base.Add(time.Minute), CreatedAt: base.Add(time.Minute),
		}
		require.NoError(t, s.CreateAbono(ctx, second))
		require.NoError(t, s.CreateAbono(ctx, first))

		n, err = s.CountAbonos(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		detail, err := s.GetLoanDetail(ctx, older.ID)
		require.NoError(t, err)
		require.Len(t, detail.Payments, 2)
		assert.Equal(t, 1, detail.Payments[0].Number)
		assert.Equal(t, 2, detail.Payments[1].Number)
		require.Len(t, detail.Abonos, 2)
		assert.Equal(t, first.ID, detail.Abonos[0].ID)
		require.NotNil(t, detail.Abonos[0].Note)
		assert.Equal(t, "bonus", *detail.Abonos[0].Note)
		assert.Nil(t, detail.Abonos[1].Note)
	})

	t.Run("InTx rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.InTx(ctx, func(r Repository) error {
			if err := r.CreatePayment(ctx, newTestPayment(newer.ID, 1, "11053.81")); err != nil {
				return err
			}
			loan, err := r.GetLoan(ctx, newer.ID)
			if err != nil {
				return err
			}
			loan.Status = models.LoanStatusPaid
			if err := r.UpdateLoan(ctx, loan); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		n, err := s.CountPayments(ctx, newer.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		got, err := s.GetLoan(ctx, newer.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LoanStatusPending, got.Status)
	})

	t.Run("InTx commits", func(t *testing.T) {
		err := s.InTx(ctx, func(r Repository) error {
			return r.CreatePayment(ctx, newTestPayment(newer.ID, 1, "11053.81"))
		})
		require.NoError(t, err)

		n, err := s.CountPayments(ctx, newer.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("DeleteLoan cascades", func(t *testing.T) {
		require.NoError(t, s.DeleteLoan(ctx, older.ID))

		_, err := s.GetLoanDetail(ctx, older.ID)
		assert.True(t, loanerr.Is(err, loanerr.KindNotFound))

		n, err := s.CountPayments(ctx, older.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = s.CountAbonos(ctx, older.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		assert.True(t, loanerr.Is(s.DeleteLoan(ctx, older.ID), loanerr.KindNotFound))
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	testRepositoryContract(t, s)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	loan := newTestLoan("owner", time.Now())
	require.NoError(t, s.CreateLoan(ctx, loan))

	got, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	got.Status = models.LoanStatusPaid

	again, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPending, again.Status)
}

func TestMemoryStore_InTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewMemoryStore().InTx(ctx, func(Repository) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryStore_WriteDuringTxIsKept(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	a := newTestLoan("owner-a", now)
	b := newTestLoan("owner-b", now)
	require.NoError(t, s.CreateLoan(ctx, a))

	inTx := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.InTx(ctx, func(r Repository) error {
			close(inTx)
			<-release
			return r.CreatePayment(ctx, newTestPayment(a.ID, 1, "11053.81"))
		})
	}()
	<-inTx

	created := make(chan error, 1)
	go func() { created <- s.CreateLoan(ctx, b) }()

	select {
	case err := <-created:
		t.Fatalf("create finished while a transaction was open: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-txDone)
	require.NoError(t, <-created)

	got, err := s.GetLoan(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-b", got.OwnerID)
	n, err := s.CountPayments(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
