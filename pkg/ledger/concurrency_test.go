package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/lock"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentPayments_SameNumber(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := disbursedLoan(t, l, models.MethodFixed)

	const workers = 10
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = pay(l, loan.ID, 1, "1066.19")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, loanerr.KindConflict, loanerr.KindOf(err), "error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	detail, err := l.GetLoan(context.Background(), loan.ID)
	require.NoError(t, err)
	require.Len(t, detail.Payments, 1)
	assertDecimal(t, "11053.81", detail.RemainingBalance)
}

func assertAbonoChain(t *testing.T, detail *models.LoanDetail, count int, balance string) {
	t.Helper()
	require.Len(t, detail.Abonos, count)
	assertDecimal(t, balance, detail.RemainingBalance)
	for i := 1; i < len(detail.Abonos); i++ {
		assert.True(t, detail.Abonos[i-1].BalanceAfter.Equal(detail.Abonos[i].BalanceBefore),
			"abono %d starts from %s, previous ended at %s", i, detail.Abonos[i].BalanceBefore, detail.Abonos[i-1].BalanceAfter)
	}
}

func TestConcurrentAbonos_KeepBalanceConsistent(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := disbursedLoan(t, l, models.MethodVariable)

	const workers = 20
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := abono(l, loan.ID, "100")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	detail, err := l.GetLoan(context.Background(), loan.ID)
	require.NoError(t, err)
	assertAbonoChain(t, detail, workers, "10000")
}

// Two ledgers over one store stand in for two service instances sharing a
// Redis lock.
func TestConcurrentMutations_RedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	opts := lock.DefaultOptions()
	opts.Tries = 500
	opts.RetryDelay = 5 * time.Millisecond
	locker, err := lock.NewRedisLocker(client, opts)
	require.NoError(t, err)

	s := store.NewMemoryStore()
	clock := &testClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	first := NewLedger(s, WithLocker(locker), WithClock(clock.Now))
	second := NewLedger(s, WithLocker(locker), WithClock(clock.Now))
	loan := disbursedLoan(t, first, models.MethodFixed)

	const perInstance = 5
	var wg sync.WaitGroup
	for _, l := range []*Ledger{first, second} {
		for range perInstance {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := abono(l, loan.ID, "250")
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	detail, err := second.GetLoan(context.Background(), loan.ID)
	require.NoError(t, err)
	assertAbonoChain(t, detail, 2*perInstance, "9500")
	assert.Empty(t, mr.Keys(), "lock keys should be released")
}

func TestMutate_LockFailureIsInternal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	opts := lock.DefaultOptions()
	opts.Tries = 1
	locker, err := lock.NewRedisLocker(client, opts)
	require.NoError(t, err)

	l, _ := newTestLedger(t, WithLocker(locker))
	loan := disbursedLoan(t, l, models.MethodFixed)

	require.NoError(t, mr.Set(lock.LoanKey(loan.ID), "held-elsewhere"))
	_, err = abono(l, loan.ID, "100")
	assertKind(t, loanerr.KindInternal, err)

	detail, err := l.GetLoan(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.Abonos)
}
