package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	opts := DefaultOptions()
	opts.Tries = 200
	opts.RetryDelay = 5 * time.Millisecond
	locker, err := NewRedisLocker(client, opts)
	require.NoError(t, err)
	return locker, mr
}

// assertMutualExclusion runs n goroutines on one key and checks that at most
// one of them was inside fn at any time.
func assertMutualExclusion(t *testing.T, l Locker, n int) {
	t.Helper()
	var (
		wg            sync.WaitGroup
		current       int32
		maxConcurrent int32
		executed      int32
	)
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "loan:shared", func(context.Context) error {
				c := atomic.AddInt32(&current, 1)
				for {
					m := atomic.LoadInt32(&maxConcurrent)
					if c <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, c) {
						break
					}
				}
				atomic.AddInt32(&executed, 1)
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), executed)
	assert.Equal(t, int32(1), maxConcurrent)
}

func TestLoanKey(t *testing.T) {
	id := uuid.MustParse("5b9c9f0e-7a55-4c3a-9a38-3b0c6f1d2e10")
	assert.Equal(t, "loan:5b9c9f0e-7a55-4c3a-9a38-3b0c6f1d2e10", LoanKey(id))
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex()
	assertMutualExclusion(t, m, 20)
	assert.Zero(t, m.size(), "idle keys should be released")
}

func TestKeyedMutex_PassesErrorsThrough(t *testing.T) {
	m := NewKeyedMutex()
	sentinel := errors.New("insufficient amount")

	err := m.WithLock(context.Background(), "loan:1", func(context.Context) error { return sentinel })
	assert.Same(t, sentinel, err)

	assert.ErrorIs(t, m.WithLock(context.Background(), "", func(context.Context) error { return nil }), ErrEmptyKey)
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewKeyedMutex()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = m.WithLock(context.Background(), "loan:a", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- m.WithLock(context.Background(), "loan:b", func(context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedMutex_ContextCancelledWhileWaiting(t *testing.T) {
	m := NewKeyedMutex()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = m.WithLock(context.Background(), "loan:a", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := m.WithLock(ctx, "loan:a", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	close(release)
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	locker, _ := setupRedisLocker(t)
	assertMutualExclusion(t, locker, 10)
}

func TestRedisLocker_ReleasesKey(t *testing.T) {
	locker, mr := setupRedisLocker(t)

	err := locker.WithLock(context.Background(), "loan:42", func(context.Context) error {
		assert.True(t, mr.Exists("loan:42"), "lock key should be set while held")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("loan:42"))
}

func TestRedisLocker_PassesErrorsThrough(t *testing.T) {
	locker, mr := setupRedisLocker(t)
	sentinel := errors.New("out of order")

	err := locker.WithLock(context.Background(), "loan:7", func(context.Context) error { return sentinel })
	assert.Same(t, sentinel, err)
	assert.False(t, mr.Exists("loan:7"))
}

func TestRedisLocker_AcquireFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker, err := NewRedisLocker(client, Options{Expiry: time.Second, Tries: 1, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, mr.Set("loan:busy", "someone-else"))

	called := false
	err = locker.WithLock(context.Background(), "loan:busy", func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire lock loan:busy")
	assert.False(t, called)
}

func TestNewRedisLocker_InvalidOptions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewRedisLocker(client, Options{Expiry: 0, Tries: 1})
	assert.Error(t, err)
	_, err = NewRedisLocker(client, Options{Expiry: time.Second, Tries: 0})
	assert.Error(t, err)
	_, err = NewRedisLocker(nil, DefaultOptions())
	assert.Error(t, err)
}
