package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/mcclellann/loanbook/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Options configures RedisLocker.
type Options struct {
	// Expiry bounds how long a crashed holder can keep the lock.
	Expiry      time.Duration
	Tries       int
	RetryDelay  time.Duration
	DriftFactor float64
}

// DefaultOptions suits ledger mutations, which finish well within a second.
func DefaultOptions() Options {
	return Options{
		Expiry:      10 * time.Second,
		Tries:       32,
		RetryDelay:  100 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

func (o Options) validate() error {
	switch {
	case o.Expiry <= 0:
		return errors.New("lock expiry must be greater than 0")
	case o.Tries < 1:
		return errors.New("lock tries must be at least 1")
	case o.RetryDelay < 0:
		return errors.New("lock retry delay cannot be negative")
	case o.DriftFactor < 0 || o.DriftFactor >= 1:
		return errors.New("lock drift factor must be between 0 (inclusive) and 1 (exclusive)")
	}
	return nil
}

// RedisLocker is a distributed Locker using the RedLock algorithm.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts Options
}

// NewRedisLocker builds a locker on top of an existing Redis client.
func NewRedisLocker(client redis.UniversalClient, opts Options) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
	}, nil
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if key == "" {
		return ErrEmptyKey
	}

	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
		redsync.WithDriftFactor(l.opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		logger.Error("failed to acquire lock", "lock_key", key, "error", err)
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	defer func() {
		// Release with a fresh context so a cancelled request still frees the key.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.Expiry)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			logger.Warn("failed to release lock", "lock_key", key, "unlock_ok", ok, "error", err)
		}
	}()

	return fn(ctx)
}
