package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/redis/go-redis/v9"
)

// Only the owner token may release.
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// LockKey namespaces a logical lock name.
func LockKey(name string) string {
	return "lock:" + name
}

// ConfirmationLockName is the lock guarding one order's confirmation.
func ConfirmationLockName(orderID string) string {
	return "confirmation:" + orderID
}

// DistributedLock is a single-owner Redis lock (SET NX PX plus an owner token).
type DistributedLock struct {
	client   redis.Cmdable
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a lock; nothing is sent to Redis until Acquire.
func NewDistributedLock(client redis.Cmdable, name string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    LockKey(name),
		value:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire tries once to take the lock.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	l.acquired = ok
	return ok, nil
}

// AcquireWait polls until the lock is taken, ctx ends or maxWait passes.
func (l *DistributedLock) AcquireWait(ctx context.Context, maxWait, pollEvery time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", domainErrors.ErrLockAcquisitionFailed, l.key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

// Release gives the lock back. Releasing an unheld lock is a no-op.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	l.acquired = false

	n, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// ConfirmationLocker serializes confirmation of the same order across instances.
type ConfirmationLocker struct {
	client  redis.Cmdable
	ttl     time.Duration
	maxWait time.Duration
}

func NewConfirmationLocker(client redis.Cmdable, ttl time.Duration) *ConfirmationLocker {
	return &ConfirmationLocker{client: client, ttl: ttl, maxWait: ttl}
}

// Lock blocks until the order's confirmation lock is held and returns its
// release func.
func (c *ConfirmationLocker) Lock(ctx context.Context, orderID string) (func(context.Context) error, error) {
	lock := NewDistributedLock(c.client, ConfirmationLockName(orderID), c.ttl)
	if err := lock.AcquireWait(ctx, c.maxWait, 100*time.Millisecond); err != nil {
		return nil, err
	}
	return lock.Release, nil
}
