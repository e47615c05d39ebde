package retry

import (
	"context"

	"github.com/avast/retry-go/v4"
)

// Task is one invocation of the wrapped operation. It must not retry internally.
type Task[T any] func(ctx context.Context) (T, error)

// Option configures a Coordinator.
type Option[T any] func(*Coordinator[T])

// WithRetryIf restricts retries to errors for which fn returns true.
// Other errors end the loop immediately.
func WithRetryIf[T any](fn func(error) bool) Option[T] {
	return func(c *Coordinator[T]) { c.retryIf = fn }
}

// WithSoftSuccess turns selected failures into a successful value.
// It is consulted on every invocation before the retry decision.
func WithSoftSuccess[T any](fn func(error) (T, bool)) Option[T] {
	return func(c *Coordinator[T]) { c.soft = fn }
}

// WithOnRetry registers a hook called before each re-invocation.
func WithOnRetry[T any](fn func(n uint, err error)) Option[T] {
	return func(c *Coordinator[T]) { c.onRetry = fn }
}

// Coordinator re-invokes a task with a bounded, time-spaced policy and
// reports the final result exactly once. Invocations never overlap.
type Coordinator[T any] struct {
	cfg     Config
	retryIf func(error) bool
	soft    func(error) (T, bool)
	onRetry func(n uint, err error)
}

// NewCoordinator creates a Coordinator with the given policy.
func NewCoordinator[T any](cfg Config, opts ...Option[T]) *Coordinator[T] {
	c := &Coordinator[T]{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the retry policy.
func (c *Coordinator[T]) Config() Config {
	return c.cfg
}

// Run blocks until the task succeeds, fails unrecoverably, exhausts its
// attempts or ctx is done.
func (c *Coordinator[T]) Run(ctx context.Context, task Task[T]) (T, error) {
	var result T
	opts := c.cfg.options(ctx)
	if c.retryIf != nil {
		opts = append(opts, retry.RetryIf(c.retryIf))
	}
	if c.onRetry != nil {
		opts = append(opts, retry.OnRetry(c.onRetry))
	}

	err := retry.Do(func() error {
		v, err := task(ctx)
		if err != nil {
			if c.soft != nil {
				if sv, ok := c.soft(err); ok {
					result = sv
					return nil
				}
			}
			return err
		}
		result = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Retry runs the task in the background and invokes exactly one of
// onSuccess or onFailure when it settles. It returns immediately.
func (c *Coordinator[T]) Retry(ctx context.Context, task Task[T], onSuccess func(T), onFailure func(error)) {
	go func() {
		v, err := c.Run(ctx, task)
		if err != nil {
			if onFailure != nil {
				onFailure(err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(v)
		}
	}()
}
