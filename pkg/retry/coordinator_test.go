package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
	errMalformed = errors.New("malformed")
)

func fastConfig(attempts uint) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

// flakyTask fails with errTransient n times, then succeeds with value.
// It also records the peak number of concurrent invocations.
func flakyTask(n int32, value int, calls, inFlight, peak *atomic.Int32) Task[int] {
	return func(ctx context.Context) (int, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		c := calls.Add(1)
		time.Sleep(time.Millisecond)
		if c <= n {
			return 0, errTransient
		}
		return value, nil
	}
}

func TestCoordinator_RetriesTransientFailuresThenSucceeds(t *testing.T) {
	var calls, inFlight, peak atomic.Int32
	c := NewCoordinator[int](fastConfig(5))

	v, err := c.Run(context.Background(), flakyTask(3, 42, &calls, &inFlight, &peak))

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, int32(1), peak.Load())
}

func TestCoordinator_ExhaustsAttempts(t *testing.T) {
	var calls, inFlight, peak atomic.Int32
	c := NewCoordinator[int](fastConfig(3))

	_, err := c.Run(context.Background(), flakyTask(10, 1, &calls, &inFlight, &peak))

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCoordinator_RetryIfStopsOnUnrecoverable(t *testing.T) {
	var calls atomic.Int32
	c := NewCoordinator[int](fastConfig(5), WithRetryIf[int](func(err error) bool {
		return errors.Is(err, errTransient)
	}))

	_, err := c.Run(context.Background(), func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoordinator_SoftSuccess(t *testing.T) {
	var calls atomic.Int32
	c := NewCoordinator[int](fastConfig(5), WithSoftSuccess[int](func(err error) (int, bool) {
		if errors.Is(err, errMalformed) {
			return 0, true
		}
		return 0, false
	}))

	v, err := c.Run(context.Background(), func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, errMalformed
	})

	require.NoError(t, err)
	assert.Equal(t, 0, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoordinator_OnRetryHook(t *testing.T) {
	var calls, inFlight, peak, hooks atomic.Int32
	c := NewCoordinator[int](fastConfig(5), WithOnRetry[int](func(n uint, err error) {
		hooks.Add(1)
	}))

	_, err := c.Run(context.Background(), flakyTask(2, 7, &calls, &inFlight, &peak))

	require.NoError(t, err)
	assert.Equal(t, int32(2), hooks.Load())
}

func TestCoordinator_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCoordinator[int](Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1})

	_, err := c.Run(ctx, func(ctx context.Context) (int, error) {
		return 0, errTransient
	})

	assert.Error(t, err)
}

func TestCoordinator_RetryInvokesExactlyOneCallback(t *testing.T) {
	tests := []struct {
		name        string
		failures    int32
		attempts    uint
		wantSuccess bool
	}{
		{"success after failures", 2, 5, true},
		{"failure after exhaustion", 10, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls, inFlight, peak, successes, failures atomic.Int32
			done := make(chan struct{}, 2)
			c := NewCoordinator[int](fastConfig(tt.attempts))

			c.Retry(context.Background(), flakyTask(tt.failures, 9, &calls, &inFlight, &peak),
				func(int) { successes.Add(1); done <- struct{}{} },
				func(error) { failures.Add(1); done <- struct{}{} },
			)

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("retry never settled")
			}
			time.Sleep(20 * time.Millisecond)

			assert.Equal(t, int32(1), successes.Load()+failures.Load())
			assert.Equal(t, tt.wantSuccess, successes.Load() == 1)
			assert.Equal(t, int32(1), peak.Load())
		})
	}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 3}

	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(0))
	assert.Equal(t, 300*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 900*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, time.Second, cfg.Backoff(3))
}

func TestDoWithResult(t *testing.T) {
	var calls atomic.Int32
	v, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		if calls.Add(1) < 2 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
}
