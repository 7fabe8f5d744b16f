package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestExecutor(cfg Config) (*Executor, *[]time.Duration) {
	e := New(cfg)
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	e.rnd = func() float64 { return 0.5 }
	return e, &slept
}

func TestNewDefaults(t *testing.T) {
	e := New(Config{})
	cfg := e.Config()
	require.Equal(t, DefaultAttempts, cfg.Attempts)
	require.Equal(t, DefaultBase, cfg.Base)
	require.Equal(t, DefaultCap, cfg.Cap)
	require.Equal(t, time.Duration(0), cfg.Jitter)
}

func TestDoRetriesRateLimitThenSucceeds(t *testing.T) {
	e, slept := newTestExecutor(Config{Attempts: 6})
	rl := errors.New("Access denied because of exceeding access rate")

	calls := 0
	v, err := Do(context.Background(), e, "ltp", func(ctx context.Context) (int, error) {
		calls++
		if calls < 6 {
			return 0, rl
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 6, calls)
	require.Len(t, *slept, 5)
}

func TestDoPermanentErrorIsNotRetried(t *testing.T) {
	e, slept := newTestExecutor(Config{Attempts: 6})
	perm := errors.New("AB1004: invalid symbol token")

	calls := 0
	_, err := Do(context.Background(), e, "placeOrder", func(ctx context.Context) (string, error) {
		calls++
		return "", perm
	})

	require.ErrorIs(t, err, perm)
	require.Equal(t, 1, calls)
	require.Empty(t, *slept)
	require.True(t, IsPermanent(err))
}

func TestDoExhaustion(t *testing.T) {
	e, slept := newTestExecutor(Config{Attempts: 3})
	var exhausted error
	e.OnExhausted = func(op string, err error) { exhausted = err }

	calls := 0
	err := Run(context.Background(), e, "orderBook", func(ctx context.Context) error {
		calls++
		return errors.New("couldn't parse the JSON response received from the server")
	})

	require.ErrorIs(t, err, ErrRetryExhausted)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Equal(t, 3, ex.Attempts)
	require.Equal(t, "orderBook", ex.Op)
	require.Equal(t, 3, calls)
	require.Len(t, *slept, 2)
	require.NotNil(t, exhausted)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	e, _ := newTestExecutor(Config{Attempts: 6})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Do(ctx, e, "ltp", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("Too many requests")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDoAppliesPerAttemptTimeout(t *testing.T) {
	e, _ := newTestExecutor(Config{Attempts: 1, OpTimeout: 50 * time.Millisecond})

	_, err := Do(context.Background(), e, "slow", func(ctx context.Context) (int, error) {
		_, ok := ctx.Deadline()
		require.True(t, ok)
		return 1, nil
	})
	require.NoError(t, err)
}

func TestDelayCapsBeforeJitter(t *testing.T) {
	e, _ := newTestExecutor(Config{Base: 600 * time.Millisecond, Cap: 5 * time.Second, Jitter: 350 * time.Millisecond})

	require.Equal(t, 600*time.Millisecond+175*time.Millisecond, e.Delay(0))
	require.Equal(t, 1200*time.Millisecond+175*time.Millisecond, e.Delay(1))
	require.Equal(t, 4800*time.Millisecond+175*time.Millisecond, e.Delay(3))
	// capped at 5s, jitter still added on top
	require.Equal(t, 5*time.Second+175*time.Millisecond, e.Delay(4))
	require.Equal(t, 5*time.Second+175*time.Millisecond, e.Delay(10))
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Too many requests"), true},
		{errors.New("request rate limit exceeded"), true},
		{errors.New("smartconnect: empty response body"), true},
		{errors.New("TokenException: Invalid Token"), false},
		{context.Canceled, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
