// Package retry wraps remote trading-API calls with rate-limit detection and
// bounded exponential backoff with jitter.
//
// Only rate-limit class failures are retried. Anything else is returned to the
// caller on the first attempt. The wrapper does not make order placement
// idempotent: a retried placeOrder may still be a duplicate on the broker side.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

const (
	DefaultAttempts   = 6
	DefaultBase       = 600 * time.Millisecond
	DefaultCap        = 5 * time.Second
	DefaultJitter     = 350 * time.Millisecond
	DefaultOpTimeout  = 7 * time.Second
	defaultMultiplier = 2.0
)

// ErrRetryExhausted is matched by every *ExhaustedError.
var ErrRetryExhausted = errors.New("retry exhausted")

// ExhaustedError is returned when every attempt hit a rate-limit error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retry exhausted after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrRetryExhausted, e.Last} }

// rateLimitSignatures are lowercase fragments of SmartAPI throttling and
// malformed-body failures.
var rateLimitSignatures = []string{
	"access denied because of exceeding access rate",
	"too many requests",
	"request rate limit exceeded",
	"couldn't parse the json",
	"couldn't parse json",
	"empty response body",
}

// IsTransient reports whether err belongs to the rate-limit / malformed-body
// class that is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range rateLimitSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsPermanent reports whether err is a remote failure that must not be retried.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err) && !errors.Is(err, ErrRetryExhausted)
}

// Config controls the backoff schedule.
type Config struct {
	Attempts  int
	Base      time.Duration
	Cap       time.Duration
	Jitter    time.Duration
	OpTimeout time.Duration // per-attempt deadline; 0 disables
}

// Executor runs operations under a Config. Hooks are optional.
type Executor struct {
	cfg Config

	// OnRetry is called before each backoff sleep.
	OnRetry func(op string, attempt int, err error)
	// OnExhausted is called once when attempts run out.
	OnExhausted func(op string, err error)

	sleep func(ctx context.Context, d time.Duration) error
	rnd   func() float64
}

// New builds an Executor, filling zero fields with defaults.
func New(cfg Config) *Executor {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Base <= 0 {
		cfg.Base = DefaultBase
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.OpTimeout < 0 {
		cfg.OpTimeout = 0
	}
	return &Executor{
		cfg:   cfg,
		sleep: sleepCtx,
		rnd:   rand.Float64,
	}
}

// Default returns an Executor with the stock SmartAPI schedule.
func Default() *Executor {
	return New(Config{Jitter: DefaultJitter, OpTimeout: DefaultOpTimeout})
}

// Config returns the effective configuration.
func (e *Executor) Config() Config { return e.cfg }

// Delay returns the sleep before retry number attempt (0-based): the capped
// exponential step plus uniform jitter added after capping.
func (e *Executor) Delay(attempt int) time.Duration {
	d := float64(e.cfg.Base)
	for i := 0; i < attempt; i++ {
		d *= defaultMultiplier
		if d >= float64(e.cfg.Cap) {
			break
		}
	}
	if d > float64(e.cfg.Cap) {
		d = float64(e.cfg.Cap)
	}
	if e.cfg.Jitter > 0 {
		d += e.rnd() * float64(e.cfg.Jitter)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := 0; attempt < e.cfg.Attempts; attempt++ {
		v, err := call(ctx, e.cfg.OpTimeout, fn)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		last = err
		if attempt == e.cfg.Attempts-1 {
			break
		}
		if e.OnRetry != nil {
			e.OnRetry(op, attempt+1, err)
		}
		if serr := e.sleep(ctx, e.Delay(attempt)); serr != nil {
			return zero, fmt.Errorf("%s: %w (last error: %v)", op, serr, last)
		}
	}
	ex := &ExhaustedError{Op: op, Attempts: e.cfg.Attempts, Last: last}
	if e.OnExhausted != nil {
		e.OnExhausted(op, ex)
	}
	return zero, ex
}

// Run is Do for operations without a result.
func Run(ctx context.Context, e *Executor, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
