// Package redis reads the market-data engine's Redis candle streams and
// publishes control signals back to the execution process.
//
// Stream keys follow the engine's layout:
//
//	candle:{TF}s:{exchange}:{token}          (stream, field "data" = JSON candle)
//	candle:1s:latest:{exchange}:{token}      (string, latest 1s candle)
//
// Every read goes through a CircuitBreaker so that a dead Redis degrades to
// the broker fallback quickly instead of timing out on every poll.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"optguard/internal/model"
)

const (
	defaultMaxFailures  = 3
	defaultResetTimeout = 30 * time.Second
	defaultLatestMaxAge = 10 * time.Second
)

// Client is the subset of *goredis.Client used here.
type Client interface {
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *goredis.XMessageSliceCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// Options configures NewClient.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient dials Redis and verifies the connection with PING.
func NewClient(ctx context.Context, opts Options) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: 4,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// StreamKey returns the candle stream key for a timeframe in seconds.
func StreamKey(tfSec int, exchange, token string) string {
	return fmt.Sprintf("candle:%ds:%s:%s", tfSec, exchange, token)
}

// LatestKey returns the key of the latest 1s candle.
func LatestKey(exchange, token string) string {
	return fmt.Sprintf("candle:1s:latest:%s:%s", exchange, token)
}

// streamCandle is the engine's JSON candle. Prices are paise.
type streamCandle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	TS       time.Time `json:"ts"`
	Open     int64     `json:"open"`
	High     int64     `json:"high"`
	Low      int64     `json:"low"`
	Close    int64     `json:"close"`
	Volume   int64     `json:"volume"`
	Forming  bool      `json:"forming"`
}

func (c streamCandle) candle() model.Candle {
	return model.Candle{
		TS:     c.TS,
		Open:   model.Paise(c.Open),
		High:   model.Paise(c.High),
		Low:    model.Paise(c.Low),
		Close:  model.Paise(c.Close),
		Volume: c.Volume,
	}
}

func decode(raw interface{}) (streamCandle, error) {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return streamCandle{}, fmt.Errorf("unexpected candle payload %T", raw)
	}
	var c streamCandle
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return streamCandle{}, fmt.Errorf("decode candle: %w", err)
	}
	return c, nil
}

// CandleSource serves closed candles from the engine's streams.
type CandleSource struct {
	client  Client
	breaker *CircuitBreaker
}

// NewCandleSource wraps client with a breaker. A nil breaker gets the
// default (3 failures, 30s reset).
func NewCandleSource(client Client, breaker *CircuitBreaker) *CandleSource {
	if breaker == nil {
		breaker = NewCircuitBreaker(defaultMaxFailures, defaultResetTimeout)
	}
	return &CandleSource{client: client, breaker: breaker}
}

// Breaker exposes the breaker so callers can hook state changes.
func (s *CandleSource) Breaker() *CircuitBreaker { return s.breaker }

// Recent returns up to count closed candles of the given timeframe with
// TS in [from, to], oldest first. Forming candles are skipped. An empty
// stream yields model.ErrDataUnavailable.
func (s *CandleSource) Recent(ctx context.Context, tf time.Duration, exchange, token string, from, to time.Time, count int64) ([]model.Candle, error) {
	key := StreamKey(int(tf/time.Second), exchange, token)
	var msgs []goredis.XMessage
	err := s.breaker.Execute(func() error {
		var err error
		msgs, err = s.client.XRevRangeN(ctx, key, "+", "-", count).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", key, err)
	}

	out := make([]model.Candle, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		c, err := decode(msgs[i].Values["data"])
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", key, msgs[i].ID, err)
		}
		if c.Forming {
			continue
		}
		if (!from.IsZero() && c.TS.Before(from)) || (!to.IsZero() && c.TS.After(to)) {
			continue
		}
		out = append(out, c.candle())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", key, model.ErrDataUnavailable)
	}
	return out, nil
}

// Quoter reads the latest 1s close as a last traded price.
type Quoter struct {
	client  Client
	breaker *CircuitBreaker
	maxAge  time.Duration
	now     func() time.Time
}

// NewQuoter builds a Quoter that rejects candles older than maxAge
// (default 10s).
func NewQuoter(client Client, breaker *CircuitBreaker, maxAge time.Duration) *Quoter {
	if breaker == nil {
		breaker = NewCircuitBreaker(defaultMaxFailures, defaultResetTimeout)
	}
	if maxAge <= 0 {
		maxAge = defaultLatestMaxAge
	}
	return &Quoter{client: client, breaker: breaker, maxAge: maxAge, now: time.Now}
}

// LTP returns the latest close. The symbol is unused; keys are by token.
// A missing or stale key yields model.ErrDataUnavailable.
func (q *Quoter) LTP(ctx context.Context, exchange, _, token string) (model.Paise, error) {
	key := LatestKey(exchange, token)
	var raw string
	err := q.breaker.Execute(func() error {
		var err error
		raw, err = q.client.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	if raw == "" {
		return 0, fmt.Errorf("%s: %w", key, model.ErrDataUnavailable)
	}
	c, err := decode(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if age := q.now().Sub(c.TS); age > q.maxAge {
		return 0, fmt.Errorf("%s stale by %s: %w", key, age.Round(time.Second), model.ErrDataUnavailable)
	}
	if c.Close <= 0 {
		return 0, fmt.Errorf("%s: non-positive close: %w", key, model.ErrDataUnavailable)
	}
	return model.Paise(c.Close), nil
}
