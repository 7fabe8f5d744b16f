package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"optguard/internal/broker"
	"optguard/internal/markethours"
	"optguard/internal/model"
	"optguard/internal/store/redis"
)

// CandleMeta describes where a candle series came from.
type CandleMeta struct {
	Source   string
	Exchange string
	Interval string
	From     time.Time
	To       time.Time
}

// CandleSource yields the recent candle history used for the trend read.
type CandleSource interface {
	Candles(ctx context.Context, now time.Time) ([]model.Candle, CandleMeta, error)
}

var intervals = map[string]time.Duration{
	"ONE_MINUTE":     time.Minute,
	"THREE_MINUTE":   3 * time.Minute,
	"FIVE_MINUTE":    5 * time.Minute,
	"TEN_MINUTE":     10 * time.Minute,
	"FIFTEEN_MINUTE": 15 * time.Minute,
	"THIRTY_MINUTE":  30 * time.Minute,
	"ONE_HOUR":       time.Hour,
}

// IntervalDuration maps a SmartAPI interval name to its bar length.
func IntervalDuration(interval string) (time.Duration, bool) {
	d, ok := intervals[interval]
	return d, ok
}

// FallbackExchanges is the order in which exchanges are tried for the
// trend instrument; index tokens live under different segments.
func FallbackExchanges(preferred string) []string {
	all := []string{preferred, "NSE", "NSE_INDICES", "INDICES", "CDS"}
	seen := make(map[string]bool, len(all))
	out := all[:0:0]
	for _, ex := range all {
		if ex == "" || seen[ex] {
			continue
		}
		seen[ex] = true
		out = append(out, ex)
	}
	return out
}

// BrokerCandles reads historical candles from the broker over the last
// lookback of the most recent session, trying exchanges in order until one
// returns data.
type BrokerCandles struct {
	Broker    broker.Broker
	Exchanges []string
	Token     string
	Interval  string
	Lookback  time.Duration
}

func (b BrokerCandles) Candles(ctx context.Context, now time.Time) ([]model.Candle, CandleMeta, error) {
	from, to := markethours.LastSession(now, b.Lookback)
	meta := CandleMeta{Source: "broker", Interval: b.Interval, From: from, To: to}
	var errs []error
	for _, ex := range b.Exchanges {
		cs, err := b.Broker.Candles(ctx, broker.CandleQuery{
			Exchange: ex, Token: b.Token, Interval: b.Interval, From: from, To: to,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ex, err))
			continue
		}
		if len(cs) > 0 {
			meta.Exchange = ex
			return cs, meta, nil
		}
	}
	errs = append(errs, fmt.Errorf("no candles for token %s on %v: %w", b.Token, b.Exchanges, model.ErrDataUnavailable))
	return nil, meta, errors.Join(errs...)
}

// RedisCandles reads closed candles from the market-data engine's streams.
type RedisCandles struct {
	Src      *redis.CandleSource
	Exchange string
	Token    string
	Interval string
	Lookback time.Duration
}

func (r RedisCandles) Candles(ctx context.Context, now time.Time) ([]model.Candle, CandleMeta, error) {
	from, to := markethours.LastSession(now, r.Lookback)
	meta := CandleMeta{Source: "redis", Exchange: r.Exchange, Interval: r.Interval, From: from, To: to}
	tf, ok := IntervalDuration(r.Interval)
	if !ok {
		return nil, meta, fmt.Errorf("unsupported interval %q", r.Interval)
	}
	count := int64(r.Lookback/tf) + 2
	cs, err := r.Src.Recent(ctx, tf, r.Exchange, r.Token, from, to, count)
	if err != nil {
		return nil, meta, err
	}
	return cs, meta, nil
}

// FirstCandles returns the first source that yields candles.
type FirstCandles []CandleSource

func (f FirstCandles) Candles(ctx context.Context, now time.Time) ([]model.Candle, CandleMeta, error) {
	var errs []error
	var meta CandleMeta
	for _, s := range f {
		cs, m, err := s.Candles(ctx, now)
		if err == nil && len(cs) > 0 {
			return cs, m, nil
		}
		meta = m
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		errs = append(errs, model.ErrDataUnavailable)
	}
	return nil, meta, errors.Join(errs...)
}
