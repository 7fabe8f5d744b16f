package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"optguard/internal/broker"
	"optguard/internal/model"
)

func TestFallbackExchanges(t *testing.T) {
	require.Equal(t, []string{"NFO", "NSE", "NSE_INDICES", "INDICES", "CDS"}, FallbackExchanges("NFO"))
	require.Equal(t, []string{"NSE", "NSE_INDICES", "INDICES", "CDS"}, FallbackExchanges("NSE"))
	require.Equal(t, []string{"NSE", "NSE_INDICES", "INDICES", "CDS"}, FallbackExchanges(""))
}

func TestIntervalDuration(t *testing.T) {
	d, ok := IntervalDuration("FIVE_MINUTE")
	require.True(t, ok)
	require.Equal(t, 5*time.Minute, d)
	_, ok = IntervalDuration("ONE_DAY")
	require.False(t, ok)
}

type candleBroker struct {
	broker.Broker
	byExchange map[string][]model.Candle
	asked      []string
}

func (b *candleBroker) Candles(_ context.Context, q broker.CandleQuery) ([]model.Candle, error) {
	b.asked = append(b.asked, q.Exchange)
	if cs, ok := b.byExchange[q.Exchange]; ok {
		return cs, nil
	}
	return nil, errors.New("AB1019: no data")
}

func TestBrokerCandles_FallsBackAcrossExchanges(t *testing.T) {
	b := &candleBroker{byExchange: map[string][]model.Candle{"NSE_INDICES": rising(20)}}
	src := BrokerCandles{
		Broker: b, Exchanges: FallbackExchanges("NSE"), Token: "99926000",
		Interval: "FIVE_MINUTE", Lookback: 2 * time.Hour,
	}
	cs, meta, err := src.Candles(context.Background(), monday)
	require.NoError(t, err)
	require.Len(t, cs, 20)
	require.Equal(t, "NSE_INDICES", meta.Exchange)
	require.Equal(t, []string{"NSE", "NSE_INDICES"}, b.asked)
}

func TestBrokerCandles_NothingAnywhere(t *testing.T) {
	b := &candleBroker{byExchange: map[string][]model.Candle{"NSE": nil}}
	src := BrokerCandles{Broker: b, Exchanges: []string{"NSE", "CDS"}, Token: "1", Interval: "FIVE_MINUTE", Lookback: time.Hour}
	_, _, err := src.Candles(context.Background(), monday)
	require.ErrorIs(t, err, model.ErrDataUnavailable)
	require.Equal(t, []string{"NSE", "CDS"}, b.asked)
}

func TestFirstCandles(t *testing.T) {
	first := fakeCandles{err: errors.New("redis: circuit breaker open")}
	second := fakeCandles{cs: flat(3)}
	cs, meta, err := FirstCandles{first, second}.Candles(context.Background(), monday)
	require.NoError(t, err)
	require.Len(t, cs, 3)
	require.Equal(t, "fake", meta.Source)

	_, _, err = FirstCandles{first, fakeCandles{}}.Candles(context.Background(), monday)
	require.Error(t, err)
}
