package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"optguard/internal/model"
)

type fakeClient struct {
	streams  map[string][]goredis.XMessage // newest first, as XREVRANGE returns
	strings  map[string]string
	err      error
	calls    int
	lastKey  string
	lastN    int64
	channel  string
	messages []string
}

func (f *fakeClient) XRevRangeN(_ context.Context, stream, _, _ string, count int64) *goredis.XMessageSliceCmd {
	f.calls++
	f.lastKey, f.lastN = stream, count
	if f.err != nil {
		return goredis.NewXMessageSliceCmdResult(nil, f.err)
	}
	msgs := f.streams[stream]
	if int64(len(msgs)) > count {
		msgs = msgs[:count]
	}
	return goredis.NewXMessageSliceCmdResult(msgs, nil)
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	f.calls++
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	v, ok := f.strings[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeClient) Publish(_ context.Context, channel string, message interface{}) *goredis.IntCmd {
	f.channel = channel
	f.messages = append(f.messages, message.(string))
	return goredis.NewIntResult(1, f.err)
}

func msg(id, data string) goredis.XMessage {
	return goredis.XMessage{ID: id, Values: map[string]interface{}{"data": data}}
}

func TestStreamKeys(t *testing.T) {
	require.Equal(t, "candle:300s:NSE:26000", StreamKey(300, "NSE", "26000"))
	require.Equal(t, "candle:1s:latest:NFO:43521", LatestKey("NFO", "43521"))
}

func TestCandleSource_RecentOldestFirst(t *testing.T) {
	key := StreamKey(300, "NSE", "26000")
	f := &fakeClient{streams: map[string][]goredis.XMessage{
		key: {
			msg("3-0", `{"ts":"2025-03-03T04:10:00Z","open":103,"high":104,"low":102,"close":103,"forming":true}`),
			msg("2-0", `{"ts":"2025-03-03T04:05:00Z","open":102,"high":105,"low":101,"close":104,"volume":9}`),
			msg("1-0", `{"ts":"2025-03-03T04:00:00Z","open":100,"high":103,"low":99,"close":102,"volume":7}`),
		},
	}}
	src := NewCandleSource(f, nil)

	got, err := src.Recent(context.Background(), 5*time.Minute, "NSE", "26000", time.Time{}, time.Time{}, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, model.Paise(102), got[0].Close)
	require.Equal(t, model.Paise(104), got[1].Close)
	require.True(t, got[0].TS.Before(got[1].TS))
	require.Equal(t, int64(50), f.lastN)
}

func TestCandleSource_WindowFilter(t *testing.T) {
	key := StreamKey(300, "NSE", "26000")
	f := &fakeClient{streams: map[string][]goredis.XMessage{
		key: {
			msg("2-0", `{"ts":"2025-03-03T04:05:00Z","close":104}`),
			msg("1-0", `{"ts":"2025-03-02T09:55:00Z","close":90}`),
		},
	}}
	from := time.Date(2025, 3, 3, 3, 45, 0, 0, time.UTC)
	got, err := NewCandleSource(f, nil).Recent(context.Background(), 5*time.Minute, "NSE", "26000", from, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, model.Paise(104), got[0].Close)
}

func TestCandleSource_EmptyIsUnavailable(t *testing.T) {
	_, err := NewCandleSource(&fakeClient{}, nil).Recent(context.Background(), 5*time.Minute, "NSE", "1", time.Time{}, time.Time{}, 10)
	require.ErrorIs(t, err, model.ErrDataUnavailable)
}

func TestCandleSource_BadPayload(t *testing.T) {
	key := StreamKey(60, "NSE", "1")
	f := &fakeClient{streams: map[string][]goredis.XMessage{key: {msg("1-0", "{not json")}}}
	_, err := NewCandleSource(f, nil).Recent(context.Background(), time.Minute, "NSE", "1", time.Time{}, time.Time{}, 10)
	require.ErrorContains(t, err, "decode candle")
}

func TestCandleSource_BreakerTrips(t *testing.T) {
	f := &fakeClient{err: errors.New("connection refused")}
	src := NewCandleSource(f, NewCircuitBreaker(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := src.Recent(ctx, time.Minute, "NSE", "1", time.Time{}, time.Time{}, 10)
		require.ErrorContains(t, err, "connection refused")
	}
	_, err := src.Recent(ctx, time.Minute, "NSE", "1", time.Time{}, time.Time{}, 10)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 2, f.calls)
}

func TestQuoter_LTP(t *testing.T) {
	now := time.Date(2025, 3, 3, 4, 0, 5, 0, time.UTC)
	f := &fakeClient{strings: map[string]string{
		LatestKey("NFO", "43521"): `{"ts":"2025-03-03T04:00:03Z","close":11250}`,
		LatestKey("NFO", "old"):   `{"ts":"2025-03-03T03:59:00Z","close":11000}`,
	}}
	q := NewQuoter(f, nil, 0)
	q.now = func() time.Time { return now }

	px, err := q.LTP(context.Background(), "NFO", "NIFTY25MAR22500CE", "43521")
	require.NoError(t, err)
	require.Equal(t, model.Paise(11250), px)

	_, err = q.LTP(context.Background(), "NFO", "", "old")
	require.ErrorIs(t, err, model.ErrDataUnavailable)

	_, err = q.LTP(context.Background(), "NFO", "", "missing")
	require.ErrorIs(t, err, model.ErrDataUnavailable)
	require.Equal(t, StateClosed, q.breaker.CurrentState())
}

func TestPublisher_Restart(t *testing.T) {
	f := &fakeClient{}
	p := NewPublisher(f, "")
	n, err := p.Restart(context.Background(), "breakout_atr", "trend_switched", "run1", time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, DefaultControlChannel, f.channel)
	require.JSONEq(t, `{"reason":"trend_switched","strategy":"breakout_atr","run_id":"run1","ts":1700000000}`, f.messages[0])
}
