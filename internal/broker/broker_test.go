package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"optguard/internal/model"
	"optguard/internal/orders"
	"optguard/internal/retry"
	"optguard/pkg/smartconnect"
)

func fastExec() *retry.Executor {
	return retry.New(retry.Config{Attempts: 3, Base: time.Millisecond, Cap: time.Millisecond})
}

func serve(t *testing.T, body func(path string) (int, string)) *smartconnect.SmartConnect {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, b := body(r.URL.Path)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(b))
	}))
	t.Cleanup(srv.Close)
	return smartconnect.NewSmartConnect(smartconnect.Config{
		APIKey: "k", RootURL: srv.URL, HTTPClient: srv.Client(),
		ClientLocalIP: "127.0.0.1", ClientMAC: "aa:bb:cc:dd:ee:ff",
	})
}

func TestPositionsNormalizesFieldAliases(t *testing.T) {
	sc := serve(t, func(string) (int, string) {
		return 200, `{"status":true,"data":[
			{"tradingsymbol":"NIFTY25OCT25000CE","symboltoken":"111","exchange":"NFO","producttype":"INTRADAY","netqty":"75","pnl":"-1500.50","avgnetprice":"102.35"},
			{"tradingsymbol":"BANKNIFTY","symboltoken":"222","exchange":"nfo","product":"intraday","netQty":-15,"unrealised":250},
			{"tradingsymbol":"NOQTY"}
		]}`
	})
	b := NewSmartAPI(sc, fastExec(), nil)
	ps, err := b.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 2)

	require.Equal(t, int64(75), ps[0].Qty)
	require.Equal(t, model.Paise(-150050), ps[0].PnL)
	require.True(t, ps[0].HasPnL)
	require.Equal(t, model.Paise(10235), ps[0].AvgPrice)

	require.Equal(t, "NFO", ps[1].Exchange)
	require.Equal(t, "INTRADAY", ps[1].Product)
	require.Equal(t, int64(-15), ps[1].Qty)
	require.Equal(t, model.Paise(25000), ps[1].PnL)
}

func TestPositionsSingleObjectAndNull(t *testing.T) {
	sc := serve(t, func(string) (int, string) {
		return 200, `{"status":true,"data":{"tradingsymbol":"X","netqty":"10","netpnl":12}}`
	})
	ps, err := NewSmartAPI(sc, fastExec(), nil).Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 1)

	sc = serve(t, func(string) (int, string) { return 200, `{"status":true,"data":null}` })
	ps, err = NewSmartAPI(sc, fastExec(), nil).Positions(context.Background())
	require.NoError(t, err)
	require.Empty(t, ps)
}

func TestOrderBookAndLTP(t *testing.T) {
	sc := serve(t, func(path string) (int, string) {
		if path == "/rest/secure/angelbroking/order/v1/getLtpData" {
			return 200, `{"status":true,"data":{"ltp":112.45}}`
		}
		return 200, `{"status":true,"data":[{"orderid":"1","tradingsymbol":"X","variety":"STOPLOSS","ordertype":"STOPLOSS_LIMIT","transactiontype":"SELL","quantity":"75","price":"99.90","triggerprice":"99.95","status":"trigger pending"}]}`
	})
	b := NewSmartAPI(sc, fastExec(), nil)

	px, err := b.LTP(context.Background(), "NFO", "X", "1")
	require.NoError(t, err)
	require.Equal(t, model.Paise(11245), px)

	ob, err := b.OrderBook(context.Background())
	require.NoError(t, err)
	require.Len(t, ob, 1)
	require.Equal(t, model.Paise(9995), ob[0].Trigger)
	require.Equal(t, model.Sell, ob[0].Side)
	require.True(t, ob[0].Working())
}

func TestCandles(t *testing.T) {
	sc := serve(t, func(string) (int, string) {
		return 200, `{"status":true,"data":[["2026-10-16T09:15:00+05:30",100,110,95,105,1000],["bad"]]}`
	})
	cs, err := NewSmartAPI(sc, fastExec(), nil).Candles(context.Background(), CandleQuery{Exchange: "NSE", Token: "99926000", Interval: "FIVE_MINUTE"})
	require.NoError(t, err)
	require.Len(t, cs, 1)
	require.Equal(t, model.Paise(11000), cs[0].High)
	require.Equal(t, int64(1000), cs[0].Volume)
}

func TestRateLimitIsRetried(t *testing.T) {
	var calls int32
	sc := serve(t, func(string) (int, string) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 200, `{"status":false,"message":"Access denied because of exceeding access rate"}`
		}
		return 200, `{"status":true,"data":{"orderid":"42"}}`
	})
	o, err := orders.MarketEntry(orders.Intent{Symbol: "X", Token: "1", Exchange: "NFO", Side: model.Buy, Qty: 75})
	require.NoError(t, err)
	id, err := NewSmartAPI(sc, fastExec(), nil).Place(context.Background(), o)
	require.NoError(t, err)
	require.Equal(t, "42", id)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestReloginOnTokenException(t *testing.T) {
	var calls int32
	sc := serve(t, func(string) (int, string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return 403, `{"error_type":"TokenException","message":"Invalid Token"}`
		}
		return 200, `{"status":true,"data":[]}`
	})
	b := NewSmartAPI(sc, fastExec(), nil)
	relogins := 0
	b.Relogin = func(context.Context) error { relogins++; return nil }

	_, err := b.OrderBook(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, relogins)
}

type fixedQuote model.Paise

func (f fixedQuote) LTP(context.Context, string, string, string) (model.Paise, error) {
	return model.Paise(f), nil
}

type mode bool

func (m mode) LiveEnabled() (bool, error) { return bool(m), nil }

func TestPaperFillsAndRestsStops(t *testing.T) {
	p := NewPaper(fixedQuote(10000), nil, 10)
	ctx := context.Background()

	in := orders.Intent{Symbol: "X", Token: "1", Exchange: "NFO", Side: model.Buy, Qty: 50}
	entry, err := orders.MarketEntry(in)
	require.NoError(t, err)
	_, err = p.Place(ctx, entry)
	require.NoError(t, err)

	ps, _ := p.Positions(ctx)
	require.Len(t, ps, 1)
	require.Equal(t, model.Paise(10010), ps[0].AvgPrice)

	stop, err := orders.StopLimit(orders.Intent{Symbol: "X", Token: "1", Exchange: "NFO", Side: model.Sell, Qty: 50, Price: 9500, Trigger: 9505})
	require.NoError(t, err)
	id, err := p.Place(ctx, stop)
	require.NoError(t, err)

	ob, _ := p.OrderBook(ctx)
	require.Len(t, ob, 2)
	require.True(t, ob[1].Working())

	moved, err := orders.ModifyStop(id, orders.Intent{Symbol: "X", Token: "1", Exchange: "NFO", Side: model.Sell, Qty: 50, Price: 9995, Trigger: 10000})
	require.NoError(t, err)
	require.NoError(t, p.Modify(ctx, moved))
	ob, _ = p.OrderBook(ctx)
	require.Equal(t, model.Paise(10000), ob[1].Trigger)

	moved.Variety, moved.Type = orders.VarietyNormal, orders.TypeLimit
	require.Error(t, p.Modify(ctx, moved))

	require.NoError(t, p.Cancel(ctx, id, orders.VarietyStopLoss))
	require.Error(t, p.Cancel(ctx, id, orders.VarietyStopLoss))
}

func TestGatedRoutesEntriesByMode(t *testing.T) {
	paper := NewPaper(fixedQuote(10000), nil, 0)
	o, _ := orders.MarketEntry(orders.Intent{Symbol: "X", Token: "1", Exchange: "NFO", Side: model.Buy, Qty: 1})

	g := &Gated{Broker: paper, Mode: mode(false)}
	_, _, err := g.PlaceEntry(context.Background(), o)
	require.True(t, errors.Is(err, ErrLiveDisabled))

	g.Paper = paper
	_, live, err := g.PlaceEntry(context.Background(), o)
	require.NoError(t, err)
	require.False(t, live)
}
