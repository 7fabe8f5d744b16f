package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"optguard/internal/model"
	"optguard/internal/orders"
	"optguard/internal/retry"
	"optguard/pkg/smartconnect"
)

// API is the subset of *smartconnect.SmartConnect used by the adapter.
type API interface {
	LTPData(ctx context.Context, exchange, tradingSymbol, symbolToken string) (map[string]any, error)
	OrderBook(ctx context.Context) (map[string]any, error)
	Position(ctx context.Context) (map[string]any, error)
	GetCandleData(ctx context.Context, params map[string]any) (map[string]any, error)
	PlaceOrder(ctx context.Context, params map[string]any) (string, error)
	ModifyOrder(ctx context.Context, params map[string]any) (map[string]any, error)
	CancelOrder(ctx context.Context, orderID, variety string) (map[string]any, error)
}

// SmartAPI adapts the SmartAPI REST client. Every call goes through the
// retry executor; an expired session is re-established once via Relogin.
type SmartAPI struct {
	api     API
	exec    *retry.Executor
	log     *slog.Logger
	Relogin func(ctx context.Context) error
}

const candleTimeFormat = "2006-01-02 15:04"

func NewSmartAPI(api API, exec *retry.Executor, logger *slog.Logger) *SmartAPI {
	if exec == nil {
		exec = retry.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SmartAPI{api: api, exec: exec, log: logger}
}

func call[T any](ctx context.Context, s *SmartAPI, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := retry.Do(ctx, s.exec, op, fn)
	if err == nil || s.Relogin == nil || !errors.Is(err, smartconnect.ErrSessionExpired) {
		return v, err
	}
	s.log.Warn("session expired, logging in again", "op", op)
	if lerr := s.Relogin(ctx); lerr != nil {
		return v, fmt.Errorf("%s: relogin: %w", op, lerr)
	}
	return retry.Do(ctx, s.exec, op, fn)
}

func (s *SmartAPI) LTP(ctx context.Context, exchange, symbol, token string) (model.Paise, error) {
	res, err := call(ctx, s, "ltpData", func(ctx context.Context) (map[string]any, error) {
		return s.api.LTPData(ctx, exchange, symbol, token)
	})
	if err != nil {
		return 0, err
	}
	for _, row := range rows(res["data"]) {
		if f, ok := firstNum(row, "ltp", "last_traded_price"); ok && f > 0 {
			return model.FromRupees(f), nil
		}
	}
	return 0, fmt.Errorf("ltp %s:%s: %w", exchange, symbol, model.ErrDataUnavailable)
}

func (s *SmartAPI) OrderBook(ctx context.Context) ([]model.OrderBookEntry, error) {
	res, err := call(ctx, s, "orderBook", s.api.OrderBook)
	if err != nil {
		return nil, err
	}
	rs := rows(res["data"])
	out := make([]model.OrderBookEntry, 0, len(rs))
	for _, r := range rs {
		o := toOrder(r)
		if o.OrderID == "" {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *SmartAPI) Positions(ctx context.Context) ([]model.Position, error) {
	res, err := call(ctx, s, "position", s.api.Position)
	if err != nil {
		return nil, err
	}
	rs := rows(res["data"])
	out := make([]model.Position, 0, len(rs))
	for _, r := range rs {
		if p, ok := toPosition(r); ok {
			out = append(out, p)
		} else {
			s.log.Debug("position row without net quantity", "symbol", str(r, "tradingsymbol"))
		}
	}
	return out, nil
}

func (s *SmartAPI) Candles(ctx context.Context, q CandleQuery) ([]model.Candle, error) {
	params := map[string]any{
		"exchange":    q.Exchange,
		"symboltoken": q.Token,
		"interval":    q.Interval,
		"fromdate":    q.From.Format(candleTimeFormat),
		"todate":      q.To.Format(candleTimeFormat),
	}
	res, err := call(ctx, s, "getCandleData", func(ctx context.Context) (map[string]any, error) {
		return s.api.GetCandleData(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	raw, _ := res["data"].([]any)
	out := make([]model.Candle, 0, len(raw))
	for _, v := range raw {
		if c, ok := toCandle(v); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *SmartAPI) Place(ctx context.Context, o orders.Order) (string, error) {
	return call(ctx, s, "placeOrder", func(ctx context.Context) (string, error) {
		return s.api.PlaceOrder(ctx, o.Params())
	})
}

func (s *SmartAPI) Modify(ctx context.Context, o orders.Order) error {
	_, err := call(ctx, s, "modifyOrder", func(ctx context.Context) (map[string]any, error) {
		return s.api.ModifyOrder(ctx, o.Params())
	})
	return err
}

func (s *SmartAPI) Cancel(ctx context.Context, orderID, variety string) error {
	_, err := call(ctx, s, "cancelOrder", func(ctx context.Context) (map[string]any, error) {
		return s.api.CancelOrder(ctx, orderID, variety)
	})
	return err
}
