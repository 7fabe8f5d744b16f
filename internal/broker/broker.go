// Package broker normalizes the remote trading API into the fixed order,
// position and candle types the execution core works with.
//
// Nothing above this package touches raw SmartAPI response maps.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"optguard/internal/model"
	"optguard/internal/orders"
)

// ErrLiveDisabled is returned when a risk-increasing order is refused
// because live trading is off and no paper route is configured.
var ErrLiveDisabled = errors.New("live trading disabled")

// Broker is the capability set the core needs from a trading venue.
type Broker interface {
	LTP(ctx context.Context, exchange, symbol, token string) (model.Paise, error)
	OrderBook(ctx context.Context) ([]model.OrderBookEntry, error)
	Positions(ctx context.Context) ([]model.Position, error)
	Candles(ctx context.Context, q CandleQuery) ([]model.Candle, error)
	Place(ctx context.Context, o orders.Order) (string, error)
	Modify(ctx context.Context, o orders.Order) error
	Cancel(ctx context.Context, orderID, variety string) error
}

// CandleQuery selects historical candles for one instrument.
type CandleQuery struct {
	Exchange string
	Token    string
	Interval string // SmartAPI interval, e.g. FIVE_MINUTE
	From     time.Time
	To       time.Time
}

// ModeReader reports whether real-money orders may be placed.
type ModeReader interface {
	LiveEnabled() (bool, error)
}

// Gated routes risk-increasing orders by mode: to Live when live trading is
// enabled, else to Paper. Everything else is forwarded to Live unchanged, so
// exits, stops and cancellations are never blocked.
type Gated struct {
	Broker         // live venue
	Paper   Broker // may be nil
	Mode    ModeReader
	OnPaper func(o orders.Order)
}

// PlaceEntry places an opening order subject to the mode gate.
func (g *Gated) PlaceEntry(ctx context.Context, o orders.Order) (id string, live bool, err error) {
	on, err := g.Mode.LiveEnabled()
	if err != nil {
		on = false
	}
	if on {
		id, err = g.Broker.Place(ctx, o)
		return id, true, err
	}
	if g.Paper == nil {
		return "", false, ErrLiveDisabled
	}
	if g.OnPaper != nil {
		g.OnPaper(o)
	}
	id, err = g.Paper.Place(ctx, o)
	return id, false, err
}

// Venue returns the broker that entries currently go to.
func (g *Gated) Venue() Broker {
	if on, err := g.Mode.LiveEnabled(); err == nil && on {
		return g.Broker
	}
	if g.Paper != nil {
		return g.Paper
	}
	return g.Broker
}

// QuoteChain asks each Quoter in order and returns the first price. The
// usual chain is the market-data engine's Redis feed, then the broker.
type QuoteChain []Quoter

func (c QuoteChain) LTP(ctx context.Context, exchange, symbol, token string) (model.Paise, error) {
	var errs []error
	for _, q := range c {
		px, err := q.LTP(ctx, exchange, symbol, token)
		if err == nil && px > 0 {
			return px, nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %s", px)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return 0, fmt.Errorf("ltp %s: no quote source: %w", symbol, model.ErrDataUnavailable)
	}
	return 0, fmt.Errorf("ltp %s: %w", symbol, errors.Join(errs...))
}
