// Package portfolio turns broker position rows into the two figures the
// guards care about: aggregate day PnL and per-symbol net quantity.
package portfolio

import (
	"context"
	"fmt"
	"strings"

	"optguard/internal/model"
)

// PositionSource lists the account's positions.
type PositionSource interface {
	Positions(ctx context.Context) ([]model.Position, error)
}

// Reader normalizes a PositionSource.
type Reader struct {
	src PositionSource
}

func NewReader(src PositionSource) *Reader {
	return &Reader{src: src}
}

// DayPnL sums the pnl of every row. It fails with model.ErrDataUnavailable
// when no row carried a recognizable pnl field.
func (r *Reader) DayPnL(ctx context.Context) (model.Paise, error) {
	ps, err := r.src.Positions(ctx)
	if err != nil {
		return 0, fmt.Errorf("positions: %w: %v", model.ErrDataUnavailable, err)
	}
	var total model.Paise
	found := false
	for _, p := range ps {
		if !p.HasPnL {
			continue
		}
		total += p.PnL
		found = true
	}
	if !found {
		return 0, fmt.Errorf("no pnl in %d position rows: %w", len(ps), model.ErrDataUnavailable)
	}
	return total, nil
}

// NetQty returns the signed net quantity for the instrument. Rows match on
// token when both sides have one, else on trading symbol.
func (r *Reader) NetQty(ctx context.Context, exchange, symbol, token string) (int64, error) {
	ps, err := r.src.Positions(ctx)
	if err != nil {
		return 0, err
	}
	var qty int64
	for _, p := range ps {
		if matches(p, exchange, symbol, token) {
			qty += p.Qty
		}
	}
	return qty, nil
}

func matches(p model.Position, exchange, symbol, token string) bool {
	if exchange != "" && p.Exchange != "" && !strings.EqualFold(p.Exchange, exchange) {
		return false
	}
	if token != "" && p.Token != "" {
		return p.Token == token
	}
	return strings.EqualFold(p.Symbol, symbol)
}

// OpenIntraday returns the non-flat rows with product INTRADAY (or no
// product reported).
func (r *Reader) OpenIntraday(ctx context.Context) ([]model.Position, error) {
	ps, err := r.src.Positions(ctx)
	if err != nil {
		return nil, err
	}
	out := ps[:0:0]
	for _, p := range ps {
		if p.Flat() {
			continue
		}
		if p.Product != "" && p.Product != "INTRADAY" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
