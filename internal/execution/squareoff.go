package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"optguard/internal/broker"
	"optguard/internal/metrics"
	"optguard/internal/model"
	"optguard/internal/orders"
	"optguard/internal/store/sqlite"
)

// OpenPositions lists the non-flat intraday rows to flatten.
type OpenPositions interface {
	OpenIntraday(ctx context.Context) ([]model.Position, error)
}

// SquareOff flattens every open intraday position with market orders. It
// is risk-reducing and therefore never consults the trading mode.
type SquareOff struct {
	Broker    broker.Broker
	Positions OpenPositions
	Journal   Journal
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	RunID     string
}

// RowResult is the outcome for one position row.
type RowResult struct {
	Symbol  string
	Side    model.Side
	Qty     int64
	OrderID string
	Err     error
}

// SquareOffResult counts what the sweep did.
type SquareOffResult struct {
	Placed    int
	Failed    int
	Cancelled int
	Rows      []RowResult
}

// Err joins the per-row failures, or nil when every row was placed.
func (r SquareOffResult) Err() error {
	if r.Failed == 0 {
		return nil
	}
	var msgs []string
	for _, row := range r.Rows {
		if row.Err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v", row.Symbol, row.Err))
		}
	}
	return fmt.Errorf("square-off: %d of %d rows failed: %s", r.Failed, len(r.Rows), strings.Join(msgs, "; "))
}

// Run reads positions, cancels working stop orders on the affected
// instruments, then places one opposite market order per row. Row
// failures are collected; only a failed position read aborts the sweep.
func (s *SquareOff) Run(ctx context.Context) (SquareOffResult, error) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	var res SquareOffResult

	open, err := s.Positions.OpenIntraday(ctx)
	if err != nil {
		return res, fmt.Errorf("square-off positions: %w", err)
	}
	if len(open) == 0 {
		log.Info("square-off: nothing open")
		return res, nil
	}

	res.Cancelled = s.cancelStops(ctx, log, open)

	for _, p := range open {
		side := model.Sell
		qty := p.Qty
		if qty < 0 {
			side, qty = model.Buy, -qty
		}
		row := RowResult{Symbol: p.Symbol, Side: side, Qty: qty}

		o, err := orders.MarketExit(orders.Intent{
			Symbol: p.Symbol, Token: p.Token, Exchange: p.Exchange,
			Side: side, Qty: qty, Product: orders.ProductIntraday,
		})
		if err == nil {
			row.OrderID, err = s.Broker.Place(ctx, o)
		}
		row.Err = err
		s.record(ctx, row, p)

		if err != nil {
			res.Failed++
			log.Error("square-off row failed", "symbol", p.Symbol, "qty", qty, "side", string(side), "error", err)
		} else {
			res.Placed++
			log.Info("square-off row placed", "symbol", p.Symbol, "qty", qty, "side", string(side), "order_id", row.OrderID)
		}
		if m := s.Metrics; m != nil {
			label := "placed"
			if err != nil {
				label = "failed"
			}
			m.SquareOffRows.WithLabelValues(label).Inc()
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// cancelStops is best effort: a failed book read or cancel is logged and
// the sweep continues.
func (s *SquareOff) cancelStops(ctx context.Context, log *slog.Logger, open []model.Position) int {
	book, err := s.Broker.OrderBook(ctx)
	if err != nil {
		log.Warn("square-off: order book unavailable, stops not cancelled", "error", err)
		return 0
	}
	affected := make(map[string]bool, len(open))
	for _, p := range open {
		affected[strings.ToUpper(p.Symbol)] = true
		if p.Token != "" {
			affected["#"+p.Token] = true
		}
	}
	n := 0
	for _, e := range book {
		if e.Variety != orders.VarietyStopLoss || !e.Working() {
			continue
		}
		if !affected[strings.ToUpper(e.Symbol)] && !(e.Token != "" && affected["#"+e.Token]) {
			continue
		}
		if err := s.Broker.Cancel(ctx, e.OrderID, orders.VarietyStopLoss); err != nil {
			log.Warn("square-off: stop cancel failed", "order_id", e.OrderID, "symbol", e.Symbol, "error", err)
			continue
		}
		n++
	}
	return n
}

func (s *SquareOff) record(ctx context.Context, row RowResult, p model.Position) {
	if s.Journal == nil {
		return
	}
	e := sqlite.Event{
		RunID:   s.RunID,
		Kind:    sqlite.KindSquareOff,
		OrderID: row.OrderID,
		Symbol:  row.Symbol,
		Side:    string(row.Side),
		Qty:     row.Qty,
		Price:   p.AvgPrice,
		OK:      row.Err == nil,
		At:      time.Now(),
	}
	if row.Err != nil {
		e.Detail = row.Err.Error()
	}
	_ = s.Journal.Record(ctx, e)
}
