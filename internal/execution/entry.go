package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"optguard/internal/broker"
	"optguard/internal/model"
	"optguard/internal/orders"
	"optguard/internal/portfolio"
	"optguard/internal/store/sqlite"
)

// Entry opens a long position with a market order and optionally parks a
// protective stop-limit under it. When live trading is off the order goes
// to the paper venue instead of the exchange.
type Entry struct {
	Gate     *broker.Gated
	Limits   portfolio.Limits
	Journal  Journal
	Logger   *slog.Logger
	RunID    string
	StopGap  model.Paise // defaults to DefaultStopLimitGap
	TickSize model.Paise // defaults to DefaultTickSize
}

// EntryRequest is one entry. StopTrigger zero places no stop.
type EntryRequest struct {
	Intent      orders.Intent
	StopTrigger model.Paise
}

// EntryResult reports where the entry went.
type EntryResult struct {
	OrderID     string
	Live        bool
	StopID      string
	StopLimit   model.Paise
	StopTrigger model.Paise
}

// Place runs the pre-trade checks, the entry and the stop. A failed stop
// after a filled entry is returned as an error together with the result so
// the caller can protect the position by hand.
func (e *Entry) Place(ctx context.Context, req EntryRequest) (EntryResult, error) {
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	var res EntryResult
	in := req.Intent
	if in.Side == "" {
		in.Side = model.Buy
	}
	if req.StopTrigger > 0 && in.Side != model.Buy {
		return res, &orders.ValidationError{Field: "transactiontype", Reason: "protective stop is only supported for long entries"}
	}

	o, err := orders.MarketEntry(in)
	if err != nil {
		return res, err
	}

	venue := e.Gate.Venue()
	if e.Limits != (portfolio.Limits{}) {
		open, err := portfolio.NewReader(venue).OpenIntraday(ctx)
		if err != nil {
			return res, fmt.Errorf("entry limits: %w", err)
		}
		if err := e.Limits.CheckEntry(open, o.Exchange, o.Symbol, o.Qty); err != nil {
			return res, fmt.Errorf("entry rejected: %w", err)
		}
	}

	res.OrderID, res.Live, err = e.Gate.PlaceEntry(ctx, o)
	e.record(ctx, sqlite.KindEntry, res.OrderID, o, res.Live, err)
	if err != nil {
		return res, fmt.Errorf("entry %s: %w", o.Symbol, err)
	}
	log.Info("entry placed", "symbol", o.Symbol, "qty", o.Qty, "order_id", res.OrderID, "live", res.Live)

	if req.StopTrigger <= 0 {
		return res, nil
	}

	gap, tick := e.StopGap, e.TickSize
	if gap <= 0 {
		gap = DefaultStopLimitGap
	}
	if tick <= 0 {
		tick = DefaultTickSize
	}
	limit, trig := orders.StopPair(req.StopTrigger, gap, tick)
	stopIn := in
	stopIn.Side = model.Sell
	stopIn.Price, stopIn.Trigger = limit, trig
	so, err := orders.StopLimit(stopIn)
	if err != nil {
		return res, fmt.Errorf("entry %s placed, stop invalid: %w", res.OrderID, err)
	}

	stopVenue := e.Gate.Broker
	if !res.Live {
		stopVenue = e.Gate.Paper
	}
	res.StopID, err = stopVenue.Place(ctx, so)
	e.record(ctx, sqlite.KindStopPlace, res.StopID, so, res.Live, err)
	if err != nil {
		log.Error("stop after entry failed", "symbol", o.Symbol, "entry_id", res.OrderID, "error", err)
		return res, fmt.Errorf("entry %s placed, stop failed: %w", res.OrderID, err)
	}
	res.StopLimit, res.StopTrigger = limit, trig
	log.Info("stop placed", "symbol", o.Symbol, "order_id", res.StopID, "trigger", trig.String(), "limit", limit.String())
	return res, nil
}

func (e *Entry) record(ctx context.Context, kind, id string, o orders.Order, live bool, err error) {
	if e.Journal == nil {
		return
	}
	ev := sqlite.Event{
		RunID:   e.RunID,
		Kind:    kind,
		OrderID: id,
		Symbol:  o.Symbol,
		Side:    string(o.Side),
		Qty:     o.Qty,
		Price:   o.Price,
		Trigger: o.Trigger,
		OK:      err == nil,
		Detail:  "venue=paper",
		At:      time.Now(),
	}
	if live {
		ev.Detail = "venue=live"
	}
	if err != nil {
		ev.Detail += " " + err.Error()
	}
	_ = e.Journal.Record(ctx, ev)
}
