// Package execution supervises an open long option position and sweeps the
// account: the exit watcher (target, breakeven, trailing stop and end of day
// exits), square-off-all, and mode-gated entries.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"optguard/internal/broker"
	"optguard/internal/markethours"
	"optguard/internal/metrics"
	"optguard/internal/model"
	"optguard/internal/notification"
	"optguard/internal/orders"
	"optguard/internal/store/sqlite"
)

// State is the watcher's outer state.
type State string

const (
	StateWatching   State = "WATCHING"
	StateTargetHit  State = "TARGET_HIT"
	StateEOD        State = "EOD"
	StateStopFilled State = "STOP_FILLED"
	StateErrorAbort State = "ERROR_ABORT"
	StateStopped    State = "STOPPED"
)

// Phase is the monotonic sub-phase while watching.
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseBreakeven
	PhaseTrailing
)

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "INITIAL"
	case PhaseBreakeven:
		return "BREAKEVEN"
	case PhaseTrailing:
		return "TRAILING"
	default:
		return "UNKNOWN"
	}
}

// Watch defaults. Prices are paise.
const (
	DefaultPoll            = 800 * time.Millisecond
	DefaultTickSize        = model.Paise(5)
	DefaultBreakevenOffset = model.Paise(5)
	DefaultStopLimitGap    = model.Paise(5)
	DefaultMinStep         = model.Paise(1)
)

// WatchConfig is fixed for the life of a Watcher.
type WatchConfig struct {
	Exchange string
	Symbol   string
	Token    string
	Qty      int64
	Product  string

	Entry      model.Paise
	Target     model.Paise
	Breakeven  model.Paise
	TrailAbove model.Paise
	TrailGap   model.Paise

	Poll   time.Duration
	Cutoff markethours.Clock

	TickSize        model.Paise
	BreakevenOffset model.Paise // breakeven trigger sits this far below entry
	StopLimitGap    model.Paise // sell stop limit sits this far below its trigger
	MinStep         model.Paise // smallest trigger improvement worth a modify

	// MaxConsecutiveErrors aborts the watch after that many failed price
	// reads in a row. Zero never aborts.
	MaxConsecutiveErrors int
}

func (c WatchConfig) withDefaults() WatchConfig {
	if c.Poll <= 0 {
		c.Poll = DefaultPoll
	}
	if c.TickSize <= 0 {
		c.TickSize = DefaultTickSize
	}
	if c.BreakevenOffset < 0 {
		c.BreakevenOffset = 0
	}
	if c.BreakevenOffset == 0 {
		c.BreakevenOffset = DefaultBreakevenOffset
	}
	if c.StopLimitGap <= 0 {
		c.StopLimitGap = DefaultStopLimitGap
	}
	if c.MinStep <= 0 {
		c.MinStep = DefaultMinStep
	}
	if c.Product == "" {
		c.Product = orders.ProductIntraday
	}
	return c
}

// Validate reports a config the watcher cannot supervise.
func (c WatchConfig) Validate() error {
	var errs []error
	if c.Symbol == "" || c.Token == "" || c.Exchange == "" {
		errs = append(errs, errors.New("exchange, symbol and token are required"))
	}
	if c.Qty <= 0 {
		errs = append(errs, fmt.Errorf("qty must be > 0, got %d", c.Qty))
	}
	if c.Entry <= 0 {
		errs = append(errs, fmt.Errorf("entry must be > 0, got %s", c.Entry))
	}
	if c.Target <= c.Entry {
		errs = append(errs, fmt.Errorf("target %s must be above entry %s", c.Target, c.Entry))
	}
	if c.Breakeven <= 0 || c.TrailAbove <= 0 {
		errs = append(errs, errors.New("breakeven and trail-above must be > 0"))
	}
	if c.TrailGap <= 0 {
		errs = append(errs, fmt.Errorf("trail gap must be > 0, got %s", c.TrailGap))
	}
	if c.Cutoff <= 0 {
		errs = append(errs, errors.New("cutoff is required"))
	}
	return errors.Join(errs...)
}

// Journal records what the watcher did to the account.
type Journal interface {
	Record(ctx context.Context, e sqlite.Event) error
}

// WatcherDeps are the optional collaborators of a Watcher.
type WatcherDeps struct {
	Prices    broker.Quoter // defaults to the broker
	Positions NetQtyReader  // nil exits the configured quantity
	Journal   Journal
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Alerts    *notification.Alerter
	Logger    *slog.Logger
	RunID     string
}

// NetQtyReader reads the open quantity before an exit.
type NetQtyReader interface {
	NetQty(ctx context.Context, exchange, symbol, token string) (int64, error)
}

// StepResult is the outcome of one step of a stop plan.
type StepResult struct {
	Step    string // place, modify, cancel+place
	OrderID string
	Err     error
}

// PlanResult is the outcome of a whole stop plan.
type PlanResult struct {
	Reason  string
	Limit   model.Paise
	Trigger model.Paise
	Steps   []StepResult
	OK      bool
}

// Result summarizes a finished watch.
type Result struct {
	Outcome     State // TARGET_HIT, EOD, STOP_FILLED, ERROR_ABORT, or WATCHING when interrupted
	Phase       Phase
	HighWater   model.Paise
	Stop        *model.StopOrder
	ExitOrderID string
	ExitQty     int64
	Ticks       int
	Err         error
}

// Watcher is the per-position exit state machine. It is single-threaded:
// Run owns all fields.
type Watcher struct {
	cfg WatchConfig
	brk broker.Broker
	d   WatcherDeps
	log *slog.Logger

	state       State
	outcome     State
	pendingExit State
	phase       Phase
	highWater   model.Paise
	stop        *model.StopOrder
	errs        int
	ticks       int
	exitID      string
	exitQty     int64
	lastPrice   model.Paise

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWatcher builds a watcher for cfg on brk. Zero tuning fields take the
// package defaults.
func NewWatcher(cfg WatchConfig, brk broker.Broker, d WatcherDeps) *Watcher {
	if d.Prices == nil {
		d.Prices = brk
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Alerts == nil {
		d.Alerts = notification.NewAlerter(nil, 0, d.Logger)
	}
	cfg = cfg.withDefaults()
	return &Watcher{
		cfg:   cfg,
		brk:   brk,
		d:     d,
		log:   d.Logger.With("symbol", cfg.Symbol, "token", cfg.Token),
		state: StateWatching,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func (w *Watcher) State() State           { return w.state }
func (w *Watcher) Phase() Phase           { return w.phase }
func (w *Watcher) Stop() *model.StopOrder { return w.stop }
func (w *Watcher) HighWater() model.Paise { return w.highWater }
func (w *Watcher) Config() WatchConfig    { return w.cfg }

// Run watches until an exit, an abort, or ctx is cancelled. Cancellation is
// honoured between ticks; the stop order in place is left there.
func (w *Watcher) Run(ctx context.Context) Result {
	if err := w.cfg.Validate(); err != nil {
		w.log.Error("watch config invalid", "error", err)
		w.finish(StateErrorAbort)
		w.d.Alerts.Critical(ctx, "Watcher aborted", fmt.Sprintf("%s: %v", w.cfg.Symbol, err))
		return w.result(err)
	}

	w.discoverStop(context.WithoutCancel(ctx))
	w.log.Info("watch start",
		"qty", w.cfg.Qty,
		"entry", w.cfg.Entry.String(),
		"target", w.cfg.Target.String(),
		"breakeven", w.cfg.Breakeven.String(),
		"trail_above", w.cfg.TrailAbove.String(),
		"trail_gap", w.cfg.TrailGap.String(),
		"cutoff", w.cfg.Cutoff.String(),
		"poll", w.cfg.Poll.String(),
	)

	for {
		w.Tick(context.WithoutCancel(ctx))
		if w.state != StateWatching || ctx.Err() != nil {
			break
		}
		if err := w.sleep(ctx, w.cfg.Poll); err != nil || ctx.Err() != nil {
			break
		}
	}

	if w.state == StateWatching {
		stop := "none"
		if w.stop != nil {
			stop = w.stop.ID + "@" + w.stop.Trigger.String()
		}
		w.log.Warn("watch interrupted, stop left in place", "phase", w.phase.String(), "stop", stop)
		w.state = StateStopped
		return w.result(ctx.Err())
	}
	return w.result(nil)
}

func (w *Watcher) result(err error) Result {
	var stop *model.StopOrder
	if w.stop != nil {
		s := *w.stop
		stop = &s
	}
	outcome := w.outcome
	if outcome == "" {
		outcome = StateWatching
	}
	return Result{
		Outcome:     outcome,
		Phase:       w.phase,
		HighWater:   w.highWater,
		Stop:        stop,
		ExitOrderID: w.exitID,
		ExitQty:     w.exitQty,
		Ticks:       w.ticks,
		Err:         err,
	}
}

// Tick evaluates one poll in priority order: end of day, target,
// breakeven, trailing. It never returns an error; failures are logged,
// counted and retried on the next tick.
func (w *Watcher) Tick(ctx context.Context) {
	if w.state != StateWatching {
		return
	}
	w.ticks++
	if m := w.d.Metrics; m != nil {
		m.WatchTicksTotal.Inc()
	}
	now := w.now()
	brokerOK := true
	defer func() {
		if h := w.d.Health; h != nil {
			h.RecordTick(now, string(w.state), w.phase.String(), brokerOK)
		}
	}()

	if w.pendingExit != "" {
		w.exit(ctx, w.pendingExit)
		return
	}
	if w.cfg.Cutoff.Reached(now) {
		w.log.Info("cutoff reached", "now", now.In(markethours.IST).Format("15:04:05"))
		w.exit(ctx, StateEOD)
		return
	}

	px, err := w.d.Prices.LTP(ctx, w.cfg.Exchange, w.cfg.Symbol, w.cfg.Token)
	if err != nil {
		brokerOK = false
		w.errs++
		if m := w.d.Metrics; m != nil {
			m.WatchTickErrors.Inc()
		}
		w.log.Warn("ltp failed", "error", err, "consecutive", w.errs)
		if n := w.cfg.MaxConsecutiveErrors; n > 0 && w.errs >= n {
			w.abort(ctx, fmt.Errorf("%d consecutive price failures: %w", w.errs, err))
		}
		return
	}
	w.errs = 0
	w.lastPrice = px
	if m := w.d.Metrics; m != nil {
		m.LastPrice.Set(px.Rupees())
	}

	// Trailing waits for the breakeven stop; a failed breakeven move is
	// retried on every tick above the breakeven price.
	switch {
	case px >= w.cfg.Target:
		w.log.Info("target hit", "ltp", px.String())
		w.exit(ctx, StateTargetHit)
	case px >= w.cfg.Breakeven && w.phase < PhaseBreakeven:
		w.breakeven(ctx, px)
	case px >= w.cfg.TrailAbove:
		w.trail(ctx, px)
	}
}

func (w *Watcher) breakeven(ctx context.Context, px model.Paise) {
	trigger := w.cfg.Entry - w.cfg.BreakevenOffset
	if trigger < 0 {
		trigger = 0
	}
	limit, trig := orders.StopPair(trigger, w.cfg.StopLimitGap, w.cfg.TickSize)

	if w.stop != nil && w.stop.Trigger >= trig {
		w.log.Info("stop already at or above breakeven", "stop_trigger", w.stop.Trigger.String(), "breakeven_trigger", trig.String())
		w.setPhase(PhaseBreakeven)
		return
	}
	res := w.applyStop(ctx, "breakeven", limit, trig)
	if res.OK {
		w.setPhase(PhaseBreakeven)
	}
	w.log.Info("breakeven", "ltp", px.String(), "trigger", trig.String(), "limit", limit.String(), "ok", res.OK)
}

func (w *Watcher) trail(ctx context.Context, px model.Paise) {
	if px > w.highWater {
		w.highWater = px
	}
	w.setPhase(PhaseTrailing)

	candidate := w.highWater - w.cfg.TrailGap
	if candidate <= 0 {
		return
	}
	limit, trig := orders.StopPair(candidate, w.cfg.StopLimitGap, w.cfg.TickSize)
	var current model.Paise
	if w.stop != nil {
		current = w.stop.Trigger
	}
	if trig-current <= w.cfg.MinStep {
		return
	}
	res := w.applyStop(ctx, "trail", limit, trig)
	w.log.Info("trail", "ltp", px.String(), "high_water", w.highWater.String(), "trigger", trig.String(), "limit", limit.String(), "ok", res.OK)
}

func (w *Watcher) setPhase(p Phase) {
	if p <= w.phase {
		return
	}
	w.log.Info("phase", "from", w.phase.String(), "to", p.String())
	w.phase = p
	if m := w.d.Metrics; m != nil {
		m.WatchPhase.Set(float64(p))
	}
}

// plan returns the ordered steps for moving the stop.
func (w *Watcher) plan() []string {
	if w.stop == nil {
		return []string{"place"}
	}
	return []string{"modify", "cancel+place"}
}

// applyStop moves the protective stop to (limit, trigger) by walking the
// plan until one step succeeds. On total failure the previous stop stays.
func (w *Watcher) applyStop(ctx context.Context, reason string, limit, trigger model.Paise) PlanResult {
	res := PlanResult{Reason: reason, Limit: limit, Trigger: trigger}
	in := orders.Intent{
		Symbol: w.cfg.Symbol, Token: w.cfg.Token, Exchange: w.cfg.Exchange,
		Side: model.Sell, Qty: w.cfg.Qty, Product: w.cfg.Product,
		Price: limit, Trigger: trigger,
	}

	for _, step := range w.plan() {
		sr := StepResult{Step: step}
		switch step {
		case "modify":
			sr.OrderID = w.stop.ID
			sr.Err = w.modifyStop(ctx, in)
		case "cancel+place":
			sr.OrderID, sr.Err = w.replaceStop(ctx, in)
		case "place":
			sr.OrderID, sr.Err = w.placeStop(ctx, in)
		}
		res.Steps = append(res.Steps, sr)
		if errors.Is(sr.Err, errPositionFlat) {
			w.stopFilled(ctx)
			return res
		}
		if sr.Err == nil {
			res.OK = true
			w.stop = &model.StopOrder{ID: sr.OrderID, Limit: limit, Trigger: trigger, Status: model.StatusTriggerPnd}
			if m := w.d.Metrics; m != nil {
				m.StopTrigger.Set(trigger.Rupees())
			}
			break
		}
		w.log.Warn("stop step failed", "reason", reason, "step", step, "error", sr.Err)
	}
	if !res.OK {
		w.d.Alerts.Warn(ctx, "Stop update failed",
			fmt.Sprintf("%s %s: could not move stop to %s; previous stop stays", w.cfg.Symbol, reason, trigger))
	}
	return res
}

func (w *Watcher) modifyStop(ctx context.Context, in orders.Intent) error {
	o, err := orders.ModifyStop(w.stop.ID, in)
	if err != nil {
		return err
	}
	err = w.brk.Modify(ctx, o)
	w.record(ctx, sqlite.KindStopModify, o.OrderID, o, err)
	return err
}

func (w *Watcher) placeStop(ctx context.Context, in orders.Intent) (string, error) {
	o, err := orders.StopLimit(in)
	if err != nil {
		return "", err
	}
	id, err := w.brk.Place(ctx, o)
	w.record(ctx, sqlite.KindStopPlace, id, o, err)
	return id, err
}

// errPositionFlat stops a stop plan: the old stop filled and nothing is
// left to protect.
var errPositionFlat = errors.New("position flat")

// replaceStop cancels the current stop and places a fresh one for the
// quantity still open. If the cancel fails while the old stop is still
// working, nothing is placed so the position never carries two stops.
func (w *Watcher) replaceStop(ctx context.Context, in orders.Intent) (string, error) {
	filled := false
	if err := w.cancelStop(ctx); err != nil {
		e, found, berr := w.lookupStop(ctx)
		if berr != nil || (found && e.Working()) {
			return "", fmt.Errorf("cancel %s: %w", w.stop.ID, err)
		}
		filled = found && e.Status == model.StatusComplete
	}
	qty, err := w.openQty(ctx, filled)
	if err != nil {
		return "", err
	}
	w.stop = nil
	in.Qty = qty
	return w.placeStop(ctx, in)
}

// openQty is the quantity a new stop must cover. A stop that already
// filled with no readable position counts as flat.
func (w *Watcher) openQty(ctx context.Context, stopFilled bool) (int64, error) {
	if w.d.Positions == nil {
		if stopFilled {
			return 0, errPositionFlat
		}
		return w.cfg.Qty, nil
	}
	n, err := w.d.Positions.NetQty(ctx, w.cfg.Exchange, w.cfg.Symbol, w.cfg.Token)
	switch {
	case err != nil && stopFilled:
		return 0, errPositionFlat
	case err != nil:
		w.log.Warn("net qty unknown, stop sized to configured qty", "error", err)
		return w.cfg.Qty, nil
	case n <= 0:
		return 0, errPositionFlat
	case n < w.cfg.Qty:
		w.log.Info("partial position, stop sized to remainder", "net_qty", n)
		return n, nil
	}
	return w.cfg.Qty, nil
}

// stopFilled ends the watch after the broker-side stop sold the position.
func (w *Watcher) stopFilled(ctx context.Context) {
	var s model.StopOrder
	if w.stop != nil {
		s = *w.stop
	}
	w.log.Warn("stop filled, position flat", "order_id", s.ID, "trigger", s.Trigger.String())
	w.record(ctx, sqlite.KindStopFilled, s.ID, orders.Order{
		Symbol: w.cfg.Symbol, Side: model.Sell, Qty: w.cfg.Qty,
		Price: s.Limit, Trigger: s.Trigger,
	}, nil)
	w.d.Alerts.Warn(ctx, "Stop filled",
		fmt.Sprintf("%s stop %s at %s filled; watch ended", w.cfg.Symbol, s.ID, s.Trigger))
	w.exitID = s.ID
	w.stop = nil
	if m := w.d.Metrics; m != nil {
		m.StopTrigger.Set(0)
	}
	w.finish(StateStopFilled)
}

func (w *Watcher) cancelStop(ctx context.Context) error {
	if w.stop == nil {
		return nil
	}
	err := w.brk.Cancel(ctx, w.stop.ID, orders.VarietyStopLoss)
	w.record(ctx, sqlite.KindStopCancel, w.stop.ID, orders.Order{
		Symbol: w.cfg.Symbol, Side: model.Sell, Qty: w.cfg.Qty,
		Price: w.stop.Limit, Trigger: w.stop.Trigger,
	}, err)
	return err
}

// lookupStop finds the current stop in the order book.
func (w *Watcher) lookupStop(ctx context.Context) (model.OrderBookEntry, bool, error) {
	book, err := w.brk.OrderBook(ctx)
	if err != nil {
		return model.OrderBookEntry{}, false, err
	}
	for _, e := range book {
		if e.OrderID == w.stop.ID {
			return e, true, nil
		}
	}
	return model.OrderBookEntry{}, false, nil
}

// discoverStop adopts a working sell stop already in the order book.
func (w *Watcher) discoverStop(ctx context.Context) {
	book, err := w.brk.OrderBook(ctx)
	if err != nil {
		w.log.Warn("order book unavailable, starting without a stop", "error", err)
		return
	}
	for _, e := range book {
		if !w.isOurStop(e) {
			continue
		}
		w.stop = &model.StopOrder{ID: e.OrderID, Limit: e.Price, Trigger: e.Trigger, Status: e.Status}
		w.log.Info("existing stop found", "order_id", e.OrderID, "trigger", e.Trigger.String(), "limit", e.Price.String(), "status", e.Status)
		if m := w.d.Metrics; m != nil {
			m.StopTrigger.Set(e.Trigger.Rupees())
		}
		return
	}
	w.log.Info("no existing stop")
}

func (w *Watcher) isOurStop(e model.OrderBookEntry) bool {
	if e.Variety != orders.VarietyStopLoss || e.Side != model.Sell || !e.Working() {
		return false
	}
	if e.Exchange != "" && e.Exchange != w.cfg.Exchange {
		return false
	}
	if e.Token != "" {
		return e.Token == w.cfg.Token
	}
	return e.Symbol == w.cfg.Symbol
}

// exit cancels the stop and sells what is still open. A failed exit order
// keeps the watcher in WATCHING with the exit pending, so the next tick
// retries regardless of price.
func (w *Watcher) exit(ctx context.Context, reason State) {
	w.pendingExit = reason

	stopDone := false
	if w.stop != nil {
		if err := w.cancelStop(ctx); err != nil {
			w.log.Warn("stop cancel before exit failed", "order_id", w.stop.ID, "error", err)
			e, found, berr := w.lookupStop(ctx)
			stopDone = berr == nil && found && e.Status == model.StatusComplete
		} else {
			w.stop = nil
			if m := w.d.Metrics; m != nil {
				m.StopTrigger.Set(0)
			}
		}
	}

	qty := w.cfg.Qty
	if w.d.Positions == nil && stopDone {
		w.stopFilled(ctx)
		return
	}
	if w.d.Positions != nil {
		n, err := w.d.Positions.NetQty(ctx, w.cfg.Exchange, w.cfg.Symbol, w.cfg.Token)
		switch {
		case stopDone && (err != nil || n <= 0):
			w.stopFilled(ctx)
			return
		case err != nil:
			w.log.Warn("net qty unknown, exiting configured qty", "error", err)
		case n <= 0:
			w.log.Info("position already flat, no exit order", "net_qty", n)
			w.finishExit(ctx, reason, "", 0)
			return
		case n < qty:
			w.log.Info("partial position, exiting remainder", "net_qty", n)
			qty = n
		}
	}

	o, err := orders.MarketExit(orders.Intent{
		Symbol: w.cfg.Symbol, Token: w.cfg.Token, Exchange: w.cfg.Exchange,
		Side: model.Sell, Qty: qty, Product: w.cfg.Product,
	})
	if err != nil {
		w.abort(ctx, err)
		return
	}
	id, err := w.brk.Place(ctx, o)
	w.record(ctx, sqlite.KindExit, id, o, err)
	if err != nil {
		if m := w.d.Metrics; m != nil {
			m.WatchTickErrors.Inc()
		}
		w.log.Error("exit order failed, retrying next tick", "reason", string(reason), "error", err)
		w.d.Alerts.Critical(ctx, "Exit order failed",
			fmt.Sprintf("%s %s: %v (retrying)", w.cfg.Symbol, reason, err))
		return
	}
	w.finishExit(ctx, reason, id, qty)
}

func (w *Watcher) finishExit(ctx context.Context, reason State, id string, qty int64) {
	w.exitID, w.exitQty = id, qty
	w.log.Info("exit", "reason", string(reason), "order_id", id, "qty", qty, "ltp", w.lastPrice.String())
	w.d.Alerts.Info(ctx, "Position exited",
		fmt.Sprintf("%s %s qty=%d ltp=%s order=%s", w.cfg.Symbol, reason, qty, w.lastPrice, id))
	w.finish(reason)
}

func (w *Watcher) abort(ctx context.Context, err error) {
	w.log.Error("watch aborted", "error", err)
	w.d.Alerts.Critical(ctx, "Watcher aborted", fmt.Sprintf("%s: %v", w.cfg.Symbol, err))
	w.finish(StateErrorAbort)
}

func (w *Watcher) finish(outcome State) {
	w.outcome = outcome
	w.pendingExit = ""
	w.state = StateStopped
	if m := w.d.Metrics; m != nil {
		m.ExitsTotal.WithLabelValues(exitLabel(outcome)).Inc()
	}
}

func exitLabel(s State) string {
	switch s {
	case StateTargetHit:
		return "target"
	case StateEOD:
		return "eod"
	case StateStopFilled:
		return "stop"
	default:
		return "abort"
	}
}

func (w *Watcher) record(ctx context.Context, kind, orderID string, o orders.Order, err error) {
	if m := w.d.Metrics; m != nil && kind != sqlite.KindExit && kind != sqlite.KindStopFilled {
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.StopChangesTotal.WithLabelValues(stopAction(kind), result).Inc()
	}
	if w.d.Journal == nil {
		return
	}
	e := sqlite.Event{
		RunID:   w.d.RunID,
		Kind:    kind,
		OrderID: orderID,
		Symbol:  w.cfg.Symbol,
		Side:    string(o.Side),
		Qty:     o.Qty,
		Price:   o.Price,
		Trigger: o.Trigger,
		OK:      err == nil,
		At:      w.now(),
	}
	if err != nil {
		e.Detail = err.Error()
	}
	if jerr := w.d.Journal.Record(ctx, e); jerr != nil {
		w.log.Warn("journal write failed", "kind", kind, "error", jerr)
	}
}

func stopAction(kind string) string {
	switch kind {
	case sqlite.KindStopPlace:
		return "place"
	case sqlite.KindStopModify:
		return "modify"
	default:
		return "cancel"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
