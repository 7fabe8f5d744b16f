package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"optguard/internal/execution"
	"optguard/internal/markethours"
	"optguard/internal/metrics"
	"optguard/internal/model"
	"optguard/internal/notification"
	"optguard/internal/state"
	"optguard/internal/store/sqlite"
)

const riskGuardName = "risk_guard"

// PnLChain yields day PnL and the name of the source that produced it.
type PnLChain interface {
	DayPnL(ctx context.Context) (model.Paise, string, error)
}

// SquareOffer flattens the account.
type SquareOffer interface {
	Run(ctx context.Context) (execution.SquareOffResult, error)
}

// RiskGuard enforces the daily stop-loss and take-profit. A zero limit is
// disabled.
type RiskGuard struct {
	Store     *state.Store
	PnL       PnLChain
	SquareOff SquareOffer // nil skips the sweep
	Alerts    *notification.Alerter
	Journal   execution.Journal
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	RunID     string

	DailySL model.Paise
	DailyTP model.Paise

	Now func() time.Time
}

// Breach returns the breach reason for pnl, or "" when within limits.
func Breach(pnl, sl, tp model.Paise) string {
	if sl != 0 && pnl <= -sl.Abs() {
		return fmt.Sprintf("Daily SL hit: %s <= -%s", pnl, sl.Abs())
	}
	if tp != 0 && pnl >= tp.Abs() {
		return fmt.Sprintf("Daily TP hit: %s >= %s", pnl, tp.Abs())
	}
	return ""
}

// Run evaluates the limits once. It never guesses: without a PnL figure it
// reports unknown and does nothing.
func (g *RiskGuard) Run(ctx context.Context) Status {
	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}

	rec, err := g.Store.Load()
	if err != nil {
		g.alerts().Critical(ctx, "Risk-Guard error", fmt.Sprintf("state unreadable: %v", err))
		return Status{Guard: riskGuardName, Outcome: OutcomeError, Reason: "state unreadable", Err: err}
	}
	if !rec.LiveEnabled() {
		return newStatus(riskGuardName, OutcomeSkip, "not live", "mode", mode(rec))
	}

	pnl, source, err := g.PnL.DayPnL(ctx)
	if err != nil {
		g.alerts().Warn(ctx, "Risk-Guard: PnL unavailable",
			"PnL fetch failed, no action taken. Check data/pnl.json or broker positions.")
		st := newStatus(riskGuardName, OutcomeUnknown, "pnl unavailable")
		if !errors.Is(err, model.ErrDataUnavailable) {
			st.Err = err
		} else {
			st.Attrs = append(st.Attrs, "detail", err.Error())
		}
		return st
	}
	if g.Metrics != nil {
		g.Metrics.DayPnL.Set(pnl.Rupees())
	}

	reason := Breach(pnl, g.DailySL, g.DailyTP)
	if reason == "" {
		return newStatus(riskGuardName, OutcomeOK, "", "pnl", pnl.String(), "source", source)
	}

	day := markethours.Day(now)
	_, _, flipErr := g.Store.Update(func(r *state.Record) error {
		r.Live = false
		r.Dry = true
		r.HaltedOn = day
		return nil
	})

	action := "LIVE=0, DRY=1 (trading paused for safety)"
	if flipErr != nil {
		action = fmt.Sprintf("mode flip FAILED: %v", flipErr)
	}

	sweep := "square-off not configured"
	if g.SquareOff != nil {
		res, err := g.SquareOff.Run(ctx)
		switch {
		case err != nil:
			sweep = fmt.Sprintf("square-off failed: %v", err)
		case res.Failed > 0:
			sweep = fmt.Sprintf("square-off: %d placed, %d failed", res.Placed, res.Failed)
		default:
			sweep = fmt.Sprintf("square-off: %d placed", res.Placed)
		}
	}

	g.alerts().Critical(ctx, "Risk-Guard breach",
		fmt.Sprintf("%s\nAction: %s\n%s", reason, action, sweep))
	g.record(ctx, now, pnl, reason+"; "+sweep, flipErr)

	st := newStatus(riskGuardName, OutcomeBreach, reason,
		"pnl", pnl.String(), "source", source, "halted_on", day, "square_off", sweep)
	if flipErr != nil {
		st.Err = flipErr
	}
	return st
}

func (g *RiskGuard) alerts() *notification.Alerter {
	if g.Alerts == nil {
		g.Alerts = notification.NewAlerter(nil, 0, g.Logger)
	}
	return g.Alerts
}

func (g *RiskGuard) record(ctx context.Context, at time.Time, pnl model.Paise, detail string, err error) {
	if g.Journal == nil {
		return
	}
	_ = g.Journal.Record(ctx, sqlite.Event{
		RunID:  g.RunID,
		Kind:   sqlite.KindBreach,
		Price:  pnl,
		OK:     err == nil,
		Detail: detail,
		At:     at,
	})
}

func mode(r state.Record) string {
	if r.LiveEnabled() {
		return "LIVE"
	}
	return "DRY"
}
