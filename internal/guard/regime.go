package guard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"optguard/internal/execution"
	"optguard/internal/indicator"
	"optguard/internal/markethours"
	"optguard/internal/metrics"
	"optguard/internal/notification"
	"optguard/internal/state"
	"optguard/internal/store/sqlite"
)

const switchGuardName = "trend_switch"

// Regime labels.
const (
	RegimeTrending = "Trending"
	RegimeRange    = "Range"
	RegimeNeutral  = "Neutral"
)

// SwitchConfig holds the switch guard knobs.
type SwitchConfig struct {
	Enabled    bool
	MinCandles int
	Votes      int
	Cooldown   time.Duration
	MaxPerDay  int

	ADXPeriod int
	ADXTrend  float64
	ADXRange  float64

	TrendStrategy   string
	RangeStrategy   string
	DefaultStrategy string // used when the record has no strategy yet
}

// DefaultSwitchConfig returns the stock knobs.
func DefaultSwitchConfig() SwitchConfig {
	return SwitchConfig{
		Enabled:         true,
		MinCandles:      20,
		Votes:           2,
		Cooldown:        15 * time.Minute,
		MaxPerDay:       3,
		ADXPeriod:       indicator.DefaultADXPeriod,
		ADXTrend:        20,
		ADXRange:        18,
		TrendStrategy:   "breakout_atr",
		RangeStrategy:   "pcr_momentum_oi",
		DefaultStrategy: "pcr_momentum_oi",
	}
}

// Classify maps an ADX reading to a regime and the strategy it wants. A
// neutral reading keeps current.
func (c SwitchConfig) Classify(adx float64, current string) (regime, want string) {
	switch {
	case adx >= c.ADXTrend:
		return RegimeTrending, c.TrendStrategy
	case adx <= c.ADXRange:
		return RegimeRange, c.RangeStrategy
	default:
		return RegimeNeutral, current
	}
}

// SwitchGuard swaps the active strategy when the market regime changes,
// after a vote quorum and subject to a cooldown and a daily cap.
type SwitchGuard struct {
	Cfg       SwitchConfig
	Store     *state.Store
	Votes     *state.VoteStore
	Log       *state.SwitchLog
	Candles   CandleSource
	Restarter Restarter // nil skips the restart signal
	Alerts    *notification.Alerter
	Journal   execution.Journal
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	RunID     string

	Now func() time.Time
}

// Run evaluates the regime once.
func (g *SwitchGuard) Run(ctx context.Context) Status {
	if !g.Cfg.Enabled {
		return newStatus(switchGuardName, OutcomeSkip, "disabled")
	}
	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}

	rec, err := g.Store.Load()
	if err != nil {
		g.alerts().Critical(ctx, "TrendSwitch error", fmt.Sprintf("state unreadable: %v", err))
		return Status{Guard: switchGuardName, Outcome: OutcomeError, Reason: "state unreadable", Err: err}
	}
	cur := rec.Strategy
	if cur == "" {
		cur = g.Cfg.DefaultStrategy
	}

	candles, meta, err := g.Candles.Candles(ctx, now)
	if err != nil {
		g.alerts().Warn(ctx, "TrendCheck failed", err.Error())
		return newStatus(switchGuardName, OutcomeHold, "candles unavailable",
			"source", meta.Source, "detail", err.Error())
	}
	if len(candles) < g.Cfg.MinCandles {
		return newStatus(switchGuardName, OutcomeHold, "not enough candles",
			"candles", len(candles), "need", g.Cfg.MinCandles)
	}

	adx := round2(indicator.ComputeADX(candles, g.Cfg.ADXPeriod))
	if g.Metrics != nil {
		g.Metrics.TrendADX.Set(adx)
	}
	regime, want := g.Cfg.Classify(adx, cur)
	read := []any{"adx", adx, "regime", regime, "candles", len(candles), "exchange", meta.Exchange, "source", meta.Source}

	if want == cur {
		if err := g.Votes.Reset(want, now.Unix()); err != nil {
			return g.fail(ctx, "vote reset", err)
		}
		return newStatus(switchGuardName, OutcomeNop, "", append([]any{"strategy", cur}, read...)...)
	}

	v := g.Votes.Load()
	if v.Want == want {
		v.Count++
	} else {
		v = state.Vote{Want: want, Count: 1}
	}
	v.TS = now.Unix()
	if err := g.Votes.Save(v); err != nil {
		return g.fail(ctx, "vote save", err)
	}
	if v.Count < g.Cfg.Votes {
		return newStatus(switchGuardName, OutcomeVote, "",
			append([]any{"want", want, "vote", v.Count, "need", g.Cfg.Votes}, read...)...)
	}

	last, ok, err := g.Log.LastSwitch()
	if err != nil {
		return g.fail(ctx, "switch log", err)
	}
	if ok {
		if since := now.Sub(last); since < g.Cfg.Cooldown {
			left := int((g.Cfg.Cooldown-since)/time.Minute) + 1
			return newStatus(switchGuardName, OutcomeReject, "cooldown",
				"wait_min", left, "cooldown_min", int(g.Cfg.Cooldown/time.Minute), "want", want)
		}
	}
	today, err := g.Log.CountOn(now, markethours.IST)
	if err != nil {
		return g.fail(ctx, "switch log", err)
	}
	if g.Cfg.MaxPerDay > 0 && today >= g.Cfg.MaxPerDay {
		return newStatus(switchGuardName, OutcomeReject, "cap",
			"today", today, "max_per_day", g.Cfg.MaxPerDay, "want", want)
	}

	if _, _, err := g.Store.Update(func(r *state.Record) error {
		r.Strategy = want
		return nil
	}); err != nil {
		return g.fail(ctx, "persist strategy", err)
	}
	entry := state.SwitchLogEntry{
		Event: state.EventSwitched, From: cur, To: want,
		ADX: adx, Status: regime, TS: now.Unix(),
	}
	if err := g.Log.Append(entry); err != nil {
		g.logger().Warn("switch log append failed", "error", err)
	}
	if err := g.Votes.Reset("", now.Unix()); err != nil {
		g.logger().Warn("vote reset failed", "error", err)
	}

	restart := "ok"
	if g.Restarter != nil {
		if err := g.Restarter.Restart(ctx, want, state.EventSwitched); err != nil {
			restart = err.Error()
			g.alerts().Warn(ctx, "Restart signal failed", err.Error())
		}
	} else {
		restart = "not configured"
	}

	g.alerts().Info(ctx, "Strategy switched", fmt.Sprintf("%s -> %s (ADX %.1f, %s)", cur, want, adx, regime))
	if g.Journal != nil {
		_ = g.Journal.Record(ctx, sqlite.Event{
			RunID: g.RunID, Kind: sqlite.KindSwitch, OK: true, At: now,
			Detail: fmt.Sprintf("%s->%s adx=%.2f %s restart=%s", cur, want, adx, regime, restart),
		})
	}
	return newStatus(switchGuardName, OutcomeSwitched, "",
		append([]any{"from", cur, "to", want, "restart", restart}, read...)...)
}

func (g *SwitchGuard) fail(ctx context.Context, stage string, err error) Status {
	g.alerts().Critical(ctx, "TrendSwitch error", fmt.Sprintf("%s: %v", stage, err))
	return Status{Guard: switchGuardName, Outcome: OutcomeError, Reason: stage, Err: err}
}

func (g *SwitchGuard) alerts() *notification.Alerter {
	if g.Alerts == nil {
		g.Alerts = notification.NewAlerter(nil, 0, g.Logger)
	}
	return g.Alerts
}

func (g *SwitchGuard) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
