package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"optguard/internal/execution"
	"optguard/internal/guard"
	"optguard/internal/portfolio"
	redisstore "optguard/internal/store/redis"
	"optguard/pkg/smartconnect"
)

func riskGuardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "risk-guard",
		Short: "Check day PnL against DAILY_SL / DAILY_TP; on breach go DRY and square off",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxOf(cmd)
			b := a.lazyBroker()
			reader := portfolio.NewReader(b)
			g := &guard.RiskGuard{
				Store:   a.store,
				PnL:     a.pnlChain(reader),
				Alerts:  a.alerts,
				Journal: a.eventJournal(),
				Metrics: a.metrics,
				Logger:  a.log,
				RunID:   a.runID,
				DailySL: a.cfg.DailySL,
				DailyTP: a.cfg.DailyTP,
				SquareOff: &execution.SquareOff{
					Broker: b, Positions: reader,
					Journal: a.eventJournal(), Metrics: a.metrics, Logger: a.log, RunID: a.runID,
				},
			}
			return a.finish(ctx, "risk_guard", g.Run(ctx))
		},
	}
}

// pnlChain orders the PnL sources: forced override, the snapshot file when
// RISK_SOURCE=file, broker positions, then a snapshot no older than
// PNL_MAX_AGE.
func (a *app) pnlChain(r *portfolio.Reader) portfolio.Chain {
	var c portfolio.Chain
	if a.cfg.ForcePnL != nil {
		c = append(c, portfolio.Forced(*a.cfg.ForcePnL))
	}
	if a.cfg.RiskSource == "file" {
		c = append(c, portfolio.FileSource{Path: a.cfg.PnLFile})
	}
	c = append(c, portfolio.BrokerSource{R: r})
	if a.cfg.RiskSource != "file" {
		c = append(c, portfolio.FileSource{Path: a.cfg.PnLFile, MaxAge: a.cfg.PnLMaxAge})
	}
	return c
}

func switchGuardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-guard",
		Short: "Read the market regime from ADX and switch the active strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxOf(cmd)
			t := a.cfg.Trend
			sc := guard.DefaultSwitchConfig()
			sc.Enabled = t.Enabled
			sc.MinCandles = t.MinCandles
			sc.Votes = t.Votes
			sc.Cooldown = t.Cooldown
			sc.MaxPerDay = t.MaxPerDay
			sc.ADXPeriod = t.ADXPeriod
			sc.ADXTrend = t.ADXTrend
			sc.ADXRange = t.ADXRange
			sc.TrendStrategy = t.TrendStrategy
			sc.RangeStrategy = t.RangeStrategy

			g := &guard.SwitchGuard{
				Cfg:       sc,
				Store:     a.store,
				Votes:     stateVotes(a),
				Log:       stateSwitchLog(a),
				Candles:   a.candleSource(ctx),
				Restarter: a.restarter(ctx),
				Alerts:    a.alerts,
				Journal:   a.eventJournal(),
				Metrics:   a.metrics,
				Logger:    a.log,
				RunID:     a.runID,
			}
			return a.finish(ctx, "switch_guard", g.Run(ctx))
		},
	}
}

func (a *app) candleSource(ctx context.Context) guard.CandleSource {
	t := a.cfg.Trend
	fromBroker := guard.BrokerCandles{
		Broker:    a.lazyBroker(),
		Exchanges: guard.FallbackExchanges(t.Exchange),
		Token:     t.Token,
		Interval:  t.Interval,
		Lookback:  t.Lookback,
	}
	if t.Source == "broker" {
		return fromBroker
	}
	rdb := a.redis(ctx)
	if rdb == nil {
		return fromBroker
	}
	fromRedis := guard.RedisCandles{
		Src:      redisstore.NewCandleSource(rdb, a.breaker),
		Exchange: t.Exchange,
		Token:    t.Token,
		Interval: t.Interval,
		Lookback: t.Lookback,
	}
	if t.Source == "redis" {
		return fromRedis
	}
	return guard.FirstCandles{fromRedis, fromBroker}
}

func (a *app) restarter(ctx context.Context) guard.Restarter {
	var rs guard.Restarters
	if a.cfg.RestartCmd != "" {
		rs = append(rs, guard.ShellRestarter{Command: a.cfg.RestartCmd, Timeout: 30 * time.Second})
	}
	if rdb := a.redis(ctx); rdb != nil {
		rs = append(rs, guard.PublishRestarter{
			Publisher: redisstore.NewPublisher(rdb, a.cfg.RedisChannel),
			RunID:     a.runID,
		})
	}
	if len(rs) == 0 {
		return nil
	}
	return rs
}

func safetyGateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "safety-gate",
		Short: "Allow live trading only while every safety check passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxOf(cmd)
			g, err := a.safetyGate()
			if err != nil {
				return err
			}
			return a.finish(ctx, "safety_gate", g.Run(ctx))
		},
	}
}

func (a *app) safetyGate() (*guard.SafetyGate, error) {
	w, err := a.cfg.Window()
	if err != nil {
		return nil, err
	}
	return &guard.SafetyGate{
		Cfg: guard.SafetyConfig{
			AutoSwitch:    a.cfg.AutoSwitch,
			SquareOffTime: a.cfg.SquareOffClock(),
			RequiredIP:    a.cfg.RequiredIP,
			Window:        w,
			ConfirmPath:   a.cfg.ConfirmFile,
			LiveTTL:       a.cfg.LiveTTL,
		},
		Store:   a.store,
		IP:      smartconnect.GetPublicIP,
		Alerts:  a.alerts,
		Journal: a.eventJournal(),
		Logger:  a.log,
		RunID:   a.runID,
	}, nil
}

// finish emits the guard status, pushes metrics and sets the exit code.
func (a *app) finish(ctx context.Context, job string, st guard.Status) error {
	st.Emit(ctx, a.log, a.metrics)
	a.push(ctx, "optguard_"+job)
	exitCode = st.ExitCode()
	return nil
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
