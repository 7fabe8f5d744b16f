package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"optguard/internal/broker"
	"optguard/internal/execution"
	"optguard/internal/markethours"
	"optguard/internal/metrics"
	"optguard/internal/model"
	"optguard/internal/orders"
	"optguard/internal/portfolio"
	redisstore "optguard/internal/store/redis"
)

// rupees is a price flag given in rupees, held in paise.
type rupees model.Paise

func (r *rupees) String() string { return model.Paise(*r).String() }
func (r *rupees) Type() string   { return "rupees" }
func (r *rupees) Set(s string) error {
	p, err := model.ParseRupees(s)
	if err != nil {
		return err
	}
	*r = rupees(p)
	return nil
}

func watchCmd(a *app) *cobra.Command {
	var (
		cfg                           execution.WatchConfig
		entry, target, be, above, gap rupees
		cutoff                        string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Supervise one open long position: breakeven, trailing stop, target and end-of-day exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			clk, err := markethours.ParseClock(cutoff)
			if err != nil {
				return fmt.Errorf("--cutoff: %w", err)
			}
			cfg.Entry, cfg.Target, cfg.Breakeven = model.Paise(entry), model.Paise(target), model.Paise(be)
			cfg.TrailAbove, cfg.TrailGap = model.Paise(above), model.Paise(gap)
			cfg.Cutoff = clk
			return a.watch(ctxOf(cmd), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Exchange, "exchange", "NFO", "exchange segment")
	f.StringVar(&cfg.Symbol, "symbol", "", "trading symbol, e.g. NIFTY25MAR22500CE")
	f.StringVar(&cfg.Token, "token", "", "symbol token")
	f.Int64Var(&cfg.Qty, "qty", 0, "position quantity")
	f.StringVar(&cfg.Product, "product", orders.ProductIntraday, "product type")
	f.Var(&entry, "entry", "entry price")
	f.Var(&target, "target", "target price")
	f.Var(&be, "breakeven", "price that moves the stop to entry")
	f.Var(&above, "trail-above", "price above which the stop trails")
	f.Var(&gap, "trail-gap", "trailing distance below the high")
	f.StringVar(&cutoff, "cutoff", "15:18", "end-of-day exit time (IST)")
	f.DurationVar(&cfg.Poll, "poll", execution.DefaultPoll, "poll interval")
	f.IntVar(&cfg.MaxConsecutiveErrors, "max-errors", 0, "abort after this many failed price reads in a row (0 never aborts)")
	for _, name := range []string{"symbol", "token", "qty", "entry", "target"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *app) watch(parent context.Context, cfg execution.WatchConfig) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := a.login(ctx)
	if err != nil {
		a.alerts.Critical(ctx, "Watcher not started", fmt.Sprintf("%s: %v", cfg.Symbol, err))
		return err
	}

	var prices broker.Quoter = b
	rdb := a.redis(ctx)
	if rdb != nil {
		prices = broker.QuoteChain{redisstore.NewQuoter(rdb, a.breaker, 0), b}
	}

	health := metrics.NewHealthStatus(cfg.Symbol, 10*max(cfg.Poll, execution.DefaultPoll))
	srv := metrics.NewServer(a.cfg.MetricsAddr, a.reg, health)
	srv.Start()
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Stop(shutdown)
	}()

	j := a.openJournal()
	if j != nil {
		health.StartLivenessChecker(ctx, rdb, j.DB(), 10*time.Second)
	} else if rdb != nil {
		health.StartLivenessChecker(ctx, rdb, nil, 10*time.Second)
	}

	w := execution.NewWatcher(cfg, b, execution.WatcherDeps{
		Prices:    prices,
		Positions: portfolio.NewReader(b),
		Journal:   a.eventJournal(),
		Metrics:   a.metrics,
		Health:    health,
		Alerts:    a.alerts,
		Logger:    a.log,
		RunID:     a.runID,
	})
	res := w.Run(ctx)

	a.log.Info("watch done",
		"outcome", string(res.Outcome),
		"phase", res.Phase.String(),
		"high_water", res.HighWater.String(),
		"exit_order_id", res.ExitOrderID,
		"exit_qty", res.ExitQty,
		"ticks", res.Ticks,
	)
	if res.Outcome == execution.StateErrorAbort {
		exitCode = 1
		return res.Err
	}
	return nil
}
