package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"optguard/internal/broker"
	"optguard/internal/execution"
	"optguard/internal/model"
	"optguard/internal/orders"
	"optguard/internal/portfolio"
	"optguard/internal/state"
)

func stateVotes(a *app) *state.VoteStore     { return state.NewVoteStore(a.cfg.VoteFile) }
func stateSwitchLog(a *app) *state.SwitchLog { return state.NewSwitchLog(a.cfg.SwitchLog) }

func squareOffCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "square-off",
		Short: "Cancel open stop orders and flatten every intraday position at market",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxOf(cmd)
			live, err := a.store.LiveEnabled()
			if err != nil {
				return err
			}
			if !live && !force {
				a.log.Info("square-off skipped", "event", "squareoff_skip", "reason", "not live")
				return nil
			}
			b, err := a.login(ctx)
			if err != nil {
				a.alerts.Critical(ctx, "Square-off failed", err.Error())
				return err
			}
			so := &execution.SquareOff{
				Broker: b, Positions: portfolio.NewReader(b),
				Journal: a.eventJournal(), Metrics: a.metrics, Logger: a.log, RunID: a.runID,
			}
			res, err := so.Run(ctx)
			a.push(ctx, "optguard_square_off")
			if err != nil {
				a.alerts.Critical(ctx, "Square-off failed", err.Error())
				return err
			}
			a.log.Info("square-off done", "event", "squareoff_done",
				"placed", res.Placed, "failed", res.Failed, "cancelled", res.Cancelled)
			if err := res.Err(); err != nil {
				a.alerts.Critical(ctx, "Square-off incomplete", err.Error())
				return err
			}
			if res.Placed > 0 {
				a.alerts.Warn(ctx, "Square-off", fmt.Sprintf("%d positions closed", res.Placed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even when live trading is off")
	return cmd
}

func pnlCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pnl",
		Short: "Write the day PnL snapshot read by the risk guard",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxOf(cmd)
			now := time.Now()
			b, err := a.login(ctx)
			if err != nil {
				_ = portfolio.WriteHeartbeat(a.cfg.Heartbeat, now)
				return err
			}
			pnl, err := portfolio.RefreshSnapshot(ctx, portfolio.NewReader(b), a.cfg.PnLFile, a.cfg.Heartbeat, now)
			if err != nil {
				return err
			}
			a.metrics.DayPnL.Set(pnl.Rupees())
			a.push(ctx, "optguard_pnl")
			a.log.Info("pnl snapshot written", "event", "pnl_snapshot", "pnl", pnl.String(), "path", a.cfg.PnLFile)
			return nil
		},
	}
}

func enterCmd(a *app) *cobra.Command {
	var (
		in   orders.Intent
		side string
		stop rupees
	)
	cmd := &cobra.Command{
		Use:   "enter",
		Short: "Open a position at market with an optional protective stop-limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxOf(cmd)
			in.Side = model.Side(strings.ToUpper(side))
			b, err := a.login(ctx)
			if err != nil {
				return err
			}
			gate := &broker.Gated{
				Broker: b,
				Paper:  broker.NewPaper(b, nil, a.cfg.SlippageBps),
				Mode:   a.store,
				OnPaper: func(o orders.Order) {
					a.log.Info("live off, routing entry to paper", "symbol", o.Symbol, "qty", o.Qty)
				},
			}
			e := &execution.Entry{
				Gate: gate, Limits: a.cfg.Limits,
				Journal: a.eventJournal(), Logger: a.log, RunID: a.runID,
			}
			res, err := e.Place(ctx, execution.EntryRequest{Intent: in, StopTrigger: model.Paise(stop)})
			if err != nil {
				if res.OrderID != "" {
					a.alerts.Critical(ctx, "Entry without stop", err.Error())
				}
				return err
			}
			fmt.Printf("entry %s live=%t stop=%s trigger=%s limit=%s\n",
				res.OrderID, res.Live, res.StopID, res.StopTrigger, res.StopLimit)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Exchange, "exchange", "NFO", "exchange segment")
	f.StringVar(&in.Symbol, "symbol", "", "trading symbol")
	f.StringVar(&in.Token, "token", "", "symbol token")
	f.Int64Var(&in.Qty, "qty", 0, "quantity")
	f.StringVar(&in.Product, "product", orders.ProductIntraday, "product type")
	f.StringVar(&side, "side", string(model.Buy), "BUY or SELL")
	f.StringVar(&in.Tag, "tag", "", "order tag")
	f.Var(&stop, "stop", "protective stop trigger (long entries only)")
	for _, name := range []string{"symbol", "token", "qty"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func stateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show or change the shared mode record",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.store.Load()
			if err != nil {
				return err
			}
			fmt.Println(rec.Summary())
			v := stateVotes(a).Load()
			fmt.Printf("vote want=%s count=%d\n", v.Want, v.Count)
			return nil
		},
	}

	mode := &cobra.Command{
		Use:       "mode live|dry",
		Short:     "Set the trading mode",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"live", "dry"},
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.safetyGate()
			if err != nil {
				return err
			}
			if args[0] == "dry" {
				_, changed, err := g.ForceDry(ctxOf(cmd), "manual")
				if err != nil {
					return err
				}
				a.log.Info("mode set", "event", "mode_set", "live", false, "changed", changed)
				return nil
			}
			rec, err := g.RequestLive(ctxOf(cmd))
			if err != nil {
				a.log.Warn("live refused", "event", "mode_refused", "error", err)
				return err
			}
			a.log.Info("mode set", "event", "mode_set", "live", rec.LiveEnabled())
			return nil
		},
	}

	strategy := &cobra.Command{
		Use:   "strategy NAME",
		Short: "Set the active strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, changed, err := a.store.Update(func(r *state.Record) error {
				r.Strategy = args[0]
				return nil
			})
			if err != nil {
				return err
			}
			a.log.Info("strategy set", "event", "strategy_set", "strategy", args[0], "changed", changed)
			return nil
		},
	}

	var (
		kind  string
		limit int
	)
	journal := &cobra.Command{
		Use:   "journal",
		Short: "List recent journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			j := a.openJournal()
			if j == nil {
				return fmt.Errorf("journal %s unavailable", a.cfg.SQLitePath)
			}
			events, err := j.Recent(ctxOf(cmd), kind, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tKIND\tSYMBOL\tORDER\tPRICE\tTRIGGER\tOK\tDETAIL")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
					e.At.Format(time.DateTime), e.Kind, e.Symbol, e.OrderID, e.Price, e.Trigger, e.OK, e.Detail)
			}
			return tw.Flush()
		},
	}
	journal.Flags().StringVar(&kind, "kind", "", "event kind filter")
	journal.Flags().IntVar(&limit, "limit", 20, "number of events")

	cmd.AddCommand(mode, strategy, journal)
	return cmd
}
