// optguard supervises an Angel One options account: the exit watcher for an
// open position, the scheduled risk, regime and live-safety guards, and the
// manual square-off, entry and PnL snapshot tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"optguard/config"
	"optguard/internal/execution"
	"optguard/internal/logger"
	"optguard/internal/markethours"
	"optguard/internal/metrics"
	"optguard/internal/notification"
	"optguard/internal/retry"
	"optguard/internal/state"
	redisstore "optguard/internal/store/redis"
	"optguard/internal/store/sqlite"
)

var exitCode int

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "optguard",
		Short:         "Execution and risk-control core for an Angel One options account",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Name())
		},
	}

	root.AddCommand(
		watchCmd(a),
		riskGuardCmd(a),
		switchGuardCmd(a),
		safetyGateCmd(a),
		squareOffCmd(a),
		pnlCmd(a),
		enterCmd(a),
		stateCmd(a),
	)

	err := root.Execute()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

// app carries what every subcommand shares.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	runID   string
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	alerts  *notification.Alerter
	store   *state.Store

	journal *sqlite.Journal
	rdb     *goredis.Client
	breaker *redisstore.CircuitBreaker
	closers []func() error
}

func (a *app) init(command string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := markethours.AddHolidays(cfg.Holidays...); err != nil {
		return fmt.Errorf("%w: MARKET_HOLIDAYS: %w", config.ErrInvalid, err)
	}
	a.cfg = cfg
	a.runID = logger.NewRunID()
	a.log = logger.Init("optguard-"+command, logger.ParseLevel(cfg.LogLevel)).With("run_id", a.runID)
	a.reg = prometheus.NewRegistry()
	a.metrics = metrics.NewMetrics(a.reg)
	a.alerts = notification.NewAlerter(a.notifier(), notification.DefaultAlertTimeout, a.log)
	a.store = state.NewStore(cfg.StateFile)
	return nil
}

func (a *app) notifier() notification.Notifier {
	var ns notification.Multi
	if a.cfg.TelegramToken != "" && a.cfg.TelegramChatID != "" {
		ns = append(ns, notification.NewTelegramNotifier(a.cfg.TelegramToken, a.cfg.TelegramChatID))
	}
	if a.cfg.WebhookURL != "" {
		ns = append(ns, notification.NewWebhookNotifier(a.cfg.WebhookURL, "optguard"))
	}
	if len(ns) == 0 {
		return notification.NewLogNotifier()
	}
	return ns
}

// retryExecutor returns the SmartAPI executor with retry metrics attached.
func (a *app) retryExecutor() *retry.Executor {
	e := retry.Default()
	a.metrics.Instrument(e)
	return e
}

// openJournal opens the audit journal. A journal that cannot be opened is
// logged and skipped; it never blocks risk actions.
func (a *app) openJournal() *sqlite.Journal {
	if a.journal != nil {
		return a.journal
	}
	if dir := filepath.Dir(a.cfg.SQLitePath); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	j, err := sqlite.Open(a.cfg.SQLitePath)
	if err != nil {
		a.log.Warn("journal unavailable", "path", a.cfg.SQLitePath, "error", err)
		return nil
	}
	a.journal = j
	a.closers = append(a.closers, j.Close)
	return j
}

// eventJournal is openJournal as the interface the core takes, nil when
// there is no journal.
func (a *app) eventJournal() execution.Journal {
	if j := a.openJournal(); j != nil {
		return j
	}
	return nil
}

// redis connects to the market-data Redis. It returns nil when Redis is not
// configured or not reachable.
func (a *app) redis(ctx context.Context) *goredis.Client {
	if a.rdb != nil || a.cfg.RedisAddr == "" {
		return a.rdb
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rdb, err := redisstore.NewClient(ctx, redisstore.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err != nil {
		a.log.Warn("redis unavailable, using broker only", "addr", a.cfg.RedisAddr, "error", err)
		return nil
	}
	a.rdb = rdb
	a.closers = append(a.closers, rdb.Close)

	a.breaker = redisstore.NewCircuitBreaker(3, 30*time.Second)
	a.breaker.OnStateChange = func(from, to redisstore.State) {
		a.metrics.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			a.metrics.RedisCircuitBreakerTrips.Inc()
		}
		a.log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
	}
	return rdb
}

// push sends the run's metrics to the Pushgateway when one is configured.
func (a *app) push(ctx context.Context, job string) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := metrics.Push(ctx, a.cfg.PushgatewayURL, job, a.reg); err != nil {
		a.log.Warn("metrics push failed", "job", job, "error", err)
	}
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil && a.log != nil {
		a.log.Warn("shutdown", "error", err)
	}
}
