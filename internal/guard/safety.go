package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"optguard/internal/execution"
	"optguard/internal/markethours"
	"optguard/internal/notification"
	"optguard/internal/state"
	"optguard/internal/store/sqlite"
)

const safetyGateName = "safety_gate"

// Confirmation is the operator's go-live file, data/confirm_live.json.
type Confirmation struct {
	RiskOK   bool   `json:"risk_ok"`
	TS       int64  `json:"ts"`
	Strategy string `json:"strategy"`
}

// ReadConfirmation loads the confirmation file. Missing reads as absent
// (ok=false, nil error); corrupt is an error.
func ReadConfirmation(path string) (Confirmation, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Confirmation{}, false, nil
	}
	if err != nil {
		return Confirmation{}, false, err
	}
	var c Confirmation
	if err := json.Unmarshal(raw, &c); err != nil {
		return Confirmation{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, true, nil
}

// SafetyConfig configures the live gate.
type SafetyConfig struct {
	AutoSwitch    bool
	SquareOffTime markethours.Clock
	RequiredIP    string
	Window        markethours.Window
	ConfirmPath   string
	LiveTTL       time.Duration
}

// Check is one gate condition.
type Check struct {
	Name   string
	OK     bool
	Reason string
}

func (c Check) String() string {
	mark := "X"
	if c.OK {
		mark = "OK"
	}
	return fmt.Sprintf("[%s] %s - %s", c.Name, mark, c.Reason)
}

// SafetyGate decides whether live trading should be on. Live is wanted only
// when every check passes; after the square-off time it is always off.
type SafetyGate struct {
	Cfg     SafetyConfig
	Store   *state.Store
	IP      func(ctx context.Context) (string, error)
	Alerts  *notification.Alerter
	Journal execution.Journal
	Logger  *slog.Logger
	RunID   string

	Now func() time.Time
}

// Evaluate runs the checks against rec at now.
func (g *SafetyGate) Evaluate(ctx context.Context, now time.Time, rec state.Record) (bool, []Check) {
	checks := []Check{
		g.checkIP(ctx),
		g.checkMarket(now),
	}
	conf, found, err := ReadConfirmation(g.Cfg.ConfirmPath)
	switch {
	case err != nil:
		checks = append(checks, Check{"RISK", false, err.Error()}, Check{"TTL", false, "no confirm ttl"})
	case !found:
		checks = append(checks, Check{"RISK", false, "no confirm"}, Check{"TTL", false, "no confirm ttl"})
	default:
		checks = append(checks, Check{"RISK", conf.RiskOK, "risk_ok"}, g.checkTTL(now, conf))
	}
	day := markethours.Day(now)
	if rec.HaltedOnDay(day) {
		checks = append(checks, Check{"HALT", false, "risk halt recorded for " + day})
	} else {
		checks = append(checks, Check{"HALT", true, "no halt today"})
	}

	want := true
	for _, c := range checks {
		want = want && c.OK
	}
	return want, checks
}

func (g *SafetyGate) checkIP(ctx context.Context) Check {
	want := strings.TrimSpace(g.Cfg.RequiredIP)
	if want == "" {
		return Check{"VPN", true, "no lock"}
	}
	if g.IP == nil {
		return Check{"VPN", false, "no ip resolver"}
	}
	got, err := g.IP(ctx)
	if err != nil {
		return Check{"VPN", false, fmt.Sprintf("egress ip lookup failed: %v", err)}
	}
	if got == want {
		return Check{"VPN", true, "vpn ok " + got}
	}
	return Check{"VPN", false, fmt.Sprintf("vpn mismatch want=%s got=%s", want, got)}
}

func (g *SafetyGate) checkMarket(now time.Time) Check {
	ok, reason := g.Cfg.Window.Contains(now)
	return Check{"MKT", ok, reason}
}

func (g *SafetyGate) checkTTL(now time.Time, c Confirmation) Check {
	if c.TS <= 0 {
		return Check{"TTL", false, "no ts"}
	}
	age := now.Sub(time.Unix(c.TS, 0))
	ttl := g.Cfg.LiveTTL
	return Check{"TTL", age <= ttl, fmt.Sprintf("age=%ds ttl=%dm", int(age.Seconds()), int(ttl.Minutes()))}
}

// Run applies the gate once.
func (g *SafetyGate) Run(ctx context.Context) Status {
	if !g.Cfg.AutoSwitch {
		return newStatus(safetyGateName, OutcomeSkip, "auto switch off")
	}
	now := g.now()

	if g.Cfg.SquareOffTime > 0 && g.Cfg.SquareOffTime.Reached(now) {
		_, changed, err := g.setLive(ctx, now, false, "forced DRY after cutoff")
		if err != nil {
			return g.fail(ctx, err)
		}
		if changed {
			g.alerts().Info(ctx, "Forced DRY", "Forced DRY after cutoff "+g.Cfg.SquareOffTime.String())
		}
		return newStatus(safetyGateName, OutcomeOK, "after cutoff", "live", false, "changed", changed)
	}

	rec, err := g.Store.Load()
	if err != nil {
		return g.fail(ctx, err)
	}
	want, checks := g.Evaluate(ctx, now, rec)
	reasons := make([]string, 0, len(checks))
	for _, c := range checks {
		reasons = append(reasons, c.String())
	}

	cur := rec.LiveEnabled()
	changed := false
	if want != cur {
		rec, changed, err = g.setLive(ctx, now, want, strings.Join(reasons, "; "))
		if err != nil {
			return g.fail(ctx, err)
		}
	}
	if changed && want {
		conf, _, _ := ReadConfirmation(g.Cfg.ConfirmPath)
		strat := conf.Strategy
		if strat == "" {
			strat = rec.Strategy
		}
		g.alerts().Warn(ctx, "LIVE ENABLED", fmt.Sprintf("%s (%s)", strat, checks[3].Reason))
	} else if changed {
		g.alerts().Warn(ctx, "Reverted to DRY", strings.Join(failed(checks), "; "))
	}

	return newStatus(safetyGateName, OutcomeOK, "", "want_live", want, "live", rec.LiveEnabled(), "changed", changed, "checks", reasons)
}

// ErrLiveRefused wraps every refusal of a manual switch to live.
var ErrLiveRefused = errors.New("live refused")

// RequestLive is the operator's switch to live. It passes only when every
// check Run would apply passes, so a halted day stays dry.
func (g *SafetyGate) RequestLive(ctx context.Context) (state.Record, error) {
	now := g.now()
	if g.Cfg.SquareOffTime > 0 && g.Cfg.SquareOffTime.Reached(now) {
		return state.Record{}, fmt.Errorf("%w: after cutoff %s", ErrLiveRefused, g.Cfg.SquareOffTime)
	}
	rec, err := g.Store.Load()
	if err != nil {
		return rec, err
	}
	if day := markethours.Day(now); rec.HaltedOnDay(day) {
		return rec, fmt.Errorf("%w: risk halt recorded for %s", ErrLiveRefused, day)
	}
	if ok, checks := g.Evaluate(ctx, now, rec); !ok {
		return rec, fmt.Errorf("%w: %s", ErrLiveRefused, strings.Join(failed(checks), "; "))
	}
	rec, changed, err := g.setLive(ctx, now, true, "manual")
	if err != nil {
		return rec, err
	}
	if changed {
		g.alerts().Warn(ctx, "LIVE ENABLED", rec.Strategy+" (manual)")
	}
	return rec, nil
}

// ForceDry switches to dry unconditionally.
func (g *SafetyGate) ForceDry(ctx context.Context, detail string) (state.Record, bool, error) {
	return g.setLive(ctx, g.now(), false, detail)
}

func (g *SafetyGate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *SafetyGate) setLive(ctx context.Context, now time.Time, live bool, detail string) (state.Record, bool, error) {
	rec, changed, err := g.Store.Update(func(r *state.Record) error {
		r.Live = live
		r.Dry = !live
		return nil
	})
	if err != nil {
		return rec, false, err
	}
	if changed && g.Journal != nil {
		mode := "DRY"
		if live {
			mode = "LIVE"
		}
		_ = g.Journal.Record(ctx, sqlite.Event{
			RunID: g.RunID, Kind: sqlite.KindMode, OK: true, At: now,
			Detail: mode + ": " + detail,
		})
	}
	return rec, changed, nil
}

func failed(checks []Check) []string {
	var out []string
	for _, c := range checks {
		if !c.OK {
			out = append(out, c.Name+": "+c.Reason)
		}
	}
	return out
}

func (g *SafetyGate) fail(ctx context.Context, err error) Status {
	g.alerts().Critical(ctx, "Safety gate error", err.Error())
	return Status{Guard: safetyGateName, Outcome: OutcomeError, Reason: "state", Err: err}
}

func (g *SafetyGate) alerts() *notification.Alerter {
	if g.Alerts == nil {
		g.Alerts = notification.NewAlerter(nil, 0, g.Logger)
	}
	return g.Alerts
}
