package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"optguard/internal/execution"
	"optguard/internal/model"
	"optguard/internal/notification"
	"optguard/internal/portfolio"
	"optguard/internal/store/sqlite"
)

type fakeSquareOff struct {
	runs int
	res  execution.SquareOffResult
	err  error
}

func (f *fakeSquareOff) Run(context.Context) (execution.SquareOffResult, error) {
	f.runs++
	return f.res, f.err
}

type failingPnL struct{ err error }

func (f failingPnL) DayPnL(context.Context) (model.Paise, string, error) { return 0, "", f.err }

func TestBreach(t *testing.T) {
	sl, tp := model.Paise(500000), model.Paise(800000)
	require.Empty(t, Breach(-499999, sl, tp))
	require.Contains(t, Breach(-500000, sl, tp), "Daily SL hit")
	require.Contains(t, Breach(800000, sl, tp), "Daily TP hit")
	require.Empty(t, Breach(-10000000, 0, 0))
}

func TestRiskGuard_SkipsWhenNotLive(t *testing.T) {
	alerts, n := newAlerts()
	so := &fakeSquareOff{}
	g := &RiskGuard{
		Store: newStore(t, false, ""), PnL: portfolio.Chain{portfolio.Forced(-600000)},
		SquareOff: so, Alerts: alerts, DailySL: 500000, Now: at(11, 0),
	}
	st := g.Run(context.Background())
	require.Equal(t, OutcomeSkip, st.Outcome)
	require.Zero(t, so.runs)
	require.Empty(t, n.levels())
}

func TestRiskGuard_UnknownPnLTakesNoAction(t *testing.T) {
	alerts, n := newAlerts()
	store := newStore(t, true, "")
	so := &fakeSquareOff{}
	g := &RiskGuard{
		Store: store, PnL: portfolio.Chain{}, SquareOff: so,
		Alerts: alerts, DailySL: 500000, Now: at(11, 0),
	}
	st := g.Run(context.Background())
	require.Equal(t, OutcomeUnknown, st.Outcome)
	require.NoError(t, st.Err)
	require.Zero(t, so.runs)
	require.Equal(t, []notification.AlertLevel{notification.AlertWarning}, n.levels())

	rec, err := store.Load()
	require.NoError(t, err)
	require.True(t, rec.LiveEnabled())
}

func TestRiskGuard_UnexpectedPnLErrorIsReported(t *testing.T) {
	alerts, _ := newAlerts()
	boom := errors.New("positions: http 500")
	g := &RiskGuard{Store: newStore(t, true, ""), PnL: failingPnL{boom}, Alerts: alerts, DailySL: 500000}
	st := g.Run(context.Background())
	require.Equal(t, OutcomeUnknown, st.Outcome)
	require.ErrorIs(t, st.Err, boom)
}

func TestRiskGuard_WithinLimits(t *testing.T) {
	alerts, n := newAlerts()
	g := &RiskGuard{
		Store: newStore(t, true, ""), PnL: portfolio.Chain{portfolio.Forced(-120050)},
		Alerts: alerts, DailySL: 500000, DailyTP: 800000, Now: at(11, 0),
	}
	st := g.Run(context.Background())
	require.Equal(t, OutcomeOK, st.Outcome)
	require.Contains(t, st.Attrs, "-1200.50")
	require.Empty(t, n.levels())
}

func TestRiskGuard_BreachHaltsAndFlattensOnce(t *testing.T) {
	alerts, n := newAlerts()
	store := newStore(t, true, "breakout_atr")
	so := &fakeSquareOff{res: execution.SquareOffResult{Placed: 2}}
	j := &memJournal{}
	g := &RiskGuard{
		Store: store, PnL: portfolio.Chain{portfolio.Forced(-600000)},
		SquareOff: so, Alerts: alerts, Journal: j,
		DailySL: 500000, DailyTP: 800000, Now: at(11, 0),
	}

	st := g.Run(context.Background())
	require.Equal(t, OutcomeBreach, st.Outcome)
	require.NoError(t, st.Err)
	require.Contains(t, st.Reason, "Daily SL hit")
	require.Equal(t, 1, so.runs)
	require.Equal(t, []notification.AlertLevel{notification.AlertCritical}, n.levels())

	rec, err := store.Load()
	require.NoError(t, err)
	require.False(t, rec.Live)
	require.True(t, rec.Dry)
	require.Equal(t, "2026-03-02", rec.HaltedOn)
	require.Equal(t, "breakout_atr", rec.Strategy)

	require.Len(t, j.events, 1)
	require.Equal(t, sqlite.KindBreach, j.events[0].Kind)
	require.Equal(t, model.Paise(-600000), j.events[0].Price)

	st = g.Run(context.Background())
	require.Equal(t, OutcomeSkip, st.Outcome)
	require.Equal(t, 1, so.runs)
	require.Len(t, n.levels(), 1)
}

func TestRiskGuard_TakeProfitBreach(t *testing.T) {
	alerts, _ := newAlerts()
	so := &fakeSquareOff{err: errors.New("positions unavailable")}
	g := &RiskGuard{
		Store: newStore(t, true, ""), PnL: portfolio.Chain{portfolio.Forced(900000)},
		SquareOff: so, Alerts: alerts, DailySL: 500000, DailyTP: 800000, Now: at(14, 0),
	}
	st := g.Run(context.Background())
	require.Equal(t, OutcomeBreach, st.Outcome)
	require.Contains(t, st.Reason, "Daily TP hit")
	require.Contains(t, st.Attrs, "square-off failed: positions unavailable")
}
