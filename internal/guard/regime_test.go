package guard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"optguard/internal/model"
	"optguard/internal/notification"
	"optguard/internal/state"
	"optguard/internal/store/sqlite"
)

type fakeCandles struct {
	cs  []model.Candle
	err error
}

func (f fakeCandles) Candles(context.Context, time.Time) ([]model.Candle, CandleMeta, error) {
	return f.cs, CandleMeta{Source: "fake", Exchange: "NSE"}, f.err
}

type recordingRestarter struct {
	calls []string
	err   error
}

func (r *recordingRestarter) Restart(_ context.Context, strategy, reason string) error {
	r.calls = append(r.calls, strategy+"/"+reason)
	return r.err
}

func rising(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		base := model.Paise(2200000 + i*2000)
		out[i] = model.Candle{Open: base, High: base + 500, Low: base - 500, Close: base}
	}
	return out
}

func flat(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Open: 2200000, High: 2200000, Low: 2200000, Close: 2200000}
	}
	return out
}

type switchFixture struct {
	g       *SwitchGuard
	store   *state.Store
	votes   *state.VoteStore
	log     *state.SwitchLog
	restart *recordingRestarter
	alerts  *countingNotifier
	journal *memJournal
}

func newSwitchFixture(t *testing.T, src CandleSource) *switchFixture {
	t.Helper()
	dir := t.TempDir()
	alerts, n := newAlerts()
	f := &switchFixture{
		store:   newStore(t, true, "pcr_momentum_oi"),
		votes:   state.NewVoteStore(filepath.Join(dir, "trend_vote.json")),
		log:     state.NewSwitchLog(filepath.Join(dir, "trend_switch.log")),
		restart: &recordingRestarter{},
		alerts:  n,
		journal: &memJournal{},
	}
	cfg := DefaultSwitchConfig()
	cfg.MinCandles = 15
	f.g = &SwitchGuard{
		Cfg: cfg, Store: f.store, Votes: f.votes, Log: f.log,
		Candles: src, Restarter: f.restart, Alerts: alerts, Journal: f.journal,
		Now: at(10, 0),
	}
	return f
}

func TestClassify(t *testing.T) {
	cfg := DefaultSwitchConfig()
	reg, want := cfg.Classify(25, "x")
	require.Equal(t, RegimeTrending, reg)
	require.Equal(t, "breakout_atr", want)
	reg, want = cfg.Classify(18, "x")
	require.Equal(t, RegimeRange, reg)
	require.Equal(t, "pcr_momentum_oi", want)
	reg, want = cfg.Classify(19, "x")
	require.Equal(t, RegimeNeutral, reg)
	require.Equal(t, "x", want)
}

func TestSwitchGuard_Disabled(t *testing.T) {
	f := newSwitchFixture(t, fakeCandles{cs: rising(30)})
	f.g.Cfg.Enabled = false
	require.Equal(t, OutcomeSkip, f.g.Run(context.Background()).Outcome)
}

func TestSwitchGuard_QuorumThenSwitch(t *testing.T) {
	f := newSwitchFixture(t, fakeCandles{cs: rising(30)})
	ctx := context.Background()

	st := f.g.Run(ctx)
	require.Equal(t, OutcomeVote, st.Outcome)
	require.Equal(t, state.Vote{Want: "breakout_atr", Count: 1, TS: at(10, 0)().Unix()}, f.votes.Load())
	require.Empty(t, f.restart.calls)

	f.g.Now = at(10, 5)
	st = f.g.Run(ctx)
	require.Equal(t, OutcomeSwitched, st.Outcome)
	require.Equal(t, []string{"breakout_atr/" + state.EventSwitched}, f.restart.calls)

	rec, err := f.store.Load()
	require.NoError(t, err)
	require.Equal(t, "breakout_atr", rec.Strategy)
	require.True(t, rec.LiveEnabled())

	entries, err := f.log.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "pcr_momentum_oi", entries[0].From)
	require.Equal(t, "breakout_atr", entries[0].To)
	require.Equal(t, float64(100), entries[0].ADX)

	require.Zero(t, f.votes.Load().Count)
	require.Equal(t, []notification.AlertLevel{notification.AlertInfo}, f.alerts.levels())
	require.Len(t, f.journal.events, 1)
	require.Equal(t, sqlite.KindSwitch, f.journal.events[0].Kind)
}

func TestSwitchGuard_MatchingRegimeResetsVote(t *testing.T) {
	f := newSwitchFixture(t, fakeCandles{cs: flat(30)})
	require.NoError(t, f.votes.Save(state.Vote{Want: "breakout_atr", Count: 1, TS: 1}))

	st := f.g.Run(context.Background())
	require.Equal(t, OutcomeNop, st.Outcome)
	v := f.votes.Load()
	require.Equal(t, "pcr_momentum_oi", v.Want)
	require.Zero(t, v.Count)
}

func TestSwitchGuard_CooldownRejects(t *testing.T) {
	f := newSwitchFixture(t, fakeCandles{cs: rising(30)})
	require.NoError(t, f.log.Append(state.SwitchLogEntry{
		Event: state.EventSwitched, From: "breakout_atr", To: "pcr_momentum_oi", TS: at(9, 55)().Unix(),
	}))
	require.NoError(t, f.votes.Save(state.Vote{Want: "breakout_atr", Count: 1}))

	st := f.g.Run(context.Background())
	require.Equal(t, OutcomeReject, st.Outcome)
	require.Equal(t, "cooldown", st.Reason)
	require.Empty(t, f.restart.calls)

	rec, err := f.store.Load()
	require.NoError(t, err)
	require.Equal(t, "pcr_momentum_oi", rec.Strategy)
}

func TestSwitchGuard_DailyCapRejects(t *testing.T) {
	f := newSwitchFixture(t, fakeCandles{cs: rising(30)})
	for _, mm := range []int{15, 25, 35} {
		require.NoError(t, f.log.Append(state.SwitchLogEntry{
			Event: state.EventSwitched, From: "a", To: "b", TS: at(9, mm)().Unix(),
		}))
	}
	require.NoError(t, f.votes.Save(state.Vote{Want: "breakout_atr", Count: 1}))

	st := f.g.Run(context.Background())
	require.Equal(t, OutcomeReject, st.Outcome)
	require.Equal(t, "cap", st.Reason)
	require.Empty(t, f.restart.calls)
}

func TestSwitchGuard_HoldsOnShortHistory(t *testing.T) {
	f := newSwitchFixture(t, fakeCandles{cs: rising(5)})
	st := f.g.Run(context.Background())
	require.Equal(t, OutcomeHold, st.Outcome)
	require.Zero(t, f.votes.Load().Count)
	require.Empty(t, f.alerts.levels())
}

func TestSwitchGuard_HoldsWhenCandlesUnavailable(t *testing.T) {
	f := newSwitchFixture(t, fakeCandles{err: model.ErrDataUnavailable})
	st := f.g.Run(context.Background())
	require.Equal(t, OutcomeHold, st.Outcome)
	require.Equal(t, 0, st.ExitCode())
	require.Equal(t, []notification.AlertLevel{notification.AlertWarning}, f.alerts.levels())
}

func TestSwitchGuard_RestartFailureKeepsSwitch(t *testing.T) {
	f := newSwitchFixture(t, fakeCandles{cs: rising(30)})
	f.restart.err = errors.New("exit status 1")
	require.NoError(t, f.votes.Save(state.Vote{Want: "breakout_atr", Count: 1}))

	st := f.g.Run(context.Background())
	require.Equal(t, OutcomeSwitched, st.Outcome)
	require.Contains(t, st.Attrs, "exit status 1")

	rec, err := f.store.Load()
	require.NoError(t, err)
	require.Equal(t, "breakout_atr", rec.Strategy)
	require.Equal(t, []notification.AlertLevel{notification.AlertWarning, notification.AlertInfo}, f.alerts.levels())
}
