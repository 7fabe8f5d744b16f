package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"optguard/internal/markethours"
	"optguard/internal/metrics"
	"optguard/internal/notification"
	"optguard/internal/state"
	"optguard/internal/store/sqlite"
)

// Monday 2 March 2026, 10:00 IST.
var monday = time.Date(2026, time.March, 2, 10, 0, 0, 0, markethours.IST)

type countingNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (n *countingNotifier) Send(_ context.Context, a notification.Alert) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, a)
	n.mu.Unlock()
	return nil
}

func (n *countingNotifier) levels() []notification.AlertLevel {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.AlertLevel, 0, len(n.alerts))
	for _, a := range n.alerts {
		out = append(out, a.Level)
	}
	return out
}

func newAlerts() (*notification.Alerter, *countingNotifier) {
	n := &countingNotifier{}
	return notification.NewAlerter(n, time.Second, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))), n
}

type memJournal struct {
	mu     sync.Mutex
	events []sqlite.Event
}

func (j *memJournal) Record(_ context.Context, e sqlite.Event) error {
	j.mu.Lock()
	j.events = append(j.events, e)
	j.mu.Unlock()
	return nil
}

func newStore(t *testing.T, live bool, strategy string) *state.Store {
	t.Helper()
	s := state.NewStore(filepath.Join(t.TempDir(), "state.env"))
	_, _, err := s.Update(func(r *state.Record) error {
		r.Live = live
		r.Dry = !live
		r.Strategy = strategy
		return nil
	})
	require.NoError(t, err)
	return s
}

func at(hh, mm int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, time.March, 2, hh, mm, 0, 0, markethours.IST)
	}
}

func TestStatus_EmitWritesOneRecord(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	st := newStatus(riskGuardName, OutcomeBreach, "Daily SL hit", "pnl", "-6000.00")
	st.Emit(context.Background(), log, m)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	require.Equal(t, "risk_guard_breach", rec["event"])
	require.Equal(t, "WARN", rec["level"])
	require.Equal(t, "-6000.00", rec["pnl"])
	require.Equal(t, float64(1), testutil.ToFloat64(m.GuardRunsTotal.WithLabelValues(riskGuardName, "breach")))
	require.Equal(t, 0, st.ExitCode())
}

func TestStatus_ErrorExitCode(t *testing.T) {
	st := Status{Guard: switchGuardName, Outcome: OutcomeError}
	require.Equal(t, 1, st.ExitCode())
	require.Equal(t, "trend_switch_error", st.Event())
}
