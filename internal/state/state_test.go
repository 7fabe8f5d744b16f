package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreMissingFileIsNotLive(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), ".env"))
	r, err := s.Load()
	require.NoError(t, err)
	require.False(t, r.LiveEnabled())
	require.True(t, r.Dry)
}

func TestStoreUpdatePreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("API_KEY=abc\nLIVE=1\nDRY=0\nSTRATEGY=pcr_momentum_oi\n"), 0o644))

	s := NewStore(path)
	s.now = func() time.Time { return time.Date(2026, 10, 16, 4, 0, 0, 0, time.UTC) }
	r, err := s.Load()
	require.NoError(t, err)
	require.True(t, r.LiveEnabled())

	next, changed, err := s.Update(func(r *Record) error {
		r.Live, r.Dry = false, true
		return nil
	})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, int64(1), next.Version)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(raw)
	require.Contains(t, body, `API_KEY="abc"`)
	require.Contains(t, body, "LIVE=0")
	require.Contains(t, body, "DRY=1")
	require.True(t, strings.Contains(body, "STATE_UPDATED_AT"))

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	live, err := s.LiveEnabled()
	require.NoError(t, err)
	require.False(t, live)
}

func TestStoreUpdateNoChangeKeepsVersion(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), ".env"))
	_, changed, err := s.Update(func(r *Record) error { r.Strategy = "breakout_atr"; return nil })
	require.NoError(t, err)
	require.True(t, changed)

	r, changed, err := s.Update(func(r *Record) error { r.Strategy = "breakout_atr"; return nil })
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, int64(1), r.Version)
}

func TestVoteStore(t *testing.T) {
	vs := NewVoteStore(filepath.Join(t.TempDir(), "data", "trend_vote.json"))
	require.Equal(t, Vote{}, vs.Load())

	require.NoError(t, vs.Save(Vote{Want: "breakout_atr", Count: 1, TS: 10}))
	require.Equal(t, Vote{Want: "breakout_atr", Count: 1, TS: 10}, vs.Load())

	require.NoError(t, vs.Reset("breakout_atr", 11))
	require.Equal(t, 0, vs.Load().Count)
}

func TestVoteStoreCorruptReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trend_vote.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	require.Equal(t, Vote{}, NewVoteStore(path).Load())
}

func TestSwitchLogCountsAndLast(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	path := filepath.Join(t.TempDir(), "switches.jsonl")
	l := NewSwitchLog(path)

	_, ok, err := l.LastSwitch()
	require.NoError(t, err)
	require.False(t, ok)

	day := time.Date(2026, 10, 16, 10, 0, 0, 0, ist)
	require.NoError(t, l.Append(SwitchLogEntry{Event: EventSwitched, From: "a", To: "b", TS: day.Add(-24 * time.Hour).Unix()}))
	require.NoError(t, l.Append(SwitchLogEntry{Event: EventSwitched, From: "b", To: "a", TS: day.Unix()}))
	require.NoError(t, l.Append(SwitchLogEntry{Event: EventSwitched, From: "a", To: "b", TS: day.Add(time.Hour).Unix()}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, _ = f.WriteString("garbage\n")
	require.NoError(t, f.Close())

	n, err := l.CountOn(day, ist)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	last, ok, err := l.LastSwitch()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, day.Add(time.Hour).Unix(), last.Unix())
}
