package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EventSwitched marks a committed strategy switch in the log.
const EventSwitched = "trend_switched"

// SwitchLogEntry is one append-only audit line.
type SwitchLogEntry struct {
	Event  string  `json:"event"`
	From   string  `json:"from"`
	To     string  `json:"to"`
	ADX    float64 `json:"adx"`
	Status string  `json:"status"`
	TS     int64   `json:"ts"`
}

func (e SwitchLogEntry) Time() time.Time { return time.Unix(e.TS, 0) }

// SwitchLog is a JSON-lines file. Entries are never rewritten.
type SwitchLog struct {
	path string
}

func NewSwitchLog(path string) *SwitchLog { return &SwitchLog{path: path} }

func (l *SwitchLog) Append(e SwitchLogEntry) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode switch entry: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open switch log: %w", err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append switch log: %w", err)
	}
	return f.Close()
}

// Entries returns every parseable switch entry in file order. Malformed lines
// are skipped.
func (l *SwitchLog) Entries() ([]SwitchLogEntry, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open switch log: %w", err)
	}
	defer f.Close()

	var out []SwitchLogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e SwitchLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.TS <= 0 {
			continue
		}
		if e.Event != "" && e.Event != EventSwitched {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// LastSwitch returns the time of the most recent switch.
func (l *SwitchLog) LastSwitch() (time.Time, bool, error) {
	es, err := l.Entries()
	if err != nil || len(es) == 0 {
		return time.Time{}, false, err
	}
	var last int64
	for _, e := range es {
		if e.TS > last {
			last = e.TS
		}
	}
	return time.Unix(last, 0), true, nil
}

// CountOn counts switches whose timestamp falls on day's calendar date in loc.
func (l *SwitchLog) CountOn(day time.Time, loc *time.Location) (int, error) {
	es, err := l.Entries()
	if err != nil {
		return 0, err
	}
	want := day.In(loc).Format(time.DateOnly)
	n := 0
	for _, e := range es {
		if e.Time().In(loc).Format(time.DateOnly) == want {
			n++
		}
	}
	return n, nil
}
