package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"optguard/internal/model"
	"optguard/internal/state"
)

// Snapshot is the cached day PnL written by `optguard pnl`.
type Snapshot struct {
	PnL float64 `json:"pnl"` // rupees
	TS  int64   `json:"ts"`  // unix seconds
}

func (s Snapshot) Paise() model.Paise { return model.FromRupees(s.PnL) }
func (s Snapshot) Time() time.Time    { return time.Unix(s.TS, 0) }

// ReadSnapshot loads path. A snapshot older than maxAge (when > 0) is
// unavailable.
func ReadSnapshot(path string, maxAge time.Duration, now time.Time) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", path, model.ErrDataUnavailable)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w: %v", path, model.ErrDataUnavailable, err)
	}
	if maxAge > 0 && now.Sub(s.Time()) > maxAge {
		return Snapshot{}, fmt.Errorf("snapshot %s is %s old: %w", path, now.Sub(s.Time()).Truncate(time.Second), model.ErrDataUnavailable)
	}
	return s, nil
}

func WriteSnapshot(path string, pnl model.Paise, now time.Time) error {
	b, err := json.Marshal(Snapshot{PnL: pnl.Rupees(), TS: now.Unix()})
	if err != nil {
		return err
	}
	return state.WriteFileAtomic(path, append(b, '\n'), 0o644)
}

// WriteHeartbeat records a failed refresh without touching the snapshot.
func WriteHeartbeat(path string, now time.Time) error {
	return state.WriteFileAtomic(path, []byte(now.Format(time.DateTime)+"\n"), 0o644)
}

// RefreshSnapshot reads day PnL from r and writes it to path. On failure the
// previous snapshot is left in place and a heartbeat is written instead.
func RefreshSnapshot(ctx context.Context, r *Reader, path, heartbeat string, now time.Time) (model.Paise, error) {
	pnl, err := r.DayPnL(ctx)
	if err != nil {
		if heartbeat != "" {
			_ = WriteHeartbeat(heartbeat, now)
		}
		return 0, err
	}
	return pnl, WriteSnapshot(path, pnl, now)
}
