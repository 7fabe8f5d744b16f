package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"optguard/internal/model"
)

// PnLSource yields the current day PnL.
type PnLSource interface {
	Name() string
	DayPnL(ctx context.Context) (model.Paise, error)
}

// Forced always returns a fixed value. It backs FORCE_PNL for drills.
type Forced model.Paise

func (Forced) Name() string { return "forced" }
func (f Forced) DayPnL(context.Context) (model.Paise, error) {
	return model.Paise(f), nil
}

// FileSource reads the snapshot file.
type FileSource struct {
	Path   string
	MaxAge time.Duration
	Now    func() time.Time
}

func (FileSource) Name() string { return "file" }
func (f FileSource) DayPnL(context.Context) (model.Paise, error) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	s, err := ReadSnapshot(f.Path, f.MaxAge, now())
	if err != nil {
		return 0, err
	}
	return s.Paise(), nil
}

// BrokerSource reads live positions.
type BrokerSource struct{ R *Reader }

func (BrokerSource) Name() string { return "broker" }
func (b BrokerSource) DayPnL(ctx context.Context) (model.Paise, error) {
	return b.R.DayPnL(ctx)
}

// Chain tries each source in order and returns the first value obtained,
// with the name of the source that produced it.
type Chain []PnLSource

func (c Chain) DayPnL(ctx context.Context) (model.Paise, string, error) {
	var errs []error
	for _, s := range c {
		if s == nil {
			continue
		}
		v, err := s.DayPnL(ctx)
		if err == nil {
			return v, s.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		return 0, "", fmt.Errorf("no pnl source configured: %w", model.ErrDataUnavailable)
	}
	return 0, "", errors.Join(append(errs, model.ErrDataUnavailable)...)
}
