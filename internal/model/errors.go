package model

import "errors"

// ErrDataUnavailable marks a read (PnL, candles, positions, price) that could
// not be satisfied. Guards take no action on it.
var ErrDataUnavailable = errors.New("data unavailable")
