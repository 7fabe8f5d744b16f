package model

import "time"

// Candle is one OHLCV bar. Prices are in paise.
type Candle struct {
	TS     time.Time `json:"ts"`
	Open   Paise     `json:"open"`
	High   Paise     `json:"high"`
	Low    Paise     `json:"low"`
	Close  Paise     `json:"close"`
	Volume int64     `json:"volume"`
}
