// Package indicator provides the trend-strength reading used for regime
// classification.
package indicator

import (
	"math"

	"optguard/internal/model"
)

// DefaultADXPeriod is the conventional lookback.
const DefaultADXPeriod = 14

// ComputeADX returns the directional index over the first period candle
// pairs. True range and directional movement are summed, not smoothed, which
// is enough to separate trending from ranging sessions. It returns 0 when
// fewer than period+1 candles are given or when the range is flat.
func ComputeADX(candles []model.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	var sumTR, sumPDM, sumNDM float64
	for i := 1; i <= period; i++ {
		tr, pdm, ndm := movement(candles[i-1], candles[i])
		sumTR += tr
		sumPDM += pdm
		sumNDM += ndm
	}
	atr := sumTR / float64(period)
	if atr == 0 {
		return 0
	}
	pdi := 100 * (sumPDM / float64(period)) / atr
	ndi := 100 * (sumNDM / float64(period)) / atr
	if pdi+ndi == 0 {
		return 0
	}
	return 100 * math.Abs(pdi-ndi) / (pdi + ndi)
}

// movement returns true range and +DM/-DM for one candle pair, in rupees.
func movement(prev, cur model.Candle) (tr, pdm, ndm float64) {
	h, l, pc := cur.High.Rupees(), cur.Low.Rupees(), prev.Close.Rupees()
	tr = math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
	up := h - prev.High.Rupees()
	dn := prev.Low.Rupees() - l
	if up > dn && up > 0 {
		pdm = up
	}
	if dn > up && dn > 0 {
		ndm = dn
	}
	return tr, pdm, ndm
}
