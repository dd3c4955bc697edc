package indicators

import (
	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// SuperTrendResult holds the level and direction series. Direction is +1
// while price rides above the lower band, -1 while it rides below the upper
// band.
type SuperTrendResult struct {
	Level     []float64
	Direction []int
}

// CalculateSuperTrend computes the ATR-band trend level with the latching
// rule: a band only tightens when the new band is inside the previous one or
// the previous close already broke the previous band.
func CalculateSuperTrend(candles []market.Candle, period int, multiplier float64) SuperTrendResult {
	n := len(candles)
	if n < period+2 {
		return SuperTrendResult{}
	}
	atr := ATRSeries(candles, period)

	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := 0; i < n; i++ {
		hl2 := (candles[i].High + candles[i].Low) / 2
		upper[i] = hl2 + multiplier*atr[i]
		lower[i] = hl2 - multiplier*atr[i]
	}

	finalUpper := make([]float64, n)
	finalLower := make([]float64, n)
	finalUpper[0] = upper[0]
	finalLower[0] = lower[0]
	for i := 1; i < n; i++ {
		if upper[i] < finalUpper[i-1] || candles[i-1].Close > finalUpper[i-1] {
			finalUpper[i] = upper[i]
		} else {
			finalUpper[i] = finalUpper[i-1]
		}
		if lower[i] > finalLower[i-1] || candles[i-1].Close < finalLower[i-1] {
			finalLower[i] = lower[i]
		} else {
			finalLower[i] = finalLower[i-1]
		}
	}

	level := make([]float64, n)
	direction := make([]int, n)
	direction[0] = 1
	for i := 1; i < n; i++ {
		if i == 1 {
			level[i] = finalUpper[i]
			direction[i] = -1
			continue
		}
		if level[i-1] == finalUpper[i-1] {
			if candles[i].Close > finalUpper[i] {
				level[i] = finalLower[i]
				direction[i] = 1
			} else {
				level[i] = finalUpper[i]
				direction[i] = -1
			}
		} else {
			if candles[i].Close < finalLower[i] {
				level[i] = finalUpper[i]
				direction[i] = -1
			} else {
				level[i] = finalLower[i]
				direction[i] = 1
			}
		}
	}
	return SuperTrendResult{Level: level, Direction: direction}
}

// LastDirection returns the most recent SuperTrend direction, 0 when the
// series is too short.
func (r SuperTrendResult) LastDirection() int {
	if len(r.Direction) == 0 {
		return 0
	}
	return r.Direction[len(r.Direction)-1]
}
