package indicators

import (
	"math"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// FractalResult marks swing highs and lows, aligned to the input candles.
type FractalResult struct {
	IsHigh []bool
	IsLow  []bool
}

// CalculateFractals finds swing points: index i is a swing high when its
// high strictly exceeds the `window` highs on both sides.
func CalculateFractals(candles []market.Candle, window int) FractalResult {
	n := len(candles)
	res := FractalResult{IsHigh: make([]bool, n), IsLow: make([]bool, n)}
	if n < 2*window+1 {
		return res
	}
	for i := window; i < n-window; i++ {
		high := true
		low := true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				high = false
			}
			if candles[j].Low <= candles[i].Low {
				low = false
			}
		}
		res.IsHigh[i] = high
		res.IsLow[i] = low
	}
	return res
}

// RecentFractalLevels returns the swing-high and swing-low prices in
// chronological order.
func RecentFractalLevels(candles []market.Candle, window int) (highs, lows []float64) {
	fr := CalculateFractals(candles, window)
	for i := range candles {
		if fr.IsHigh[i] {
			highs = append(highs, candles[i].High)
		}
		if fr.IsLow[i] {
			lows = append(lows, candles[i].Low)
		}
	}
	return highs, lows
}

// OrderBlock is the last opposite-direction candle before an impulse move.
type OrderBlock struct {
	Price   float64
	High    float64
	Low     float64
	Bullish bool
	Epoch   int64
}

// CalculateOrderBlocks scans backward for impulse candles (body > 2x the
// mean body of the prior 10) and records the most recent opposite-colored
// candle within the 5 bars before each, up to 5 blocks.
func CalculateOrderBlocks(candles []market.Candle) []OrderBlock {
	if len(candles) < 20 {
		return nil
	}
	var obs []OrderBlock
	for i := len(candles) - 5; i >= 10; i-- {
		avgBody := 0.0
		for j := i - 10; j < i; j++ {
			avgBody += math.Abs(candles[j].Close - candles[j].Open)
		}
		avgBody /= 10
		body := math.Abs(candles[i].Close - candles[i].Open)
		if body <= 2*avgBody {
			continue
		}
		bullishImpulse := candles[i].Close > candles[i].Open
		for j := i - 1; j >= i-5 && j >= 0; j-- {
			if bullishImpulse && candles[j].Close < candles[j].Open {
				obs = append(obs, OrderBlock{Price: candles[j].Low, High: candles[j].High, Bullish: true, Epoch: candles[j].Epoch})
				break
			}
			if !bullishImpulse && candles[j].Close > candles[j].Open {
				obs = append(obs, OrderBlock{Price: candles[j].High, Low: candles[j].Low, Bullish: false, Epoch: candles[j].Epoch})
				break
			}
		}
		if len(obs) >= 5 {
			break
		}
	}
	return obs
}

// FVG is a three-bar fair value gap.
type FVG struct {
	Top     float64
	Bottom  float64
	Bullish bool
	Epoch   int64
}

// CalculateFVGs finds three-bar imbalances over the last `lookback` candles,
// newest first, up to 10 gaps.
func CalculateFVGs(candles []market.Candle, lookback int) []FVG {
	if len(candles) < 3 {
		return nil
	}
	var fvgs []FVG
	for i := len(candles) - 1; i >= len(candles)-lookback && i >= 2; i-- {
		if candles[i-2].High < candles[i].Low {
			fvgs = append(fvgs, FVG{Top: candles[i].Low, Bottom: candles[i-2].High, Bullish: true, Epoch: candles[i-1].Epoch})
		} else if candles[i-2].Low > candles[i].High {
			fvgs = append(fvgs, FVG{Top: candles[i-2].Low, Bottom: candles[i].High, Bullish: false, Epoch: candles[i-1].Epoch})
		}
		if len(fvgs) >= 10 {
			break
		}
	}
	return fvgs
}

// DetectMACDDivergence compares the current close and MACD against their
// extremes over the previous window. Returns +1 for bullish divergence, -1
// for bearish, 0 otherwise.
func DetectMACDDivergence(candles []market.Candle, window int) int {
	if len(candles) < 2*window+10 {
		return 0
	}
	macd := MACDSeries(candles, 12, 26)
	if len(macd) < 2*window {
		return 0
	}
	lastClose := candles[len(candles)-1].Close
	lastMACD := macd[len(macd)-1]

	priceLow, priceHigh := math.Inf(1), math.Inf(-1)
	for i := len(candles) - 2*window; i < len(candles)-window; i++ {
		priceLow = math.Min(priceLow, candles[i].Close)
		priceHigh = math.Max(priceHigh, candles[i].Close)
	}
	macdLow, macdHigh := math.Inf(1), math.Inf(-1)
	for i := len(macd) - 2*window; i < len(macd)-window; i++ {
		macdLow = math.Min(macdLow, macd[i])
		macdHigh = math.Max(macdHigh, macd[i])
	}

	if lastClose < priceLow && lastMACD > macdLow {
		return 1
	}
	if lastClose > priceHigh && lastMACD < macdHigh {
		return -1
	}
	return 0
}
