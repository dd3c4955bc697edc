package indicators

import (
	"math"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// Echo forecast defaults: 20-bar reference window matched against up to 60
// historical windows.
const (
	EchoWindow = 20
	EchoEvals  = 60
)

// EchoForecastResult is a template-matching projection: the historical
// window most correlated with the recent closes, replayed forward.
type EchoForecastResult struct {
	Prices      []float64
	Correlation float64
	High        float64
	Low         float64
	Final       float64
}

// CalculateEchoForecast projects the next `window` closes by finding the
// past window with the highest Pearson correlation to the last `window`
// closes and accumulating the deltas that followed it.
func CalculateEchoForecast(candles []market.Candle, window, evals int) EchoForecastResult {
	n := len(candles)
	if n < 2*window+2 {
		return EchoForecastResult{}
	}
	closes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
	}
	ref := closes[n-window:]

	bestCorr := math.Inf(-1)
	bestOffset := -1
	for o := window; o < window+evals; o++ {
		start := n - window - o
		if start < 1 {
			break
		}
		corr := pearson(ref, closes[start:start+window])
		if corr > bestCorr {
			bestCorr = corr
			bestOffset = o
		}
	}
	if bestOffset < 0 {
		return EchoForecastResult{}
	}

	base := closes[n-1]
	echoEnd := n - bestOffset
	prices := make([]float64, window)
	cum := 0.0
	for i := 1; i <= window; i++ {
		cum += closes[echoEnd+i-1] - closes[echoEnd+i-2]
		prices[i-1] = base + cum
	}

	res := EchoForecastResult{Prices: prices, Correlation: bestCorr, Final: prices[window-1]}
	res.High = prices[0]
	res.Low = prices[0]
	for _, p := range prices {
		res.High = math.Max(res.High, p)
		res.Low = math.Min(res.Low, p)
	}
	return res
}

// StructuralRR computes reward/risk from the forecast path: reward is the
// distance to the forecast extremum in the signal direction, risk the
// distance to the opposite extremum. Non-positive risk caps the ratio at 10.
func StructuralRR(fcast EchoForecastResult, entry float64, long bool) float64 {
	if len(fcast.Prices) == 0 || entry == 0 {
		return 0
	}
	var reward, risk float64
	if long {
		reward = fcast.High - entry
		risk = entry - fcast.Low
	} else {
		reward = entry - fcast.Low
		risk = fcast.High - entry
	}
	if reward <= 0 {
		return 0
	}
	if risk <= 0 {
		return 10
	}
	rr := reward / risk
	if rr > 10 {
		rr = 10
	}
	return rr
}

// EchoArrivalIndex returns the first forecast index at which price crosses
// entry ± threshold in the signal direction, or -1 when it never does.
func EchoArrivalIndex(fcast EchoForecastResult, entry, threshold float64, long bool) int {
	for i, p := range fcast.Prices {
		if long && p >= entry+threshold {
			return i
		}
		if !long && p <= entry-threshold {
			return i
		}
	}
	return -1
}

func pearson(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / n
	meanB := sumB / n
	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
