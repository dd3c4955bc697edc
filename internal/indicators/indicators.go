package indicators

import (
	"math"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates Simple Moving Average of closes
func CalculateSMA(candles []market.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average of closes
func CalculateEMA(candles []market.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	ema := CalculateSMA(candles[:period], period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// EMASeries returns the EMA of an arbitrary value series, aligned to the
// input. Entries before the first full window repeat the seed SMA.
func EMASeries(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	multiplier := 2.0 / float64(period+1)
	for i := 0; i < period; i++ {
		out[i] = seed
	}
	ema := seed
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out[i] = ema
	}
	return out
}

// CalculateWMA calculates the linearly Weighted Moving Average of closes
func CalculateWMA(candles []market.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	weightSum := 0.0
	start := len(candles) - period
	for i := 0; i < period; i++ {
		w := float64(i + 1)
		sum += candles[start+i].Close * w
		weightSum += w
	}
	return sum / weightSum
}

// CalculateHullMA calculates the Hull Moving Average
func CalculateHullMA(candles []market.Candle, period int) float64 {
	sqrtPeriod := int(math.Round(math.Sqrt(float64(period))))
	if len(candles) < period+sqrtPeriod || period <= 1 {
		return 0
	}
	// Raw series 2*WMA(n/2) - WMA(n), then WMA(sqrt(n)) over it
	raw := make([]market.Candle, 0, sqrtPeriod)
	for i := len(candles) - sqrtPeriod; i < len(candles); i++ {
		window := candles[:i+1]
		v := 2*CalculateWMA(window, period/2) - CalculateWMA(window, period)
		raw = append(raw, market.Candle{Close: v})
	}
	return CalculateWMA(raw, sqrtPeriod)
}

// CalculateVWMA calculates a typical-price weighted average. Synthetic-index
// feeds carry no volume, so the typical price stands in for the weight base.
func CalculateVWMA(candles []market.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += (candles[i].High + candles[i].Low + candles[i].Close) / 3
	}
	return sum / float64(period)
}

// CalculateIchimokuBase calculates the Kijun-sen base line
func CalculateIchimokuBase(candles []market.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	hi := math.Inf(-1)
	lo := math.Inf(1)
	for i := len(candles) - period; i < len(candles); i++ {
		hi = math.Max(hi, candles[i].High)
		lo = math.Min(lo, candles[i].Low)
	}
	return (hi + lo) / 2
}

// ============================================================================
// OSCILLATORS
// ============================================================================

// CalculateRSI calculates the Relative Strength Index
func CalculateRSI(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0 // Neutral RSI
	}
	gains := 0.0
	losses := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// RSISeries returns the RSI at every index, 50 before the window fills.
func RSISeries(candles []market.Candle, period int) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = CalculateRSI(candles[:i+1], period)
	}
	return out
}

// MACDResult holds MACD indicator values
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// CalculateMACD calculates MACD, signal line and histogram (12/26/9 style)
func CalculateMACD(candles []market.Candle, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	macdLine := MACDSeries(candles, fastPeriod, slowPeriod)
	if len(macdLine) < signalPeriod {
		return MACDResult{}
	}
	signal := EMASeries(macdLine, signalPeriod)
	m := macdLine[len(macdLine)-1]
	s := signal[len(signal)-1]
	return MACDResult{MACD: m, Signal: s, Histogram: m - s}
}

// MACDSeries returns the MACD line aligned to the candles past the slow
// window.
func MACDSeries(candles []market.Candle, fastPeriod, slowPeriod int) []float64 {
	if len(candles) < slowPeriod {
		return nil
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	fast := EMASeries(closes, fastPeriod)
	slow := EMASeries(closes, slowPeriod)
	out := make([]float64, len(candles)-slowPeriod+1)
	for i := slowPeriod - 1; i < len(candles); i++ {
		out[i-slowPeriod+1] = fast[i] - slow[i]
	}
	return out
}

// StochasticResult holds %K and %D
type StochasticResult struct {
	K float64
	D float64
}

// CalculateStochastic calculates the Stochastic oscillator
func CalculateStochastic(candles []market.Candle, kPeriod, dPeriod int) StochasticResult {
	if len(candles) < kPeriod+dPeriod {
		return StochasticResult{K: 50, D: 50}
	}
	kValues := make([]float64, dPeriod)
	for j := 0; j < dPeriod; j++ {
		end := len(candles) - dPeriod + j + 1
		kValues[j] = rawStochK(candles[:end], kPeriod)
	}
	sum := 0.0
	for _, k := range kValues {
		sum += k
	}
	return StochasticResult{K: kValues[dPeriod-1], D: sum / float64(dPeriod)}
}

func rawStochK(candles []market.Candle, period int) float64 {
	hi := math.Inf(-1)
	lo := math.Inf(1)
	for i := len(candles) - period; i < len(candles); i++ {
		hi = math.Max(hi, candles[i].High)
		lo = math.Min(lo, candles[i].Low)
	}
	if hi == lo {
		return 50
	}
	return (candles[len(candles)-1].Close - lo) / (hi - lo) * 100
}

// CalculateStochRSI calculates the stochastic of the RSI series
func CalculateStochRSI(candles []market.Candle, rsiPeriod, stochPeriod int) float64 {
	if len(candles) < rsiPeriod+stochPeriod {
		return 50
	}
	rsis := RSISeries(candles, rsiPeriod)
	window := rsis[len(rsis)-stochPeriod:]
	hi := math.Inf(-1)
	lo := math.Inf(1)
	for _, v := range window {
		hi = math.Max(hi, v)
		lo = math.Min(lo, v)
	}
	if hi == lo {
		return 50
	}
	return (window[len(window)-1] - lo) / (hi - lo) * 100
}

// CalculateCCI calculates the Commodity Channel Index
func CalculateCCI(candles []market.Candle, period int) float64 {
	if len(candles) < period {
		return 0
	}
	tps := make([]float64, period)
	sum := 0.0
	start := len(candles) - period
	for i := 0; i < period; i++ {
		c := candles[start+i]
		tps[i] = (c.High + c.Low + c.Close) / 3
		sum += tps[i]
	}
	mean := sum / float64(period)
	dev := 0.0
	for _, tp := range tps {
		dev += math.Abs(tp - mean)
	}
	meanDev := dev / float64(period)
	if meanDev == 0 {
		return 0
	}
	return (tps[period-1] - mean) / (0.015 * meanDev)
}

// CalculateMomentum calculates n-period momentum of the close
func CalculateMomentum(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}
	return candles[len(candles)-1].Close - candles[len(candles)-1-period].Close
}

// CalculateROC calculates the n-period rate of change in percent
func CalculateROC(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}
	past := candles[len(candles)-1-period].Close
	if past == 0 {
		return 0
	}
	return (candles[len(candles)-1].Close - past) / past * 100
}

// CalculateWilliamsR calculates Williams %R
func CalculateWilliamsR(candles []market.Candle, period int) float64 {
	if len(candles) < period {
		return -50
	}
	hi := math.Inf(-1)
	lo := math.Inf(1)
	for i := len(candles) - period; i < len(candles); i++ {
		hi = math.Max(hi, candles[i].High)
		lo = math.Min(lo, candles[i].Low)
	}
	if hi == lo {
		return -50
	}
	return (hi - candles[len(candles)-1].Close) / (hi - lo) * -100
}

// CalculateAwesomeOscillator returns the current and previous AO values
// (median-price SMA5 minus SMA34)
func CalculateAwesomeOscillator(candles []market.Candle) (current, previous float64) {
	if len(candles) < 35 {
		return 0, 0
	}
	ao := func(cs []market.Candle) float64 {
		return medianSMA(cs, 5) - medianSMA(cs, 34)
	}
	return ao(candles), ao(candles[:len(candles)-1])
}

func medianSMA(candles []market.Candle, period int) float64 {
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += (candles[i].High + candles[i].Low) / 2
	}
	return sum / float64(period)
}

// CalculateUltimateOscillator calculates the 7/14/28 Ultimate Oscillator
func CalculateUltimateOscillator(candles []market.Candle) float64 {
	if len(candles) < 29 {
		return 50
	}
	bp := make([]float64, len(candles))
	tr := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		bp[i] = candles[i].Close - math.Min(candles[i].Low, prevClose)
		tr[i] = math.Max(candles[i].High, prevClose) - math.Min(candles[i].Low, prevClose)
	}
	avg := func(period int) float64 {
		bpSum, trSum := 0.0, 0.0
		for i := len(candles) - period; i < len(candles); i++ {
			bpSum += bp[i]
			trSum += tr[i]
		}
		if trSum == 0 {
			return 0.5
		}
		return bpSum / trSum
	}
	return 100 * (4*avg(7) + 2*avg(14) + avg(28)) / 7
}

// BullBearPower holds Elder-ray bull and bear power
type BullBearPower struct {
	Bull float64
	Bear float64
}

// CalculateBullBearPower calculates Elder-ray power against EMA13
func CalculateBullBearPower(candles []market.Candle) BullBearPower {
	if len(candles) < 13 {
		return BullBearPower{}
	}
	ema := CalculateEMA(candles, 13)
	last := candles[len(candles)-1]
	return BullBearPower{Bull: last.High - ema, Bear: last.Low - ema}
}

// ============================================================================
// VOLATILITY & TREND STRENGTH
// ============================================================================

// CalculateATR calculates the Average True Range (Wilder smoothing)
func CalculateATR(candles []market.Candle, period int) float64 {
	series := ATRSeries(candles, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// ATRSeries returns the ATR aligned to the input; the first `period`
// entries are zero.
func ATRSeries(candles []market.Candle, period int) []float64 {
	if len(candles) < period+1 {
		return nil
	}
	out := make([]float64, len(candles))
	trSum := 0.0
	for i := 1; i <= period; i++ {
		trSum += trueRange(candles[i], candles[i-1])
	}
	atr := trSum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(candles[i], candles[i-1])) / float64(period)
		out[i] = atr
	}
	return out
}

func trueRange(c, prev market.Candle) float64 {
	tr := c.High - c.Low
	tr = math.Max(tr, math.Abs(c.High-prev.Close))
	return math.Max(tr, math.Abs(c.Low-prev.Close))
}

// BollingerBandsResult holds Bollinger Bands values
type BollingerBandsResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollingerBands calculates Bollinger Bands
func CalculateBollingerBands(candles []market.Candle, period int, stdDevMultiplier float64) BollingerBandsResult {
	if len(candles) < period {
		return BollingerBandsResult{}
	}
	middle := CalculateSMA(candles, period)
	variance := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))
	return BollingerBandsResult{
		Upper:  middle + stdDevMultiplier*stdDev,
		Middle: middle,
		Lower:  middle - stdDevMultiplier*stdDev,
	}
}

// ADXResult holds ADX and the directional indices
type ADXResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// CalculateADX calculates the Average Directional Index with +DI/-DI
func CalculateADX(candles []market.Candle, period int) ADXResult {
	if len(candles) < 2*period+1 {
		return ADXResult{}
	}
	n := len(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	smTR, smPlus, smMinus := 0.0, 0.0, 0.0
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dxSum := 0.0
	dxCount := 0
	var plusDI, minusDI, adx float64
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		if smTR == 0 {
			continue
		}
		plusDI = 100 * smPlus / smTR
		minusDI = 100 * smMinus / smTR
		sum := plusDI + minusDI
		if sum == 0 {
			continue
		}
		dx := 100 * math.Abs(plusDI-minusDI) / sum
		if dxCount < period {
			dxSum += dx
			dxCount++
			adx = dxSum / float64(dxCount)
		} else {
			adx = (adx*float64(period-1) + dx) / float64(period)
		}
	}
	return ADXResult{ADX: adx, PlusDI: plusDI, MinusDI: minusDI}
}

// CalculateADR calculates the average daily range over the last `window`
// daily candles.
func CalculateADR(daily []market.Candle, window int) float64 {
	if len(daily) < window || window <= 0 {
		return 0
	}
	sum := 0.0
	for i := len(daily) - window; i < len(daily); i++ {
		sum += daily[i].High - daily[i].Low
	}
	return sum / float64(window)
}
