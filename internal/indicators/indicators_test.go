package indicators

import (
	"math"
	"testing"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// candlesFromCloses builds flat candles where OHLC all equal the close.
func candlesFromCloses(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{Epoch: int64(i) * 60, Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestCalculateSMA(t *testing.T) {
	candles := candlesFromCloses(1, 2, 3, 4, 5)
	if got := CalculateSMA(candles, 5); got != 3 {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := CalculateSMA(candles, 2); got != 4.5 {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
	if got := CalculateSMA(candles, 10); got != 0 {
		t.Errorf("SMA with short input = %v, want sentinel 0", got)
	}
}

func TestCalculateEMAConvergesToConstant(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 100
	}
	candles := candlesFromCloses(closes...)
	if got := CalculateEMA(candles, 10); !almostEqual(got, 100, 1e-9) {
		t.Errorf("EMA of constant series = %v, want 100", got)
	}
}

func TestCalculateRSI(t *testing.T) {
	// Monotonic rise has no losses.
	up := candlesFromCloses(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16)
	if got := CalculateRSI(up, 14); got != 100 {
		t.Errorf("RSI of rising series = %v, want 100", got)
	}
	down := candlesFromCloses(16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	if got := CalculateRSI(down, 14); got != 0 {
		t.Errorf("RSI of falling series = %v, want 0", got)
	}
	if got := CalculateRSI(up[:5], 14); got != 50 {
		t.Errorf("RSI with short input = %v, want sentinel 50", got)
	}
}

func TestCalculateATRFlatSeries(t *testing.T) {
	candles := make([]market.Candle, 30)
	for i := range candles {
		candles[i] = market.Candle{Epoch: int64(i) * 60, Open: 100, High: 102, Low: 98, Close: 100}
	}
	if got := CalculateATR(candles, 14); !almostEqual(got, 4, 1e-9) {
		t.Errorf("ATR of constant-range series = %v, want 4", got)
	}
	if got := CalculateATR(candles[:5], 14); got != 0 {
		t.Errorf("ATR with short input = %v, want sentinel 0", got)
	}
}

func TestCalculateBollingerBands(t *testing.T) {
	candles := candlesFromCloses(2, 4, 6, 8, 10, 12, 14, 16, 18, 20)
	bb := CalculateBollingerBands(candles, 10, 2)
	if bb.Middle != 11 {
		t.Errorf("middle band = %v, want 11", bb.Middle)
	}
	if bb.Upper <= bb.Middle || bb.Lower >= bb.Middle {
		t.Errorf("band ordering broken: %+v", bb)
	}
}

func TestCalculateADXTrendingVsFlat(t *testing.T) {
	trending := make([]market.Candle, 60)
	for i := range trending {
		base := 100 + float64(i)*2
		trending[i] = market.Candle{Epoch: int64(i) * 60, Open: base, High: base + 1, Low: base - 1, Close: base + 0.8}
	}
	adx := CalculateADX(trending, 14)
	if adx.ADX <= 20 {
		t.Errorf("ADX of strong trend = %v, want > 20", adx.ADX)
	}
	if adx.PlusDI <= adx.MinusDI {
		t.Errorf("uptrend should have +DI > -DI, got +%v -%v", adx.PlusDI, adx.MinusDI)
	}
	if got := CalculateADX(trending[:10], 14); got.ADX != 0 {
		t.Errorf("ADX with short input = %v, want sentinel 0", got.ADX)
	}
}

func TestCalculateMACDRisingSeries(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	m := CalculateMACD(candlesFromCloses(closes...), 12, 26, 9)
	if m.MACD <= 0 {
		t.Errorf("MACD of rising series = %v, want > 0", m.MACD)
	}
}

func TestCalculateWilliamsR(t *testing.T) {
	candles := make([]market.Candle, 14)
	for i := range candles {
		candles[i] = market.Candle{Epoch: int64(i) * 60, Open: 100, High: 110, Low: 90, Close: 110}
	}
	// Close at the period high -> %R = 0.
	if got := CalculateWilliamsR(candles, 14); !almostEqual(got, 0, 1e-9) {
		t.Errorf("WilliamsR at high = %v, want 0", got)
	}
}

func TestCalculateADR(t *testing.T) {
	daily := make([]market.Candle, 14)
	for i := range daily {
		daily[i] = market.Candle{High: 105, Low: 100}
	}
	if got := CalculateADR(daily, 14); got != 5 {
		t.Errorf("ADR = %v, want 5", got)
	}
	if got := CalculateADR(daily[:3], 14); got != 0 {
		t.Errorf("ADR with short input = %v, want 0", got)
	}
}

func TestSummarizeDirections(t *testing.T) {
	rising := make([]float64, 250)
	for i := range rising {
		rising[i] = 100 + float64(i)*0.5
	}
	s := Summarize(candlesFromCloses(rising...))
	if !s.Recommendation.IsBuy() {
		t.Errorf("rising series recommendation = %v, want buy side (score %v)", s.Recommendation, s.Score)
	}

	falling := make([]float64, 250)
	for i := range falling {
		falling[i] = 300 - float64(i)*0.5
	}
	s = Summarize(candlesFromCloses(falling...))
	if !s.Recommendation.IsSell() {
		t.Errorf("falling series recommendation = %v, want sell side (score %v)", s.Recommendation, s.Score)
	}

	if got := Summarize(nil).Recommendation; got != Neutral {
		t.Errorf("empty input recommendation = %v, want NEUTRAL", got)
	}
}

func TestScoreToRecommendationBands(t *testing.T) {
	tests := []struct {
		score float64
		want  Recommendation
	}{
		{0.6, StrongBuy},
		{0.5, StrongBuy},
		{0.3, Buy},
		{0.1, Buy},
		{0.05, Neutral},
		{-0.05, Neutral},
		{-0.1, Sell},
		{-0.3, Sell},
		{-0.5, StrongSell},
		{-0.8, StrongSell},
	}
	for _, tt := range tests {
		if got := scoreToRecommendation(tt.score); got != tt.want {
			t.Errorf("scoreToRecommendation(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}
