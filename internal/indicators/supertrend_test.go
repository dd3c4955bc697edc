package indicators

import (
	"testing"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

func trendCandles(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	price := start
	for i := 0; i < n; i++ {
		out[i] = market.Candle{Epoch: int64(i) * 60, Open: price, High: price + 1, Low: price - 1, Close: price + step*0.8}
		price += step
	}
	return out
}

func TestSuperTrendDirectionFollowsTrend(t *testing.T) {
	up := trendCandles(60, 100, 2)
	st := CalculateSuperTrend(up, 10, 3)
	if st.LastDirection() != 1 {
		t.Errorf("uptrend direction = %d, want +1", st.LastDirection())
	}
	last := up[len(up)-1].Close
	if level := st.Level[len(st.Level)-1]; level >= last {
		t.Errorf("uptrend level %v should sit below price %v", level, last)
	}

	down := trendCandles(60, 300, -2)
	st = CalculateSuperTrend(down, 10, 3)
	if st.LastDirection() != -1 {
		t.Errorf("downtrend direction = %d, want -1", st.LastDirection())
	}
}

func TestSuperTrendFlipsOnReversal(t *testing.T) {
	candles := trendCandles(60, 100, 2)
	price := candles[len(candles)-1].Close
	for i := 0; i < 40; i++ {
		price -= 3
		candles = append(candles, market.Candle{Epoch: int64(60+i) * 60, Open: price + 2, High: price + 3, Low: price - 1, Close: price})
	}
	st := CalculateSuperTrend(candles, 10, 3)
	if st.LastDirection() != -1 {
		t.Errorf("direction after hard reversal = %d, want -1", st.LastDirection())
	}
	// The series must contain both regimes.
	sawUp := false
	for _, d := range st.Direction {
		if d == 1 {
			sawUp = true
		}
	}
	if !sawUp {
		t.Error("expected an uptrend phase before the flip")
	}
}

func TestSuperTrendShortInput(t *testing.T) {
	st := CalculateSuperTrend(trendCandles(5, 100, 1), 10, 3)
	if st.LastDirection() != 0 {
		t.Errorf("short input direction = %d, want 0", st.LastDirection())
	}
}
