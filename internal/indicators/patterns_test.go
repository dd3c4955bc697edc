package indicators

import (
	"testing"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

func TestClassifyPattern(t *testing.T) {
	neutralPrev := market.Candle{Open: 100, High: 101, Low: 99, Close: 100.5}

	tests := []struct {
		name string
		prev market.Candle
		curr market.Candle
		want string
	}{
		{
			name: "marubozu",
			prev: neutralPrev,
			curr: market.Candle{Open: 100, High: 110.2, Low: 99.9, Close: 110},
			want: PatternMarubozu,
		},
		{
			name: "bullish pin",
			prev: neutralPrev,
			curr: market.Candle{Open: 100, High: 100.5, Low: 90, Close: 100.2},
			want: PatternBullishPin,
		},
		{
			name: "bearish pin",
			prev: neutralPrev,
			curr: market.Candle{Open: 100, High: 110, Low: 99.7, Close: 99.9},
			want: PatternBearishPin,
		},
		{
			name: "bullish engulfing",
			prev: market.Candle{Open: 102, High: 102.5, Low: 99.5, Close: 100},
			curr: market.Candle{Open: 99.8, High: 103.5, Low: 99.3, Close: 103},
			want: PatternBullishEngulfing,
		},
		{
			name: "bearish engulfing",
			prev: market.Candle{Open: 100, High: 102.5, Low: 99.5, Close: 102},
			curr: market.Candle{Open: 102.2, High: 102.7, Low: 98.5, Close: 99},
			want: PatternBearishEngulfing,
		},
		{
			name: "bullish harami",
			prev: market.Candle{Open: 105, High: 105.5, Low: 99.5, Close: 100},
			curr: market.Candle{Open: 101, High: 103.5, Low: 100.1, Close: 102},
			want: PatternBullishHarami,
		},
		{
			name: "tweezer top",
			prev: market.Candle{Open: 100, High: 105, Low: 99, Close: 104},
			curr: market.Candle{Open: 104, High: 105.01, Low: 100, Close: 101},
			want: PatternTweezerTop,
		},
		{
			name: "doji",
			prev: market.Candle{Open: 100.2, High: 102, Low: 98, Close: 100.7},
			curr: market.Candle{Open: 100, High: 101, Low: 99, Close: 100.05},
			want: PatternDoji,
		},
		{
			name: "plain candle",
			prev: neutralPrev,
			curr: market.Candle{Open: 100, High: 101.4, Low: 99.2, Close: 100.8},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyPattern([]market.Candle{tt.prev, tt.curr})
			if got != tt.want {
				t.Errorf("ClassifyPattern() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyPatternPriority(t *testing.T) {
	// A full-body candle that also engulfs the prior must still read as
	// marubozu: the table is ordered.
	prev := market.Candle{Open: 101, High: 101.5, Low: 99.5, Close: 100}
	curr := market.Candle{Open: 99, High: 106.2, Low: 98.9, Close: 106}
	if got := ClassifyPattern([]market.Candle{prev, curr}); got != PatternMarubozu {
		t.Errorf("priority violated: got %q, want marubozu", got)
	}
}

func TestClassifyPatternDegenerate(t *testing.T) {
	flat := market.Candle{Open: 100, High: 100, Low: 100, Close: 100}
	if got := ClassifyPattern([]market.Candle{flat, flat}); got != "" {
		t.Errorf("zero-range candle classified as %q", got)
	}
	if got := ClassifyPattern([]market.Candle{flat}); got != "" {
		t.Errorf("single candle classified as %q", got)
	}
}

func TestScoreReversalPattern(t *testing.T) {
	// Strong prior red candle, then a long-tailed bullish pin closing at
	// its top: all three points.
	prev := market.Candle{Open: 104, High: 104.2, Low: 100, Close: 100.2}
	pin := market.Candle{Open: 100.2, High: 100.6, Low: 96, Close: 100.5}
	candles := []market.Candle{prev, pin}
	if got := ScoreReversalPattern(PatternBullishPin, candles); got != 3 {
		t.Errorf("score = %d, want 3", got)
	}

	// Weak setup: small wicks, mid-range close, indecisive prior candle.
	weakPrev := market.Candle{Open: 100, High: 102, Low: 98, Close: 100.4}
	weak := market.Candle{Open: 100, High: 100.9, Low: 99.8, Close: 100.6}
	if got := ScoreReversalPattern(PatternBullishHarami, []market.Candle{weakPrev, weak}); got != 0 {
		t.Errorf("weak setup score = %d, want 0", got)
	}

	if got := ScoreReversalPattern(PatternDoji, nil); got != 0 {
		t.Errorf("empty input score = %d, want 0", got)
	}
}
