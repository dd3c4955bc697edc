package indicators

import (
	"math"
	"strings"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// Candlestick pattern labels. At most one label is produced per invocation,
// in the priority order marubozu > pin > engulfing > harami > tweezer > doji.
const (
	PatternMarubozu         = "marubozu"
	PatternBullishPin       = "bullish_pin"
	PatternBearishPin       = "bearish_pin"
	PatternBullishEngulfing = "bullish_engulfing"
	PatternBearishEngulfing = "bearish_engulfing"
	PatternBullishHarami    = "bullish_harami"
	PatternBearishHarami    = "bearish_harami"
	PatternTweezerTop       = "tweezer_top"
	PatternTweezerBottom    = "tweezer_bottom"
	PatternDoji             = "doji"
)

// patternChecks is the ordered predicate table; the first match wins.
var patternChecks = []func(curr, prev market.Candle) string{
	checkMarubozu,
	checkPin,
	checkEngulfing,
	checkHarami,
	checkTweezer,
	checkDoji,
}

// ClassifyPattern labels the last candle pair, or "" when nothing matches.
func ClassifyPattern(candles []market.Candle) string {
	if len(candles) < 2 {
		return ""
	}
	curr := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	if curr.High == curr.Low {
		return ""
	}
	for _, check := range patternChecks {
		if label := check(curr, prev); label != "" {
			return label
		}
	}
	return ""
}

// IsBullishPattern reports whether a label implies upward reversal or
// continuation.
func IsBullishPattern(label string) bool {
	return strings.HasPrefix(label, "bullish") || label == PatternTweezerBottom
}

// IsBearishPattern reports whether a label implies downward reversal or
// continuation.
func IsBearishPattern(label string) bool {
	return strings.HasPrefix(label, "bearish") || label == PatternTweezerTop
}

func body(c market.Candle) float64      { return math.Abs(c.Close - c.Open) }
func upperWick(c market.Candle) float64 { return c.High - math.Max(c.Open, c.Close) }
func lowerWick(c market.Candle) float64 { return math.Min(c.Open, c.Close) - c.Low }

func checkMarubozu(curr, _ market.Candle) string {
	if body(curr) > (curr.High-curr.Low)*0.9 {
		return PatternMarubozu
	}
	return ""
}

func checkPin(curr, _ market.Candle) string {
	totalRange := curr.High - curr.Low
	if body(curr) >= totalRange*0.35 {
		return ""
	}
	if lowerWick(curr) > totalRange*0.6 {
		return PatternBullishPin
	}
	if upperWick(curr) > totalRange*0.6 {
		return PatternBearishPin
	}
	return ""
}

func checkEngulfing(curr, prev market.Candle) string {
	if body(curr) <= body(prev) {
		return ""
	}
	if curr.Close > curr.Open && prev.Close < prev.Open &&
		curr.Close >= prev.Open && curr.Open <= prev.Close {
		return PatternBullishEngulfing
	}
	if curr.Close < curr.Open && prev.Close > prev.Open &&
		curr.Close <= prev.Open && curr.Open >= prev.Close {
		return PatternBearishEngulfing
	}
	return ""
}

func checkHarami(curr, prev market.Candle) string {
	if body(curr) >= body(prev)*0.5 {
		return ""
	}
	if math.Max(curr.Open, curr.Close) <= math.Max(prev.Open, prev.Close) &&
		math.Min(curr.Open, curr.Close) >= math.Min(prev.Open, prev.Close) {
		if curr.Close > curr.Open {
			return PatternBullishHarami
		}
		return PatternBearishHarami
	}
	return ""
}

func checkTweezer(curr, prev market.Candle) string {
	totalRange := curr.High - curr.Low
	if math.Abs(curr.High-prev.High) < totalRange*0.05 && curr.High > math.Max(curr.Open, curr.Close) {
		return PatternTweezerTop
	}
	if math.Abs(curr.Low-prev.Low) < totalRange*0.05 && curr.Low < math.Min(curr.Open, curr.Close) {
		return PatternTweezerBottom
	}
	return ""
}

func checkDoji(curr, _ market.Candle) string {
	if body(curr) < (curr.High-curr.Low)*0.1 {
		return PatternDoji
	}
	return ""
}

// ScoreReversalPattern grades a reversal setup 0..3: one point each for a
// wick-to-body ratio of at least 2, a close in the signal-side quarter of
// the range, and a strongly directional prior candle.
func ScoreReversalPattern(pattern string, candles []market.Candle) int {
	if len(candles) == 0 || pattern == "" {
		return 0
	}
	c := candles[len(candles)-1]
	totalRange := c.High - c.Low
	if totalRange == 0 {
		return 0
	}

	score := 0
	b := body(c)
	maxWick := math.Max(upperWick(c), lowerWick(c))
	if b == 0 || maxWick/b >= 2 {
		score++
	}

	switch {
	case strings.HasPrefix(pattern, "bullish"):
		if c.Close >= c.Low+totalRange*0.75 {
			score++
		}
	case strings.HasPrefix(pattern, "bearish"):
		if c.Close <= c.Low+totalRange*0.25 {
			score++
		}
	case pattern == PatternDoji:
		score++
	}

	if len(candles) > 1 {
		prev := candles[len(candles)-2]
		prevRange := prev.High - prev.Low
		if prevRange > 0 && body(prev)/prevRange > 0.6 {
			score++
		}
	}
	return score
}
