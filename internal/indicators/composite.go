package indicators

import (
	"strings"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// Recommendation is the composite TA verdict for one timeframe.
type Recommendation string

const (
	StrongBuy  Recommendation = "STRONG_BUY"
	Buy        Recommendation = "BUY"
	Neutral    Recommendation = "NEUTRAL"
	Sell       Recommendation = "SELL"
	StrongSell Recommendation = "STRONG_SELL"
)

// IsBuy reports whether the recommendation is on the buy side.
func (r Recommendation) IsBuy() bool { return strings.Contains(string(r), "BUY") }

// IsSell reports whether the recommendation is on the sell side.
func (r Recommendation) IsSell() bool { return strings.Contains(string(r), "SELL") }

// IsStrong reports a STRONG_* verdict.
func (r Recommendation) IsStrong() bool { return strings.HasPrefix(string(r), "STRONG") }

// Summary holds the composite vote and the headline indicator values.
type Summary struct {
	Recommendation Recommendation
	Score          float64 // (buys - sells) / votes, in [-1, 1]
	BuyVotes       int
	SellVotes      int
	NeutralVotes   int

	Close float64
	RSI   float64
	ADX   float64
	ATR   float64
	EMA20 float64
	EMA50 float64
}

type vote int

const (
	voteSell vote = iota - 1
	voteNeutral
	voteBuy
)

// Summarize runs the 26-indicator composite (11 oscillators, 15 moving
// averages) over one timeframe and maps the net score to a recommendation:
// |score| >= 0.5 is STRONG_*, >= 0.1 BUY/SELL, otherwise NEUTRAL.
func Summarize(candles []market.Candle) Summary {
	s := Summary{Recommendation: Neutral}
	if len(candles) < 2 {
		return s
	}
	price := candles[len(candles)-1].Close
	s.Close = price
	s.RSI = CalculateRSI(candles, 14)
	s.ATR = CalculateATR(candles, 14)
	s.EMA20 = CalculateEMA(candles, 20)
	s.EMA50 = CalculateEMA(candles, 50)

	adx := CalculateADX(candles, 14)
	s.ADX = adx.ADX

	votes := make([]vote, 0, 26)

	// Oscillators.
	votes = append(votes, bandVote(s.RSI, 30, 70))
	votes = append(votes, bandVote(CalculateStochastic(candles, 14, 3).K, 20, 80))
	votes = append(votes, bandVote(CalculateCCI(candles, 20), -100, 100))
	votes = append(votes, adxVote(adx))
	votes = append(votes, aoVote(candles))
	votes = append(votes, signVote(CalculateMomentum(candles, 10)))
	votes = append(votes, macdVote(candles))
	votes = append(votes, bandVote(CalculateStochRSI(candles, 14, 14), 20, 80))
	votes = append(votes, bandVote(CalculateWilliamsR(candles, 14), -80, -20))
	votes = append(votes, bullBearVote(candles))
	votes = append(votes, bandVote(CalculateUltimateOscillator(candles), 30, 70))

	// Moving averages: price above means buy.
	for _, p := range []int{10, 20, 30, 50, 100, 200} {
		votes = append(votes, maVote(price, CalculateSMA(candles, p)))
		votes = append(votes, maVote(price, CalculateEMA(candles, p)))
	}
	votes = append(votes, maVote(price, CalculateIchimokuBase(candles, 26)))
	votes = append(votes, maVote(price, CalculateVWMA(candles, 20)))
	votes = append(votes, maVote(price, CalculateHullMA(candles, 9)))

	for _, v := range votes {
		switch v {
		case voteBuy:
			s.BuyVotes++
		case voteSell:
			s.SellVotes++
		default:
			s.NeutralVotes++
		}
	}
	total := len(votes)
	if total > 0 {
		s.Score = float64(s.BuyVotes-s.SellVotes) / float64(total)
	}
	s.Recommendation = scoreToRecommendation(s.Score)
	return s
}

func scoreToRecommendation(score float64) Recommendation {
	switch {
	case score >= 0.5:
		return StrongBuy
	case score >= 0.1:
		return Buy
	case score <= -0.5:
		return StrongSell
	case score <= -0.1:
		return Sell
	default:
		return Neutral
	}
}

// bandVote votes buy below the lower band and sell above the upper band.
func bandVote(value, lower, upper float64) vote {
	if value < lower {
		return voteBuy
	}
	if value > upper {
		return voteSell
	}
	return voteNeutral
}

func signVote(value float64) vote {
	if value > 0 {
		return voteBuy
	}
	if value < 0 {
		return voteSell
	}
	return voteNeutral
}

func maVote(price, ma float64) vote {
	if ma == 0 {
		return voteNeutral
	}
	if price > ma {
		return voteBuy
	}
	if price < ma {
		return voteSell
	}
	return voteNeutral
}

func adxVote(adx ADXResult) vote {
	if adx.ADX <= 20 {
		return voteNeutral
	}
	if adx.PlusDI > adx.MinusDI {
		return voteBuy
	}
	if adx.MinusDI > adx.PlusDI {
		return voteSell
	}
	return voteNeutral
}

func aoVote(candles []market.Candle) vote {
	curr, prev := CalculateAwesomeOscillator(candles)
	if curr > 0 && curr >= prev {
		return voteBuy
	}
	if curr < 0 && curr <= prev {
		return voteSell
	}
	return voteNeutral
}

func macdVote(candles []market.Candle) vote {
	m := CalculateMACD(candles, 12, 26, 9)
	if m.MACD > m.Signal {
		return voteBuy
	}
	if m.MACD < m.Signal {
		return voteSell
	}
	return voteNeutral
}

func bullBearVote(candles []market.Candle) vote {
	bb := CalculateBullBearPower(candles)
	if bb.Bull > 0 && bb.Bear > 0 {
		return voteBuy
	}
	if bb.Bull < 0 && bb.Bear < 0 {
		return voteSell
	}
	return voteNeutral
}
