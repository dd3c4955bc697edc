package screener

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/indicators"
	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// Analyzer computes scorecards from cache snapshots. It never mutates
// market state.
type Analyzer struct {
	cache *market.Cache
	log   zerolog.Logger
}

// NewAnalyzer creates an analyzer over the shared cache.
func NewAnalyzer(cache *market.Cache, log zerolog.Logger) *Analyzer {
	return &Analyzer{cache: cache, log: log.With().Str("component", "screener").Logger()}
}

// Analyze produces the scorecard for one symbol under the active strategy.
// Returns false when the symbol has too little history to judge.
func (a *Analyzer) Analyze(symbol string, cfg config.Config, now time.Time) (Scorecard, bool) {
	price, ok := a.cache.LastTick(symbol)
	if !ok || price <= 0 {
		return Scorecard{}, false
	}

	var card Scorecard
	switch cfg.ActiveStrategy {
	case config.StrategyS1, config.StrategyS2, config.StrategyS3:
		card, ok = a.analyzeCrossover(symbol, cfg, price)
	case config.StrategyS4:
		card, ok = a.analyzeEcho(symbol, price)
	case config.StrategyS5:
		card, ok = a.analyzeRegime(symbol, cfg, price, now)
	case config.StrategyS6:
		card, ok = a.analyzeWeighted(symbol, price, now)
	case config.StrategyS7:
		card, ok = a.analyzeMultiTF(symbol, cfg, price)
	default:
		return Scorecard{}, false
	}
	if !ok {
		return Scorecard{}, false
	}

	card.Symbol = symbol
	card.Strategy = cfg.ActiveStrategy
	card.LastUpdate = now

	a.attachVolatility(&card, symbol, price)
	a.attachExpiry(&card, symbol, cfg, price)
	a.attachMultiplier(&card, symbol, price, now, cfg)

	// The invariant every consumer relies on.
	if card.Signal != SignalWait && math.Abs(card.Confidence) < card.Threshold {
		card.Signal = SignalWait
	}
	return card, true
}

// ============================================================================
// STRATEGIES 1-3: COMPOSITE CROSSOVER SUMMARY
// ============================================================================

func (a *Analyzer) analyzeCrossover(symbol string, cfg config.Config, price float64) (Scorecard, bool) {
	candles := a.cache.Snapshot(symbol, cfg.Profile().LTF)
	if len(candles) < 30 {
		return Scorecard{}, false
	}
	sum := indicators.Summarize(candles)

	card := Scorecard{
		Confidence: sum.Score * 100,
		Threshold:  10,
		Regime:     RegimeScalp,
		ADX:        sum.ADX,
		ATR:        sum.ATR,
		Signal:     SignalWait,
	}
	card.Trend, card.Momentum, card.Volatility, card.Structure = subScores(candles, price)
	switch {
	case sum.Recommendation.IsBuy():
		card.Direction = DirectionCall
		card.Signal = SignalBuy
	case sum.Recommendation.IsSell():
		card.Direction = DirectionPut
		card.Signal = SignalSell
	}
	return card, true
}

// ============================================================================
// STRATEGY 4: ECHO FORECAST + PATTERN
// ============================================================================

func (a *Analyzer) analyzeEcho(symbol string, price float64) (Scorecard, bool) {
	candles := a.cache.Snapshot(symbol, market.Gran1m)
	if len(candles) < 2*indicators.EchoWindow+2 {
		return Scorecard{}, false
	}
	fcast := indicators.CalculateEchoForecast(candles, indicators.EchoWindow, indicators.EchoEvals)
	pattern := indicators.ClassifyPattern(candles)

	card := Scorecard{
		Threshold: 50,
		Regime:    RegimeScalp,
		Pattern:   pattern,
		Fcast:     toForecast(fcast),
		Signal:    SignalWait,
	}
	switch {
	case indicators.IsBullishPattern(pattern):
		card.Direction = DirectionCall
	case indicators.IsBearishPattern(pattern):
		card.Direction = DirectionPut
	case fcast.Final > price:
		card.Direction = DirectionCall
	default:
		card.Direction = DirectionPut
	}
	card.Confidence = math.Abs(fcast.Correlation) * 100
	if card.Direction == DirectionPut {
		card.Confidence = -card.Confidence
	}
	if math.Abs(card.Confidence) >= card.Threshold {
		if card.Direction == DirectionCall {
			card.Signal = SignalBuy
		} else {
			card.Signal = SignalSell
		}
	}
	return card, true
}

// ============================================================================
// STRATEGY 5: REGIME-WEIGHTED BLOCKS (1m / 5m / 1h)
// ============================================================================

func (a *Analyzer) analyzeRegime(symbol string, cfg config.Config, price float64, now time.Time) (Scorecard, bool) {
	regime := RegimeScalp
	if cfg.ContractType == config.ContractMultiplier {
		regime = RegimeMultiplier
	}

	grans := []int64{market.Gran1m, market.Gran5m, market.Gran1h}
	blocksSeen := 0
	var trend, momentum, volatility, structure float64
	zones := a.cache.Zones(symbol)
	for _, g := range grans {
		candles := a.cache.Snapshot(symbol, g)
		if len(candles) < 60 {
			continue
		}
		b := scoreBlocks(candles, price, zones, regime)
		trend += b.trend
		momentum += b.momentum
		volatility += b.volatility
		structure += b.structure
		blocksSeen++
	}
	if blocksSeen == 0 {
		return Scorecard{}, false
	}

	total := trend + momentum + volatility + structure
	confidence := clamp(math.Abs(total), 0, 100)
	direction := DirectionCall
	if total < 0 {
		direction = DirectionPut
		confidence = -confidence
	}

	base := 72.0
	if regime == RegimeMultiplier {
		base = 68.0
	}
	threshold := base
	if isDeadHours(now) {
		threshold += 5
	}
	if streak := a.lossStreak(symbol); streak >= 3 {
		threshold += 5 * float64(streak-2)
	}

	card := Scorecard{
		Confidence: confidence,
		Direction:  direction,
		Threshold:  threshold,
		Regime:     regime,
		Trend:      trend,
		Momentum:   momentum,
		Volatility: volatility,
		Structure:  structure,
		Signal:     SignalWait,
	}
	a.applyForecastVeto(&card, symbol, price)
	return card, true
}

// ============================================================================
// STRATEGY 6: FIXED-WEIGHT BLOCKS (1m / 1h / 4h)
// ============================================================================

func (a *Analyzer) analyzeWeighted(symbol string, price float64, now time.Time) (Scorecard, bool) {
	grans := []int64{market.Gran1m, market.Gran1h, market.Gran4h}
	blocksSeen := 0
	var trend, momentum, volatility, structure float64
	zones := a.cache.Zones(symbol)
	for _, g := range grans {
		candles := a.cache.Snapshot(symbol, g)
		if len(candles) < 60 {
			continue
		}
		b := scoreBlocks(candles, price, zones, RegimeScalp)
		trend += b.trend
		momentum += b.momentum
		volatility += b.volatility
		structure += b.structure
		blocksSeen++
	}
	if blocksSeen == 0 {
		return Scorecard{}, false
	}

	total := 3*trend + 2*momentum + volatility + 2*structure
	total /= 2 // weighted sum spans roughly twice the unweighted range
	confidence := clamp(math.Abs(total), 0, 100)
	direction := DirectionCall
	if total < 0 {
		direction = DirectionPut
		confidence = -confidence
	}

	card := Scorecard{
		Confidence: confidence,
		Direction:  direction,
		Threshold:  60,
		Regime:     RegimeScalp,
		Trend:      trend,
		Momentum:   momentum,
		Volatility: volatility,
		Structure:  structure,
		Signal:     SignalWait,
	}
	a.applyForecastVeto(&card, symbol, price)
	return card, true
}

// ============================================================================
// STRATEGY 7: MULTI-TIMEFRAME ALIGNMENT
// ============================================================================

func (a *Analyzer) analyzeMultiTF(symbol string, cfg config.Config, price float64) (Scorecard, bool) {
	type tfVerdict struct {
		gran int64
		sum  indicators.Summary
	}
	var verdicts []tfVerdict
	for _, label := range []string{cfg.Strat7SmallTF, cfg.Strat7MidTF, cfg.Strat7HighTF} {
		gran := config.TFSeconds(label)
		if gran == 0 {
			// OFF or unset timeframes never vote.
			continue
		}
		candles := a.cache.Snapshot(symbol, gran)
		if len(candles) < 30 {
			continue
		}
		verdicts = append(verdicts, tfVerdict{gran: gran, sum: indicators.Summarize(candles)})
	}
	if len(verdicts) == 0 {
		return Scorecard{}, false
	}

	allBuy, allSell := true, true
	for _, v := range verdicts {
		if !v.sum.Recommendation.IsBuy() {
			allBuy = false
		}
		if !v.sum.Recommendation.IsSell() {
			allSell = false
		}
	}
	highest := verdicts[len(verdicts)-1]

	card := Scorecard{
		Threshold: 50,
		Regime:    RegimeScalp,
		ADX:       highest.sum.ADX,
		ATR:       highest.sum.ATR,
		Signal:    SignalWait,
	}
	switch {
	case len(verdicts) == 1:
		// Single-TF mode: the lone verdict is labelled like an alignment
		// but the evaluator debounces it on signal transitions.
		card.SingleTF = true
		if highest.sum.Recommendation.IsBuy() {
			card.Direction = DirectionCall
			card.Signal = SignalBuy
			card.Label = LabelAlignedBuy
			card.Confidence = 50
		} else if highest.sum.Recommendation.IsSell() {
			card.Direction = DirectionPut
			card.Signal = SignalSell
			card.Label = LabelAlignedSell
			card.Confidence = -50
		}
	case allBuy:
		card.Direction = DirectionCall
		card.Signal = SignalBuy
		card.Label = LabelAlignedBuy
		card.Confidence = 80
		if highest.sum.Recommendation.IsStrong() {
			card.Label = LabelQuickBuy
			card.Confidence = 90
		}
	case allSell:
		card.Direction = DirectionPut
		card.Signal = SignalSell
		card.Label = LabelAlignedSell
		card.Confidence = -80
		if highest.sum.Recommendation.IsStrong() {
			card.Label = LabelQuickSell
			card.Confidence = -90
		}
	}

	// Echo correlation nudges confidence toward or away from the threshold.
	candles1m := a.cache.Snapshot(symbol, market.Gran1m)
	if len(candles1m) >= 2*indicators.EchoWindow+2 {
		fcast := indicators.CalculateEchoForecast(candles1m, indicators.EchoWindow, indicators.EchoEvals)
		card.Fcast = toForecast(fcast)
		if card.Confidence > 0 {
			card.Confidence = clamp(card.Confidence+fcast.Correlation*10, 0, 100)
		} else if card.Confidence < 0 {
			card.Confidence = clamp(card.Confidence-fcast.Correlation*10, -100, 0)
		}
	}
	return card, true
}

// ============================================================================
// BLOCK SCORING
// ============================================================================

// subScores is the 0-10 quartet carried on crossover-family cards: EMA
// alignment, RSI, relative ATR, and the last candle pattern. 5 is neutral.
func subScores(candles []market.Candle, price float64) (trend, momentum, volatility, structure float64) {
	trend, momentum, volatility, structure = 5, 5, 5, 5

	ema20 := indicators.CalculateEMA(candles, 20)
	ema50 := indicators.CalculateEMA(candles, 50)
	if ema20 > 0 && ema50 > 0 {
		if price > ema20 && ema20 > ema50 {
			trend = 8.5
		} else if price < ema20 && ema20 < ema50 {
			trend = 1.5
		}
	}

	momentum = indicators.CalculateRSI(candles, 14) / 10

	atr := indicators.CalculateATR(candles, 14)
	if series := indicators.ATRSeries(candles, 14); len(series) > 0 && atr > 0 {
		var sum float64
		for _, v := range series {
			sum += v
		}
		if avg := sum / float64(len(series)); avg > 0 {
			volatility = clamp(5*atr/avg, 0, 10)
		}
	}

	pattern := indicators.ClassifyPattern(candles)
	if indicators.IsBullishPattern(pattern) {
		structure = 7.5
	} else if indicators.IsBearishPattern(pattern) {
		structure = 2.5
	}
	return trend, momentum, volatility, structure
}

type blockScores struct {
	trend      float64
	momentum   float64
	volatility float64
	structure  float64
}

func scoreBlocks(candles []market.Candle, price float64, zones []market.Zone, regime string) blockScores {
	var b blockScores

	// Trend: EMA alignment, SuperTrend direction, ADX-confirmed strength.
	ema50 := indicators.CalculateEMA(candles, 50)
	ema200 := indicators.CalculateEMA(candles, 200)
	if ema50 > 0 && ema200 > 0 {
		if ema50 > ema200 {
			b.trend += 8.5
		} else if ema50 < ema200 {
			b.trend -= 8.5
		}
	}
	st := indicators.CalculateSuperTrend(candles, 10, 3)
	b.trend += 1.5 * float64(st.LastDirection())
	adx := indicators.CalculateADX(candles, 14)
	if adx.ADX > 25 {
		if adx.PlusDI > adx.MinusDI {
			b.trend += 5
		} else {
			b.trend -= 5
		}
	}

	// Momentum: RSI distance, StochRSI distance, MACD divergence.
	rsi := indicators.CalculateRSI(candles, 14)
	b.momentum += (rsi - 50) / 5
	stochRSI := indicators.CalculateStochRSI(candles, 14, 14)
	b.momentum += (stochRSI - 50) / 10
	b.momentum += 5 * float64(indicators.DetectMACDDivergence(candles, 20))

	// Volatility: band position scaled by relative ATR.
	bb := indicators.CalculateBollingerBands(candles, 20, 2)
	if bb.Upper > bb.Middle {
		pos := clamp((price-bb.Middle)/(bb.Upper-bb.Middle), -1, 1)
		atr := indicators.CalculateATR(candles, 14)
		rel := 1.0
		if series := indicators.ATRSeries(candles, 14); len(series) > 0 {
			var sum float64
			for _, v := range series {
				sum += v
			}
			if avg := sum / float64(len(series)); avg > 0 {
				rel = clamp(atr/avg, 0, 2)
			}
		}
		b.volatility = pos * 5 * (0.5 + rel/2)
	}

	// Structure: SNR proximity plus regime-specific reference levels.
	b.structure = structureScore(candles, price, zones, regime)
	return b
}

func structureScore(candles []market.Candle, price float64, zones []market.Zone, regime string) float64 {
	var score float64
	for _, z := range zones {
		if z.Price <= 0 || math.Abs(price-z.Price)/z.Price > 0.003 {
			continue
		}
		if z.Type == market.ZoneSupport || (z.Type == market.ZoneFlip && price > z.Price) {
			score += 7.5
		} else {
			score -= 7.5
		}
		break
	}

	if regime == RegimeMultiplier {
		for _, ob := range indicators.CalculateOrderBlocks(candles) {
			if math.Abs(price-ob.Price)/price > 0.01 {
				continue
			}
			if ob.Bullish && price > ob.Price {
				score += 2.5
			} else if !ob.Bullish && price < ob.Price {
				score -= 2.5
			}
			break
		}
	} else {
		highs, lows := indicators.RecentFractalLevels(candles, 2)
		if len(highs) > 0 && price > highs[len(highs)-1] {
			score += 2.5
		}
		if len(lows) > 0 && price < lows[len(lows)-1] {
			score -= 2.5
		}
	}

	if gaps := indicators.CalculateFVGs(candles, 50); len(gaps) > 0 {
		g := gaps[0]
		if price >= g.Bottom*0.99 && price <= g.Top*1.01 {
			if g.Bullish {
				score += 5
			} else {
				score -= 5
			}
		}
	}
	return score
}

// ============================================================================
// SHARED ENRICHMENT
// ============================================================================

// applyForecastVeto signals only when the echo forecast does not contradict
// the intended direction.
func (a *Analyzer) applyForecastVeto(card *Scorecard, symbol string, price float64) {
	candles := a.cache.Snapshot(symbol, market.Gran1m)
	if len(candles) >= 2*indicators.EchoWindow+2 {
		fcast := indicators.CalculateEchoForecast(candles, indicators.EchoWindow, indicators.EchoEvals)
		card.Fcast = toForecast(fcast)
		if len(fcast.Prices) > 0 {
			vetoed := (card.Direction == DirectionCall && fcast.Final < price) ||
				(card.Direction == DirectionPut && fcast.Final > price)
			if vetoed {
				card.Signal = SignalWait
				return
			}
		}
	}
	if math.Abs(card.Confidence) >= card.Threshold {
		if card.Direction == DirectionCall {
			card.Signal = SignalBuy
		} else {
			card.Signal = SignalSell
		}
	}
}

func (a *Analyzer) attachVolatility(card *Scorecard, symbol string, price float64) {
	if c1m := a.cache.Snapshot(symbol, market.Gran1m); len(c1m) > 15 {
		card.ATR1m = indicators.CalculateATR(c1m, 14)
		if card.ATR == 0 {
			card.ATR = card.ATR1m
		}
	}
	if daily := a.cache.Snapshot(symbol, market.Gran1d); len(daily) > 1 {
		card.ATR24h = indicators.CalculateADR(daily, 14)
	}
}

// attachExpiry derives the suggested expiry. The echo-arrival index wins
// when the forecast reaches the target; otherwise the timeframe midpoint
// scaled by recent-vs-current ATR; otherwise confidence bands. The result
// is then clamped by the 1m/24h ATR ratio.
func (a *Analyzer) attachExpiry(card *Scorecard, symbol string, cfg config.Config, price float64) {
	conf := math.Abs(card.Confidence)
	expiry := 5
	switch {
	case conf >= 75:
		expiry = 15
	case conf >= 60:
		expiry = 10
	}

	echoHit := false
	if len(card.Fcast.ForecastPrices) > 0 && card.ATR1m > 0 {
		threshold := (0.5 + conf/100) * card.ATR1m
		fcast := indicators.EchoForecastResult{Prices: card.Fcast.ForecastPrices}
		if idx := indicators.EchoArrivalIndex(fcast, price, threshold, card.Direction == DirectionCall); idx >= 0 {
			expiry = idx + 1
			echoHit = true
		}
	}
	if !echoHit {
		if smart, ok := a.smartExpiry(symbol, cfg.Profile()); ok {
			expiry = smart
		}
	}

	if card.ATR24h > 0 && card.ATR1m > 0 {
		ratio := card.ATR1m * 1440 / card.ATR24h
		if ratio > 1.5 {
			expiry /= 2
		} else if ratio < 0.5 {
			expiry *= 2
		}
	}
	card.ExpiryMin = int(clamp(float64(expiry), 1, 60))
}

// smartExpiry scales the strategy's timeframe midpoint by how calm the tape
// is relative to its recent average. Quiet markets stretch the expiry, an
// ATR spike shortens it.
func (a *Analyzer) smartExpiry(symbol string, profile config.StrategyProfile) (int, bool) {
	candles := a.cache.Snapshot(symbol, profile.LTF)
	series := indicators.ATRSeries(candles, 14)
	if len(series) == 0 {
		return 0, false
	}
	window := series
	if len(window) > 50 {
		window = window[len(window)-50:]
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(len(window))
	current := series[len(series)-1]
	htfMin := float64(profile.HTF) / 60
	if current <= 0 || avg <= 0 {
		if htfMin < 1 {
			return 0, false
		}
		return int(htfMin), true
	}
	ratio := avg / current

	switch profile.LTF {
	case 60:
		return int(clamp(math.Round(3*ratio), 1, 5)), true
	case 300:
		return int(clamp(math.Round(12*ratio), 5, 20)), true
	default:
		ltfMin := float64(profile.LTF) / 60
		mid := (ltfMin + htfMin) / 2
		return int(clamp(math.Round(mid*ratio), ltfMin, htfMin*3)), true
	}
}

// attachMultiplier tiers the suggested multiplier by relative volatility and
// trend strength, capped during dead hours, snapped to the permitted set.
func (a *Analyzer) attachMultiplier(card *Scorecard, symbol string, price float64, now time.Time, cfg config.Config) {
	if cfg.ContractType != config.ContractMultiplier {
		return
	}
	relATR := 0.0
	if price > 0 {
		relATR = card.ATR1m / price * 100
	}
	suggested := 5
	switch {
	case relATR < 0.05 && card.ADX > 25:
		suggested = 50
	case relATR < 0.1:
		suggested = 20
	case relATR < 0.2:
		suggested = 10
	}
	if isDeadHours(now) && suggested > 10 {
		suggested = 10
	}

	var permitted []int
	a.cache.View(symbol, func(st *market.SymbolState) {
		permitted = append(permitted, st.Multipliers...)
	})
	card.Multiplier = snapMultiplier(suggested, permitted)
}

// snapMultiplier picks the largest permitted value not exceeding the
// suggestion, else the smallest permitted.
func snapMultiplier(suggested int, permitted []int) int {
	if len(permitted) == 0 {
		return suggested
	}
	best := 0
	smallest := permitted[0]
	for _, m := range permitted {
		if m < smallest {
			smallest = m
		}
		if m <= suggested && m > best {
			best = m
		}
	}
	if best == 0 {
		return smallest
	}
	return best
}

func (a *Analyzer) lossStreak(symbol string) int {
	streak := 0
	a.cache.View(symbol, func(st *market.SymbolState) {
		streak = st.ConsecutiveLosses
	})
	return streak
}

func toForecast(fc indicators.EchoForecastResult) Forecast {
	return Forecast{
		ForecastPrices: fc.Prices,
		Correlation:    fc.Correlation,
		High:           fc.High,
		Low:            fc.Low,
		Final:          fc.Final,
	}
}

// isDeadHours reports the 22:00-06:00 UTC low-liquidity window.
func isDeadHours(now time.Time) bool {
	h := now.UTC().Hour()
	return h >= 22 || h < 6
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
