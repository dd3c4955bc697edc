package strategy

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/indicators"
	"github.com/koshedutech/deriv-trading-engine/internal/market"
	"github.com/koshedutech/deriv-trading-engine/internal/position"
	"github.com/koshedutech/deriv-trading-engine/internal/screener"
)

const (
	scorecardMaxAge  = 30 * time.Second
	minCorrelation   = 0.5
	minStructuralRR  = 1.5
	s3HourlyCap      = 4
	zoneTouchBand    = 0.0002 // +-0.02% counts as a touch
	zoneBreakBand    = 0.0005 // full close-through by 0.05% invalidates
	freezeATRShare   = 0.1    // day-scaled 1m range below 10% of daily range
	lateEntryATRMult = 0.3
)

// Env carries the engine-owned facts the evaluator needs per call.
type Env struct {
	Cfg         config.Config
	Now         time.Time
	Running     bool
	DailyPnLPct float64
}

// Evaluator turns market state and scorecards into trade intents. It reads
// snapshots only; the one piece of state it owns is the per-symbol dedup and
// debounce bookkeeping inside SymbolState.
type Evaluator struct {
	cache *market.Cache
	cards *screener.Store
	book  *position.Book
	log   zerolog.Logger
}

// NewEvaluator wires the evaluator over shared state.
func NewEvaluator(cache *market.Cache, cards *screener.Store, book *position.Book, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		cache: cache,
		cards: cards,
		book:  book,
		log:   log.With().Str("component", "strategy").Logger(),
	}
}

// Evaluate runs the active strategy for one symbol. isCandleClose is true
// when the call is driven by an LTF candle close.
func (e *Evaluator) Evaluate(symbol string, isCandleClose bool, env Env) Intent {
	if !env.Running {
		return None()
	}
	if env.DailyPnLPct <= -env.Cfg.MaxDailyLossPct || env.DailyPnLPct >= env.Cfg.MaxDailyProfitPct {
		intent := None()
		intent.RiskBreach = true
		return intent
	}

	profile := env.Cfg.Profile()
	ltfEpoch := market.BucketEpoch(env.Now.UTC().Unix(), profile.LTF)
	var dedup bool
	e.cache.View(symbol, func(st *market.SymbolState) {
		dedup = st.LastTradeLTF == ltfEpoch && ltfEpoch != 0
	})
	if dedup {
		return None()
	}

	switch env.Cfg.ActiveStrategy {
	case config.StrategyS1:
		return e.evalS1(symbol, isCandleClose, env, profile)
	case config.StrategyS2:
		return e.evalS2(symbol, isCandleClose, env, profile)
	case config.StrategyS3:
		return e.evalS3(symbol, isCandleClose, env, profile)
	case config.StrategyS4:
		return e.evalS4(symbol, isCandleClose, env, profile)
	case config.StrategyS5, config.StrategyS6, config.StrategyS7:
		return e.evalScorecard(symbol, env)
	}
	return None()
}

// ============================================================================
// S1: DAILY BREAKOUT (daily / 15m, end-of-day expiry)
// ============================================================================

func (e *Evaluator) evalS1(symbol string, isCandleClose bool, env Env, profile config.StrategyProfile) Intent {
	if !isCandleClose {
		return None()
	}
	candle, htfOpen, ok := e.lastClosed(symbol, profile)
	if !ok {
		return None()
	}

	var crosses int
	e.cache.View(symbol, func(st *market.SymbolState) { crosses = st.DailyCrosses })
	if crosses > 3 {
		return None()
	}

	buy := candle.Open <= htfOpen && candle.Close > htfOpen && candle.Close > candle.Open
	sell := candle.Open >= htfOpen && candle.Close < htfOpen && candle.Close < candle.Open
	if !buy && !sell {
		return None()
	}

	// 4h EMA100 bias filter when enough history exists.
	if c4h := e.cache.Snapshot(symbol, market.Gran4h); len(c4h) >= 100 {
		ema100 := indicators.CalculateEMA(c4h, 100)
		if buy && candle.Close <= ema100 {
			return None()
		}
		if sell && candle.Close >= ema100 {
			return None()
		}
	}

	if buy {
		return open(position.Long, "daily open breakout")
	}
	return open(position.Short, "daily open breakdown")
}

// ============================================================================
// S2: HOURLY MOMENTUM (1h / 3m)
// ============================================================================

func (e *Evaluator) evalS2(symbol string, isCandleClose bool, env Env, profile config.StrategyProfile) Intent {
	if !isCandleClose {
		return None()
	}
	candle, htfOpen, ok := e.lastClosed(symbol, profile)
	if !ok {
		return None()
	}

	buy := candle.Open <= htfOpen && candle.Close > htfOpen && candle.Close > candle.Open
	sell := candle.Open >= htfOpen && candle.Close < htfOpen && candle.Close < candle.Open
	if !buy && !sell {
		return None()
	}

	ltf := e.cache.Snapshot(symbol, profile.LTF)
	rsi := indicators.CalculateRSI(ltf, 14)
	if buy && rsi <= 55 {
		return None()
	}
	if sell && rsi >= 45 {
		return None()
	}

	if c4h := e.cache.Snapshot(symbol, market.Gran4h); len(c4h) >= 50 {
		ema21 := indicators.CalculateEMA(c4h, 21)
		ema50 := indicators.CalculateEMA(c4h, 50)
		if buy && ema21 <= ema50 {
			return None()
		}
		if sell && ema21 >= ema50 {
			return None()
		}
	}

	if buy {
		return open(position.Long, "hourly open breakout")
	}
	return open(position.Short, "hourly open breakdown")
}

// ============================================================================
// S3: FAST MOMENTUM (15m / 1m)
// ============================================================================

func (e *Evaluator) evalS3(symbol string, isCandleClose bool, env Env, profile config.StrategyProfile) Intent {
	if !isCandleClose {
		return None()
	}

	hour := env.Now.UTC().Hour()
	var capped bool
	e.cache.View(symbol, func(st *market.SymbolState) {
		capped = st.LastTradeHour == hour && st.HourlyTradeCount >= s3HourlyCap
	})
	if capped {
		return None()
	}

	ltf := e.cache.Snapshot(symbol, profile.LTF)
	if len(ltf) < 2 {
		return None()
	}
	_, htfOpen, ok := e.lastClosed(symbol, profile)
	if !ok {
		return None()
	}

	// Volatility floor: current 1m ATR at or above the 20th percentile of
	// the recent ATR history.
	atr := indicators.CalculateATR(ltf, 14)
	var history []float64
	e.cache.View(symbol, func(st *market.SymbolState) {
		history = append(history, st.ATR1mHistory...)
	})
	if len(history) >= 10 {
		if atr < percentile(history, 20) {
			return None()
		}
	}

	prev, curr := ltf[len(ltf)-2], ltf[len(ltf)-1]
	if prev.Close > htfOpen && curr.Close > htfOpen && curr.Close > curr.Open {
		return open(position.Long, "two consecutive closes above 15m open")
	}
	if prev.Close < htfOpen && curr.Close < htfOpen && curr.Close < curr.Open {
		return open(position.Short, "two consecutive closes below 15m open")
	}
	return None()
}

// ============================================================================
// S4: SNR PRICE ACTION (5m / 1m)
// ============================================================================

func (e *Evaluator) evalS4(symbol string, isCandleClose bool, env Env, profile config.StrategyProfile) Intent {
	if !isCandleClose {
		return None()
	}
	ltf := e.cache.Snapshot(symbol, profile.LTF)
	if len(ltf) < 2 {
		return None()
	}
	candle := ltf[len(ltf)-1]

	zones := e.cache.Zones(symbol)
	if len(zones) == 0 {
		return None()
	}

	// Invalidate zones the close punched fully through.
	kept := zones[:0]
	for _, z := range zones {
		if z.Price <= 0 {
			continue
		}
		through := (candle.Close > z.Price*(1+zoneBreakBand) && candle.Open < z.Price*(1-zoneBreakBand)) ||
			(candle.Close < z.Price*(1-zoneBreakBand) && candle.Open > z.Price*(1+zoneBreakBand))
		if through {
			continue
		}
		kept = append(kept, z)
	}
	if len(kept) != len(zones) {
		e.cache.SetZones(symbol, kept)
	}

	pattern := indicators.ClassifyPattern(ltf)
	score := indicators.ScoreReversalPattern(pattern, ltf)
	if score < 2 {
		return None()
	}

	rsi5m := indicators.CalculateRSI(e.cache.Snapshot(symbol, market.Gran5m), 14)
	var ema50 float64
	if c1h := e.cache.Snapshot(symbol, market.Gran1h); len(c1h) >= 50 {
		ema50 = indicators.CalculateEMA(c1h, 50)
	}

	for i, z := range kept {
		touchedLow := math.Abs(candle.Low-z.Price)/z.Price <= zoneTouchBand
		touchedHigh := math.Abs(candle.High-z.Price)/z.Price <= zoneTouchBand

		if touchedLow && indicators.IsBullishPattern(pattern) {
			if rsi5m >= 80 {
				continue
			}
			if ema50 > 0 && candle.Close <= ema50 {
				continue
			}
			if e.forecastContradicts(symbol, candle.Close, true) {
				continue
			}
			return e.zoneIntent(symbol, kept, i, position.Long, "reversal at support")
		}
		if touchedHigh && indicators.IsBearishPattern(pattern) {
			if rsi5m <= 20 {
				continue
			}
			if ema50 > 0 && candle.Close >= ema50 {
				continue
			}
			if e.forecastContradicts(symbol, candle.Close, false) {
				continue
			}
			return e.zoneIntent(symbol, kept, i, position.Short, "reversal at resistance")
		}
	}
	return None()
}

// zoneIntent records the touch and shrinks stake at well-tested zones.
func (e *Evaluator) zoneIntent(symbol string, zones []market.Zone, idx int, side position.Side, reason string) Intent {
	zones[idx].Touches++
	zones[idx].LifetimeTouches++
	e.cache.SetZones(symbol, zones)

	intent := open(side, reason)
	intent.ExpiryMin = 5
	if zones[idx].LifetimeTouches >= 3 {
		intent.StakeScale = 0.5
	}
	return intent
}

// ============================================================================
// S5/S6/S7: SCORECARD CONSUMERS
// ============================================================================

func (e *Evaluator) evalScorecard(symbol string, env Env) Intent {
	card, ok := e.cards.Get(symbol)
	if !ok || !card.Fresh(env.Now, scorecardMaxAge) {
		return None()
	}

	if env.Cfg.ActiveStrategy == config.StrategyS7 {
		if !e.debounceS7(symbol, card) {
			return None()
		}
		if e.dayRangeExhausted(symbol, card) {
			return None()
		}
	}
	if card.Signal != screener.SignalBuy && card.Signal != screener.SignalSell {
		return None()
	}

	long := card.Signal == screener.SignalBuy
	price, _ := e.cache.LastTick(symbol)

	if len(card.Fcast.ForecastPrices) > 0 {
		// Signed on purpose: an inverted echo match is not a tradeable analog.
		if card.Fcast.Correlation < minCorrelation {
			return None()
		}
		fcast := indicators.EchoForecastResult{
			Prices: card.Fcast.ForecastPrices,
			High:   card.Fcast.High,
			Low:    card.Fcast.Low,
			Final:  card.Fcast.Final,
		}
		if indicators.StructuralRR(fcast, price, long) < minStructuralRR {
			return None()
		}
	}

	if env.Cfg.ActiveStrategy == config.StrategyS5 {
		if e.lateEntry(symbol) || e.volatilityFrozen(card) {
			return None()
		}
	}

	side := position.Short
	if long {
		side = position.Long
	}
	intent := open(side, "screener "+card.Signal)
	intent.ExpiryMin = card.ExpiryMin
	return intent
}

// debounceS7 requires a signal transition in single-TF mode: the same
// scorecard signal does not fire twice without passing through WAIT.
func (e *Evaluator) debounceS7(symbol string, card screener.Scorecard) bool {
	if !card.SingleTF {
		return true // multi-TF agreement needs no transition gate
	}
	fire := false
	e.cache.Update(symbol, func(st *market.SymbolState) {
		if card.Signal == screener.SignalWait {
			st.LastStrat7Rec = ""
			return
		}
		if st.LastStrat7Rec == card.Signal {
			return
		}
		st.LastStrat7Rec = card.Signal
		fire = true
	})
	return fire
}

// dayRangeExhausted skips entries once today's realized range already covers
// the average daily range; what is left of the day has no room to run.
func (e *Evaluator) dayRangeExhausted(symbol string, card screener.Scorecard) bool {
	if card.ATR24h <= 0 {
		return false
	}
	day, ok := e.cache.InProgress(symbol, market.Gran1d)
	if !ok {
		// Daily is not the active HTF; the fetched series' tail is today.
		daily := e.cache.Snapshot(symbol, market.Gran1d)
		if len(daily) == 0 {
			return false
		}
		day = daily[len(daily)-1]
	}
	if day.High <= 0 {
		return false
	}
	return day.High-day.Low >= card.ATR24h
}

// lateEntry skips entries after an outsized 1m candle already spent the move.
func (e *Evaluator) lateEntry(symbol string) bool {
	c1m := e.cache.Snapshot(symbol, market.Gran1m)
	if len(c1m) < 20 {
		return false
	}
	series := indicators.ATRSeries(c1m, 14)
	if len(series) == 0 {
		return false
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	avg := sum / float64(len(series))
	last := c1m[len(c1m)-1]
	return math.Abs(last.Close-last.Open) > lateEntryATRMult*avg && avg > 0
}

// volatilityFrozen skips entries when the 1m range has collapsed relative
// to the daily range.
func (e *Evaluator) volatilityFrozen(card screener.Scorecard) bool {
	if card.ATR1m <= 0 || card.ATR24h <= 0 {
		return false
	}
	return card.ATR1m*1440 < freezeATRShare*card.ATR24h
}

// ============================================================================
// HELPERS
// ============================================================================

// lastClosed returns the most recent closed LTF candle and the HTF open.
func (e *Evaluator) lastClosed(symbol string, profile config.StrategyProfile) (market.Candle, float64, bool) {
	ring := e.cache.Snapshot(symbol, profile.LTF)
	if len(ring) == 0 {
		return market.Candle{}, 0, false
	}
	htfOpen, _ := e.cache.HTFOpen(symbol)
	if htfOpen <= 0 {
		return market.Candle{}, 0, false
	}
	return ring[len(ring)-1], htfOpen, true
}

// forecastContradicts runs the echo veto for strategy 4.
func (e *Evaluator) forecastContradicts(symbol string, price float64, long bool) bool {
	c1m := e.cache.Snapshot(symbol, market.Gran1m)
	if len(c1m) < 2*indicators.EchoWindow+2 {
		return false
	}
	fcast := indicators.CalculateEchoForecast(c1m, indicators.EchoWindow, indicators.EchoEvals)
	if len(fcast.Prices) == 0 {
		return false
	}
	if long {
		return fcast.Final < price
	}
	return fcast.Final > price
}

// percentile returns the p-th percentile of values (nearest-rank).
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
