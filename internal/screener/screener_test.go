package screener

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

func risingCandles(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	price := start
	for i := range out {
		out[i] = market.Candle{
			Epoch: int64(i) * 60,
			Open:  price,
			High:  price + step,
			Low:   price - step/2,
			Close: price + step,
		}
		price += step
	}
	return out
}

func seededCache(symbol string, candles []market.Candle) *market.Cache {
	c := market.NewCache(market.Gran1m, market.Gran1h)
	c.Init(symbol)
	last := candles[len(candles)-1]
	c.ApplyCandles(symbol, market.Gran1m, candles, last.Epoch+60)
	c.ApplyTick(symbol, last.Epoch+61, last.Close)
	return c
}

func TestStoreSetGetRemove(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("R_100"); ok {
		t.Error("empty store returned a card")
	}
	s.Set(Scorecard{Symbol: "R_100", Signal: SignalBuy})
	card, ok := s.Get("R_100")
	if !ok || card.Signal != SignalBuy {
		t.Errorf("card = %+v ok=%v", card, ok)
	}
	s.Remove("R_100")
	if _, ok := s.Get("R_100"); ok {
		t.Error("removed card still present")
	}
}

func TestScorecardFresh(t *testing.T) {
	now := time.Now()
	card := Scorecard{LastUpdate: now.Add(-10 * time.Second)}
	if !card.Fresh(now, 30*time.Second) {
		t.Error("10s old card not fresh within 30s")
	}
	if card.Fresh(now, 5*time.Second) {
		t.Error("10s old card fresh within 5s")
	}
	if (Scorecard{}).Fresh(now, time.Hour) {
		t.Error("zero-value card considered fresh")
	}
}

func TestAnalyzeCrossoverRisingSeries(t *testing.T) {
	cache := seededCache("R_100", risingCandles(250, 100, 0.5))
	a := NewAnalyzer(cache, zerolog.Nop())
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS3 // LTF 1m

	card, ok := a.Analyze("R_100", cfg, time.Now().UTC())
	if !ok {
		t.Fatal("no scorecard for seeded symbol")
	}
	if card.Signal != SignalBuy || card.Direction != DirectionCall {
		t.Errorf("rising series card = %+v", card)
	}
	if card.Confidence < card.Threshold {
		t.Errorf("signal without confidence: %v < %v", card.Confidence, card.Threshold)
	}
	if card.ExpiryMin < 1 || card.ExpiryMin > 60 {
		t.Errorf("expiry out of range: %d", card.ExpiryMin)
	}
}

func TestAnalyzeUnknownSymbol(t *testing.T) {
	cache := market.NewCache(market.Gran1m, market.Gran1h)
	a := NewAnalyzer(cache, zerolog.Nop())
	if _, ok := a.Analyze("R_100", config.Defaults(), time.Now()); ok {
		t.Error("scorecard produced without any ticks")
	}
}

func TestSignalInvariantEnforced(t *testing.T) {
	// Short history keeps most indicators at their sentinels; a weak
	// composite must never carry a BUY/SELL below threshold.
	cache := seededCache("R_100", risingCandles(35, 100, 0.01))
	a := NewAnalyzer(cache, zerolog.Nop())
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS3

	card, ok := a.Analyze("R_100", cfg, time.Now().UTC())
	if !ok {
		t.Fatal("no scorecard")
	}
	if card.Signal != SignalWait && math.Abs(card.Confidence) < card.Threshold {
		t.Errorf("invariant violated: %+v", card)
	}
}

func TestAnalyzeRegimeThresholds(t *testing.T) {
	cache := seededCache("R_100", risingCandles(250, 100, 0.5))
	a := NewAnalyzer(cache, zerolog.Nop())
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS5

	day := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	night := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)

	cardDay, ok := a.Analyze("R_100", cfg, day)
	if !ok {
		t.Fatal("no daytime scorecard")
	}
	if cardDay.Threshold != 72 {
		t.Errorf("scalp daytime threshold = %v, want 72", cardDay.Threshold)
	}

	cardNight, _ := a.Analyze("R_100", cfg, night)
	if cardNight.Threshold != 77 {
		t.Errorf("dead-hours threshold = %v, want 77", cardNight.Threshold)
	}

	cfg.ContractType = config.ContractMultiplier
	cardMult, _ := a.Analyze("R_100", cfg, day)
	if cardMult.Threshold != 68 || cardMult.Regime != RegimeMultiplier {
		t.Errorf("multiplier regime card = threshold %v regime %s", cardMult.Threshold, cardMult.Regime)
	}
}

func TestLossStreakRaisesThreshold(t *testing.T) {
	cache := seededCache("R_100", risingCandles(250, 100, 0.5))
	cache.Update("R_100", func(st *market.SymbolState) { st.ConsecutiveLosses = 4 })
	a := NewAnalyzer(cache, zerolog.Nop())
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS5

	card, _ := a.Analyze("R_100", cfg, time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	// base 72 + 5*(4-2)
	if card.Threshold != 82 {
		t.Errorf("loss-streak threshold = %v, want 82", card.Threshold)
	}
}

func TestAnalyzeMultiTFSingleMode(t *testing.T) {
	cache := seededCache("R_100", risingCandles(250, 100, 0.5))
	a := NewAnalyzer(cache, zerolog.Nop())
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS7
	cfg.Strat7SmallTF = "1m"
	cfg.Strat7MidTF = ""
	cfg.Strat7HighTF = ""

	card, ok := a.Analyze("R_100", cfg, time.Now().UTC())
	if !ok {
		t.Fatal("no scorecard")
	}
	if card.Signal != SignalBuy || card.Label != LabelAlignedBuy {
		t.Errorf("single-TF card should be a labelled BUY: %+v", card)
	}
	if !card.SingleTF {
		t.Error("single-TF card not flagged")
	}
}

func TestAnalyzeMultiTFSkipsOffTimeframes(t *testing.T) {
	// Only the 1m series is seeded; the mid timeframe is OFF and the high
	// timeframe has no data, so the lone 1m verdict runs in single-TF mode.
	cache := seededCache("R_100", risingCandles(250, 100, 0.5))
	a := NewAnalyzer(cache, zerolog.Nop())
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS7
	cfg.Strat7SmallTF = "1m"
	cfg.Strat7MidTF = "OFF"
	cfg.Strat7HighTF = "4h"

	card, ok := a.Analyze("R_100", cfg, time.Now().UTC())
	if !ok {
		t.Fatal("no scorecard")
	}
	if !card.SingleTF {
		t.Errorf("OFF timeframe counted as a vote: %+v", card)
	}
}

func TestAnalyzeMultiTFAllOff(t *testing.T) {
	cache := seededCache("R_100", risingCandles(250, 100, 0.5))
	a := NewAnalyzer(cache, zerolog.Nop())
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS7
	cfg.Strat7SmallTF = "OFF"
	cfg.Strat7MidTF = "OFF"
	cfg.Strat7HighTF = "OFF"

	if card, ok := a.Analyze("R_100", cfg, time.Now().UTC()); ok {
		t.Errorf("all timeframes OFF still produced a card: %+v", card)
	}
}

func TestCrossoverCardCarriesSubScores(t *testing.T) {
	cache := seededCache("R_100", risingCandles(250, 100, 0.5))
	a := NewAnalyzer(cache, zerolog.Nop())
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS3

	card, ok := a.Analyze("R_100", cfg, time.Now().UTC())
	if !ok {
		t.Fatal("no scorecard")
	}
	if card.Trend != 8.5 {
		t.Errorf("rising series trend score = %v, want 8.5", card.Trend)
	}
	if card.Momentum <= 5 {
		t.Errorf("rising series momentum score = %v, want > 5", card.Momentum)
	}
	if card.Volatility <= 0 || card.Volatility > 10 {
		t.Errorf("volatility score out of range: %v", card.Volatility)
	}
	if card.Structure < 0 || card.Structure > 10 {
		t.Errorf("structure score out of range: %v", card.Structure)
	}
}

func TestSmartExpiryScalesWithVolatility(t *testing.T) {
	// Steady candles: current ATR equals its average, ratio 1, so the 1m
	// band resolves to round(3*1) = 3 minutes.
	cache := seededCache("R_100", risingCandles(250, 100, 0.5))
	a := NewAnalyzer(cache, zerolog.Nop())
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS3 // LTF 1m
	profile := cfg.Profile()

	got, ok := a.smartExpiry("R_100", profile)
	if !ok {
		t.Fatal("no smart expiry for seeded series")
	}
	if got < 1 || got > 5 {
		t.Errorf("1m smart expiry = %d, want within 1..5", got)
	}

	if _, ok := a.smartExpiry("R_200", profile); ok {
		t.Error("smart expiry produced without history")
	}
}

func TestSnapMultiplier(t *testing.T) {
	tests := []struct {
		suggested int
		permitted []int
		want      int
	}{
		{50, nil, 50},
		{50, []int{30, 100, 200}, 30},
		{20, []int{30, 100}, 30}, // nothing at or below: smallest permitted
		{120, []int{30, 100, 200}, 100},
	}
	for _, tt := range tests {
		if got := snapMultiplier(tt.suggested, tt.permitted); got != tt.want {
			t.Errorf("snapMultiplier(%d, %v) = %d, want %d", tt.suggested, tt.permitted, got, tt.want)
		}
	}
}

func TestIsDeadHours(t *testing.T) {
	if !isDeadHours(time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)) {
		t.Error("23:00 UTC not dead hours")
	}
	if !isDeadHours(time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)) {
		t.Error("03:00 UTC not dead hours")
	}
	if isDeadHours(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)) {
		t.Error("noon UTC flagged dead")
	}
}
