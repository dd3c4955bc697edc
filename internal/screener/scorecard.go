package screener

import (
	"sync"
	"time"
)

// Signal values.
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalWait = "WAIT"
)

// Directions map to broker contract sides.
const (
	DirectionCall = "CALL"
	DirectionPut  = "PUT"
)

// Regimes select structure analysis and thresholds.
const (
	RegimeScalp      = "scalp"
	RegimeMultiplier = "multiplier"
)

// Strategy 7 alignment labels.
const (
	LabelAlignedBuy  = "ALIGNED_BUY"
	LabelAlignedSell = "ALIGNED_SELL"
	LabelQuickBuy    = "QUICK_BUY"
	LabelQuickSell   = "QUICK_SELL"
)

// Forecast is the echo projection attached to a scorecard.
type Forecast struct {
	ForecastPrices []float64 `json:"forecast_prices"`
	Correlation    float64   `json:"correlation"`
	High           float64   `json:"high"`
	Low            float64   `json:"low"`
	Final          float64   `json:"final"`
}

// Scorecard is the per-symbol screener verdict. One writer per symbol;
// readers get last-write-wins copies.
type Scorecard struct {
	Symbol     string    `json:"symbol"`
	Strategy   string    `json:"strategy"`
	Confidence float64   `json:"confidence"`
	Direction  string    `json:"direction"`
	Signal     string    `json:"signal"`
	Label      string    `json:"label,omitempty"`
	SingleTF   bool      `json:"single_tf,omitempty"`
	Threshold  float64   `json:"threshold"`
	Regime     string    `json:"regime"`
	Trend      float64   `json:"trend"`
	Momentum   float64   `json:"momentum"`
	Volatility float64   `json:"volatility"`
	Structure  float64   `json:"structure"`
	ADX        float64   `json:"adx"`
	ATR        float64   `json:"atr"`
	ATR1m      float64   `json:"atr_1m"`
	ATR24h     float64   `json:"atr_24h"`
	Pattern    string    `json:"pattern,omitempty"`
	ExpiryMin  int       `json:"expiry_min"`
	Multiplier int       `json:"multiplier"`
	Fcast      Forecast  `json:"fcast"`
	LastUpdate time.Time `json:"last_update"`
}

// Fresh reports whether the scorecard is recent enough to act on.
func (s Scorecard) Fresh(now time.Time, maxAge time.Duration) bool {
	return !s.LastUpdate.IsZero() && now.Sub(s.LastUpdate) <= maxAge
}

// Store holds the latest scorecard per symbol.
type Store struct {
	mu    sync.RWMutex
	cards map[string]Scorecard
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{cards: make(map[string]Scorecard)}
}

// Set replaces a symbol's scorecard.
func (s *Store) Set(card Scorecard) {
	s.mu.Lock()
	s.cards[card.Symbol] = card
	s.mu.Unlock()
}

// Get returns a symbol's latest scorecard.
func (s *Store) Get(symbol string) (Scorecard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[symbol]
	return card, ok
}

// All returns every scorecard keyed by symbol.
func (s *Store) All() map[string]Scorecard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Scorecard, len(s.cards))
	for k, v := range s.cards {
		out[k] = v
	}
	return out
}

// Remove drops a symbol (unsubscribed).
func (s *Store) Remove(symbol string) {
	s.mu.Lock()
	delete(s.cards, symbol)
	s.mu.Unlock()
}
