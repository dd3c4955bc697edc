package market

import (
	"sync"
)

// SymbolState holds all per-symbol series and session counters. It is only
// ever touched under the cache lock.
type SymbolState struct {
	Symbol         string
	LastTick       float64
	LastTickEpoch  int64
	SubscriptionID string

	rings      map[int64][]Candle
	inProgress map[int64]*Candle

	// Reference open of the current higher-timeframe bucket.
	HTFOpen  float64
	HTFEpoch int64

	// Dedup key for the evaluator: LTF bucket of the last sent order.
	LastTradeLTF int64

	// Session counters.
	ConsecutiveWins   int
	ConsecutiveLosses int
	DailyCrosses      int
	LastCrossSide     string
	HourlyTradeCount  int
	LastTradeHour     int

	// Cached structure analysis, refreshed by the engine.
	Zones        []Zone
	FractalHighs []float64
	FractalLows  []float64
	ATR1mHistory []float64

	// Permitted multiplier values from contracts_for.
	Multipliers []int

	// Strategy 7 single-timeframe debounce state.
	LastStrat7Rec string
}

// TickResult reports what a tick did to the per-symbol series.
type TickResult struct {
	FirstTick bool
	LTFClosed bool
	LTFCandle Candle
	HTFClosed bool
	HTFCandle Candle
}

// Cache owns the map of SymbolState. All mutation goes through its methods;
// readers get copies.
type Cache struct {
	mu      sync.RWMutex
	states  map[string]*SymbolState
	ltfGran int64
	htfGran int64
}

// NewCache creates an empty cache for the given strategy granularities.
func NewCache(ltfGran, htfGran int64) *Cache {
	return &Cache{
		states:  make(map[string]*SymbolState),
		ltfGran: ltfGran,
		htfGran: htfGran,
	}
}

// SetGranularities switches the active LTF/HTF pair (strategy change).
func (c *Cache) SetGranularities(ltf, htf int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ltfGran = ltf
	c.htfGran = htf
}

// Granularities returns the active LTF/HTF pair.
func (c *Cache) Granularities() (ltf, htf int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ltfGran, c.htfGran
}

// Init ensures a SymbolState exists for the symbol.
func (c *Cache) Init(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked(symbol)
}

func (c *Cache) initLocked(symbol string) *SymbolState {
	st, ok := c.states[symbol]
	if !ok {
		st = &SymbolState{
			Symbol:     symbol,
			rings:      make(map[int64][]Candle),
			inProgress: make(map[int64]*Candle),
		}
		c.states[symbol] = st
	}
	return st
}

// Reset clears a symbol's series and analysis but keeps its subscription id.
// Used on strategy change, where every granularity must be refetched.
func (c *Cache) Reset(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[symbol]
	if !ok {
		return
	}
	subID := st.SubscriptionID
	fresh := &SymbolState{
		Symbol:         symbol,
		SubscriptionID: subID,
		rings:          make(map[int64][]Candle),
		inProgress:     make(map[int64]*Candle),
	}
	c.states[symbol] = fresh
}

// Remove drops a symbol entirely.
func (c *Cache) Remove(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, symbol)
}

// Symbols returns the tracked symbol set.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.states))
	for s := range c.states {
		out = append(out, s)
	}
	return out
}

// ApplyCandles ingests a ticks_history payload. A batch (>1 candles)
// replaces the ring; a single candle is appended, replaces the tail on an
// equal epoch, or is dropped when older. When the granularity is the active
// HTF the reference open is recomputed from the wall clock `now`.
func (c *Cache) ApplyCandles(symbol string, granularity int64, candles []Candle, now int64) {
	if len(candles) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.initLocked(symbol)
	if len(candles) > 1 {
		ring := make([]Candle, len(candles))
		copy(ring, candles)
		trimRing(&ring, RingCapacity(granularity))
		st.rings[granularity] = ring
	} else {
		appendCandle(st, granularity, candles[0])
	}

	if granularity == c.htfGran {
		bucket := BucketEpoch(now, granularity)
		ring := st.rings[granularity]
		st.HTFEpoch = bucket
		st.HTFOpen = 0
		for i := len(ring) - 1; i >= 0; i-- {
			if ring[i].Epoch == bucket {
				st.HTFOpen = ring[i].Open
				break
			}
		}
		if st.HTFOpen == 0 && len(ring) > 0 {
			st.HTFOpen = ring[len(ring)-1].Close
		}
	}
}

// ApplyTick feeds a tick into the in-progress LTF and HTF candles and
// updates last_tick. Candle-close results are reported to the caller; the
// cache itself never calls out while holding its lock.
func (c *Cache) ApplyTick(symbol string, epoch int64, quote float64) TickResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[symbol]
	if !ok {
		return TickResult{}
	}

	res := TickResult{FirstTick: st.LastTickEpoch == 0}
	st.LastTick = quote
	st.LastTickEpoch = epoch

	if closed := feedTick(st, c.htfGran, epoch, quote, true); closed != nil {
		res.HTFClosed = true
		res.HTFCandle = *closed
	}
	if c.ltfGran != c.htfGran {
		if closed := feedTick(st, c.ltfGran, epoch, quote, false); closed != nil {
			res.LTFClosed = true
			res.LTFCandle = *closed
		}
	} else if res.HTFClosed {
		res.LTFClosed = true
		res.LTFCandle = res.HTFCandle
	}
	return res
}

// feedTick updates the in-progress candle for one granularity, appending it
// to the ring when its bucket rolls over. For the HTF the reference open
// moves to the new bucket's first quote.
func feedTick(st *SymbolState, gran, epoch int64, quote float64, isHTF bool) *Candle {
	bucket := BucketEpoch(epoch, gran)
	cur := st.inProgress[gran]
	if cur == nil {
		st.inProgress[gran] = &Candle{Epoch: bucket, Open: quote, High: quote, Low: quote, Close: quote}
		if isHTF && st.HTFOpen == 0 {
			st.HTFOpen = quote
			st.HTFEpoch = bucket
		}
		return nil
	}
	if bucket > cur.Epoch {
		done := *cur
		appendCandle(st, gran, done)
		st.inProgress[gran] = &Candle{Epoch: bucket, Open: quote, High: quote, Low: quote, Close: quote}
		if isHTF {
			st.HTFOpen = quote
			st.HTFEpoch = bucket
		}
		return &done
	}
	cur.Close = quote
	if quote > cur.High {
		cur.High = quote
	}
	if quote < cur.Low {
		cur.Low = quote
	}
	return nil
}

func appendCandle(st *SymbolState, gran int64, cd Candle) {
	ring := st.rings[gran]
	n := len(ring)
	switch {
	case n == 0 || cd.Epoch > ring[n-1].Epoch:
		ring = append(ring, cd)
	case cd.Epoch == ring[n-1].Epoch:
		ring[n-1] = cd
	default:
		return // older than the tail, drop
	}
	trimRing(&ring, RingCapacity(gran))
	st.rings[gran] = ring
}

func trimRing(ring *[]Candle, capacity int) {
	if len(*ring) > capacity {
		*ring = (*ring)[len(*ring)-capacity:]
	}
}

// Snapshot returns a copy of the closed-candle ring for (symbol, gran).
func (c *Cache) Snapshot(symbol string, granularity int64) []Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[symbol]
	if !ok {
		return nil
	}
	ring := st.rings[granularity]
	out := make([]Candle, len(ring))
	copy(out, ring)
	return out
}

// InProgress returns the current in-progress candle for (symbol, gran).
func (c *Cache) InProgress(symbol string, granularity int64) (Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[symbol]
	if !ok || st.inProgress[granularity] == nil {
		return Candle{}, false
	}
	return *st.inProgress[granularity], true
}

// LastTick returns the most recent quote for a symbol.
func (c *Cache) LastTick(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[symbol]
	if !ok || st.LastTick == 0 {
		return 0, false
	}
	return st.LastTick, true
}

// HTFOpen returns the reference open and its bucket epoch.
func (c *Cache) HTFOpen(symbol string) (float64, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[symbol]
	if !ok {
		return 0, 0
	}
	return st.HTFOpen, st.HTFEpoch
}

// Update runs fn against the symbol's state under the write lock. Used by
// the engine for counters, zones and dedup keys.
func (c *Cache) Update(symbol string, fn func(*SymbolState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[symbol]; ok {
		fn(st)
	}
}

// View runs fn against the symbol's state under the read lock. fn must not
// retain references to slices it is shown.
func (c *Cache) View(symbol string, fn func(*SymbolState)) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[symbol]
	if !ok {
		return false
	}
	fn(st)
	return true
}

// Zones returns a copy of the cached SNR zones for a symbol.
func (c *Cache) Zones(symbol string) []Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[symbol]
	if !ok {
		return nil
	}
	out := make([]Zone, len(st.Zones))
	copy(out, st.Zones)
	return out
}

// SetZones replaces the cached SNR zones for a symbol.
func (c *Cache) SetZones(symbol string, zones []Zone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[symbol]; ok {
		st.Zones = zones
	}
}
