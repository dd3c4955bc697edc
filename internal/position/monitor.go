package position

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/deriv"
)

const (
	closeRetryCooldown = 30 // seconds between sell retries per contract
	ghostGrace         = 60 // seconds past expiry before dropping locally
	freerideATRTrigger = 1.5
	freerideFallback   = 0.2
)

// Action is a close decision the engine must carry out. Remove means the
// contract was dropped locally without a sell (ghost cleanup).
type Action struct {
	ContractID int64
	Reason     string
	Remove     bool
}

// ExitContext carries the market context a symbol's exit checks need. The
// engine assembles it from cache snapshots before each sweep.
type ExitContext struct {
	Now              int64
	Price            float64
	HTFOpen          float64
	ATR1h            float64
	ATRDaily         float64
	MACDDivergence1h int
	SuperTrend15mDir int
	FractalLow       float64
	FractalHigh      float64
}

// Book owns the open-contract map. All mutation happens on the engine
// goroutine; the mutex covers API snapshot reads.
type Book struct {
	mu        sync.RWMutex
	contracts map[int64]*Contract
	log       zerolog.Logger
}

// NewBook creates an empty book.
func NewBook(log zerolog.Logger) *Book {
	return &Book{
		contracts: make(map[int64]*Contract),
		log:       log.With().Str("component", "position").Logger(),
	}
}

// Add registers a newly bought contract. At most one open contract per
// (symbol, side).
func (b *Book) Add(c Contract) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.contracts {
		if existing.Symbol == c.Symbol && existing.Side == c.Side && existing.Status != StatusSold {
			return fmt.Errorf("position: duplicate %s %s contract %d", c.Symbol, c.Side, existing.ID)
		}
	}
	c.Status = StatusOpened
	b.contracts[c.ID] = &c
	b.log.Info().Int64("contract_id", c.ID).Str("symbol", c.Symbol).Str("side", c.Side.String()).Msg("contract tracked")
	return nil
}

// Len returns the number of tracked contracts.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contracts)
}

// Snapshot returns copies of every tracked contract.
func (b *Book) Snapshot() []Contract {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Contract, 0, len(b.contracts))
	for _, c := range b.contracts {
		out = append(out, *c)
	}
	return out
}

// FindBySymbol returns the open contract for a symbol and side, if any.
func (b *Book) FindBySymbol(symbol string, side Side) (Contract, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.contracts {
		if c.Symbol == symbol && c.Side == side {
			return *c, true
		}
	}
	return Contract{}, false
}

// HasSymbol reports whether any contract is open for the symbol.
func (b *Book) HasSymbol(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.contracts {
		if c.Symbol == symbol {
			return true
		}
	}
	return false
}

// FloatingPnL sums the unrealized profit across open contracts.
func (b *Book) FloatingPnL() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total float64
	for _, c := range b.contracts {
		total += c.PnL
	}
	return total
}

// HandleContractUpdate applies a broker contract snapshot. Replaying the
// same update twice is a no-op. A terminal update removes the contract and
// returns its settlement.
func (b *Book) HandleContractUpdate(info deriv.ContractInfo, cfg config.Config) (Settlement, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contracts[info.ContractID]
	if !ok {
		if info.Sold() {
			return Settlement{}, false
		}
		// Contract opened before this process started; adopt it so TP/SL
		// and force-close still apply.
		side := Short
		if info.Long() {
			side = Long
		}
		c = &Contract{
			ID:           info.ContractID,
			Symbol:       info.Underlying,
			Side:         side,
			ContractType: info.ContractType,
			Stake:        info.BuyPrice,
			Multiplier:   info.Multiplier,
			PurchaseTime: info.PurchaseTime,
			ExpiryTime:   info.DateExpiry,
			Status:       StatusOpened,
		}
		b.contracts[c.ID] = c
		b.log.Info().Int64("contract_id", c.ID).Str("symbol", c.Symbol).Msg("adopted broker-side contract")
	}

	c.PnL = info.Profit
	if info.CurrentSpot > 0 {
		c.CurrentSpot = info.CurrentSpot
	}
	if info.DateExpiry > 0 {
		c.ExpiryTime = info.DateExpiry
	}

	if c.Status == StatusOpened && info.EntryTick > 0 {
		c.EntryPrice = info.EntryTick
		c.Status = StatusActive
		b.armTargets(c, cfg)
	}

	if info.Sold() {
		settlement := Settlement{
			ContractID: c.ID,
			Symbol:     c.Symbol,
			Strategy:   c.Strategy,
			Profit:     info.Profit,
			Win:        info.Profit >= 0,
		}
		delete(b.contracts, c.ID)
		b.log.Info().Int64("contract_id", c.ID).Float64("profit", info.Profit).Bool("win", settlement.Win).Msg("contract settled")
		return settlement, true
	}
	return Settlement{}, false
}

// armTargets derives the fail-safe TP/SL prices once, at entry.
func (b *Book) armTargets(c *Contract, cfg config.Config) {
	tpUSD, slUSD := thresholds(c, cfg)

	if c.Multiplier > 0 && c.Stake > 0 && c.EntryPrice > 0 {
		// profit = (price-entry)/entry * multiplier * stake, solved for price.
		tpDelta := tpUSD * c.EntryPrice / (float64(c.Multiplier) * c.Stake)
		slDelta := slUSD * c.EntryPrice / (float64(c.Multiplier) * c.Stake)
		if c.Side == Long {
			c.TPPrice = c.EntryPrice + tpDelta
			c.SLPrice = c.EntryPrice - slDelta
		} else {
			c.TPPrice = c.EntryPrice - tpDelta
			c.SLPrice = c.EntryPrice + slDelta
		}
		return
	}

	buffer := cfg.BinaryTPSLBufferPct / 100
	if c.Side == Long {
		c.TPPrice = c.EntryPrice * (1 + buffer)
		c.SLPrice = c.EntryPrice * (1 - buffer)
	} else {
		c.TPPrice = c.EntryPrice * (1 - buffer)
		c.SLPrice = c.EntryPrice * (1 + buffer)
	}
}

// thresholds returns the USD profit/loss amounts that trip TP and SL.
// Disabled sides return 0, meaning never.
func thresholds(c *Contract, cfg config.Config) (tp, sl float64) {
	if cfg.TPEnabled {
		if cfg.UseFixedBalance {
			tp = cfg.TPValue
		} else {
			tp = c.Stake * cfg.TPValue / 100
		}
	}
	if cfg.SLEnabled {
		if cfg.UseFixedBalance {
			sl = cfg.SLValue
		} else {
			sl = c.Stake * cfg.SLValue / 100
		}
	}
	return tp, sl
}

// CheckSymbol evaluates every contract on the symbol against the current
// tick and returns the sells (and local removals) to perform. Contracts
// transitioning to Closing are stamped so retries obey the 30s cooldown.
func (b *Book) CheckSymbol(symbol string, cfg config.Config, ctx ExitContext) []Action {
	b.mu.Lock()
	defer b.mu.Unlock()

	var actions []Action
	for _, c := range b.contracts {
		if c.Symbol != symbol {
			continue
		}
		if act, ok := b.checkContract(c, cfg, ctx); ok {
			actions = append(actions, act)
			if act.Remove {
				delete(b.contracts, c.ID)
			}
		}
	}
	return actions
}

func (b *Book) checkContract(c *Contract, cfg config.Config, ctx ExitContext) (Action, bool) {
	// Ghost cleanup: expired binaries whose terminal update never arrived.
	if c.ExpiryTime > 0 && ctx.Now > c.ExpiryTime+ghostGrace {
		b.log.Warn().Int64("contract_id", c.ID).Msg("dropping ghost contract past expiry")
		return Action{ContractID: c.ID, Reason: "ghost", Remove: true}, true
	}

	if c.Status == StatusClosing {
		if ctx.Now-c.LastCloseAttempt >= closeRetryCooldown {
			c.LastCloseAttempt = ctx.Now
			return Action{ContractID: c.ID, Reason: "close retry"}, true
		}
		return Action{}, false
	}

	// Force-close applies as soon as the purchase time is known.
	if cfg.ForceCloseEnabled && c.PurchaseTime > 0 && ctx.Now-c.PurchaseTime >= cfg.ForceCloseDuration {
		return b.beginClose(c, ctx.Now, "force close"), true
	}

	if c.Status != StatusActive {
		return Action{}, false
	}

	tpUSD, slUSD := thresholds(c, cfg)
	if tpUSD > 0 && c.PnL >= tpUSD {
		return b.beginClose(c, ctx.Now, "take profit"), true
	}
	if slUSD > 0 && c.PnL <= -slUSD {
		return b.beginClose(c, ctx.Now, "stop loss"), true
	}

	// Fail-safe price triggers in case the profit feed stalls.
	if c.TPPrice > 0 && tpUSD > 0 {
		if (c.Side == Long && ctx.Price >= c.TPPrice) || (c.Side == Short && ctx.Price <= c.TPPrice) {
			return b.beginClose(c, ctx.Now, "take profit price"), true
		}
	}
	if c.SLPrice > 0 && (slUSD > 0 || c.IsFreeride) {
		if (c.Side == Long && ctx.Price <= c.SLPrice) || (c.Side == Short && ctx.Price >= c.SLPrice) {
			return b.beginClose(c, ctx.Now, "stop loss price"), true
		}
	}

	if act, ok := b.strategyExit(c, ctx); ok {
		return act, true
	}
	return Action{}, false
}

func (b *Book) strategyExit(c *Contract, ctx ExitContext) (Action, bool) {
	switch c.Strategy {
	case config.StrategyS1:
		// Cross back through the daily open at entry invalidates the
		// breakout. The live HTF open covers adopted contracts.
		htfOpen := c.EntryHTFOpen
		if htfOpen <= 0 {
			htfOpen = ctx.HTFOpen
		}
		if htfOpen > 0 {
			if (c.Side == Long && ctx.Price < htfOpen) || (c.Side == Short && ctx.Price > htfOpen) {
				return b.beginClose(c, ctx.Now, "crossed back over daily open"), true
			}
		}
		atrDaily := c.EntryATRDaily
		if atrDaily <= 0 {
			atrDaily = ctx.ATRDaily
		}
		if atrDaily > 0 && c.EntryPrice > 0 {
			dist := ctx.Price - c.EntryPrice
			if c.Side == Short {
				dist = -dist
			}
			if dist >= 2*atrDaily {
				return b.beginClose(c, ctx.Now, "2x daily ATR target"), true
			}
		}
	case config.StrategyS5, config.StrategyS7:
		if c.Multiplier == 0 {
			break
		}
		if (c.Side == Long && ctx.MACDDivergence1h < 0) || (c.Side == Short && ctx.MACDDivergence1h > 0) {
			return b.beginClose(c, ctx.Now, "1h MACD divergence"), true
		}
		b.updateFreeride(c, ctx)
		if c.IsFreeride {
			if (c.Side == Long && ctx.SuperTrend15mDir < 0) || (c.Side == Short && ctx.SuperTrend15mDir > 0) {
				return b.beginClose(c, ctx.Now, "supertrend flip in free-ride"), true
			}
		}
	}
	return Action{}, false
}

// updateFreeride arms the profit-locking stop once price has run
// 1.5x the entry-time hourly ATR in the position's favor.
func (b *Book) updateFreeride(c *Contract, ctx ExitContext) {
	atr1h := c.EntryATR1h
	if atr1h <= 0 {
		atr1h = ctx.ATR1h
	}
	if c.IsFreeride || atr1h <= 0 || c.EntryPrice <= 0 {
		return
	}
	dist := ctx.Price - c.EntryPrice
	if c.Side == Short {
		dist = -dist
	}
	if dist < freerideATRTrigger*atr1h {
		return
	}
	c.IsFreeride = true
	if c.Side == Long {
		c.SLPrice = c.EntryPrice + freerideFallback*atr1h
		if ctx.FractalLow > c.SLPrice {
			c.SLPrice = ctx.FractalLow
		}
	} else {
		c.SLPrice = c.EntryPrice - freerideFallback*atr1h
		if ctx.FractalHigh > 0 && ctx.FractalHigh < c.SLPrice {
			c.SLPrice = ctx.FractalHigh
		}
	}
	b.log.Info().Int64("contract_id", c.ID).Float64("sl_price", c.SLPrice).Msg("free-ride stop armed")
}

func (b *Book) beginClose(c *Contract, now int64, reason string) Action {
	c.Status = StatusClosing
	c.LastCloseAttempt = now
	b.log.Info().Int64("contract_id", c.ID).Str("reason", reason).Msg("closing contract")
	return Action{ContractID: c.ID, Reason: reason}
}

// CloseAll moves every open contract to Closing and returns the sells to
// issue. Used by batch cancel and emergency stop-loss.
func (b *Book) CloseAll(now int64) []Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	var actions []Action
	for _, c := range b.contracts {
		if c.Status == StatusClosing && now-c.LastCloseAttempt < closeRetryCooldown {
			continue
		}
		actions = append(actions, b.beginClose(c, now, "batch close"))
	}
	return actions
}

// Close requests a single contract close by id.
func (b *Book) Close(contractID, now int64) (Action, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contracts[contractID]
	if !ok {
		return Action{}, false
	}
	if c.Status == StatusClosing && now-c.LastCloseAttempt < closeRetryCooldown {
		return Action{}, false
	}
	return b.beginClose(c, now, "operator close"), true
}
