package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/deriv"
	"github.com/koshedutech/deriv-trading-engine/internal/events"
	"github.com/koshedutech/deriv-trading-engine/internal/execution"
	"github.com/koshedutech/deriv-trading-engine/internal/indicators"
	"github.com/koshedutech/deriv-trading-engine/internal/market"
	"github.com/koshedutech/deriv-trading-engine/internal/metrics"
	"github.com/koshedutech/deriv-trading-engine/internal/position"
	"github.com/koshedutech/deriv-trading-engine/internal/screener"
	"github.com/koshedutech/deriv-trading-engine/internal/strategy"
)

// State is the engine lifecycle.
type State string

const (
	StateStopped State = "stopped"
	StatePassive State = "passive_monitoring"
	StateTrading State = "trading"
)

// Command is an operator instruction delivered through the command channel.
type Command struct {
	Name       string
	ContractID int64
}

// Operator command names.
const (
	CmdStart        = "start"
	CmdStop         = "stop"
	CmdClearConsole = "clear_console"
	CmdBatchCancel  = "batch_cancel_orders"
	CmdEmergencySL  = "emergency_sl"
	CmdCloseTrade   = "close_trade"
)

const atrHistoryCap = 50

// Engine is the single authoritative mutator of SymbolState and Contracts.
// It consumes broker events and operator commands on one goroutine.
type Engine struct {
	cfgStore *config.Store
	session  *deriv.Session
	cache    *market.Cache
	book     *position.Book
	executor *execution.Executor
	eval     *strategy.Evaluator
	cards    *screener.Store
	sched    *screener.Scheduler
	bus      *events.Bus
	metrics  *metrics.Metrics

	commands chan Command
	updates  chan map[string]interface{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.RWMutex
	state   State
	running bool
	account accountState

	log zerolog.Logger
}

type accountState struct {
	Balance           float64
	Currency          string
	LoginID           string
	IsVirtual         bool
	Connected         bool
	DailyStartBalance float64
	DailyStartDay     int // UTC year-day
	RealizedPnL       float64
	Wins              int
	Losses            int
}

// New wires the engine over its collaborators.
func New(cfgStore *config.Store, session *deriv.Session, cache *market.Cache, book *position.Book, executor *execution.Executor, eval *strategy.Evaluator, cards *screener.Store, sched *screener.Scheduler, bus *events.Bus, m *metrics.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		cfgStore: cfgStore,
		session:  session,
		cache:    cache,
		book:     book,
		executor: executor,
		eval:     eval,
		cards:    cards,
		sched:    sched,
		bus:      bus,
		metrics:  m,
		commands: make(chan Command, 16),
		updates:  make(chan map[string]interface{}, 4),
		stopChan: make(chan struct{}),
		state:    StateStopped,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

// Run starts the broker session, the screener, and the event loop. Blocks
// until Stop.
func (e *Engine) Run() {
	cfg := e.cfgStore.Get()
	profile := cfg.Profile()
	e.cache.SetGranularities(profile.LTF, profile.HTF)
	for _, symbol := range cfg.Symbols {
		e.cache.Init(symbol)
	}

	e.setState(StatePassive)
	e.session.Connect()
	e.sched.Start()

	e.wg.Add(1)
	go e.loop()
	e.wg.Wait()
}

// Stop shuts everything down and flushes a final account update.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

// Submit queues an operator command.
func (e *Engine) Submit(cmd Command) {
	select {
	case e.commands <- cmd:
	case <-e.stopChan:
	}
}

// SubmitConfigUpdate queues a config change for the engine goroutine.
func (e *Engine) SubmitConfigUpdate(update map[string]interface{}) {
	select {
	case e.updates <- update:
	case <-e.stopChan:
	}
}

func (e *Engine) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			e.shutdown()
			return
		case ev, ok := <-e.session.Events():
			if !ok {
				e.shutdown()
				return
			}
			e.handleEvent(ev)
		case cmd := <-e.commands:
			e.handleCommand(cmd)
		case update := <-e.updates:
			e.applyConfigUpdate(update)
		case <-ticker.C:
			e.rolloverIfNeeded(time.Now().UTC())
			e.metrics.OpenContracts.Set(float64(e.book.Len()))
		}
	}
}

func (e *Engine) shutdown() {
	e.sched.Stop()
	e.session.Stop()
	e.setState(StateStopped)
	e.emitAccount()
	e.log.Info().Msg("engine stopped")
}

// ============================================================================
// BROKER EVENTS
// ============================================================================

func (e *Engine) handleEvent(ev deriv.Event) {
	switch ev := ev.(type) {
	case deriv.Connected:
		e.log.Info().Msg("socket connected")
		e.metrics.ReconnectsTotal.Inc()
	case deriv.Disconnected:
		e.mu.Lock()
		e.account.Connected = false
		e.mu.Unlock()
		if ev.Err != nil {
			e.bus.EmitError("session", "connection lost")
		}
	case deriv.Authorized:
		e.onAuthorized(ev)
	case deriv.BalanceUpdate:
		e.onBalance(ev.Balance)
	case deriv.CandlesEvent:
		e.onCandles(ev)
	case deriv.TickEvent:
		e.onTick(ev)
	case deriv.ContractUpdate:
		e.onContractUpdate(ev.Contract)
	case deriv.ContractsForEvent:
		e.cache.Update(ev.Symbol, func(st *market.SymbolState) {
			st.Multipliers = append([]int(nil), ev.Multipliers...)
		})
		e.bus.Emit(events.EventMultipliersUpdate, map[string]interface{}{
			"symbol": ev.Symbol, "multipliers": ev.Multipliers,
		})
	case deriv.BuyAck:
		e.onBuyAck(ev)
	case deriv.SellAck:
		e.log.Info().Int64("contract_id", ev.ContractID).Float64("sold_for", ev.SoldFor).Msg("sell accepted")
	case deriv.ErrorEvent:
		e.onBrokerError(ev)
	}
}

func (e *Engine) onAuthorized(ev deriv.Authorized) {
	e.mu.Lock()
	e.account.Balance = ev.Balance
	e.account.Currency = ev.Currency
	e.account.LoginID = ev.LoginID
	e.account.IsVirtual = ev.IsVirtual
	e.account.Connected = true
	if e.account.DailyStartBalance == 0 {
		e.account.DailyStartBalance = ev.Balance
		e.account.DailyStartDay = time.Now().UTC().YearDay()
	}
	e.mu.Unlock()

	e.log.Info().Str("loginid", ev.LoginID).Bool("virtual", ev.IsVirtual).Msg("authorized")
	e.metrics.AccountBalance.Set(ev.Balance)
	e.resubscribeAll()
	e.emitAccount()
}

// resubscribeAll restores ticks and history after (re)authorization.
func (e *Engine) resubscribeAll() {
	cfg := e.cfgStore.Get()
	for _, symbol := range cfg.Symbols {
		e.cache.Init(symbol)
		if err := e.session.SubscribeTicks(symbol); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("tick subscribe failed")
		}
		e.fetchHistories(symbol, cfg)
		if cfg.ContractType == config.ContractMultiplier {
			e.session.RequestContractsFor(symbol)
		}
	}
}

func (e *Engine) fetchHistories(symbol string, cfg config.Config) {
	profile := cfg.Profile()
	e.session.FetchCandles(symbol, profile.LTF, market.RingCapacity(profile.LTF))
	e.session.FetchCandles(symbol, profile.HTF, profile.HistoryCount)
	for _, gc := range profile.Extra {
		e.session.FetchCandles(symbol, gc.Granularity, gc.Count)
	}
	// The 4h bias filters and daily ATR exits want context regardless of
	// the active strategy's own set.
	e.session.FetchCandles(symbol, market.Gran4h, 120)
	e.session.FetchCandles(symbol, market.Gran1d, 60)
	e.session.FetchCandles(symbol, market.Gran1h, 120)
}

func (e *Engine) onBalance(balance float64) {
	e.mu.Lock()
	e.account.Balance = balance
	e.mu.Unlock()
	e.metrics.AccountBalance.Set(balance)
	e.emitAccount()
}

func (e *Engine) onCandles(ev deriv.CandlesEvent) {
	now := time.Now().UTC().Unix()
	e.cache.ApplyCandles(ev.Symbol, ev.Granularity, ev.Candles, now)
	e.refreshStructures(ev.Symbol, ev.Granularity)
}

// refreshStructures recomputes the cached analysis derived from a series.
func (e *Engine) refreshStructures(symbol string, granularity int64) {
	switch granularity {
	case market.Gran1m:
		c1m := e.cache.Snapshot(symbol, market.Gran1m)
		if len(c1m) > 15 {
			atr := indicators.CalculateATR(c1m, 14)
			highs, lows := indicators.RecentFractalLevels(c1m, 2)
			e.cache.Update(symbol, func(st *market.SymbolState) {
				st.ATR1mHistory = append(st.ATR1mHistory, atr)
				if len(st.ATR1mHistory) > atrHistoryCap {
					st.ATR1mHistory = st.ATR1mHistory[len(st.ATR1mHistory)-atrHistoryCap:]
				}
				st.FractalHighs = highs
				st.FractalLows = lows
			})
		}
	case market.Gran5m:
		c5m := e.cache.Snapshot(symbol, market.Gran5m)
		if len(c5m) >= 20 {
			zones := indicators.CalculateSNRZones(c5m, e.cache.Zones(symbol))
			e.cache.SetZones(symbol, zones)
		}
	}
}

func (e *Engine) onTick(ev deriv.TickEvent) {
	res := e.cache.ApplyTick(ev.Symbol, ev.Epoch, ev.Quote)
	if res.FirstTick && ev.SubscriptionID != "" {
		e.cache.Update(ev.Symbol, func(st *market.SymbolState) {
			st.SubscriptionID = ev.SubscriptionID
		})
	}
	e.metrics.TicksTotal.WithLabelValues(ev.Symbol).Inc()

	now := time.Unix(ev.Epoch, 0).UTC()
	e.rolloverIfNeeded(now)
	e.trackCross(ev.Symbol, ev.Quote)

	cfg := e.cfgStore.Get()
	if res.LTFClosed {
		e.onLTFClose(ev.Symbol, cfg)
	}

	if e.book.HasSymbol(ev.Symbol) {
		e.sweepPositions(ev.Symbol, ev.Quote, now, cfg)
	}

	shouldEval := res.LTFClosed || cfg.EntryType == config.EntryTick
	if shouldEval {
		e.evaluate(ev.Symbol, res.LTFClosed, ev.Quote, now, cfg)
	}
}

// trackCross counts daily-open crossings for the whipsaw limit.
func (e *Engine) trackCross(symbol string, price float64) {
	e.cache.Update(symbol, func(st *market.SymbolState) {
		if st.HTFOpen <= 0 {
			return
		}
		side := "above"
		if price < st.HTFOpen {
			side = "below"
		}
		if st.LastCrossSide != "" && st.LastCrossSide != side {
			st.DailyCrosses++
		}
		st.LastCrossSide = side
	})
}

func (e *Engine) onLTFClose(symbol string, cfg config.Config) {
	profile := cfg.Profile()
	if profile.LTF == market.Gran1m {
		e.refreshStructures(symbol, market.Gran1m)
	}
	if cfg.ActiveStrategy == config.StrategyS4 {
		e.refreshStructures(symbol, market.Gran5m)
	}
}

func (e *Engine) sweepPositions(symbol string, price float64, now time.Time, cfg config.Config) {
	ctx := e.exitContext(symbol, price, now)
	for _, act := range e.book.CheckSymbol(symbol, cfg, ctx) {
		if act.Remove {
			e.bus.EmitError("position", "contract expired without settlement, dropped")
			continue
		}
		if err := e.session.Sell(act.ContractID); err != nil {
			e.log.Warn().Err(err).Int64("contract_id", act.ContractID).Msg("sell failed")
		}
	}
}

// exitContext assembles the market context for exit checks from snapshots.
func (e *Engine) exitContext(symbol string, price float64, now time.Time) position.ExitContext {
	ctx := position.ExitContext{Now: now.Unix(), Price: price}
	htfOpen, _ := e.cache.HTFOpen(symbol)
	ctx.HTFOpen = htfOpen

	if c1h := e.cache.Snapshot(symbol, market.Gran1h); len(c1h) > 26 {
		ctx.ATR1h = indicators.CalculateATR(c1h, 14)
		ctx.MACDDivergence1h = indicators.DetectMACDDivergence(c1h, 20)
	}
	if daily := e.cache.Snapshot(symbol, market.Gran1d); len(daily) > 1 {
		ctx.ATRDaily = indicators.CalculateADR(daily, 14)
	}
	if c15 := e.cache.Snapshot(symbol, market.Gran15m); len(c15) > 11 {
		ctx.SuperTrend15mDir = indicators.CalculateSuperTrend(c15, 10, 3).LastDirection()
	}
	e.cache.View(symbol, func(st *market.SymbolState) {
		if n := len(st.FractalLows); n > 0 {
			ctx.FractalLow = st.FractalLows[n-1]
		}
		if n := len(st.FractalHighs); n > 0 {
			ctx.FractalHigh = st.FractalHighs[n-1]
		}
	})
	return ctx
}

// ============================================================================
// ENTRIES
// ============================================================================

func (e *Engine) evaluate(symbol string, isCandleClose bool, price float64, now time.Time, cfg config.Config) {
	env := strategy.Env{
		Cfg:         cfg,
		Now:         now,
		Running:     e.IsRunning(),
		DailyPnLPct: e.DailyPnLPct(),
	}
	intent := e.eval.Evaluate(symbol, isCandleClose, env)

	if intent.RiskBreach {
		if e.IsRunning() {
			e.setRunning(false)
			e.setState(StatePassive)
			e.log.Warn().Float64("daily_pnl_pct", env.DailyPnLPct).Msg("daily cap reached, entries suspended")
			e.bus.EmitError("risk", "daily PnL cap reached, trading suspended")
		}
		return
	}
	if intent.Kind != strategy.KindOpen {
		return
	}

	card, _ := e.cards.Get(symbol)
	ctx := e.exitContext(symbol, price, now)
	params := execution.OpenParams{
		Symbol:     symbol,
		Side:       intent.Side,
		Strategy:   cfg.ActiveStrategy,
		StakeScale: intent.StakeScale,
		ExpiryMin:  intent.ExpiryMin,
		Balance:    e.Balance(),
		Price:      price,
		HTFOpen:    ctx.HTFOpen,
		ATR1h:      ctx.ATR1h,
		ATRDaily:   ctx.ATRDaily,
		Multiplier: card.Multiplier,
		Now:        now,
	}
	sent, err := e.executor.Open(params, cfg)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", symbol).Msg("order failed")
		e.bus.EmitError("execution", err.Error())
		return
	}
	if !sent {
		return
	}

	profile := cfg.Profile()
	ltfEpoch := market.BucketEpoch(now.UTC().Unix(), profile.LTF)
	hour := now.UTC().Hour()
	e.cache.Update(symbol, func(st *market.SymbolState) {
		st.LastTradeLTF = ltfEpoch
		if st.LastTradeHour == hour {
			st.HourlyTradeCount++
		} else {
			st.LastTradeHour = hour
			st.HourlyTradeCount = 1
		}
	})
}

// ============================================================================
// CONTRACT LIFECYCLE
// ============================================================================

func (e *Engine) onBuyAck(ack deriv.BuyAck) {
	cfg := e.cfgStore.Get()
	c, ok := e.executor.HandleBuyAck(ack, time.Now())
	if !ok {
		return
	}
	e.metrics.TradesOpenedTotal.WithLabelValues(cfg.ActiveStrategy).Inc()
	e.metrics.OpenContracts.Set(float64(e.book.Len()))
	e.bus.EmitSuccess("contract opened: " + c.Symbol + " " + c.Side.String())
	e.emitTrades()
}

func (e *Engine) onContractUpdate(info deriv.ContractInfo) {
	cfg := e.cfgStore.Get()
	settlement, done := e.book.HandleContractUpdate(info, cfg)
	if !done {
		e.bus.Emit(events.EventPositionUpdate, map[string]interface{}{
			"contract_id":  info.ContractID,
			"symbol":       info.Underlying,
			"current_spot": info.CurrentSpot,
			"pnl":          info.Profit,
		})
		e.emitTrades()
		return
	}

	e.mu.Lock()
	e.account.RealizedPnL += settlement.Profit
	if settlement.Win {
		e.account.Wins++
	} else {
		e.account.Losses++
	}
	e.mu.Unlock()

	result := "loss"
	if settlement.Win {
		result = "win"
	}
	e.metrics.TradesClosedTotal.WithLabelValues(result).Inc()
	e.metrics.OpenContracts.Set(float64(e.book.Len()))
	e.metrics.DailyPnLPct.Set(e.DailyPnLPct())

	e.updateStreaks(settlement)
	e.emitTrades()
	e.emitAccount()
}

// updateStreaks adjusts the adaptive counters the screener threshold uses.
func (e *Engine) updateStreaks(s position.Settlement) {
	adx := 0.0
	if c1h := e.cache.Snapshot(s.Symbol, market.Gran1h); len(c1h) > 29 {
		adx = indicators.CalculateADX(c1h, 14).ADX
	}
	e.cache.Update(s.Symbol, func(st *market.SymbolState) {
		if s.Win {
			st.ConsecutiveWins++
			st.ConsecutiveLosses = 0
			if st.ConsecutiveWins >= 2 || adx > 20 {
				st.ConsecutiveWins = 0
			}
		} else {
			st.ConsecutiveLosses++
			st.ConsecutiveWins = 0
		}
	})
}

func (e *Engine) onBrokerError(ev deriv.ErrorEvent) {
	e.log.Error().Str("code", ev.Code).Str("req_type", ev.ReqType).Msg(ev.Message)
	if ev.ReqType == "buy" {
		e.executor.DropPendingOnError()
	}
	switch ev.Code {
	case deriv.CodeAuthorizationRequired, deriv.CodeInvalidToken:
		e.setRunning(false)
		e.setState(StateStopped)
		e.bus.EmitError("auth", "authorization rejected, update the API token")
	default:
		e.bus.EmitError("broker", ev.Message)
	}
}

// ============================================================================
// COMMANDS & CONFIG
// ============================================================================

func (e *Engine) handleCommand(cmd Command) {
	now := time.Now().UTC().Unix()
	switch cmd.Name {
	case CmdStart:
		e.setRunning(true)
		e.setState(StateTrading)
		e.bus.Emit(events.EventBotStatus, map[string]bool{"running": true})
		e.log.Info().Msg("trading started")
	case CmdStop:
		e.setRunning(false)
		e.setState(StatePassive)
		e.bus.Emit(events.EventBotStatus, map[string]bool{"running": false})
		e.log.Info().Msg("trading stopped")
	case CmdClearConsole:
		e.bus.Emit(events.EventConsoleLog, nil)
	case CmdBatchCancel, CmdEmergencySL:
		for _, act := range e.book.CloseAll(now) {
			if err := e.session.Sell(act.ContractID); err != nil {
				e.log.Warn().Err(err).Int64("contract_id", act.ContractID).Msg("batch close failed")
			}
		}
		e.bus.EmitSuccess("close requested for all open contracts")
	case CmdCloseTrade:
		if act, ok := e.book.Close(cmd.ContractID, now); ok {
			if err := e.session.Sell(act.ContractID); err != nil {
				e.log.Warn().Err(err).Int64("contract_id", act.ContractID).Msg("close failed")
			}
		}
	}
}

func (e *Engine) applyConfigUpdate(update map[string]interface{}) {
	before := e.cfgStore.Get()
	changed, err := e.cfgStore.ApplyUpdate(update)
	if err != nil {
		e.bus.EmitError("config", err.Error())
		return
	}
	if len(changed) == 0 {
		return
	}
	after := e.cfgStore.Get()
	e.log.Info().Strs("changed", changed).Msg("config updated")

	changedSet := make(map[string]bool, len(changed))
	for _, key := range changed {
		changedSet[key] = true
	}

	if changedSet["api_token"] {
		e.session.ApplyCredentials(after.APIToken)
	}
	if changedSet["active_strategy"] || changedSet["strat7_small_tf"] || changedSet["strat7_mid_tf"] || changedSet["strat7_high_tf"] {
		e.onStrategyChange(after)
	} else if changedSet["symbols"] {
		e.reconcileSymbols(before.Symbols, after.Symbols, after)
	}
	if changedSet["contract_type"] && after.ContractType == config.ContractMultiplier {
		for _, symbol := range after.Symbols {
			e.session.RequestContractsFor(symbol)
		}
	}
	if err := e.cfgStore.Save(); err != nil {
		e.log.Warn().Err(err).Msg("config save failed")
	}
	e.bus.EmitSuccess("configuration applied")
}

// onStrategyChange resets per-symbol series state and refetches the new
// strategy's history set.
func (e *Engine) onStrategyChange(cfg config.Config) {
	profile := cfg.Profile()
	e.cache.SetGranularities(profile.LTF, profile.HTF)
	for _, symbol := range cfg.Symbols {
		e.cache.Reset(symbol)
		e.cards.Remove(symbol)
		e.fetchHistories(symbol, cfg)
	}
	e.log.Info().Str("strategy", cfg.ActiveStrategy).Msg("strategy switched, state reset")
}

// reconcileSymbols subscribes additions and forgets removals.
func (e *Engine) reconcileSymbols(before, after []string, cfg config.Config) {
	beforeSet := make(map[string]bool, len(before))
	for _, s := range before {
		beforeSet[s] = true
	}
	afterSet := make(map[string]bool, len(after))
	for _, s := range after {
		afterSet[s] = true
	}

	for _, symbol := range after {
		if beforeSet[symbol] {
			continue
		}
		e.cache.Init(symbol)
		if err := e.session.SubscribeTicks(symbol); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("tick subscribe failed")
		}
		e.fetchHistories(symbol, cfg)
	}
	for _, symbol := range before {
		if afterSet[symbol] {
			continue
		}
		var subID string
		e.cache.View(symbol, func(st *market.SymbolState) { subID = st.SubscriptionID })
		if subID != "" {
			e.session.Forget(subID)
		}
		e.cache.Remove(symbol)
		e.cards.Remove(symbol)
	}
}

// rolloverIfNeeded resets the daily baseline at the UTC day boundary.
func (e *Engine) rolloverIfNeeded(now time.Time) {
	day := now.YearDay()
	e.mu.Lock()
	if e.account.DailyStartDay == day || e.account.Balance == 0 {
		e.mu.Unlock()
		return
	}
	e.account.DailyStartDay = day
	e.account.DailyStartBalance = e.account.Balance
	e.account.RealizedPnL = 0
	e.account.Wins = 0
	e.account.Losses = 0
	e.mu.Unlock()

	for _, symbol := range e.cache.Symbols() {
		e.cache.Update(symbol, func(st *market.SymbolState) {
			st.DailyCrosses = 0
			st.LastCrossSide = ""
		})
		// New session candle: refresh the daily series so the reference
		// open and ADR track today, not yesterday.
		e.session.FetchCandles(symbol, market.Gran1d, 60)
	}
	e.metrics.DailyPnLPct.Set(0)
	e.log.Info().Msg("daily rollover, counters reset")
}
