package engine

import (
	"github.com/koshedutech/deriv-trading-engine/internal/events"
	"github.com/koshedutech/deriv-trading-engine/internal/position"
)

// Status is the operator-facing engine snapshot.
type Status struct {
	State             State   `json:"state"`
	Running           bool    `json:"running"`
	Connected         bool    `json:"connected"`
	Balance           float64 `json:"balance"`
	Equity            float64 `json:"equity"`
	Currency          string  `json:"currency"`
	LoginID           string  `json:"loginid"`
	IsVirtual         bool    `json:"is_virtual"`
	DailyStartBalance float64 `json:"daily_start_balance"`
	DailyPnL          float64 `json:"daily_pnl"`
	DailyPnLPct       float64 `json:"daily_pnl_pct"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	OpenContracts     int     `json:"open_contracts"`
}

// Status returns a copy of the engine's account and lifecycle state.
func (e *Engine) Status() Status {
	floating := e.book.FloatingPnL()
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Status{
		State:             e.state,
		Running:           e.running,
		Connected:         e.account.Connected,
		Balance:           e.account.Balance,
		Equity:            e.account.Balance + floating,
		Currency:          e.account.Currency,
		LoginID:           e.account.LoginID,
		IsVirtual:         e.account.IsVirtual,
		DailyStartBalance: e.account.DailyStartBalance,
		Wins:              e.account.Wins,
		Losses:            e.account.Losses,
		OpenContracts:     e.book.Len(),
	}
	if s.DailyStartBalance > 0 {
		s.DailyPnL = s.Equity - s.DailyStartBalance
		s.DailyPnLPct = s.DailyPnL / s.DailyStartBalance * 100
	}
	return s
}

// Trades returns the open contracts for the API layer.
func (e *Engine) Trades() []position.Contract {
	return e.book.Snapshot()
}

// IsRunning reports whether entries are enabled.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Balance returns the last reported account balance.
func (e *Engine) Balance() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.account.Balance
}

// DailyPnLPct returns the equity change since the daily baseline in percent.
func (e *Engine) DailyPnLPct() float64 {
	floating := e.book.FloatingPnL()
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.account.DailyStartBalance <= 0 {
		return 0
	}
	return (e.account.Balance + floating - e.account.DailyStartBalance) / e.account.DailyStartBalance * 100
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) emitAccount() {
	status := e.Status()
	e.metrics.DailyPnLPct.Set(status.DailyPnLPct)
	e.bus.Emit(events.EventAccountUpdate, status)
}

func (e *Engine) emitTrades() {
	e.bus.Emit(events.EventTradesUpdate, e.book.Snapshot())
}
