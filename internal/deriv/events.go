package deriv

import (
	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// Event is a typed message from the broker session to the engine.
type Event interface {
	event()
}

// Connected fires after a successful dial, before authorization completes.
type Connected struct{}

// Disconnected fires when the socket drops; the session will reconnect on
// its own unless stopped.
type Disconnected struct {
	Err error
}

// Authorized carries the account snapshot from the authorize response.
type Authorized struct {
	Balance   float64
	Currency  string
	LoginID   string
	IsVirtual bool
}

// BalanceUpdate is a balance subscription push.
type BalanceUpdate struct {
	Balance float64
}

// CandlesEvent is a ticks_history response.
type CandlesEvent struct {
	Symbol      string
	Granularity int64
	Candles     []market.Candle
}

// TickEvent is a tick subscription push.
type TickEvent struct {
	Symbol         string
	Epoch          int64
	Quote          float64
	SubscriptionID string
}

// ContractUpdate is a proposal_open_contract push.
type ContractUpdate struct {
	Contract ContractInfo
}

// ContractsForEvent lists the permitted multiplier values for a symbol.
type ContractsForEvent struct {
	Symbol      string
	Multipliers []int
}

// BuyAck confirms an opened contract.
type BuyAck struct {
	ContractID int64
	BuyPrice   float64
	LongCode   string
}

// SellAck confirms a close request was accepted.
type SellAck struct {
	ContractID int64
	SoldFor    float64
}

// ErrorEvent is a broker-semantic error response.
type ErrorEvent struct {
	Code    string
	Message string
	ReqType string
}

func (Connected) event()         {}
func (Disconnected) event()      {}
func (Authorized) event()        {}
func (BalanceUpdate) event()     {}
func (CandlesEvent) event()      {}
func (TickEvent) event()         {}
func (ContractUpdate) event()    {}
func (ContractsForEvent) event() {}
func (BuyAck) event()            {}
func (SellAck) event()           {}
func (ErrorEvent) event()        {}
