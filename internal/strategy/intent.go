package strategy

import (
	"github.com/koshedutech/deriv-trading-engine/internal/position"
)

// Kind discriminates evaluator outcomes.
type Kind int

const (
	KindNone Kind = iota
	KindOpen
	KindClose
)

// Intent is the evaluator's decision for one (symbol, tick) observation.
// RiskBreach marks a daily PnL cap hit; the engine clears the running flag.
type Intent struct {
	Kind       Kind
	Side       position.Side
	ContractID int64
	Reason     string

	// StakeScale shrinks the configured stake (1 = full). Strategy 4 halves
	// stake at well-tested zones.
	StakeScale float64

	// ExpiryMin overrides the strategy default expiry when > 0.
	ExpiryMin int

	RiskBreach bool
}

// None is the empty decision.
func None() Intent { return Intent{Kind: KindNone, StakeScale: 1} }

func open(side position.Side, reason string) Intent {
	return Intent{Kind: KindOpen, Side: side, Reason: reason, StakeScale: 1}
}
