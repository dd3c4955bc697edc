package position

// Side is the direction of an open contract.
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "SHORT"
	}
	return "LONG"
}

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Status is the lifecycle state of a tracked contract.
type Status int

const (
	StatusOpened Status = iota // bought, no entry tick yet
	StatusActive               // entry tick seen, targets armed
	StatusClosing              // sell requested, awaiting settlement
	StatusSold                 // terminal
)

func (s Status) String() string {
	switch s {
	case StatusOpened:
		return "OPENED"
	case StatusActive:
		return "ACTIVE"
	case StatusClosing:
		return "CLOSING"
	default:
		return "SOLD"
	}
}

// Contract is one tracked open position. Owned by the Book; callers receive
// copies.
type Contract struct {
	ID           int64   `json:"contract_id"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"-"`
	ContractType string  `json:"contract_type"`
	Strategy     string  `json:"strategy"`
	Stake        float64 `json:"stake"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentSpot  float64 `json:"current_spot"`
	PnL          float64 `json:"pnl"`
	Multiplier   int     `json:"multiplier,omitempty"`
	TPPrice      float64 `json:"tp_price,omitempty"`
	SLPrice      float64 `json:"sl_price,omitempty"`
	PurchaseTime int64   `json:"purchase_time"`
	ExpiryTime   int64   `json:"expiry_time,omitempty"`
	Status       Status  `json:"-"`

	LastCloseAttempt int64 `json:"-"`
	IsFreeride       bool  `json:"is_freeride"`

	// Entry snapshot for strategy exits.
	EntryHTFOpen  float64 `json:"-"`
	EntryATR1h    float64 `json:"-"`
	EntryATRDaily float64 `json:"-"`
}

// Settlement summarizes a terminal contract update.
type Settlement struct {
	ContractID int64
	Symbol     string
	Strategy   string
	Profit     float64
	Win        bool
}
