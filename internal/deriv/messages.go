package deriv

import (
	"encoding/json"
	"fmt"
)

// DefaultEndpoint is the broker WebSocket URL; the app_id query parameter is
// appended on dial.
const DefaultEndpoint = "wss://ws.binaryws.com/websockets/v3"

// Error codes the engine reacts to specially.
const (
	CodeAuthorizationRequired = "AuthorizationRequired"
	CodeInvalidToken          = "InvalidToken"
)

// APIError is a broker-semantic error delivered on the socket.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deriv api error %s: %s", e.Code, e.Message)
}

// passthrough carries the request correlation token; the broker echoes it
// back verbatim in echo_req.
type passthrough struct {
	ReqID int64 `json:"req_id"`
}

// ============================================================================
// OUTBOUND FRAMES
// ============================================================================

type authorizeRequest struct {
	Authorize string `json:"authorize"`
}

type balanceRequest struct {
	Balance   int `json:"balance"`
	Subscribe int `json:"subscribe"`
}

type ticksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe"`
}

type forgetRequest struct {
	Forget string `json:"forget"`
}

type ticksHistoryRequest struct {
	TicksHistory    string       `json:"ticks_history"`
	Style           string       `json:"style"`
	Granularity     int64        `json:"granularity"`
	Count           int          `json:"count"`
	End             string       `json:"end"`
	AdjustStartTime int          `json:"adjust_start_time"`
	Passthrough     *passthrough `json:"passthrough,omitempty"`
}

type proposalOpenContractRequest struct {
	ProposalOpenContract int `json:"proposal_open_contract"`
	Subscribe            int `json:"subscribe"`
}

type contractsForRequest struct {
	ContractsFor string `json:"contracts_for"`
}

// LimitOrder carries USD take-profit/stop-loss targets on a multiplier buy.
type LimitOrder struct {
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

// BuyParameters is the contract definition inside a buy request.
type BuyParameters struct {
	Amount       float64     `json:"amount"`
	Basis        string      `json:"basis"`
	ContractType string      `json:"contract_type"`
	Currency     string      `json:"currency"`
	Duration     int64       `json:"duration,omitempty"`
	DurationUnit string      `json:"duration_unit,omitempty"`
	Symbol       string      `json:"symbol"`
	Multiplier   int         `json:"multiplier,omitempty"`
	LimitOrder   *LimitOrder `json:"limit_order,omitempty"`
}

// BuyRequest opens a contract; Price is the max acceptable stake.
type BuyRequest struct {
	Buy        int           `json:"buy"`
	Price      float64       `json:"price"`
	Parameters BuyParameters `json:"parameters"`
}

type sellRequest struct {
	Sell  int64   `json:"sell"`
	Price float64 `json:"price"`
}

// ============================================================================
// INBOUND FRAMES
// ============================================================================

// envelope is the generic inbound frame; only the fields for the carried
// msg_type are populated.
type envelope struct {
	MsgType      string           `json:"msg_type"`
	Error        *APIError        `json:"error"`
	EchoReq      json.RawMessage  `json:"echo_req"`
	Authorize    *authorizeReply  `json:"authorize"`
	Balance      *balanceReply    `json:"balance"`
	Candles      []candleReply    `json:"candles"`
	Tick         *tickReply       `json:"tick"`
	POC          *ContractInfo    `json:"proposal_open_contract"`
	ContractsFor *contractsReply  `json:"contracts_for"`
	Buy          *buyReply        `json:"buy"`
	Sell         *sellReply       `json:"sell"`
	Subscription *subscriptionRef `json:"subscription"`
}

type subscriptionRef struct {
	ID string `json:"id"`
}

type authorizeReply struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
	LoginID  string  `json:"loginid"`
	IsVirtual int    `json:"is_virtual"`
}

type balanceReply struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

type candleReply struct {
	Epoch int64   `json:"epoch"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type tickReply struct {
	Symbol string  `json:"symbol"`
	Epoch  int64   `json:"epoch"`
	Quote  float64 `json:"quote"`
	ID     string  `json:"id"`
}

type buyReply struct {
	ContractID int64   `json:"contract_id"`
	BuyPrice   float64 `json:"buy_price"`
	LongCode   string  `json:"longcode"`
}

type sellReply struct {
	ContractID int64   `json:"contract_id"`
	SoldFor    float64 `json:"sold_for"`
}

type contractsReply struct {
	Available []struct {
		ContractType    string `json:"contract_type"`
		MultiplierRange []int  `json:"multiplier_range"`
	} `json:"available"`
}

// ContractInfo is a proposal_open_contract snapshot.
type ContractInfo struct {
	ContractID   int64   `json:"contract_id"`
	Underlying   string  `json:"underlying"`
	ContractType string  `json:"contract_type"`
	IsSold       int     `json:"is_sold"`
	Profit       float64 `json:"profit"`
	EntryTick    float64 `json:"entry_tick"`
	CurrentSpot  float64 `json:"current_spot"`
	BuyPrice     float64 `json:"buy_price"`
	PurchaseTime int64   `json:"purchase_time"`
	DateExpiry   int64   `json:"date_expiry"`
	Multiplier   int     `json:"multiplier"`
	Status       string  `json:"status"`
}

// Sold reports whether the contract has reached its terminal state.
func (c *ContractInfo) Sold() bool { return c.IsSold == 1 }

// Long reports the position direction implied by the contract type.
func (c *ContractInfo) Long() bool {
	return c.ContractType == "CALL" || c.ContractType == "MULTUP"
}

// echoTicksHistory recovers (symbol, granularity) from a candles response.
type echoTicksHistory struct {
	TicksHistory string       `json:"ticks_history"`
	Granularity  int64        `json:"granularity"`
	Passthrough  *passthrough `json:"passthrough"`
}

// echoContractsFor recovers the symbol from a contracts_for response.
type echoContractsFor struct {
	ContractsFor string `json:"contracts_for"`
}
