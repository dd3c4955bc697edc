package deriv

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSession() *Session {
	return NewSession("1089", "test-token", zerolog.Nop())
}

func drainEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
		return nil
	}
}

func TestHandleMessageAuthorize(t *testing.T) {
	s := newTestSession()
	s.handleMessage([]byte(`{
		"msg_type": "authorize",
		"authorize": {"balance": 1234.5, "currency": "USD", "loginid": "VRTC900", "is_virtual": 1}
	}`))
	ev, ok := drainEvent(t, s).(Authorized)
	if !ok {
		t.Fatalf("wrong event type %T", ev)
	}
	if ev.Balance != 1234.5 || ev.Currency != "USD" || !ev.IsVirtual {
		t.Errorf("authorized = %+v", ev)
	}
}

func TestHandleMessageErrorTakesPriority(t *testing.T) {
	s := newTestSession()
	s.handleMessage([]byte(`{
		"msg_type": "authorize",
		"error": {"code": "InvalidToken", "message": "The token is invalid."},
		"authorize": {"balance": 1}
	}`))
	ev, ok := drainEvent(t, s).(ErrorEvent)
	if !ok {
		t.Fatalf("wrong event type %T", ev)
	}
	if ev.Code != CodeInvalidToken || ev.ReqType != "authorize" {
		t.Errorf("error event = %+v", ev)
	}
}

func TestRejectedTokenIdlesReconnect(t *testing.T) {
	s := newTestSession()
	if s.tokenRejected(s.currentToken()) {
		t.Fatal("fresh token flagged rejected")
	}
	s.handleMessage([]byte(`{
		"msg_type": "authorize",
		"error": {"code": "InvalidToken", "message": "The token is invalid."}
	}`))
	drainEvent(t, s)
	if !s.tokenRejected(s.currentToken()) {
		t.Error("rejected token not flagged")
	}
	// New credentials clear the flag so the dial loop resumes.
	s.ApplyCredentials("fresh-token")
	if s.tokenRejected(s.currentToken()) {
		t.Error("flag survived credential swap")
	}
}

func TestNonAuthErrorDoesNotFlagToken(t *testing.T) {
	s := newTestSession()
	s.handleMessage([]byte(`{
		"msg_type": "buy",
		"error": {"code": "InsufficientBalance", "message": "not enough"}
	}`))
	drainEvent(t, s)
	if s.tokenRejected(s.currentToken()) {
		t.Error("buy error flagged the token")
	}
}

func TestHandleMessageCandlesCorrelation(t *testing.T) {
	s := newTestSession()
	s.handleMessage([]byte(`{
		"msg_type": "candles",
		"echo_req": {"ticks_history": "R_75", "granularity": 300, "style": "candles"},
		"candles": [
			{"epoch": 600, "open": 1, "high": 2, "low": 0.5, "close": 1.5},
			{"epoch": 900, "open": 1.5, "high": 2.5, "low": 1, "close": 2}
		]
	}`))
	ev, ok := drainEvent(t, s).(CandlesEvent)
	if !ok {
		t.Fatalf("wrong event type %T", ev)
	}
	if ev.Symbol != "R_75" || ev.Granularity != 300 {
		t.Errorf("echo correlation lost: %+v", ev)
	}
	if len(ev.Candles) != 2 || ev.Candles[1].Close != 2 {
		t.Errorf("candles = %+v", ev.Candles)
	}
}

func TestHandleMessageCandlesWithoutEchoDropped(t *testing.T) {
	s := newTestSession()
	s.handleMessage([]byte(`{
		"msg_type": "candles",
		"candles": [{"epoch": 600, "open": 1, "high": 2, "low": 0.5, "close": 1.5}]
	}`))
	select {
	case ev := <-s.Events():
		t.Errorf("uncorrelatable candles emitted %T", ev)
	default:
	}
}

func TestHandleMessageTick(t *testing.T) {
	s := newTestSession()
	s.handleMessage([]byte(`{
		"msg_type": "tick",
		"tick": {"symbol": "R_100", "epoch": 1700000000, "quote": 654.32},
		"subscription": {"id": "abc-123"}
	}`))
	ev, ok := drainEvent(t, s).(TickEvent)
	if !ok {
		t.Fatalf("wrong event type %T", ev)
	}
	if ev.Symbol != "R_100" || ev.Quote != 654.32 || ev.SubscriptionID != "abc-123" {
		t.Errorf("tick event = %+v", ev)
	}
}

func TestHandleMessageContractUpdate(t *testing.T) {
	s := newTestSession()
	s.handleMessage([]byte(`{
		"msg_type": "proposal_open_contract",
		"proposal_open_contract": {
			"contract_id": 42, "underlying": "R_50", "contract_type": "MULTUP",
			"is_sold": 0, "profit": 1.2, "entry_tick": 200.5, "current_spot": 201.1,
			"buy_price": 10, "multiplier": 100
		}
	}`))
	ev, ok := drainEvent(t, s).(ContractUpdate)
	if !ok {
		t.Fatalf("wrong event type %T", ev)
	}
	c := ev.Contract
	if c.ContractID != 42 || !c.Long() || c.Sold() {
		t.Errorf("contract = %+v", c)
	}
}

func TestHandleMessageEmptyPOCIgnored(t *testing.T) {
	s := newTestSession()
	// The initial subscription ack carries an empty proposal_open_contract.
	s.handleMessage([]byte(`{"msg_type": "proposal_open_contract", "proposal_open_contract": {}}`))
	select {
	case ev := <-s.Events():
		t.Errorf("empty contract snapshot emitted %T", ev)
	default:
	}
}

func TestHandleMessageContractsFor(t *testing.T) {
	s := newTestSession()
	s.handleMessage([]byte(`{
		"msg_type": "contracts_for",
		"echo_req": {"contracts_for": "R_25"},
		"contracts_for": {"available": [
			{"contract_type": "MULTUP", "multiplier_range": [50, 100, 200]},
			{"contract_type": "MULTDOWN", "multiplier_range": [50, 100, 200]},
			{"contract_type": "CALL"}
		]}
	}`))
	ev, ok := drainEvent(t, s).(ContractsForEvent)
	if !ok {
		t.Fatalf("wrong event type %T", ev)
	}
	if ev.Symbol != "R_25" || len(ev.Multipliers) != 3 || ev.Multipliers[2] != 200 {
		t.Errorf("contracts_for event = %+v", ev)
	}
}

func TestFetchCandlesDedupWithinBucket(t *testing.T) {
	s := newTestSession()
	s.FetchCandles("R_100", 60, 100)
	s.FetchCandles("R_100", 60, 100)
	if got := len(s.histQueue); got != 1 {
		t.Errorf("queued %d requests for one candle period, want 1", got)
	}
	// A different granularity is a distinct key.
	s.FetchCandles("R_100", 3600, 100)
	if got := len(s.histQueue); got != 2 {
		t.Errorf("queued %d requests, want 2", got)
	}
}

func TestResetFetchMarksAllowsRefetch(t *testing.T) {
	s := newTestSession()
	s.FetchCandles("R_100", 60, 100)
	s.FetchCandles("R_100", 60, 100)
	if got := len(s.histQueue); got != 1 {
		t.Fatalf("queued %d requests, want 1", got)
	}
	// After a reconnect the same bucket must be requestable again.
	s.resetFetchMarks()
	s.FetchCandles("R_100", 60, 100)
	if got := len(s.histQueue); got != 2 {
		t.Errorf("refetch after reset queued %d, want 2", got)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	s := newTestSession()
	if err := s.SubscribeTicks("R_100"); err != ErrNotConnected {
		t.Errorf("subscribe while down = %v, want ErrNotConnected", err)
	}
	if err := s.Sell(42); err != ErrNotConnected {
		t.Errorf("sell while down = %v, want ErrNotConnected", err)
	}
}

func TestEmitDropsWhenSaturated(t *testing.T) {
	s := newTestSession()
	for i := 0; i < eventBuffer+10; i++ {
		s.emit(BalanceUpdate{Balance: float64(i)})
	}
	if got := len(s.events); got != eventBuffer {
		t.Errorf("buffered %d events, want %d", got, eventBuffer)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Code: "InvalidToken", Message: "The token is invalid."}
	want := "deriv api error InvalidToken: The token is invalid."
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
