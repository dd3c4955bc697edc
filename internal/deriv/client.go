package deriv

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// ErrNotConnected is returned by senders while the socket is down. Tick
// subscriptions and orders are dropped in that case; only history requests
// queue.
var ErrNotConnected = errors.New("deriv: not connected")

const (
	reconnectDelay  = 5 * time.Second
	tokenPollDelay  = 2 * time.Second
	pingInterval    = 30 * time.Second
	pingWriteWait   = 10 * time.Second
	readIdleTimeout = 75 * time.Second
	historyThrottle = 1 * time.Second
	eventBuffer     = 256
	historyBuffer   = 64
)

type histRequest struct {
	symbol      string
	granularity int64
	count       int
}

// Session owns the single WebSocket to the broker. One goroutine dials and
// reads; all outbound frames are serialized through the write mutex; a
// second goroutine drains the throttled history queue.
type Session struct {
	endpoint string
	appID    string

	tokenMu  sync.RWMutex
	token    string
	badToken string // last token the broker rejected; no redial until it changes

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	events   chan Event
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	reqID atomic.Int64

	histQueue chan histRequest
	fetchMu   sync.Mutex
	lastFetch map[string]int64

	reconnects atomic.Int64

	log zerolog.Logger
}

// NewSession creates a session for the given app id and token. Connect must
// be called before any sender.
func NewSession(appID, token string, log zerolog.Logger) *Session {
	return &Session{
		endpoint:  DefaultEndpoint,
		appID:     appID,
		token:     token,
		events:    make(chan Event, eventBuffer),
		stopChan:  make(chan struct{}),
		histQueue: make(chan histRequest, historyBuffer),
		lastFetch: make(map[string]int64),
		log:       log.With().Str("component", "deriv").Logger(),
	}
}

// Events returns the typed event stream. Closed after Stop.
func (s *Session) Events() <-chan Event { return s.events }

// Reconnects returns the number of redials since start.
func (s *Session) Reconnects() int64 { return s.reconnects.Load() }

// Connect starts the I/O loop and the history worker.
func (s *Session) Connect() {
	s.wg.Add(2)
	go s.runLoop()
	go s.historyLoop()
}

// Stop tears the session down and closes the event stream.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.closeConn()
	})
	s.wg.Wait()
	close(s.events)
}

// ApplyCredentials swaps the API token and forces a reconnect so the new
// token is authorized.
func (s *Session) ApplyCredentials(token string) {
	s.tokenMu.Lock()
	s.token = token
	s.badToken = ""
	s.tokenMu.Unlock()
	s.log.Info().Msg("credentials changed, reconnecting")
	s.closeConn()
}

// IsConnected reports whether the socket is currently up.
func (s *Session) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

func (s *Session) currentToken() string {
	s.tokenMu.RLock()
	defer s.tokenMu.RUnlock()
	return s.token
}

func (s *Session) tokenRejected(token string) bool {
	s.tokenMu.RLock()
	defer s.tokenMu.RUnlock()
	return s.badToken != "" && s.badToken == token
}

// markTokenRejected idles the reconnect loop until new credentials arrive.
func (s *Session) markTokenRejected() {
	s.tokenMu.Lock()
	s.badToken = s.token
	s.tokenMu.Unlock()
}

func (s *Session) url() string {
	return fmt.Sprintf("%s?app_id=%s", s.endpoint, s.appID)
}

func (s *Session) runLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		token := s.currentToken()
		if token == "" || s.tokenRejected(token) {
			if !s.sleep(tokenPollDelay) {
				return
			}
			continue
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.url(), nil)
		if err != nil {
			s.log.Error().Err(err).Msg("dial failed")
			s.emit(Disconnected{Err: err})
			if !s.sleep(reconnectDelay) {
				return
			}
			continue
		}
		s.reconnects.Add(1)
		s.setConn(conn)
		s.emit(Connected{})

		s.sendJSON(authorizeRequest{Authorize: token})
		s.sendJSON(balanceRequest{Balance: 1, Subscribe: 1})
		s.sendJSON(proposalOpenContractRequest{ProposalOpenContract: 1, Subscribe: 1})

		readErr := s.readLoop(conn)
		s.setConn(nil)
		conn.Close()
		s.resetFetchMarks()
		s.emit(Disconnected{Err: readErr})

		select {
		case <-s.stopChan:
			return
		default:
		}
		s.log.Warn().Err(readErr).Msg("connection lost, reconnecting")
		if !s.sleep(reconnectDelay) {
			return
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingStop:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		s.handleMessage(data)
	}
}

// historyLoop drains the fetch queue at one request per second.
func (s *Session) historyLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case req := <-s.histQueue:
			err := s.sendJSON(ticksHistoryRequest{
				TicksHistory:    req.symbol,
				Style:           "candles",
				Granularity:     req.granularity,
				Count:           req.count,
				End:             "latest",
				AdjustStartTime: 1,
				Passthrough:     &passthrough{ReqID: s.reqID.Add(1)},
			})
			if err != nil {
				// Requeue once the socket returns; the dedup window keeps
				// this from piling up.
				s.clearFetchMark(req.symbol, req.granularity)
			}
			if !s.sleep(historyThrottle) {
				return
			}
		}
	}
}

// FetchCandles queues a ticks_history request. Requests for the same
// (symbol, granularity) within the current candle period are coalesced.
func (s *Session) FetchCandles(symbol string, granularity int64, count int) {
	bucket := market.BucketEpoch(time.Now().UTC().Unix(), granularity)
	key := fmt.Sprintf("%s:%d", symbol, granularity)

	s.fetchMu.Lock()
	if s.lastFetch[key] == bucket {
		s.fetchMu.Unlock()
		return
	}
	s.lastFetch[key] = bucket
	s.fetchMu.Unlock()

	select {
	case s.histQueue <- histRequest{symbol: symbol, granularity: granularity, count: count}:
	default:
		s.log.Warn().Str("symbol", symbol).Int64("granularity", granularity).Msg("history queue full, dropping request")
		s.clearFetchMark(symbol, granularity)
	}
}

func (s *Session) clearFetchMark(symbol string, granularity int64) {
	s.fetchMu.Lock()
	delete(s.lastFetch, fmt.Sprintf("%s:%d", symbol, granularity))
	s.fetchMu.Unlock()
}

// resetFetchMarks forgets all coalescing marks so the post-reconnect refetch
// backfills candles the outage may have mangled mid-bucket.
func (s *Session) resetFetchMarks() {
	s.fetchMu.Lock()
	s.lastFetch = make(map[string]int64)
	s.fetchMu.Unlock()
}

// SubscribeTicks subscribes to the live tick stream for a symbol.
func (s *Session) SubscribeTicks(symbol string) error {
	return s.sendJSON(ticksRequest{Ticks: symbol, Subscribe: 1})
}

// Forget cancels a subscription by id.
func (s *Session) Forget(subscriptionID string) error {
	return s.sendJSON(forgetRequest{Forget: subscriptionID})
}

// RequestContractsFor asks for the contract catalog of a symbol.
func (s *Session) RequestContractsFor(symbol string) error {
	return s.sendJSON(contractsForRequest{ContractsFor: symbol})
}

// Buy submits an order. Not retried; a failure surfaces as an error event
// or is dropped when disconnected.
func (s *Session) Buy(req BuyRequest) error {
	return s.sendJSON(req)
}

// Sell requests a close at market. Idempotent broker-side.
func (s *Session) Sell(contractID int64) error {
	return s.sendJSON(sellRequest{Sell: contractID, Price: 0})
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *Session) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()
}

func (s *Session) sendJSON(v interface{}) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (s *Session) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn().Err(err).Msg("unparseable frame")
		return
	}

	if env.Error != nil {
		if env.MsgType == "authorize" && (env.Error.Code == CodeInvalidToken || env.Error.Code == CodeAuthorizationRequired) {
			s.markTokenRejected()
			s.log.Error().Str("code", env.Error.Code).Msg("token rejected, waiting for new credentials")
		}
		s.emit(ErrorEvent{Code: env.Error.Code, Message: env.Error.Message, ReqType: env.MsgType})
		return
	}

	switch env.MsgType {
	case "authorize":
		if env.Authorize != nil {
			s.emit(Authorized{
				Balance:   env.Authorize.Balance,
				Currency:  env.Authorize.Currency,
				LoginID:   env.Authorize.LoginID,
				IsVirtual: env.Authorize.IsVirtual == 1,
			})
		}
	case "balance":
		if env.Balance != nil {
			s.emit(BalanceUpdate{Balance: env.Balance.Balance})
		}
	case "candles":
		symbol, gran := parseTicksHistoryEcho(env.EchoReq)
		if symbol == "" || len(env.Candles) == 0 {
			return
		}
		candles := make([]market.Candle, len(env.Candles))
		for i, c := range env.Candles {
			candles[i] = market.Candle{Epoch: c.Epoch, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
		}
		s.emit(CandlesEvent{Symbol: symbol, Granularity: gran, Candles: candles})
	case "tick":
		if env.Tick != nil {
			subID := env.Tick.ID
			if subID == "" && env.Subscription != nil {
				subID = env.Subscription.ID
			}
			s.emit(TickEvent{Symbol: env.Tick.Symbol, Epoch: env.Tick.Epoch, Quote: env.Tick.Quote, SubscriptionID: subID})
		}
	case "proposal_open_contract":
		if env.POC != nil && env.POC.ContractID != 0 {
			s.emit(ContractUpdate{Contract: *env.POC})
		}
	case "contracts_for":
		symbol := parseContractsForEcho(env.EchoReq)
		if symbol == "" || env.ContractsFor == nil {
			return
		}
		var multipliers []int
		for _, a := range env.ContractsFor.Available {
			if a.ContractType == "MULTUP" {
				multipliers = append(multipliers, a.MultiplierRange...)
			}
		}
		s.emit(ContractsForEvent{Symbol: symbol, Multipliers: multipliers})
	case "buy":
		if env.Buy != nil {
			s.emit(BuyAck{ContractID: env.Buy.ContractID, BuyPrice: env.Buy.BuyPrice, LongCode: env.Buy.LongCode})
		}
	case "sell":
		if env.Sell != nil {
			s.emit(SellAck{ContractID: env.Sell.ContractID, SoldFor: env.Sell.SoldFor})
		}
	}
}

func parseTicksHistoryEcho(raw json.RawMessage) (string, int64) {
	if len(raw) == 0 {
		return "", 0
	}
	var echo echoTicksHistory
	if err := json.Unmarshal(raw, &echo); err != nil {
		return "", 0
	}
	return echo.TicksHistory, echo.Granularity
}

func parseContractsForEcho(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var echo echoContractsFor
	if err := json.Unmarshal(raw, &echo); err != nil {
		return ""
	}
	return echo.ContractsFor
}

// emit never blocks the read loop; a saturated consumer drops the oldest
// semantics in favor of dropping the new event with a warning.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("type", fmt.Sprintf("%T", ev)).Msg("event buffer full, dropping")
	}
}

func (s *Session) sleep(d time.Duration) bool {
	select {
	case <-s.stopChan:
		return false
	case <-time.After(d):
		return true
	}
}

// ProbeToken opens a throwaway connection, authorizes, and reports whether
// the token is accepted. Used by the operator API's token test.
func ProbeToken(appID, token string, timeout time.Duration) bool {
	if token == "" {
		return false
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(fmt.Sprintf("%s?app_id=%s", DefaultEndpoint, appID), nil)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteJSON(authorizeRequest{Authorize: token}); err != nil {
		return false
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		return false
	}
	return env.MsgType == "authorize" && env.Error == nil
}
