package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/deriv"
	"github.com/koshedutech/deriv-trading-engine/internal/position"
)

const (
	minStakeUSD      = 0.35
	minDurationSec   = 15
	multiplierStake  = 0.05 // share of balance in percent mode
	slATRMultiple    = 1.5
	tpATRMultiple    = 3.0
	defaultExpiryMin = 5
)

// Trader is the slice of the broker session execution needs.
type Trader interface {
	Buy(req deriv.BuyRequest) error
	Sell(contractID int64) error
}

// OpenParams carries one open intent plus the market context needed to
// price it.
type OpenParams struct {
	Symbol     string
	Side       position.Side
	Strategy   string
	StakeScale float64
	ExpiryMin  int
	Balance    float64
	Price      float64
	HTFOpen    float64
	ATR1h      float64
	ATRDaily   float64
	Multiplier int
	Now        time.Time
}

// pendingBuy holds the metadata to attach when the broker acks the order.
// Broker replies arrive in request order on the single socket.
type pendingBuy struct {
	symbol   string
	side     position.Side
	strategy string
	stake    float64
	mult     int
	htfOpen  float64
	atr1h    float64
	atrDaily float64
}

// Executor turns intents into buy orders and arbitrates against the open
// book: same-side duplicates are dropped, opposite sides are closed first.
type Executor struct {
	session Trader
	book    *position.Book

	mu      sync.Mutex
	pending []pendingBuy

	log zerolog.Logger
}

// New creates an executor over the broker session and position book.
func New(session Trader, book *position.Book, log zerolog.Logger) *Executor {
	return &Executor{
		session: session,
		book:    book,
		log:     log.With().Str("component", "execution").Logger(),
	}
}

// Open processes an open intent. Returns (false, nil) when the intent was
// dropped by the duplicate rule.
func (x *Executor) Open(p OpenParams, cfg config.Config) (bool, error) {
	if _, ok := x.book.FindBySymbol(p.Symbol, p.Side); ok {
		x.log.Debug().Str("symbol", p.Symbol).Str("side", p.Side.String()).Msg("same-side contract open, intent dropped")
		return false, nil
	}
	if opposite, ok := x.book.FindBySymbol(p.Symbol, p.Side.Opposite()); ok {
		if act, ok := x.book.Close(opposite.ID, p.Now.UTC().Unix()); ok {
			if err := x.session.Sell(act.ContractID); err != nil {
				return false, fmt.Errorf("execution: close opposite %d: %w", act.ContractID, err)
			}
		}
	}

	stake := Stake(cfg, p.Balance, p.StakeScale)
	req := x.buildRequest(p, cfg, stake)

	x.mu.Lock()
	x.pending = append(x.pending, pendingBuy{
		symbol:   p.Symbol,
		side:     p.Side,
		strategy: p.Strategy,
		stake:    stake,
		mult:     req.Parameters.Multiplier,
		htfOpen:  p.HTFOpen,
		atr1h:    p.ATR1h,
		atrDaily: p.ATRDaily,
	})
	x.mu.Unlock()

	if err := x.session.Buy(req); err != nil {
		x.dropPending()
		return false, fmt.Errorf("execution: buy %s: %w", p.Symbol, err)
	}
	x.log.Info().Str("symbol", p.Symbol).Str("side", p.Side.String()).Str("strategy", p.Strategy).Float64("stake", stake).Msg("order sent")
	return true, nil
}

// HandleBuyAck binds a broker buy ack to its pending metadata and registers
// the contract in the book.
func (x *Executor) HandleBuyAck(ack deriv.BuyAck, now time.Time) (position.Contract, bool) {
	x.mu.Lock()
	if len(x.pending) == 0 {
		x.mu.Unlock()
		x.log.Warn().Int64("contract_id", ack.ContractID).Msg("buy ack without pending order")
		return position.Contract{}, false
	}
	meta := x.pending[0]
	x.pending = x.pending[1:]
	x.mu.Unlock()

	contractType := binaryType(meta.side)
	if meta.mult > 0 {
		contractType = multiplierType(meta.side)
	}
	c := position.Contract{
		ID:            ack.ContractID,
		Symbol:        meta.symbol,
		Side:          meta.side,
		ContractType:  contractType,
		Strategy:      meta.strategy,
		Stake:         meta.stake,
		Multiplier:    meta.mult,
		PurchaseTime:  now.UTC().Unix(),
		EntryHTFOpen:  meta.htfOpen,
		EntryATR1h:    meta.atr1h,
		EntryATRDaily: meta.atrDaily,
	}
	if err := x.book.Add(c); err != nil {
		x.log.Warn().Err(err).Msg("buy ack for already-tracked position")
		return position.Contract{}, false
	}
	return c, true
}

// DropPendingOnError discards the oldest pending order after a broker buy
// error, keeping the ack queue aligned.
func (x *Executor) DropPendingOnError() { x.dropPending() }

func (x *Executor) dropPending() {
	x.mu.Lock()
	if len(x.pending) > 0 {
		x.pending = x.pending[1:]
	}
	x.mu.Unlock()
}

func (x *Executor) buildRequest(p OpenParams, cfg config.Config, stake float64) deriv.BuyRequest {
	params := deriv.BuyParameters{
		Amount:   stake,
		Basis:    "stake",
		Currency: "USD",
		Symbol:   p.Symbol,
	}

	if cfg.ContractType == config.ContractMultiplier {
		params.ContractType = multiplierType(p.Side)
		params.Multiplier = p.Multiplier
		if params.Multiplier <= 0 {
			params.Multiplier = cfg.MultiplierValue
		}
		if p.ATR1h > 0 && p.Price > 0 {
			params.LimitOrder = &deriv.LimitOrder{
				TakeProfit: round2(tpATRMultiple * p.ATR1h / p.Price * float64(params.Multiplier) * stake),
				StopLoss:   round2(slATRMultiple * p.ATR1h / p.Price * float64(params.Multiplier) * stake),
			}
		}
	} else {
		params.ContractType = binaryType(p.Side)
		params.Duration = Duration(p, cfg)
		params.DurationUnit = "s"
	}

	return deriv.BuyRequest{Buy: 1, Price: stake, Parameters: params}
}

// Stake computes the order stake: fixed USD or percent of balance, scaled,
// rounded to cents, floored at the broker minimum. Multiplier contracts in
// percent mode use 5% of balance.
func Stake(cfg config.Config, balance, scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	var stake float64
	if cfg.UseFixedBalance {
		stake = cfg.BalanceValue
	} else if cfg.ContractType == config.ContractMultiplier {
		stake = balance * multiplierStake
	} else {
		stake = balance * cfg.BalanceValue / 100
	}
	stake = round2(stake * scale)
	if stake < minStakeUSD {
		stake = minStakeUSD
	}
	return stake
}

// Duration resolves the contract duration in seconds from the strategy's
// expiry style, floored at the broker minimum.
func Duration(p OpenParams, cfg config.Config) int64 {
	profile := cfg.Profile()
	now := p.Now.UTC()

	var d int64
	switch profile.ExpiryStyle {
	case config.ExpiryEOD:
		d = secondsToMidnight(now)
	case config.ExpiryNextHTF:
		d = profile.HTF - now.Unix()%profile.HTF
		if cfg.ActiveStrategy == config.StrategyS3 {
			d += 120
		}
		// Exhaustion: price already stretched a full hourly range from the
		// reference open, take the shorter window.
		if cfg.ActiveStrategy == config.StrategyS2 && p.ATR1h > 0 && p.HTFOpen > 0 {
			if abs(p.Price-p.HTFOpen) > p.ATR1h && d > 1800 {
				d = 1800
			}
		}
	case config.ExpiryCustom:
		d = cfg.CustomExpiry
	default: // dynamic
		min := p.ExpiryMin
		if min <= 0 {
			min = defaultExpiryMin
		}
		d = int64(min) * 60
	}

	if d < minDurationSec {
		d = minDurationSec
	}
	return d
}

func secondsToMidnight(now time.Time) int64 {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return int64(midnight.Sub(now).Seconds())
}

func binaryType(side position.Side) string {
	if side == position.Long {
		return "CALL"
	}
	return "PUT"
}

func multiplierType(side position.Side) string {
	if side == position.Long {
		return "MULTUP"
	}
	return "MULTDOWN"
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
