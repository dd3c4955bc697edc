package execution

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/deriv"
	"github.com/koshedutech/deriv-trading-engine/internal/position"
)

type fakeTrader struct {
	buys  []deriv.BuyRequest
	sells []int64
	err   error
}

func (f *fakeTrader) Buy(req deriv.BuyRequest) error {
	if f.err != nil {
		return f.err
	}
	f.buys = append(f.buys, req)
	return nil
}

func (f *fakeTrader) Sell(contractID int64) error {
	f.sells = append(f.sells, contractID)
	return nil
}

func newExecutor() (*Executor, *fakeTrader, *position.Book) {
	trader := &fakeTrader{}
	book := position.NewBook(zerolog.Nop())
	return New(trader, book, zerolog.Nop()), trader, book
}

func TestStake(t *testing.T) {
	cfg := config.Defaults()
	cfg.UseFixedBalance = true
	cfg.BalanceValue = 2.5
	if got := Stake(cfg, 1000, 1); got != 2.5 {
		t.Errorf("fixed stake = %v, want 2.5", got)
	}

	cfg.UseFixedBalance = false
	cfg.BalanceValue = 2 // percent
	if got := Stake(cfg, 1000, 1); got != 20 {
		t.Errorf("percent stake = %v, want 20", got)
	}

	cfg.ContractType = config.ContractMultiplier
	if got := Stake(cfg, 1000, 1); got != 50 {
		t.Errorf("multiplier stake = %v, want 5%% of balance", got)
	}

	cfg.ContractType = config.ContractRiseFall
	cfg.UseFixedBalance = true
	cfg.BalanceValue = 0.10
	if got := Stake(cfg, 1000, 1); got != minStakeUSD {
		t.Errorf("stake below minimum = %v, want %v", got, minStakeUSD)
	}

	cfg.BalanceValue = 2
	if got := Stake(cfg, 1000, 0.5); got != 1 {
		t.Errorf("scaled stake = %v, want 1", got)
	}
}

func TestDurationStyles(t *testing.T) {
	now := time.Date(2026, 8, 24, 23, 50, 0, 0, time.UTC)

	cfg := config.Defaults() // s1, eod
	if got := Duration(OpenParams{Now: now}, cfg); got != 600 {
		t.Errorf("eod duration = %v, want 600", got)
	}

	cfg.ActiveStrategy = config.StrategyS2 // next hour
	if got := Duration(OpenParams{Now: now}, cfg); got != 600 {
		t.Errorf("next-hour duration = %v, want 600", got)
	}
	// Exhausted move halves long windows to 30m.
	early := time.Date(2026, 8, 24, 23, 5, 0, 0, time.UTC)
	got := Duration(OpenParams{Now: early, Price: 103, HTFOpen: 100, ATR1h: 2}, cfg)
	if got != 1800 {
		t.Errorf("exhaustion duration = %v, want 1800", got)
	}

	cfg.ActiveStrategy = config.StrategyS3 // next 15m + 120s
	quarter := time.Date(2026, 8, 24, 10, 10, 0, 0, time.UTC)
	if got := Duration(OpenParams{Now: quarter}, cfg); got != 300+120 {
		t.Errorf("s3 duration = %v, want 420", got)
	}

	cfg.ActiveStrategy = config.StrategyS5 // dynamic
	if got := Duration(OpenParams{Now: now, ExpiryMin: 7}, cfg); got != 420 {
		t.Errorf("dynamic duration = %v, want 420", got)
	}
	if got := Duration(OpenParams{Now: now}, cfg); got != int64(defaultExpiryMin)*60 {
		t.Errorf("dynamic fallback = %v", got)
	}

	cfg.ActiveStrategy = config.StrategyS7
	cfg.CustomExpiry = 10 // below broker floor
	if got := Duration(OpenParams{Now: now}, cfg); got != minDurationSec {
		t.Errorf("floored duration = %v, want %v", got, minDurationSec)
	}
}

func TestOpenBinaryOrder(t *testing.T) {
	x, trader, _ := newExecutor()
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS1
	cfg.BalanceValue = 1

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sent, err := x.Open(OpenParams{Symbol: "R_100", Side: position.Long, Strategy: "s1", StakeScale: 1, Now: now, Price: 100}, cfg)
	if err != nil || !sent {
		t.Fatalf("Open = %v, %v", sent, err)
	}
	if len(trader.buys) != 1 {
		t.Fatalf("buys = %d", len(trader.buys))
	}
	req := trader.buys[0]
	if req.Parameters.ContractType != "CALL" || req.Parameters.Symbol != "R_100" || req.Parameters.DurationUnit != "s" {
		t.Errorf("request = %+v", req.Parameters)
	}
	if req.Parameters.Duration != 12*3600 {
		t.Errorf("eod duration = %d, want 43200", req.Parameters.Duration)
	}
	if req.Parameters.LimitOrder != nil {
		t.Error("binary order carries limit_order")
	}
}

func TestOpenMultiplierOrderTargets(t *testing.T) {
	x, trader, _ := newExecutor()
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS5
	cfg.ContractType = config.ContractMultiplier
	cfg.UseFixedBalance = true
	cfg.BalanceValue = 10

	_, err := x.Open(OpenParams{
		Symbol: "R_100", Side: position.Short, Strategy: "s5", StakeScale: 1,
		Now: time.Now(), Price: 5000, ATR1h: 25, Multiplier: 50,
	}, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	req := trader.buys[0]
	if req.Parameters.ContractType != "MULTDOWN" || req.Parameters.Multiplier != 50 {
		t.Errorf("request = %+v", req.Parameters)
	}
	lo := req.Parameters.LimitOrder
	if lo == nil {
		t.Fatal("multiplier order missing limit_order")
	}
	// tp = 3.0*25/5000*50*10 = 7.5; sl = 1.5*25/5000*50*10 = 3.75
	if math.Abs(lo.TakeProfit-7.5) > 1e-9 || math.Abs(lo.StopLoss-3.75) > 1e-9 {
		t.Errorf("limit order = %+v, want tp 7.5 sl 3.75", lo)
	}
}

func TestOpenDropsSameSide(t *testing.T) {
	x, trader, book := newExecutor()
	book.Add(position.Contract{ID: 1, Symbol: "R_100", Side: position.Long})

	sent, err := x.Open(OpenParams{Symbol: "R_100", Side: position.Long, Now: time.Now(), Price: 100}, config.Defaults())
	if err != nil || sent {
		t.Errorf("same-side open = %v, %v", sent, err)
	}
	if len(trader.buys) != 0 {
		t.Errorf("order sent despite duplicate: %+v", trader.buys)
	}
}

func TestOpenClosesOppositeFirst(t *testing.T) {
	x, trader, book := newExecutor()
	book.Add(position.Contract{ID: 7, Symbol: "R_100", Side: position.Short})

	sent, err := x.Open(OpenParams{Symbol: "R_100", Side: position.Long, Now: time.Now(), Price: 100}, config.Defaults())
	if err != nil || !sent {
		t.Fatalf("reverse open = %v, %v", sent, err)
	}
	if len(trader.sells) != 1 || trader.sells[0] != 7 {
		t.Errorf("opposite close = %v", trader.sells)
	}
	if len(trader.buys) != 1 {
		t.Errorf("buys = %d", len(trader.buys))
	}
}

func TestBuyAckBindsPendingMetadata(t *testing.T) {
	x, _, book := newExecutor()
	cfg := config.Defaults()
	cfg.ActiveStrategy = config.StrategyS2

	x.Open(OpenParams{Symbol: "R_100", Side: position.Long, Strategy: "s2", Now: time.Now(), Price: 100}, cfg)
	c, ok := x.HandleBuyAck(deriv.BuyAck{ContractID: 42, BuyPrice: 1}, time.Now())
	if !ok {
		t.Fatal("ack not bound")
	}
	if c.ID != 42 || c.Symbol != "R_100" || c.Strategy != "s2" || c.ContractType != "CALL" {
		t.Errorf("contract = %+v", c)
	}
	if book.Len() != 1 {
		t.Errorf("book size = %d", book.Len())
	}
	// A stray ack with nothing pending is ignored.
	if _, ok := x.HandleBuyAck(deriv.BuyAck{ContractID: 43}, time.Now()); ok {
		t.Error("stray ack bound")
	}
}

func TestBuyAckCarriesEntrySnapshot(t *testing.T) {
	x, _, _ := newExecutor()
	cfg := config.Defaults()

	x.Open(OpenParams{
		Symbol: "R_100", Side: position.Long, Strategy: "s1", Now: time.Now(),
		Price: 100, HTFOpen: 99.5, ATR1h: 0.8, ATRDaily: 4.2,
	}, cfg)
	c, ok := x.HandleBuyAck(deriv.BuyAck{ContractID: 77}, time.Now())
	if !ok {
		t.Fatal("ack not bound")
	}
	if c.EntryHTFOpen != 99.5 || c.EntryATR1h != 0.8 || c.EntryATRDaily != 4.2 {
		t.Errorf("entry snapshot = %+v", c)
	}
}

func TestBuyErrorDropsPending(t *testing.T) {
	x, trader, _ := newExecutor()
	trader.err = deriv.ErrNotConnected

	sent, err := x.Open(OpenParams{Symbol: "R_100", Side: position.Long, Now: time.Now(), Price: 100}, config.Defaults())
	if sent || err == nil {
		t.Fatalf("Open while down = %v, %v", sent, err)
	}
	if _, ok := x.HandleBuyAck(deriv.BuyAck{ContractID: 50}, time.Now()); ok {
		t.Error("failed order left pending metadata")
	}
}
