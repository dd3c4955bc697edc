package screener

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/market"
	"github.com/koshedutech/deriv-trading-engine/internal/metrics"
)

const (
	loopInterval   = 10 * time.Second
	loopIntervalS7 = 30 * time.Second
	throttle       = 500 * time.Millisecond
	throttleS7     = 2 * time.Second
	maxWorkers     = 5
)

// Scheduler runs the periodic screener sweep: one task per symbol, bounded
// worker pool, per-symbol submission throttle.
type Scheduler struct {
	cache    *market.Cache
	store    *Store
	analyzer *Analyzer
	cfgFn    func() config.Config
	notify   func(Scorecard)
	metrics  *metrics.Metrics

	pool     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu         sync.Mutex
	lastSubmit map[string]time.Time

	log zerolog.Logger
}

// NewScheduler wires the screener loop. notify may be nil.
func NewScheduler(cache *market.Cache, store *Store, analyzer *Analyzer, cfgFn func() config.Config, notify func(Scorecard), m *metrics.Metrics, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cache:      cache,
		store:      store,
		analyzer:   analyzer,
		cfgFn:      cfgFn,
		notify:     notify,
		metrics:    m,
		pool:       make(chan struct{}, maxWorkers),
		stopChan:   make(chan struct{}),
		lastSubmit: make(map[string]time.Time),
		log:        log.With().Str("component", "screener").Logger(),
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the loop and waits for in-flight tasks.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		cfg := s.cfgFn()
		interval := loopInterval
		if cfg.ActiveStrategy == config.StrategyS7 {
			interval = loopIntervalS7
		}

		s.sweep(cfg)

		select {
		case <-s.stopChan:
			return
		case <-time.After(interval):
		}
	}
}

// sweep submits one task per cached symbol, skipping symbols screened too
// recently.
func (s *Scheduler) sweep(cfg config.Config) {
	minGap := throttle
	if cfg.ActiveStrategy == config.StrategyS7 {
		minGap = throttleS7
	}

	for _, symbol := range s.cache.Symbols() {
		now := time.Now()
		s.mu.Lock()
		if now.Sub(s.lastSubmit[symbol]) < minGap {
			s.mu.Unlock()
			continue
		}
		s.lastSubmit[symbol] = now
		s.mu.Unlock()

		select {
		case s.pool <- struct{}{}:
		case <-s.stopChan:
			return
		}
		s.wg.Add(1)
		go func(symbol string) {
			defer s.wg.Done()
			defer func() { <-s.pool }()
			s.runOne(symbol, cfg)
		}(symbol)
	}
}

func (s *Scheduler) runOne(symbol string, cfg config.Config) {
	card, ok := s.analyzer.Analyze(symbol, cfg, time.Now().UTC())
	if !ok {
		return
	}
	s.store.Set(card)
	if s.metrics != nil {
		s.metrics.ScreenerRunsTotal.WithLabelValues(cfg.ActiveStrategy).Inc()
	}
	if s.notify != nil {
		s.notify(card)
	}
	s.log.Debug().Str("symbol", symbol).Str("signal", card.Signal).Float64("confidence", card.Confidence).Msg("scorecard updated")
}
