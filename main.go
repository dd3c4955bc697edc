package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/api"
	"github.com/koshedutech/deriv-trading-engine/internal/deriv"
	"github.com/koshedutech/deriv-trading-engine/internal/engine"
	"github.com/koshedutech/deriv-trading-engine/internal/events"
	"github.com/koshedutech/deriv-trading-engine/internal/execution"
	"github.com/koshedutech/deriv-trading-engine/internal/logging"
	"github.com/koshedutech/deriv-trading-engine/internal/market"
	"github.com/koshedutech/deriv-trading-engine/internal/metrics"
	"github.com/koshedutech/deriv-trading-engine/internal/position"
	"github.com/koshedutech/deriv-trading-engine/internal/screener"
	"github.com/koshedutech/deriv-trading-engine/internal/strategy"
)

func main() {
	// .env is optional; real deployments use environment variables.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.json"
	}
	cfgStore, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("configuration load failed")
	}
	cfg := cfgStore.Get()

	ring := logging.NewConsoleRing(200)
	logger := logging.New(&logging.Config{
		Level:  cfg.LogLevel,
		Pretty: os.Getenv("LOG_PRETTY") == "1",
	}, ring)

	if cfg.APIToken == "" {
		logger.Warn().Msg("no API token configured, set it via POST /api/config")
	}

	m := metrics.New()
	bus := events.NewBus()

	profile := cfg.Profile()
	cache := market.NewCache(profile.LTF, profile.HTF)
	session := deriv.NewSession(cfg.AppID, cfg.APIToken, logger)
	book := position.NewBook(logger)
	executor := execution.New(session, book, logger)
	cards := screener.NewStore()
	eval := strategy.NewEvaluator(cache, cards, book, logger)

	analyzer := screener.NewAnalyzer(cache, logger)
	sched := screener.NewScheduler(cache, cards, analyzer, cfgStore.Get, func(card screener.Scorecard) {
		bus.Emit(events.EventScreenerUpdate, card)
	}, m, logger)

	eng := engine.New(cfgStore, session, cache, book, executor, eval, cards, sched, bus, m, logger)
	server := api.NewServer(config.ServerFromEnv(), eng, cfgStore, cards, bus, ring, m, logger)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	done := make(chan struct{})
	go func() {
		eng.Run()
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-server.ShutdownRequested():
		logger.Info().Msg("shutdown requested over the API")
	}

	eng.Stop()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("engine did not stop in time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown failed")
	}
}
