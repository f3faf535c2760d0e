// weaver is the self-hosted algorithmic-trading core: event log, clocks,
// strategy runner, router, and live/backtest execution services wired
// together behind one process.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/5TFG4/weaver/config"
	"github.com/5TFG4/weaver/events"
	"github.com/5TFG4/weaver/execution/backtest"
	"github.com/5TFG4/weaver/execution/live"
	"github.com/5TFG4/weaver/orchestrator"
	"github.com/5TFG4/weaver/router"
	"github.com/5TFG4/weaver/storage"
	"github.com/5TFG4/weaver/strategy"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.Environment == "production" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	log.Info().Str("version", version).Str("environment", cfg.Environment).Msg("weaver starting")

	db, err := storage.Open(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := storage.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	if err := storage.MigrateBars(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate bars table")
	}

	durable := strings.HasPrefix(cfg.Database.URL, "postgres://") || strings.HasPrefix(cfg.Database.URL, "postgresql://")
	eventLog, err := events.NewLog(db, events.NewRegistry(), durable)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event log")
	}

	// No specific exchange protocol is in scope (spec's Non-goals), so
	// the mock adapter the original tests against doubles as the
	// production default here; a real broker drops in behind the same
	// ExchangeAdapter interface without touching the Live Service.
	adapter := live.NewMockAdapter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := adapter.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect exchange adapter")
	}

	orderRepo := live.NewOrderRepository(db)
	tracker := live.NewPositionTracker()
	liveSvc := live.NewService(adapter, orderRepo, tracker, eventLog, nil, time.Now)
	liveSvc.Start()
	defer liveSvc.Stop()

	barRepo := storage.NewBarRepository(db)
	runRepo := orchestrator.NewRunRepository(db)
	strategies := strategy.NewDefaultRegistry()

	orch := orchestrator.New(eventLog, runRepo, strategies, liveSvc, barRepo, cfg.Trading.BacktestInitialCash, backtest.DefaultFillSimConfig(), time.Now)

	rtr := router.New(eventLog, orch, time.Now)
	rtr.Start()

	if err := orch.RecoverOnStartup(ctx); err != nil {
		log.Error().Err(err).Msg("failed to recover in-flight runs on startup")
	}

	log.Info().Msg("weaver ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	log.Info().Msg("weaver stopped")
}
