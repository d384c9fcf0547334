// xemm-bot — a single-symbol, single-cycle cross-exchange market maker.
//
// Architecture:
//
//	main.go                    — entry point: loads config/credentials, runs the engine, waits for SIGINT/SIGTERM
//	engine/engine.go           — orchestrator: wires both venues' clients/feeds into the shared state machine
//	strategy/evaluator.go      — 10Hz opportunity loop: computes and places the maker limit order
//	monitor/monitor.go         — 40Hz order monitor: cancels on staleness or profit drift
//	hedge/executor.go          — dual-cancel, hedge market order, reconcile, journal, on a fill
//	venue/maker                — Venue-M (Ed25519-signed REST + WS) trading client
//	venue/taker                — Venue-T (EIP-712-signed REST) trading client
//	statemachine/statemachine.go — the single authoritative BotState for the cycle
//	journal/csv.go             — append-only CSV record of the completed cycle
//
// How it makes money:
//
//	It rests a limit order on Venue-M priced so that, after both venues'
//	fees and a target profit margin, hedging the fill with an immediate
//	market order on Venue-T is expected to be profitable. Once filled, it
//	hedges immediately and records the realized profit.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xemm-bot/internal/config"
	"xemm-bot/internal/engine"
	"xemm-bot/internal/logging"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("XEMM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	creds, err := config.LoadCredentials(os.Getenv)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg, creds, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("xemm-bot started",
		"symbol", cfg.Symbol,
		"order_notional_usd", cfg.OrderNotionalUSD,
		"profit_rate_bps", cfg.ProfitRateBps,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-runErr:
		if err != nil {
			logger.Error("engine run exited", "error", err)
		} else {
			logger.Info("cycle complete, shutting down")
		}
	}

	eng.Shutdown(30 * time.Second)
}
