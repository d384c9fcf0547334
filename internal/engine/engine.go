// Package engine is the central orchestrator of the cross-exchange
// market-making bot.
//
// It wires together the seven cooperating tasks around the two shared
// book cells and the single state machine:
//
//  1. Venue-M book feed (streaming, with REST fallback as a second writer)
//  2. Venue-T book feed (polling, since Venue-T's book is request/response)
//  3. Fill detector (the streaming feed's order-update channel)
//  4. Venue-M REST-backup fill detector (active only while the stream is degraded)
//  5. Order monitor, 40Hz
//  6. Hedge executor, driven by the Filled transition
//  7. Opportunity evaluator, 10Hz
//
// Lifecycle: New() → Run() → [runs until the cycle completes or SIGINT] → Shutdown()
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/internal/config"
	"xemm-bot/internal/hedge"
	"xemm-bot/internal/journal"
	"xemm-bot/internal/market"
	"xemm-bot/internal/monitor"
	"xemm-bot/internal/statemachine"
	"xemm-bot/internal/strategy"
	"xemm-bot/internal/venue/maker"
	"xemm-bot/internal/venue/taker"
	"xemm-bot/pkg/types"
)

// Engine owns the lifecycle of every goroutine the bot runs and wires
// the shared state (two book cells, one state machine) between them.
type Engine struct {
	cfg   *config.Config
	creds config.Credentials

	sm    *statemachine.Machine
	mCell *market.Cell
	tCell *market.Cell

	makerSigner *maker.Signer
	makerClient *maker.Client
	makerFeed   *maker.WSFeed
	makerRESTFB *maker.RESTFallback
	restBackup  *maker.RESTBackupDetector

	takerSigner *taker.Signer
	takerClient *taker.Client
	takerFeed   *taker.Feed

	evaluator *strategy.Evaluator
	monitor   *monitor.Monitor
	hedgeExec *hedge.Executor
	journal   *journal.Writer

	info types.MarketInfo

	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component from cfg and creds but starts nothing.
func New(cfg *config.Config, creds config.Credentials, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	sm := statemachine.New(logger)
	mCell := market.NewCell()
	tCell := market.NewCell()

	jw, err := journal.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	makerSeed, err := decodeMakerSeed(creds.MakerAPIPrivate)
	if err != nil {
		return nil, fmt.Errorf("decode maker seed: %w", err)
	}
	makerSigner, err := maker.NewSigner(makerSeed)
	if err != nil {
		return nil, fmt.Errorf("build maker signer: %w", err)
	}

	takerSigner, err := taker.NewSigner(creds.TakerPrivateKey, cfg.Taker.ChainID)
	if err != nil {
		return nil, fmt.Errorf("build taker signer: %w", err)
	}

	makerClient := maker.NewClient(cfg.Maker.RESTBaseURL, cfg.Symbol, creds.MakerAccountAddress, creds.MakerAPIPublic, makerSigner, cfg.DryRun, logger)
	takerClient := taker.NewClient(cfg.Taker.RESTBaseURL, cfg.Symbol, takerSigner, cfg.DryRun, logger)

	e := &Engine{
		cfg:         cfg,
		creds:       creds,
		sm:          sm,
		mCell:       mCell,
		tCell:       tCell,
		makerSigner: makerSigner,
		makerClient: makerClient,
		takerSigner: takerSigner,
		takerClient: takerClient,
		journal:     jw,
		info:        marketInfo(cfg),
		logger:      logger,
	}

	onFatal := func(err error) {
		e.logger.Error("fatal feed error", "error", err)
		e.sm.FatalError(err)
	}

	e.makerFeed = maker.NewWSFeed(cfg.Maker.WSURL, cfg.PingIntervalSecs, cfg.ReconnectAttempts, mCell, logger, onFatal)
	e.makerRESTFB = maker.NewRESTFallback(makerClient, time.Duration(cfg.Maker.RESTPollIntervalSec)*time.Second, mCell, logger)
	e.restBackup = maker.NewRESTBackupDetector(makerClient, e.makerFeed, logger)
	e.takerFeed = taker.NewFeed(cfg.Taker.RESTBaseURL, cfg.Symbol, cfg.ReconnectAttempts, tCell, logger, onFatal)

	e.evaluator = strategy.NewEvaluator(mCell, tCell, makerClient, sm, e.info,
		decimal.NewFromFloat(cfg.OrderNotionalUSD), cfg.MaxBookAge, logger)

	e.monitor = monitor.New(sm, makerClient, tCell, e.info, cfg.Symbol,
		time.Duration(cfg.OrderRefreshIntervalSecs)*time.Second, cfg.MaxBookAge,
		decimal.NewFromFloat(cfg.ProfitCancelThresholdBps), logger)

	e.hedgeExec = hedge.New(sm, makerClient, e.makerFeed, makerSigner, takerClient, jw, hedge.Config{
		Symbol:          cfg.Symbol,
		Info:            e.info,
		Slippage:        decimal.NewFromFloat(cfg.Taker.Slippage),
		RetryBackoff:    cfg.Hedge.RetryBackoff,
		PropagationWait: cfg.Hedge.PropagationWait,
		ReconcileWindow: cfg.Hedge.ReconcileWindow,
	}, logger)

	return e, nil
}

// marketInfo translates the static config knobs the evaluator, monitor,
// and reconciler need into the decimal-typed MarketInfo they share.
func marketInfo(cfg *config.Config) types.MarketInfo {
	return types.MarketInfo{
		Symbol:      cfg.Symbol,
		TickSize:    decimal.NewFromFloat(cfg.Maker.TickSize),
		LotSize:     decimal.NewFromFloat(cfg.Maker.LotSize),
		MakerFeeBps: decimal.NewFromFloat(cfg.Maker.FeeBps),
		TakerFeeBps: decimal.NewFromFloat(cfg.Taker.FeeBps),
		ProfitRate:  decimal.NewFromFloat(cfg.ProfitRateBps),
	}
}

// decodeMakerSeed accepts either a hex-encoded or raw seed string;
// Venue-M's credential format is an opaque seed, not a standard key
// encoding, so no third-party parsing library applies here.
func decodeMakerSeed(raw string) ([]byte, error) {
	trimmed := raw
	if len(trimmed) >= 2 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
		trimmed = trimmed[2:]
	}
	if b, err := hex.DecodeString(trimmed); err == nil && len(b) >= 32 {
		return b, nil
	}
	if len(raw) >= 32 {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("maker api private key too short: got %d bytes", len(raw))
}

// Run launches all seven tasks plus the fill-event dispatcher, and
// blocks until the cycle reaches a terminal state or ctx is cancelled.
//
// Every task is launched under a child context owned by the engine
// itself (e.cancel), not the caller's ctx directly: on the success path
// (sm.Done() closes once the cycle completes) the caller's ctx is never
// cancelled, so Shutdown must have its own lever to stop the tasks
// before waiting on e.wg — otherwise it would block forever on
// goroutines nothing ever told to exit.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()
	ctx = runCtx

	tasks := []struct {
		name string
		run  func(context.Context) error
	}{
		{"maker_book_feed", e.makerFeed.Run},
		{"maker_rest_fallback", e.makerRESTFB.Run},
		{"taker_book_feed", e.takerFeed.Run},
		{"opportunity_evaluator", e.evaluator.Run},
		{"order_monitor", e.monitor.Run},
		{"hedge_executor", e.hedgeExec.Run},
	}

	for _, t := range tasks {
		t := t
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := t.run(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("task exited with error", "task", t.name, "error", err)
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.restBackup.Run(ctx, e.currentOrderID)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchFillEvents(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.sm.Done():
		return nil
	}
}

// currentOrderID reports the order id the REST-backup detector should
// watch for: empty unless the machine currently has a resting order.
func (e *Engine) currentOrderID() string {
	if e.sm.State() != types.StateOrderPlaced {
		return ""
	}
	return e.sm.ActiveOrder().OrderID
}

// dispatchFillEvents fans the streaming and REST-backup fill channels
// into the state machine; OnFillEvent's own guards make a duplicate
// delivery from both sources harmless.
func (e *Engine) dispatchFillEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.makerFeed.FillEvents():
			e.handleFillEvent(ev)
		case ev := <-e.restBackup.FillEvents():
			e.handleFillEvent(ev)
		}
	}
}

func (e *Engine) handleFillEvent(ev types.FillEvent) {
	switch ev.Kind {
	case types.FillPartial, types.FillFull:
		e.sm.OnFillEvent(ev)
	case types.FillCancelled:
		e.sm.OnCancelConfirmed(ev.OrderID)
	case types.FillRejected:
		e.logger.Warn("order rejected by venue", "order_id", ev.OrderID)
		e.sm.OnCancelConfirmed(ev.OrderID)
	}
}

// Shutdown drives the cooperative shutdown sequence: let an in-flight
// hedge finish within grace, stop every task, cancel-all on Venue-M as
// a safety net regardless of what state the cycle ended in, then close
// the journal. The safety-net cancel runs after every goroutine
// (including the hedge executor's own dual-cancel) has already exited,
// rather than racing it.
func (e *Engine) Shutdown(grace time.Duration) {
	e.logger.Info("shutting down...")

	switch e.sm.State() {
	case types.StateFilled, types.StateHedging:
		e.logger.Info("waiting for in-flight hedge to settle", "grace", grace)
		e.sm.WaitTimeout(grace)
	}

	e.cancel()
	e.wg.Wait()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := e.makerClient.CancelAll(cancelCtx); err != nil {
		e.logger.Error("failed to cancel all orders on shutdown", "error", err)
	}
	cancelCancel()

	if err := e.journal.Close(); err != nil {
		e.logger.Error("failed to close journal", "error", err)
	}

	e.logger.Info("shutdown complete", "final_state", e.sm.State())
}
