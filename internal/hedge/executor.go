// Package hedge implements the hedge executor (Task 6): on a fill, it
// races REST and WebSocket cancellation of any residual order size,
// transitions the state machine into Hedging, executes the offsetting
// market order on Venue-T with a retry ladder, waits for settlement,
// reconciles both legs' trade history, computes realized profit, and
// only then closes out the cycle as Complete.
package hedge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/internal/journal"
	"xemm-bot/internal/statemachine"
	makervenue "xemm-bot/internal/venue/maker"
	takervenue "xemm-bot/internal/venue/taker"
	"xemm-bot/pkg/types"
)

// MakerClient is the subset of the Venue-M client the hedge executor
// needs: residual-cancel and trade-history for reconciliation.
type MakerClient interface {
	Cancel(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) error
	GetTradeHistory(ctx context.Context, window time.Duration) ([]makervenue.Trade, error)
}

// WSCanceller issues dual-cancellation path B over the already-open
// Venue-M WebSocket connection.
type WSCanceller interface {
	CancelAllWS(symbol string, signer *makervenue.Signer) error
}

// TakerClient is the subset of the Venue-T client the hedge executor
// needs: the market order itself and trade-history for reconciliation.
type TakerClient interface {
	MarketOrder(ctx context.Context, side types.Side, size, slippage decimal.Decimal) (string, error)
	GetTradeHistory(ctx context.Context, window time.Duration) ([]takervenue.Trade, error)
}

// Recorder persists the completed cycle's trade-history row.
type Recorder interface {
	Append(r journal.Record) error
}

// Executor runs the hedge half of the cycle, driven by the state
// machine's Filled transition.
type Executor struct {
	sm *statemachine.Machine

	makerClient MakerClient
	wsCanceller WSCanceller
	makerSigner *makervenue.Signer
	takerClient TakerClient

	symbol          string
	info            types.MarketInfo
	slippage        decimal.Decimal
	retryBackoff    []time.Duration
	propagationWait time.Duration
	reconcileWindow time.Duration

	recorder Recorder
	logger   *slog.Logger

	// Populated during Run for reconcile's fallback-fee path.
	fillSide       types.Side
	fillPrice      decimal.Decimal
	fillSize       decimal.Decimal
	hedgeFillPrice decimal.Decimal
}

// Config bundles the executor's tunables, mirroring config.HedgeConfig.
type Config struct {
	Symbol          string
	Info            types.MarketInfo
	Slippage        decimal.Decimal
	RetryBackoff    []time.Duration
	PropagationWait time.Duration
	ReconcileWindow time.Duration
}

// New builds the hedge executor.
func New(sm *statemachine.Machine, makerClient MakerClient, wsCanceller WSCanceller, makerSigner *makervenue.Signer, takerClient TakerClient, recorder Recorder, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		sm:              sm,
		makerClient:     makerClient,
		wsCanceller:     wsCanceller,
		makerSigner:     makerSigner,
		takerClient:     takerClient,
		symbol:          cfg.Symbol,
		info:            cfg.Info,
		slippage:        cfg.Slippage,
		retryBackoff:    cfg.RetryBackoff,
		propagationWait: cfg.PropagationWait,
		reconcileWindow: cfg.ReconcileWindow,
		recorder:        recorder,
		logger:          logger.With("component", "hedge_executor"),
	}
}

// Run blocks waiting for the state machine to reach Filled, then drives
// the rest of the cycle to Complete or Error. Intended to run as its
// own goroutine for the process's single cycle.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.sm.Done():
			return nil
		default:
		}

		if e.sm.State() == types.StateFilled {
			e.runCycle(ctx)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (e *Executor) runCycle(ctx context.Context) {
	fill := e.sm.Fill()
	order := e.sm.ActiveOrder()

	e.dualCancelResidual(ctx, order.OrderID)

	if err := e.sm.StartHedge(); err != nil {
		e.logger.Error("cannot start hedge", "error", err)
		e.sm.FatalError(fmt.Errorf("start hedge: %w", err))
		return
	}

	e.fillSide = order.Side
	e.fillPrice = fill.FillPrice
	e.fillSize = fill.FillSize
	if e.fillSize.IsZero() {
		e.fillSize = order.Size
	}
	if e.fillPrice.IsZero() {
		e.fillPrice = order.Price
	}

	hedgeSide := e.fillSide.Opposite()

	var hedgeOrderID string
	err := retryWithBackoff(ctx, e.retryBackoff, e.logger, "hedge market order", func() error {
		id, err := e.takerClient.MarketOrder(ctx, hedgeSide, e.fillSize, e.slippage)
		if err != nil {
			return err
		}
		hedgeOrderID = id
		return nil
	})
	if err != nil {
		e.logger.Error("hedge market order failed after retries", "error", err)
		e.sm.FatalError(fmt.Errorf("hedge market order: %w", err))
		return
	}
	e.logger.Info("hedge market order placed", "order_id", hedgeOrderID, "side", hedgeSide, "size", e.fillSize)
	hedgeAt := time.Now()

	select {
	case <-ctx.Done():
		return
	case <-time.After(e.propagationWait):
	}

	recon, err := e.reconcile(ctx, hedgeAt)
	if err != nil {
		e.logger.Error("reconciliation failed", "error", err)
		e.sm.FatalError(fmt.Errorf("reconcile: %w", err))
		return
	}
	e.hedgeFillPrice = recon.TakerAvgPrice

	rec := journal.Record{
		Timestamp:         time.Now(),
		Symbol:            e.symbol,
		MakerSide:         e.fillSide,
		MakerPrice:        recon.MakerAvgPrice,
		MakerSize:         e.fillSize,
		MakerNotional:     recon.MakerNotional,
		MakerFee:          recon.MakerFee,
		TakerPrice:        recon.TakerAvgPrice,
		TakerSize:         e.fillSize,
		TakerNotional:     recon.TakerNotional,
		TakerFee:          recon.TakerFee,
		ExpectedProfitBps: order.ExpectedBps,
		ActualProfitBps:   recon.NetProfitBps,
		ActualProfitUSD:   recon.NetProfit,
		GrossPnL:          recon.GrossProfit,
	}
	if err := e.recorder.Append(rec); err != nil {
		e.logger.Error("journal append failed", "error", err)
	}
	e.logger.Info("cycle summary",
		"expected_bps", rec.ExpectedProfitBps, "actual_bps", rec.ActualProfitBps,
		"actual_usd", rec.ActualProfitUSD, "gross_pnl", rec.GrossPnL,
		"used_fallback_fee", recon.UsedFallbackFee)

	// The summary above must be emitted before this transition — HedgeOK
	// is what unblocks the engine's shutdown wait, so a summary emitted
	// after it could race process exit.
	if err := e.sm.HedgeOK(); err != nil {
		e.logger.Error("cannot complete hedge", "error", err)
		e.sm.FatalError(fmt.Errorf("hedge ok: %w", err))
	}
}

// dualCancelResidual races REST and WebSocket cancellation of any
// unfilled residual size on the just-filled order. It returns as soon as
// either path reports success, rather than waiting for both — the
// slower path still runs to completion in the background, best-effort,
// but nothing downstream needs to wait on it. If neither path succeeds,
// it falls back to waiting for both to finish rather than hanging.
// OnCancelConfirmed's no-op-outside-OrderPlaced guard means whichever
// confirmation arrives (if any) after the state has already moved to
// Filled has no effect, which is exactly the point: this call only
// needs to stop the order from resting further, not to flip state back
// to Idle.
func (e *Executor) dualCancelResidual(ctx context.Context, orderID string) {
	success := make(chan struct{}, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := e.makerClient.Cancel(ctx, orderID); err != nil {
			e.logger.Debug("rest residual cancel failed", "order_id", orderID, "error", err)
			return
		}
		success <- struct{}{}
	}()
	go func() {
		defer wg.Done()
		if e.wsCanceller == nil {
			return
		}
		if err := e.wsCanceller.CancelAllWS(e.symbol, e.makerSigner); err != nil {
			e.logger.Debug("ws residual cancel failed", "order_id", orderID, "error", err)
			return
		}
		success <- struct{}{}
	}()

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-success:
	case <-allDone:
	}
}
