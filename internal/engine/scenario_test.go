package engine

// These tests exercise full cycles across the state machine, book cells,
// evaluator, monitor, and hedge executor wired together exactly as Engine
// wires them, but against the venue fakes instead of live clients — Engine
// itself holds concrete *maker.Client/*maker.WSFeed fields rather than
// interfaces, since nothing outside tests ever needs to substitute them,
// so these tests assemble the same components directly the way
// hedge.TestExecutorHappyPathCompletesCycle does rather than going through
// New. The REST-backup fill detector is not exercised here: it depends on
// the concrete *maker.WSFeed.Degraded() method rather than an interface,
// and no test in the module covers it.

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/internal/config"
	"xemm-bot/internal/hedge"
	"xemm-bot/internal/journal"
	"xemm-bot/internal/market"
	"xemm-bot/internal/monitor"
	"xemm-bot/internal/statemachine"
	"xemm-bot/internal/strategy"
	makerfake "xemm-bot/internal/venue/maker/fake"
	takerfake "xemm-bot/internal/venue/taker/fake"
	"xemm-bot/pkg/types"
)

func scenarioLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func scenarioInfo() types.MarketInfo {
	return types.MarketInfo{
		Symbol:      "BTC-PERP",
		TickSize:    decimal.NewFromFloat(0.1),
		LotSize:     decimal.NewFromFloat(0.001),
		MakerFeeBps: decimal.NewFromFloat(2),
		TakerFeeBps: decimal.NewFromFloat(5),
		ProfitRate:  decimal.NewFromFloat(3),
	}
}

func scenarioHedgeConfig(info types.MarketInfo) hedge.Config {
	return hedge.Config{
		Symbol:          info.Symbol,
		Info:            info,
		Slippage:        decimal.NewFromFloat(0.003),
		RetryBackoff:    []time.Duration{time.Millisecond, time.Millisecond},
		PropagationWait: time.Millisecond,
		ReconcileWindow: time.Minute,
	}
}

func newJournal(t *testing.T) *journal.Writer {
	t.Helper()
	w, err := journal.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

// TestScenarioBuySideFillHedgeComplete covers the end-to-end path: a
// profitable buy-side cross appears, the evaluator places the maker
// order, the order fills, and the hedge executor sells on Venue-T and
// completes the cycle.
func TestScenarioBuySideFillHedgeComplete(t *testing.T) {
	t.Parallel()
	sm := statemachine.New(scenarioLogger())
	mCell, tCell := market.NewCell(), market.NewCell()
	mCell.Set(decimal.NewFromInt(50000), decimal.NewFromInt(50001))
	tCell.Set(decimal.NewFromInt(49000), decimal.NewFromInt(49002))

	info := scenarioInfo()
	makerClient := makerfake.New()
	takerClient := takerfake.New()
	takerClient.FillPrice = decimal.NewFromInt(49100)
	takerClient.FillFee = decimal.NewFromFloat(0.5)

	eval := strategy.NewEvaluator(mCell, tCell, makerClient, sm, info, decimal.NewFromInt(1000), time.Minute, scenarioLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Drive one evaluator tick directly rather than waiting out its 10Hz
	// ticker, the same shortcut strategy's own unit tests use.
	evalOnce(t, eval, ctx)

	if sm.State() != types.StateOrderPlaced {
		t.Fatalf("state = %v, want OrderPlaced", sm.State())
	}
	order := sm.ActiveOrder()
	if makerClient.PlaceCalls != 1 {
		t.Fatalf("expected 1 place call, got %d", makerClient.PlaceCalls)
	}

	makerClient.Fill(order.OrderID, order.Price, decimal.NewFromFloat(0.1))
	sm.OnFillEvent(types.FillEvent{
		OrderID: order.OrderID, Kind: types.FillFull,
		FillPrice: order.Price, FillSize: order.Size,
	})
	if sm.State() != types.StateFilled {
		t.Fatalf("state = %v, want Filled", sm.State())
	}

	exec := hedge.New(sm, makerClient, nil, nil, takerClient, newJournal(t), scenarioHedgeConfig(info), scenarioLogger())
	if err := exec.Run(ctx); err != nil {
		t.Fatalf("hedge Run: %v", err)
	}

	if sm.State() != types.StateComplete {
		t.Fatalf("state = %v, want Complete", sm.State())
	}
	if takerClient.Calls != 1 {
		t.Errorf("expected 1 taker market order, got %d", takerClient.Calls)
	}
	if makerClient.CancelCalls != 1 {
		t.Errorf("expected residual rest cancel to have been attempted, got %d", makerClient.CancelCalls)
	}
}

// TestScenarioSellSideFillHedgeComplete mirrors the buy-side scenario with
// the book gap inverted, exercising the sell-side formula and hedge leg.
func TestScenarioSellSideFillHedgeComplete(t *testing.T) {
	t.Parallel()
	sm := statemachine.New(scenarioLogger())
	mCell, tCell := market.NewCell(), market.NewCell()
	mCell.Set(decimal.NewFromInt(49000), decimal.NewFromInt(49001))
	tCell.Set(decimal.NewFromInt(50000), decimal.NewFromInt(50002))

	info := scenarioInfo()
	makerClient := makerfake.New()
	takerClient := takerfake.New()
	takerClient.FillPrice = decimal.NewFromInt(49900)
	takerClient.FillFee = decimal.NewFromFloat(0.5)

	eval := strategy.NewEvaluator(mCell, tCell, makerClient, sm, info, decimal.NewFromInt(1000), time.Minute, scenarioLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	evalOnce(t, eval, ctx)

	if sm.State() != types.StateOrderPlaced {
		t.Fatalf("state = %v, want OrderPlaced", sm.State())
	}
	order := sm.ActiveOrder()
	if order.Side != types.SELL {
		t.Fatalf("side = %v, want SELL", order.Side)
	}

	makerClient.Fill(order.OrderID, order.Price, decimal.NewFromFloat(0.1))
	sm.OnFillEvent(types.FillEvent{
		OrderID: order.OrderID, Kind: types.FillFull,
		FillPrice: order.Price, FillSize: order.Size,
	})

	exec := hedge.New(sm, makerClient, nil, nil, takerClient, newJournal(t), scenarioHedgeConfig(info), scenarioLogger())
	if err := exec.Run(ctx); err != nil {
		t.Fatalf("hedge Run: %v", err)
	}
	if sm.State() != types.StateComplete {
		t.Fatalf("state = %v, want Complete", sm.State())
	}
}

// TestScenarioMonitorCancelsStaleOrderThenReevaluates covers the order
// monitor force-cancelling a resting order once it exceeds its max age,
// the venue confirming the cancel, and the evaluator placing a fresh
// order on the very next tick now that the machine is back to Idle.
func TestScenarioMonitorCancelsStaleOrderThenReevaluates(t *testing.T) {
	t.Parallel()
	sm := statemachine.New(scenarioLogger())
	mCell, tCell := market.NewCell(), market.NewCell()
	mCell.Set(decimal.NewFromInt(50000), decimal.NewFromInt(50001))
	tCell.Set(decimal.NewFromInt(49000), decimal.NewFromInt(49002))

	info := scenarioInfo()
	makerClient := makerfake.New()

	eval := strategy.NewEvaluator(mCell, tCell, makerClient, sm, info, decimal.NewFromInt(1000), time.Minute, scenarioLogger())
	mon := monitor.New(sm, makerClient, tCell, info, info.Symbol, time.Millisecond, time.Minute, decimal.NewFromInt(10_000), scenarioLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	evalOnce(t, eval, ctx)

	order := sm.ActiveOrder()
	if !order.Live() {
		t.Fatalf("expected an order to be resting")
	}
	time.Sleep(2 * time.Millisecond)

	checkOnce(mon, ctx)
	if makerClient.CancelCalls != 1 {
		t.Fatalf("expected monitor to request a cancel, got %d calls", makerClient.CancelCalls)
	}

	// The venue confirms the cancel asynchronously over the order-update
	// stream; the fill detector would deliver this in production.
	sm.OnCancelConfirmed(order.OrderID)
	if sm.State() != types.StateIdle {
		t.Fatalf("state = %v, want Idle after cancel confirmation", sm.State())
	}

	evalOnce(t, eval, ctx)
	if sm.State() != types.StateOrderPlaced {
		t.Fatalf("state = %v, want OrderPlaced after re-evaluation", sm.State())
	}
	if makerClient.PlaceCalls != 2 {
		t.Fatalf("expected 2 total place calls across both orders, got %d", makerClient.PlaceCalls)
	}
}

// TestScenarioHedgeRetriesThenCompletes covers a transient failure on the
// Venue-T market order that clears on retry, without ever reaching Error.
func TestScenarioHedgeRetriesThenCompletes(t *testing.T) {
	t.Parallel()
	sm := statemachine.New(scenarioLogger())
	sm.TryPlaceOrder(types.ActiveOrder{
		OrderID: "m-order-1", Side: types.BUY,
		Price: decimal.NewFromInt(50000), Size: decimal.NewFromFloat(0.02),
		ExpectedBps: decimal.NewFromInt(3), PlacedAt: time.Now(),
	})
	sm.OnFillEvent(types.FillEvent{
		OrderID: "m-order-1", Kind: types.FillFull,
		FillPrice: decimal.NewFromInt(50000), FillSize: decimal.NewFromFloat(0.02),
	})

	makerClient := makerfake.New()
	takerClient := takerfake.New()
	takerClient.MarketErrs = []error{context.DeadlineExceeded, context.DeadlineExceeded}
	takerClient.FillPrice = decimal.NewFromInt(50100)
	takerClient.FillFee = decimal.NewFromFloat(0.5)

	info := scenarioInfo()
	cfg := scenarioHedgeConfig(info)
	cfg.RetryBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	exec := hedge.New(sm, makerClient, nil, nil, takerClient, newJournal(t), cfg, scenarioLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := exec.Run(ctx); err != nil {
		t.Fatalf("hedge Run: %v", err)
	}

	if sm.State() != types.StateComplete {
		t.Fatalf("state = %v, want Complete after retried hedge succeeds", sm.State())
	}
	if takerClient.Calls != 3 {
		t.Fatalf("expected 3 market order attempts, got %d", takerClient.Calls)
	}
}

// evalOnce drives a single evaluator tick synchronously; it mirrors the
// unexported tick method strategy's own unit tests call directly, reached
// here through the exported entry point since this test lives outside
// package strategy.
func evalOnce(t *testing.T, eval *strategy.Evaluator, ctx context.Context) {
	t.Helper()
	runCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	if err := eval.Run(runCtx); err != nil && err != context.DeadlineExceeded {
		t.Fatalf("evaluator Run: %v", err)
	}
}

// checkOnce drives a single monitor check synchronously, the same way.
func checkOnce(mon *monitor.Monitor, ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	mon.Run(runCtx)
}

// emptyTradeHistoryServer answers /trades/history with an empty fill
// list (reconcile's documented fallback-fee path), and 404s everything
// else — the book-poll and open-orders endpoints this test's feeds hit
// incidentally are allowed to fail, since nothing here depends on them.
func emptyTradeHistoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/trades/history") {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("[]"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestEngineRunThenShutdownReturns drives a full cycle through the real
// Engine (engine.New → Run → Shutdown) rather than through the fakes
// wired directly, the way the other scenario tests do — this is the one
// test that actually exercises Run's task context and Shutdown's cancel
// lever. Both venue REST backends are dry-run, so PlaceLimit, Cancel,
// CancelAll, and MarketOrder never touch the network; only
// GetTradeHistory does, which is why a mock server is needed at all. The
// evaluator and feeds are never given a real crossed book, so the fill
// is driven directly through the state machine (reachable here since
// this file shares package engine with Engine itself) rather than
// waiting on the evaluator to find a spread that doesn't exist.
func TestEngineRunThenShutdownReturns(t *testing.T) {
	t.Parallel()

	srv := emptyTradeHistoryServer(t)

	cfg := &config.Config{
		DryRun: true,
		Symbol: "BTC-PERP",
		Maker: config.MakerConfig{
			RESTBaseURL:         srv.URL,
			WSURL:               "ws://127.0.0.1:1",
			FeeBps:              2,
			RESTPollIntervalSec: 60,
			TickSize:            0.1,
			LotSize:             0.001,
		},
		Taker: config.TakerConfig{
			RESTBaseURL: srv.URL,
			WSURL:       "ws://127.0.0.1:1",
			FeeBps:      5,
			Slippage:    0.003,
			ChainID:     1,
		},
		ProfitRateBps:            3,
		ProfitCancelThresholdBps: 10,
		OrderNotionalUSD:         1000,
		OrderRefreshIntervalSecs: 30,
		MaxBookAge:               time.Minute,
		PingIntervalSecs:         15,
		// High enough that neither feed's circuit breaker trips (and fires
		// onFatal → sm.FatalError) within this test's lifetime — the WS dial
		// to a closed port fails in well under a second each attempt, and
		// this test's whole cycle is driven directly and completes long
		// before that.
		ReconnectAttempts: 1000,
		Hedge: config.HedgeConfig{
			RetryBackoff:    []time.Duration{time.Millisecond},
			PropagationWait: time.Millisecond,
			ReconcileWindow: time.Minute,
		},
		Store: config.StoreConfig{DataDir: t.TempDir()},
	}

	creds := config.Credentials{
		MakerAccountAddress: "maker-addr",
		MakerAPIPublic:      "maker-pub",
		MakerAPIPrivate:     strings.Repeat("ab", 32),
		TakerWalletAddress:  "0x1111111111111111111111111111111111111111",
		TakerPrivateKey:     strings.Repeat("11", 32),
	}

	eng, err := New(cfg, creds, scenarioLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- eng.Run(ctx) }()

	// Wait for the engine to settle into its running state, then drive
	// the fill directly — there is no crossed book for the evaluator to
	// act on against a mock server, so the hedge executor's Filled poll
	// is the only organic trigger left to exercise.
	var order types.ActiveOrder
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if eng.sm.TryPlaceOrder(types.ActiveOrder{
			OrderID: "m-order-1", Side: types.BUY,
			Price: decimal.NewFromInt(50000), Size: decimal.NewFromFloat(0.01),
			ExpectedBps: decimal.NewFromInt(3), PlacedAt: time.Now(),
		}) {
			order = eng.sm.ActiveOrder()
			break
		}
		time.Sleep(time.Millisecond)
	}
	if order.OrderID == "" {
		t.Fatalf("never reached Idle to place the test order")
	}

	eng.sm.OnFillEvent(types.FillEvent{
		OrderID: order.OrderID, Kind: types.FillFull,
		FillPrice: order.Price, FillSize: order.Size,
	})

	select {
	case err := <-runErrCh:
		if err != nil {
			t.Fatalf("Run returned %v, want nil (cycle should complete on its own)", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned after the cycle reached Complete")
	}
	if eng.sm.State() != types.StateComplete {
		t.Fatalf("state = %v, want Complete", eng.sm.State())
	}

	shutdownDone := make(chan struct{})
	go func() {
		eng.Shutdown(100 * time.Millisecond)
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown never returned — task goroutines are not being stopped by e.cancel")
	}
}
