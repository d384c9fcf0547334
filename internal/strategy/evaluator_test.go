package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/internal/market"
	"xemm-bot/internal/statemachine"
	"xemm-bot/internal/venue/maker"
	"xemm-bot/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testInfo() types.MarketInfo {
	return types.MarketInfo{
		Symbol:      "BTC-PERP",
		TickSize:    decimal.NewFromFloat(0.1),
		LotSize:     decimal.NewFromFloat(0.001),
		MakerFeeBps: decimal.NewFromFloat(2),
		TakerFeeBps: decimal.NewFromFloat(5),
		ProfitRate:  decimal.NewFromFloat(3),
	}
}

type stubMakerClient struct {
	orderID string
	err     error
	calls   int
	lastSide types.Side
	lastPrice decimal.Decimal
	lastSize  decimal.Decimal
}

func (s *stubMakerClient) PlaceLimit(ctx context.Context, side types.Side, price, size decimal.Decimal, clientID string) (string, error) {
	s.calls++
	s.lastSide = side
	s.lastPrice = price
	s.lastSize = size
	if s.err != nil {
		return "", s.err
	}
	return s.orderID, nil
}

func freshCells() (*market.Cell, *market.Cell) {
	m := market.NewCell()
	t := market.NewCell()
	// Venue-M sitting tight around 50000, Venue-T about 1000 below it, so
	// the buy limit rests below Venue-M's ask while the sell limit would
	// cross Venue-M's bid: only the buy side is placeable.
	m.Set(decimal.NewFromInt(50000), decimal.NewFromInt(50001))
	t.Set(decimal.NewFromInt(49000), decimal.NewFromInt(49002))
	return m, t
}

func TestEvaluatorPlacesOrderOnProfitableSpread(t *testing.T) {
	t.Parallel()
	mCell, tCell := freshCells()
	sm := statemachine.New(testLogger())
	client := &stubMakerClient{orderID: "order-1"}

	e := NewEvaluator(mCell, tCell, client, sm, testInfo(), decimal.NewFromInt(1000), time.Minute, testLogger())
	e.tick(context.Background())

	if client.calls != 1 {
		t.Fatalf("expected one PlaceLimit call, got %d", client.calls)
	}
	if sm.State() != types.StateOrderPlaced {
		t.Fatalf("state = %v, want OrderPlaced", sm.State())
	}
	if sm.ActiveOrder().OrderID != "order-1" {
		t.Errorf("ActiveOrder.OrderID = %q, want order-1", sm.ActiveOrder().OrderID)
	}
}

func TestEvaluatorSkipsWhenNotIdle(t *testing.T) {
	t.Parallel()
	mCell, tCell := freshCells()
	sm := statemachine.New(testLogger())
	sm.TryPlaceOrder(types.ActiveOrder{OrderID: "existing", ClientID: "c1"})
	client := &stubMakerClient{orderID: "order-2"}

	e := NewEvaluator(mCell, tCell, client, sm, testInfo(), decimal.NewFromInt(1000), time.Minute, testLogger())
	e.tick(context.Background())

	if client.calls != 0 {
		t.Fatalf("expected no PlaceLimit call while not Idle, got %d", client.calls)
	}
}

func TestEvaluatorSkipsOnStaleBook(t *testing.T) {
	t.Parallel()
	mCell, tCell := freshCells()
	sm := statemachine.New(testLogger())
	client := &stubMakerClient{orderID: "order-3"}

	e := NewEvaluator(mCell, tCell, client, sm, testInfo(), decimal.NewFromInt(1000), time.Nanosecond, testLogger())
	time.Sleep(time.Millisecond)
	e.tick(context.Background())

	if client.calls != 0 {
		t.Fatalf("expected no PlaceLimit call on stale book, got %d", client.calls)
	}
}

func TestEvaluatorAbortsOnPlacementError(t *testing.T) {
	t.Parallel()
	mCell, tCell := freshCells()
	sm := statemachine.New(testLogger())
	client := &stubMakerClient{err: context.DeadlineExceeded}

	e := NewEvaluator(mCell, tCell, client, sm, testInfo(), decimal.NewFromInt(1000), time.Minute, testLogger())
	e.tick(context.Background())

	if sm.State() != types.StateIdle {
		t.Fatalf("state = %v, want Idle after placement failure", sm.State())
	}
}

func TestEvaluatorFatalOnSigningRejection(t *testing.T) {
	t.Parallel()
	mCell, tCell := freshCells()
	sm := statemachine.New(testLogger())
	client := &stubMakerClient{err: fmt.Errorf("place limit: %w: bad signature", maker.ErrSigningFailed)}

	e := NewEvaluator(mCell, tCell, client, sm, testInfo(), decimal.NewFromInt(1000), time.Minute, testLogger())
	e.tick(context.Background())

	if sm.State() != types.StateError {
		t.Fatalf("state = %v, want Error after signing rejection", sm.State())
	}
	if sm.FatalErr() == nil {
		t.Error("expected FatalErr to be set")
	}
}

func TestRoundDownAndRoundUp(t *testing.T) {
	t.Parallel()
	step := decimal.NewFromFloat(0.1)
	if got := roundDown(decimal.NewFromFloat(1.27), step); !got.Equal(decimal.NewFromFloat(1.2)) {
		t.Errorf("roundDown(1.27, 0.1) = %v, want 1.2", got)
	}
	if got := roundUp(decimal.NewFromFloat(1.21), step); !got.Equal(decimal.NewFromFloat(1.3)) {
		t.Errorf("roundUp(1.21, 0.1) = %v, want 1.3", got)
	}
}
