// Package monitor implements the order monitor (Task 5): a 40Hz loop
// that watches the single resting maker order for staleness and for
// profit drift, cancelling it before a fill the bot can no longer
// profitably hedge.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/internal/market"
	"xemm-bot/internal/statemachine"
	"xemm-bot/pkg/types"
)

const tick = 25 * time.Millisecond // 40Hz
const profitLogInterval = 2 * time.Second

// Canceller is the subset of the Venue-M client the monitor needs to
// pull a resting order. The monitor cancels over REST only; the
// confirmation arrives as a cancelled event on the fill stream.
type Canceller interface {
	Cancel(ctx context.Context, orderID string) error
}

// Monitor runs the 40Hz order-monitor loop.
type Monitor struct {
	sm          *statemachine.Machine
	rest        Canceller
	tCell       *market.Cell
	info        types.MarketInfo
	symbol      string
	maxAge      time.Duration
	maxBookAge  time.Duration
	driftBps    decimal.Decimal
	logger      *slog.Logger
	lastLog     time.Time
}

// New builds the order monitor. maxAge bounds how long a resting order
// may live before it is force-cancelled regardless of drift
// (order_refresh_interval_secs); maxBookAge bounds how stale Venue-T's
// book may be before a drift check is skipped; driftBps is the
// profit_cancel_threshold_bps config value.
func New(sm *statemachine.Machine, rest Canceller, tCell *market.Cell, info types.MarketInfo, symbol string, maxAge, maxBookAge time.Duration, driftBps decimal.Decimal, logger *slog.Logger) *Monitor {
	return &Monitor{
		sm:         sm,
		rest:       rest,
		tCell:      tCell,
		info:       info,
		symbol:     symbol,
		maxAge:     maxAge,
		maxBookAge: maxBookAge,
		driftBps:   driftBps,
		logger:     logger.With("component", "order_monitor"),
	}
}

// Run drives the monitor loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	if m.sm.State() != types.StateOrderPlaced {
		return
	}
	order := m.sm.ActiveOrder()
	if !order.Live() {
		return
	}

	age := time.Since(order.PlacedAt)
	if age > m.maxAge {
		m.logger.Info("cancelling order: max age exceeded", "order_id", order.OrderID, "age", age)
		m.cancel(ctx, order.OrderID)
		return
	}

	current, ok := m.currentProfitBps(order)
	if ok {
		drift := current.Sub(order.ExpectedBps).Abs()
		if drift.GreaterThan(m.driftBps) {
			m.logger.Info("cancelling order: profit drift exceeded threshold",
				"order_id", order.OrderID, "expected_bps", order.ExpectedBps, "current_bps", current, "drift_bps", drift)
			m.cancel(ctx, order.OrderID)
			return
		}

		if time.Since(m.lastLog) >= profitLogInterval {
			m.logger.Info("resting order profit", "order_id", order.OrderID, "expected_bps", order.ExpectedBps, "current_bps", current)
			m.lastLog = time.Now()
		}
	}
}

// currentProfitBps recomputes the expected profit in bps using the
// live Venue-T book, the same formula direction the evaluator used to
// generate this order, so drift can be measured against it.
func (m *Monitor) currentProfitBps(order types.ActiveOrder) (decimal.Decimal, bool) {
	t := m.tCell.Get()
	if t.IsStale(m.maxBookAge) || t.BestBid.IsZero() || t.BestAsk.IsZero() {
		return decimal.Zero, false
	}

	mFee := m.info.MakerFeeBps.Div(decimal.NewFromInt(10000))
	tFee := m.info.TakerFeeBps.Div(decimal.NewFromInt(10000))

	var hedgePrice decimal.Decimal
	if order.Side == types.BUY {
		// Bought on M at order.Price; hedge by selling on T at BestBid.
		hedgePrice = t.BestBid
		gross := hedgePrice.Sub(order.Price).Div(order.Price)
		net := gross.Sub(mFee).Sub(tFee)
		return net.Mul(decimal.NewFromInt(10000)), true
	}
	// Sold on M at order.Price; hedge by buying on T at BestAsk.
	hedgePrice = t.BestAsk
	gross := order.Price.Sub(hedgePrice).Div(order.Price)
	net := gross.Sub(mFee).Sub(tFee)
	return net.Mul(decimal.NewFromInt(10000)), true
}

func (m *Monitor) cancel(ctx context.Context, orderID string) {
	if err := m.rest.Cancel(ctx, orderID); err != nil {
		m.logger.Warn("rest cancel failed", "order_id", orderID, "error", err)
	}
	// The state machine only actually returns to Idle once a
	// cancel_confirmed message arrives from the venue (via the fill
	// detector's order-update stream) and OnCancelConfirmed fires; this
	// call just requests the cancel.
}
