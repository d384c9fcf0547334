// Package strategy implements the opportunity evaluator: the 10Hz loop
// that watches both venues' top-of-book cells and places a maker limit
// order on Venue-M whenever a profitable cross-exchange spread appears.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/internal/market"
	"xemm-bot/internal/statemachine"
	"xemm-bot/internal/venue/maker"
	"xemm-bot/pkg/types"
)

const evaluatorTick = 100 * time.Millisecond // 10Hz

// MakerClient is the subset of the Venue-M client the evaluator needs to
// place an order.
type MakerClient interface {
	PlaceLimit(ctx context.Context, side types.Side, price, size decimal.Decimal, clientID string) (string, error)
}

// Evaluator is the opportunity loop (Task 7). On every tick, with the
// state machine Idle, it reads both book cells, computes the two
// candidate limit prices (buy-side and sell-side crosses), and places
// whichever one clears the configured profit threshold — at most one
// resting order at a time, enforced by the state machine's CAS.
type Evaluator struct {
	mCell  *market.Cell
	tCell  *market.Cell
	client MakerClient
	sm     *statemachine.Machine
	info   types.MarketInfo

	orderNotionalUSD decimal.Decimal
	maxBookAge       time.Duration

	logger *slog.Logger
}

// NewEvaluator builds the opportunity evaluator.
func NewEvaluator(mCell, tCell *market.Cell, client MakerClient, sm *statemachine.Machine, info types.MarketInfo, orderNotionalUSD decimal.Decimal, maxBookAge time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		mCell:            mCell,
		tCell:            tCell,
		client:           client,
		sm:               sm,
		info:             info,
		orderNotionalUSD: orderNotionalUSD,
		maxBookAge:       maxBookAge,
		logger:           logger.With("component", "evaluator"),
	}
}

// Run drives the 10Hz opportunity loop until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	ticker := time.NewTicker(evaluatorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Evaluator) tick(ctx context.Context) {
	if e.sm.State() != types.StateIdle {
		return
	}

	mSnap := e.mCell.Get()
	tSnap := e.tCell.Get()
	if mSnap.IsStale(e.maxBookAge) || tSnap.IsStale(e.maxBookAge) {
		return
	}
	if tSnap.BestBid.IsZero() || tSnap.BestAsk.IsZero() {
		return
	}

	buyIntent, buyOK := e.evaluateBuy(tSnap)
	sellIntent, sellOK := e.evaluateSell(tSnap)
	// A maker order must rest on Venue-M's book: a buy at or above
	// Venue-M's best ask, or a sell at or below its best bid, would cross.
	if !buyOK || !buyIntent.Price.LessThan(mSnap.BestAsk) {
		buyIntent = types.OrderIntent{}
	}
	if !sellOK || !sellIntent.Price.GreaterThan(mSnap.BestBid) {
		sellIntent = types.OrderIntent{}
	}

	intent, ok := bestIntent(buyIntent, sellIntent)
	if !ok {
		return
	}

	order := types.ActiveOrder{
		ClientID:    intent.ClientID,
		Side:        intent.Side,
		Price:       intent.Price,
		Size:        intent.Size,
		ExpectedBps: intent.ExpectedProfit,
		PlacedAt:    time.Now(),
	}
	if !e.sm.TryPlaceOrder(order) {
		return
	}

	// No separate re-check of expected profit against the book here: price
	// and expected profit were both derived from the same tSnap read above,
	// so expected profit is == profit_rate by construction — there is no
	// second, later book read that could have drifted from intent.Price in
	// between.
	orderID, err := e.client.PlaceLimit(ctx, intent.Side, intent.Price, intent.Size, intent.ClientID)
	if err != nil {
		if errors.Is(err, maker.ErrSigningFailed) {
			e.logger.Error("fatal: signing/auth rejected by venue", "error", err)
			e.sm.FatalError(fmt.Errorf("place limit: %w", err))
			return
		}
		e.logger.Error("place limit failed, reverting to idle", "error", err)
		e.sm.Abort()
		return
	}

	e.sm.SetOrderID(orderID)
	e.logger.Info("placed maker order", "side", intent.Side, "price", intent.Price, "size", intent.Size, "expected_bps", intent.ExpectedProfit, "order_id", orderID)
}

// evaluateBuy computes the candidate buy limit on Venue-M: resting bid
// priced so that, if filled and hedged by selling on Venue-T, nets the
// configured profit rate after both venues' fees.
//
//	limit = T_bid * (1 - t) / (1 + m + p)
func (e *Evaluator) evaluateBuy(t types.BookSnapshot) (types.OrderIntent, bool) {
	m := e.info.MakerFeeBps.Div(decimal.NewFromInt(10000))
	tf := e.info.TakerFeeBps.Div(decimal.NewFromInt(10000))
	p := e.info.ProfitRate.Div(decimal.NewFromInt(10000))

	denom := decimal.NewFromInt(1).Add(m).Add(p)
	if denom.IsZero() {
		return types.OrderIntent{}, false
	}
	raw := t.BestBid.Mul(decimal.NewFromInt(1).Sub(tf)).Div(denom)
	price := roundDown(raw, e.info.TickSize)
	if price.LessThanOrEqual(decimal.Zero) {
		return types.OrderIntent{}, false
	}

	size := roundDown(e.orderNotionalUSD.Div(price), e.info.LotSize)
	if size.LessThanOrEqual(decimal.Zero) {
		return types.OrderIntent{}, false
	}

	return types.OrderIntent{
		ClientID:       maker.NewClientID(),
		Side:           types.BUY,
		Price:          price,
		Size:           size,
		ExpectedProfit: e.info.ProfitRate,
		GeneratedAt:    time.Now(),
	}, true
}

// evaluateSell computes the candidate sell limit on Venue-M.
//
//	limit = T_ask * (1 + t) / (1 - m - p)
func (e *Evaluator) evaluateSell(t types.BookSnapshot) (types.OrderIntent, bool) {
	m := e.info.MakerFeeBps.Div(decimal.NewFromInt(10000))
	tf := e.info.TakerFeeBps.Div(decimal.NewFromInt(10000))
	p := e.info.ProfitRate.Div(decimal.NewFromInt(10000))

	denom := decimal.NewFromInt(1).Sub(m).Sub(p)
	if denom.LessThanOrEqual(decimal.Zero) {
		return types.OrderIntent{}, false
	}
	raw := t.BestAsk.Mul(decimal.NewFromInt(1).Add(tf)).Div(denom)
	price := roundUp(raw, e.info.TickSize)
	if price.LessThanOrEqual(decimal.Zero) {
		return types.OrderIntent{}, false
	}

	size := roundDown(e.orderNotionalUSD.Div(price), e.info.LotSize)
	if size.LessThanOrEqual(decimal.Zero) {
		return types.OrderIntent{}, false
	}

	return types.OrderIntent{
		ClientID:       maker.NewClientID(),
		Side:           types.SELL,
		Price:          price,
		Size:           size,
		ExpectedProfit: e.info.ProfitRate,
		GeneratedAt:    time.Now(),
	}, true
}

// bestIntent returns whichever candidate is valid; if both are valid
// (both rest without crossing Venue-M's book) the buy side wins
// arbitrarily since only one order may rest at a time.
func bestIntent(buy, sell types.OrderIntent) (types.OrderIntent, bool) {
	buyOK := !buy.Price.IsZero()
	sellOK := !sell.Price.IsZero()
	switch {
	case buyOK:
		return buy, true
	case sellOK:
		return sell, true
	default:
		return types.OrderIntent{}, false
	}
}

// roundDown truncates price to the nearest multiple of step at or below it.
func roundDown(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// roundUp rounds price to the nearest multiple of step at or above it.
func roundUp(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}
