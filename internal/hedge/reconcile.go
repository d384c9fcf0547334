package hedge

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	makervenue "xemm-bot/internal/venue/maker"
	takervenue "xemm-bot/internal/venue/taker"
	"xemm-bot/pkg/types"
)

// takerReconcileHalfWindow bounds Venue-T's trade-history results to the
// ±10s window around the hedge's completion to avoid picking up
// unrelated fills; Venue-M's query uses e.reconcileWindow as its lookback.
const takerReconcileHalfWindow = 10 * time.Second

// reconcile queries both venues' recent trade history concurrently, each
// query retried on the executor's backoff ladder, keeps the Venue-M
// trades carrying the order's client id, and computes the
// weighted-average fill price and fee on each side.
func (e *Executor) reconcile(ctx context.Context, hedgeAt time.Time) (types.TradeReconciliation, error) {
	var makerTrades []makervenue.Trade
	var takerTrades []takervenue.Trade
	clientID := e.sm.ActiveOrder().ClientID

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return retryWithBackoff(gctx, e.retryBackoff, e.logger, "maker trade history", func() error {
			trades, err := e.makerClient.GetTradeHistory(gctx, e.reconcileWindow)
			if err != nil {
				return fmt.Errorf("maker trade history: %w", err)
			}
			makerTrades = makerTrades[:0]
			for _, t := range trades {
				if t.ClientID == clientID {
					makerTrades = append(makerTrades, t)
				}
			}
			return nil
		})
	})
	g.Go(func() error {
		return retryWithBackoff(gctx, e.retryBackoff, e.logger, "taker trade history", func() error {
			trades, err := e.takerClient.GetTradeHistory(gctx, e.reconcileWindow)
			if err != nil {
				return fmt.Errorf("taker trade history: %w", err)
			}
			takerTrades = filterWindow(trades, hedgeAt, takerReconcileHalfWindow)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return types.TradeReconciliation{}, err
	}

	recon := types.TradeReconciliation{}
	recon.MakerAvgPrice, recon.MakerNotional, recon.MakerFee = weightedAverageMaker(makerTrades)
	recon.TakerAvgPrice, recon.TakerNotional, recon.TakerFee = weightedAverageTaker(takerTrades)

	if recon.MakerNotional.IsZero() {
		recon.MakerAvgPrice = e.fillPrice
		recon.MakerNotional = e.fillSize.Mul(e.fillPrice)
		recon.MakerFee = recon.MakerNotional.Mul(e.info.MakerFeeBps).Div(decimal.NewFromInt(10000))
		recon.UsedFallbackFee = true
	}
	if recon.TakerNotional.IsZero() {
		// No taker trade found in the lookback window: assume the flat,
		// no-spread-captured case rather than fabricate a profitable
		// price. This understates profit when data is simply missing,
		// but never overstates it.
		recon.TakerAvgPrice = e.fillPrice
		recon.TakerNotional = e.fillSize.Mul(e.fillPrice)
		recon.TakerFee = recon.TakerNotional.Mul(e.info.TakerFeeBps).Div(decimal.NewFromInt(10000))
		recon.UsedFallbackFee = true
	}

	recon.GrossProfit, recon.NetProfit, recon.NetProfitBps = computeProfit(e.fillSide, recon)
	return recon, nil
}

func filterWindow(trades []takervenue.Trade, center time.Time, half time.Duration) []takervenue.Trade {
	lo := center.Add(-half)
	hi := center.Add(half)
	out := make([]takervenue.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Timestamp.After(lo) && t.Timestamp.Before(hi) {
			out = append(out, t)
		}
	}
	return out
}

func weightedAverageMaker(trades []makervenue.Trade) (avgPrice, notional, fee decimal.Decimal) {
	var sizeSum, notionalSum, feeSum decimal.Decimal
	for _, t := range trades {
		notionalSum = notionalSum.Add(t.Price.Mul(t.Size))
		sizeSum = sizeSum.Add(t.Size)
		feeSum = feeSum.Add(t.FeeUSD)
	}
	if sizeSum.IsZero() {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	return notionalSum.Div(sizeSum), notionalSum, feeSum
}

func weightedAverageTaker(trades []takervenue.Trade) (avgPrice, notional, fee decimal.Decimal) {
	var sizeSum, notionalSum, feeSum decimal.Decimal
	for _, t := range trades {
		notionalSum = notionalSum.Add(t.Price.Mul(t.Size))
		sizeSum = sizeSum.Add(t.Size)
		feeSum = feeSum.Add(t.FeeUSD)
	}
	if sizeSum.IsZero() {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	return notionalSum.Div(sizeSum), notionalSum, feeSum
}

// computeProfit derives gross/net profit (USD and bps) from the
// reconciled averages. side is the maker fill's side: a BUY fill on M
// hedged by a SELL on T profits from (taker_avg - maker_avg); a SELL
// fill on M hedged by a BUY on T profits from (maker_avg - taker_avg).
func computeProfit(side types.Side, r types.TradeReconciliation) (gross, net, netBps decimal.Decimal) {
	var spread decimal.Decimal
	if side == types.BUY {
		spread = r.TakerAvgPrice.Sub(r.MakerAvgPrice)
	} else {
		spread = r.MakerAvgPrice.Sub(r.TakerAvgPrice)
	}
	notional := r.MakerNotional
	gross = spread.Div(r.MakerAvgPrice).Mul(notional)
	net = gross.Sub(r.MakerFee).Sub(r.TakerFee)
	if notional.IsZero() {
		return gross, net, decimal.Zero
	}
	netBps = net.Div(notional).Mul(decimal.NewFromInt(10000))
	return gross, net, netBps
}
