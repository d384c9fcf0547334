// Package fake provides an in-memory stand-in for the Venue-T trading
// client, used by engine-level scenario tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/internal/venue/taker"
	"xemm-bot/pkg/types"
)

// Client is a controllable fake of the Venue-T trading client.
type Client struct {
	mu sync.Mutex

	// MarketErrs, if non-empty, is consumed one error per call (nil
	// entries succeed); once exhausted, every call succeeds.
	MarketErrs []error

	FillPrice decimal.Decimal
	FillFee   decimal.Decimal

	Calls  int
	trades []taker.Trade
}

// New builds an empty fake client.
func New() *Client {
	return &Client{}
}

// MarketOrder simulates immediate execution at FillPrice (or returns the
// next queued error), recording a trade for reconciliation.
func (c *Client) MarketOrder(ctx context.Context, side types.Side, size, slippage decimal.Decimal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.Calls
	c.Calls++
	if idx < len(c.MarketErrs) && c.MarketErrs[idx] != nil {
		return "", c.MarketErrs[idx]
	}

	orderID := "fake-hedge-" + time.Now().Format(time.RFC3339Nano)
	c.trades = append(c.trades, taker.Trade{
		OrderID: orderID, Side: side, Price: c.FillPrice, Size: size,
		FeeUSD: c.FillFee, Timestamp: time.Now(),
	})
	return orderID, nil
}

// GetTradeHistory returns every recorded fake trade within window.
func (c *Client) GetTradeHistory(ctx context.Context, window time.Duration) ([]taker.Trade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	since := time.Now().Add(-window)
	out := make([]taker.Trade, 0, len(c.trades))
	for _, t := range c.trades {
		if t.Timestamp.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}
