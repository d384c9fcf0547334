// Package fake provides an in-memory stand-in for the Venue-M trading
// client, used by engine-level scenario tests that need to drive a full
// cycle without a network.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"xemm-bot/internal/venue/maker"
	"xemm-bot/pkg/types"
)

// Client is a controllable fake of the Venue-M REST trading client. It
// satisfies the same method set as maker.Client that the evaluator,
// monitor, and hedge executor depend on.
type Client struct {
	mu sync.Mutex

	PlaceErr  error
	CancelErr error

	open   map[string]fakeOrder
	trades []maker.Trade

	CancelCalls    int
	CancelAllCalls int
	PlaceCalls     int
}

type fakeOrder struct {
	side  types.Side
	price decimal.Decimal
	size  decimal.Decimal
}

// New builds an empty fake client.
func New() *Client {
	return &Client{open: make(map[string]fakeOrder)}
}

// PlaceLimit records the order as open and returns a fresh order id.
func (c *Client) PlaceLimit(ctx context.Context, side types.Side, price, size decimal.Decimal, clientID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PlaceCalls++
	if c.PlaceErr != nil {
		return "", c.PlaceErr
	}
	orderID := uuid.NewString()
	c.open[orderID] = fakeOrder{side: side, price: price, size: size}
	return orderID, nil
}

// Cancel removes the order from the open set.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CancelCalls++
	if c.CancelErr != nil {
		return c.CancelErr
	}
	delete(c.open, orderID)
	return nil
}

// CancelAll clears every open order.
func (c *Client) CancelAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CancelAllCalls++
	c.open = make(map[string]fakeOrder)
	return nil
}

// Fill simulates a fill for orderID: removes it from open and appends a
// trade record, so GetTradeHistory reflects it for reconciliation.
func (c *Client) Fill(orderID string, fillPrice, fee decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.open[orderID]
	if !ok {
		return
	}
	delete(c.open, orderID)
	c.trades = append(c.trades, maker.Trade{
		OrderID: orderID, Side: o.side, Price: fillPrice, Size: o.size,
		FeeUSD: fee, Timestamp: time.Now(),
	})
}

// GetOpenOrders lists currently-open fake orders.
func (c *Client) GetOpenOrders(ctx context.Context) ([]maker.OpenOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]maker.OpenOrder, 0, len(c.open))
	for id, o := range c.open {
		out = append(out, maker.OpenOrder{OrderID: id, Side: o.side, Price: o.price, Size: o.size})
	}
	return out, nil
}

// GetTradeHistory returns every recorded fake trade within window.
func (c *Client) GetTradeHistory(ctx context.Context, window time.Duration) ([]maker.Trade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	since := time.Now().Add(-window)
	out := make([]maker.Trade, 0, len(c.trades))
	for _, t := range c.trades {
		if t.Timestamp.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}
