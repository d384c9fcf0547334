package taker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"xemm-bot/internal/venue"
	"xemm-bot/pkg/types"
)

// Trade is one fill record returned by the trade-history endpoint.
type Trade struct {
	OrderID   string          `json:"oid"`
	Side      types.Side      `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	FeeUSD    decimal.Decimal `json:"fee_usd"`
	Timestamp time.Time       `json:"timestamp"`
}

// UserState is the account snapshot returned by get_user_state.
type UserState struct {
	Equity          decimal.Decimal `json:"equity"`
	AvailableMargin decimal.Decimal `json:"available_margin"`
}

// Client is the Venue-T trading client: resty with retry and a rate
// limiter, same shape as the Venue-M client, over Hyperliquid-style
// REST endpoints signed with EIP-712 instead of Ed25519.
type Client struct {
	http   *resty.Client
	signer *Signer
	rl     *venue.TokenBucket
	symbol string
	dryRun bool
	logger *slog.Logger
	nonce  int64
}

// NewClient builds a Venue-T trading client.
func NewClient(baseURL, symbol string, signer *Signer, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		signer: signer,
		rl:     venue.NewTokenBucket(50, 10),
		symbol: symbol,
		dryRun: dryRun,
		logger: logger.With("component", "taker_client"),
		nonce:  time.Now().UnixMilli(),
	}
}

func (c *Client) nextNonce() int64 {
	c.nonce++
	return c.nonce
}

// MarketOrder submits a market order with the given slippage tolerance
// (e.g. 0.003 for 0.3%) for the hedge leg. Returns the venue-assigned
// order ID.
func (c *Client) MarketOrder(ctx context.Context, side types.Side, size, slippage decimal.Decimal) (orderID string, err error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place market order", "side", side, "size", size, "slippage", slippage)
		return fmt.Sprintf("dry-run-hedge-%d", time.Now().UnixNano()), nil
	}
	if err := c.rl.Wait(ctx); err != nil {
		return "", err
	}

	action := map[string]any{
		"type":     "market_order",
		"symbol":   c.symbol,
		"side":     string(side),
		"size":     size.String(),
		"slippage": slippage.String(),
	}
	nonce := c.nextNonce()
	sig, err := c.signer.SignAction(action, nonce)
	if err != nil {
		return "", fmt.Errorf("sign market order: %w", err)
	}

	body := map[string]any{
		"action":    action,
		"nonce":     nonce,
		"signature": sig,
		"address":   c.signer.Address().Hex(),
	}

	var result struct {
		OrderID string `json:"oid"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/exchange")
	if err != nil {
		return "", fmt.Errorf("market order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("market order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.OrderID, nil
}

// GetTradeHistory returns fills within the lookback window, filtered to
// this symbol. Used by the hedge reconciler's weighted-average query.
func (c *Client) GetTradeHistory(ctx context.Context, window time.Duration) ([]Trade, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	since := time.Now().Add(-window).Unix()
	var trades []Trade
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", c.symbol).
		SetQueryParam("since", fmt.Sprintf("%d", since)).
		SetQueryParam("user", c.signer.Address().Hex()).
		SetResult(&trades).
		Get("/trades/history")
	if err != nil {
		return nil, fmt.Errorf("get trade history: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get trade history: status %d: %s", resp.StatusCode(), resp.String())
	}
	return trades, nil
}

// GetUserState returns the account's equity/margin snapshot.
func (c *Client) GetUserState(ctx context.Context) (*UserState, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var state UserState
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user", c.signer.Address().Hex()).
		SetResult(&state).
		Get("/account/state")
	if err != nil {
		return nil, fmt.Errorf("get user state: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get user state: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &state, nil
}
