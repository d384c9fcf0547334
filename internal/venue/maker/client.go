// Package maker implements the Venue-M (Pacifica-style) trading client:
// Ed25519-signed REST order placement/cancellation, a streaming
// order-update feed for fill detection, and a REST fallback poller for
// the top-of-book cell.
package maker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"xemm-bot/internal/venue"
	"xemm-bot/pkg/types"
)

// ErrSigningFailed wraps any error signing a request, distinguishing a
// misconfiguration (bad key, invalid payload, rejected signature) from
// a transient network or order-level rejection. Callers treat this as
// fatal on first occurrence rather than retrying, since a bad key or
// malformed payload won't fix itself on the next tick.
var ErrSigningFailed = errors.New("venue-m: signing failed")

// OpenOrder mirrors the subset of Venue-M's open-order REST response the
// REST-backup fill detector and reconciler need.
type OpenOrder struct {
	OrderID     string          `json:"order_id"`
	ClientID    string          `json:"client_id"`
	Side        types.Side      `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	FilledSize  decimal.Decimal `json:"filled_size"`
}

// Trade is one fill record returned by the trade-history endpoint.
type Trade struct {
	OrderID   string          `json:"order_id"`
	ClientID  string          `json:"client_id"`
	Side      types.Side      `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	FeeUSD    decimal.Decimal `json:"fee_usd"`
	Timestamp time.Time       `json:"timestamp"`
}

// UserState is the account snapshot returned by get_user_state.
type UserState struct {
	Equity    decimal.Decimal `json:"equity"`
	AvailableMargin decimal.Decimal `json:"available_margin"`
}

// Client is the Venue-M REST trading client. It wraps resty with retry
// and a single rate limiter bucket, since this bot only ever has one
// order in flight.
type Client struct {
	http   *resty.Client
	signer *Signer
	rl     *venue.TokenBucket
	symbol string
	dryRun bool
	logger *slog.Logger

	accountAddress string
	apiPublic      string
}

// NewClient builds a Venue-M trading client.
func NewClient(baseURL, symbol, accountAddress, apiPublic string, signer *Signer, dryRun bool, logger *slog.Logger) *Client {
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
		http:           httpClient,
		signer:         signer,
		rl:             venue.NewTokenBucket(50, 10),
		symbol:         symbol,
		dryRun:         dryRun,
		logger:         logger.With("component", "maker_client"),
		accountAddress: accountAddress,
		apiPublic:      apiPublic,
	}
}

func (c *Client) signedRequest(ctx context.Context, method, path string, payload map[string]any) (*resty.Response, error) {
	sig, signed, err := c.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Account-Address", c.accountAddress).
		SetHeader("X-API-Public", c.apiPublic).
		SetHeader("X-Signature", sig).
		SetBody(signed)

	switch method {
	case http.MethodPost:
		return req.Post(path)
	case http.MethodDelete:
		return req.Delete(path)
	case http.MethodGet:
		return req.Get(path)
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
}

// PlaceLimit submits a resting limit order and returns the venue-assigned
// order ID. clientID correlates this order across placement, fills, and
// reconciliation.
func (c *Client) PlaceLimit(ctx context.Context, side types.Side, price, size decimal.Decimal, clientID string) (orderID string, err error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place limit order", "side", side, "price", price, "size", size, "client_id", clientID)
		return "dry-run-" + clientID, nil
	}
	if err := c.rl.Wait(ctx); err != nil {
		return "", err
	}

	payload := map[string]any{
		"symbol":    c.symbol,
		"side":      string(side),
		"price":     price.String(),
		"size":      size.String(),
		"client_id": clientID,
	}

	resp, err := c.signedRequest(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return "", fmt.Errorf("place limit: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		if isSignatureRejection(resp) {
			return "", fmt.Errorf("%w: venue rejected placement: status %d: %s", ErrSigningFailed, resp.StatusCode(), resp.String())
		}
		return "", fmt.Errorf("place limit: status %d: %s", resp.StatusCode(), resp.String())
	}

	var result struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("decode place limit response: %w", err)
	}
	return result.OrderID, nil
}

// isSignatureRejection reports whether the venue's error response
// indicates a rejected signature/auth, rather than a transient or
// order-level rejection (invalid price, insufficient margin, etc.).
func isSignatureRejection(resp *resty.Response) bool {
	if resp.StatusCode() == http.StatusUnauthorized {
		return true
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return false
	}
	switch body.Error {
	case "signature_verification_failed", "invalid_signature", "unauthorized":
		return true
	default:
		return false
	}
}

// Cancel cancels a single order by ID via REST (dual-cancellation path A).
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	payload := map[string]any{"symbol": c.symbol, "order_id": orderID}
	resp, err := c.signedRequest(ctx, http.MethodDelete, "/orders", payload)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelAll cancels every open order for the symbol via REST; the engine
// uses it as the safety-net cancel on shutdown.
func (c *Client) CancelAll(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders", "symbol", c.symbol)
		return nil
	}
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	payload := map[string]any{"symbol": c.symbol}
	resp, err := c.signedRequest(ctx, http.MethodDelete, "/orders/all", payload)
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetOpenOrders lists currently-resting orders for the symbol. Used by
// the REST-backup fill detector.
func (c *Client) GetOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var orders []OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", c.symbol).
		SetResult(&orders).
		Get("/orders/open")
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return orders, nil
}

// GetTradeHistory returns fills within the given lookback window,
// filtered to this symbol.
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
		SetQueryParam("address", c.accountAddress).
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

// NewClientID generates a fresh correlation id for an order or hedge.
func NewClientID() string {
	return uuid.NewString()
}
