// Package types defines shared data structures used across all packages.
//
// This is the common vocabulary for the bot — venue identifiers, order
// intents, book snapshots, fill events, and the bot's lifecycle state. It
// has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side, used when deriving the hedge direction
// from the maker fill side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// Venue identifies which leg of the cycle a client, signer, or book
// snapshot belongs to.
type Venue string

const (
	VenueMaker Venue = "maker" // Venue-M: resting limit order leg
	VenueTaker Venue = "taker" // Venue-T: hedging market order leg
)

// BotState enumerates the single-cycle lifecycle. Exactly one value is
// authoritative at any instant; Error is a terminal fault state reachable
// from any other state.
type BotState string

const (
	StateIdle        BotState = "idle"
	StateOrderPlaced BotState = "order_placed"
	StateFilled      BotState = "filled"
	StateHedging     BotState = "hedging"
	StateComplete    BotState = "complete"
	StateError       BotState = "error"
)

// FillKind classifies an order-update message from the maker venue.
type FillKind string

const (
	FillPartial   FillKind = "partial_fill"
	FillFull      FillKind = "full_fill"
	FillCancelled FillKind = "cancelled"
	FillRejected  FillKind = "rejected"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo carries the fixed trading parameters for the one symbol this
// process trades, loaded once from config at startup.
type MarketInfo struct {
	Symbol       string          // e.g. "BTC-PERP", identical on both venues
	TickSize     decimal.Decimal // minimum price increment on Venue-M
	LotSize      decimal.Decimal // minimum size increment on Venue-M
	MakerFeeBps  decimal.Decimal // Venue-M maker fee, in basis points
	TakerFeeBps  decimal.Decimal // Venue-T taker fee, in basis points
	ProfitRate   decimal.Decimal // target profit rate, in basis points
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// BookSnapshot is the top-of-book view of one venue's market, refreshed by
// a streaming feed and/or a REST fallback poller. Zero value means no
// quote has been observed yet.
type BookSnapshot struct {
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	UpdatedAt time.Time
}

// IsStale reports whether the snapshot is older than maxAge, or has never
// been populated at all.
func (b BookSnapshot) IsStale(maxAge time.Duration) bool {
	if b.UpdatedAt.IsZero() {
		return true
	}
	return time.Since(b.UpdatedAt) > maxAge
}

// Mid returns the midpoint of bid and ask. Callers must check IsStale
// first; Mid of a zero-value snapshot is meaningless.
func (b BookSnapshot) Mid() decimal.Decimal {
	return b.BestBid.Add(b.BestAsk).Div(decimal.NewFromInt(2))
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderIntent is the evaluator's proposed resting order on Venue-M, before
// it has been submitted.
type OrderIntent struct {
	ClientID       string // correlation id, generated once per intent
	Side           Side
	Price          decimal.Decimal
	Size           decimal.Decimal
	ExpectedProfit decimal.Decimal // expected profit rate in bps at computation time
	GeneratedAt    time.Time
}

// ActiveOrder is the single resting order the bot may have live on
// Venue-M at any instant. The zero value (empty OrderID) means no order
// is resting.
type ActiveOrder struct {
	OrderID     string
	ClientID    string
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	FilledSize  decimal.Decimal
	ExpectedBps decimal.Decimal
	PlacedAt    time.Time
}

// Live reports whether this value represents an order actually resting
// on the book.
func (a ActiveOrder) Live() bool {
	return a.OrderID != ""
}

// FillEvent is emitted by the fill detector (streaming or REST fallback)
// whenever an order-update message classifies as a fill, cancellation, or
// rejection.
type FillEvent struct {
	OrderID    string
	Kind       FillKind
	FillPrice  decimal.Decimal
	FillSize   decimal.Decimal
	ReceivedAt time.Time
	Source     string // "ws" or "rest_fallback", for logging/debugging only
}

// ————————————————————————————————————————————————————————————————————————
// Hedge & reconciliation
// ————————————————————————————————————————————————————————————————————————

// TradeReconciliation is the weighted-average view of a cycle's trades on
// both venues, computed once the hedge executor believes both legs have
// settled.
type TradeReconciliation struct {
	MakerAvgPrice  decimal.Decimal
	MakerNotional  decimal.Decimal
	MakerFee       decimal.Decimal
	TakerAvgPrice  decimal.Decimal
	TakerNotional  decimal.Decimal
	TakerFee       decimal.Decimal
	GrossProfit    decimal.Decimal
	NetProfit      decimal.Decimal
	NetProfitBps   decimal.Decimal
	UsedFallbackFee bool // true if a venue's trade history was empty and theoretical fees were substituted
}
