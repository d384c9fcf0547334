package taker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"xemm-bot/internal/market"
	"xemm-bot/internal/venue"
)

const pollInterval = 100 * time.Millisecond

// bookResponse is the L2-snapshot REST shape Venue-T's request/response
// model returns.
type bookResponse struct {
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// Feed polls Venue-T's L2 snapshot endpoint at a fixed ~100ms cadence
// instead of streaming, since Venue-T's book channel is request/response
// rather than push — the cell abstraction downstream is identical to
// Venue-M's, so the rest of the bot is unaware of the difference.
type Feed struct {
	http    *resty.Client
	cell    *market.Cell
	symbol  string
	rl      *venue.TokenBucket
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewFeed builds the polling book feed. reconnectAttempts is reused here
// as the consecutive-failure threshold before the circuit breaker trips
// and the feed reports itself fatally degraded via onFatal, mirroring
// the streaming feed's reconnection policy even though there is no
// connection to reconnect.
func NewFeed(baseURL, symbol string, reconnectAttempts int, cell *market.Cell, logger *slog.Logger, onFatal func(error)) *Feed {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(2 * time.Second)

	f := &Feed{
		http:   httpClient,
		cell:   cell,
		symbol: symbol,
		rl:     venue.NewTokenBucket(50, 20),
		logger: logger.With("component", "taker_book_feed"),
	}
	f.breaker = venue.NewFeedBreaker("taker_book_feed", reconnectAttempts, func() {
		if onFatal != nil {
			onFatal(fmt.Errorf("taker book feed: exhausted %d consecutive poll failures", reconnectAttempts))
		}
	})
	return f
}

// Run polls every pollInterval until ctx is cancelled or the circuit
// breaker trips.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, err := f.breaker.Execute(func() (struct{}, error) {
				return struct{}{}, f.poll(ctx)
			})
			if err != nil {
				f.logger.Debug("taker book poll failed", "error", err)
			}
			if f.breaker.State() == gobreaker.StateOpen {
				return fmt.Errorf("taker book feed circuit open: %w", err)
			}
		}
	}
}

func (f *Feed) poll(ctx context.Context) error {
	if err := f.rl.Wait(ctx); err != nil {
		return err
	}

	var resp bookResponse
	r, err := f.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", f.symbol).
		SetResult(&resp).
		Get("/book")
	if err != nil {
		return fmt.Errorf("poll book: %w", err)
	}
	if r.StatusCode() != http.StatusOK {
		return fmt.Errorf("poll book: status %d: %s", r.StatusCode(), r.String())
	}

	bid, errB := decimal.NewFromString(resp.BestBid)
	ask, errA := decimal.NewFromString(resp.BestAsk)
	if errB != nil || errA != nil {
		return fmt.Errorf("parse book prices: bid=%v ask=%v", errB, errA)
	}
	f.cell.Set(bid, ask)
	return nil
}
