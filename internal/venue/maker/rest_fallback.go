package maker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/internal/market"
)

// bookResponse is the REST shape for GET /book.
type bookResponse struct {
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// RESTFallback polls Venue-M's REST book endpoint at a slow cadence and
// writes the same Cell the streaming feed writes (Task 4). This gives
// the cell dual-source redundancy: it always reflects whichever source
// updated most recently.
type RESTFallback struct {
	client   *Client
	interval time.Duration
	cell     *market.Cell
	logger   *slog.Logger
}

// NewRESTFallback builds the fallback poller.
func NewRESTFallback(client *Client, interval time.Duration, cell *market.Cell, logger *slog.Logger) *RESTFallback {
	return &RESTFallback{client: client, interval: interval, cell: cell, logger: logger.With("component", "maker_rest_fallback")}
}

// Run polls GET /book every interval until ctx is cancelled.
func (p *RESTFallback) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				p.logger.Warn("rest fallback poll failed", "error", err)
			}
		}
	}
}

func (p *RESTFallback) poll(ctx context.Context) error {
	if err := p.client.rl.Wait(ctx); err != nil {
		return err
	}

	var resp bookResponse
	r, err := p.client.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", p.client.symbol).
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
	p.cell.Set(bid, ask)
	return nil
}
