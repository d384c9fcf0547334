package maker

import (
	"context"
	"log/slog"
	"time"

	"xemm-bot/pkg/types"
)

const restBackupPollInterval = 500 * time.Millisecond

// RESTBackupDetector polls open orders while the streaming fill detector
// is degraded. A previously-known ActiveOrder that disappears from the
// open-orders list without a prior cancel confirmation is treated as a
// fill and a synthetic FillEvent is emitted. The state machine's
// idempotent OnFillEvent handler prevents this from double-hedging if
// the stream later reconnects and replays the same fill.
type RESTBackupDetector struct {
	client  *Client
	feed    *WSFeed
	fillCh  chan types.FillEvent
	logger  *slog.Logger
}

// NewRESTBackupDetector builds the backup detector with its own fill
// channel, separate from the streaming feed's.
func NewRESTBackupDetector(client *Client, feed *WSFeed, logger *slog.Logger) *RESTBackupDetector {
	return &RESTBackupDetector{
		client: client,
		feed:   feed,
		fillCh: make(chan types.FillEvent, 16),
		logger: logger.With("component", "maker_rest_backup"),
	}
}

// FillEvents returns the channel of synthetic FillEvents this detector
// emits. Callers should select over both this and WSFeed.FillEvents().
func (d *RESTBackupDetector) FillEvents() <-chan types.FillEvent { return d.fillCh }

// Run polls every 500ms while the streaming feed reports itself
// degraded, tracking the order id returned by the caller's activeOrderID
// func against the venue's open-orders list.
func (d *RESTBackupDetector) Run(ctx context.Context, activeOrderID func() string) error {
	ticker := time.NewTicker(restBackupPollInterval)
	defer ticker.Stop()

	var lastKnownOpen = make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !d.feed.Degraded() {
				continue
			}
			orderID := activeOrderID()
			if orderID == "" {
				continue
			}

			open, err := d.client.GetOpenOrders(ctx)
			if err != nil {
				d.logger.Warn("rest backup poll failed", "error", err)
				continue
			}

			stillOpen := make(map[string]bool, len(open))
			for _, o := range open {
				stillOpen[o.OrderID] = true
			}

			if lastKnownOpen[orderID] && !stillOpen[orderID] {
				d.logger.Info("order disappeared from open-orders list, synthesizing fill", "order_id", orderID)
				select {
				case d.fillCh <- types.FillEvent{OrderID: orderID, Kind: types.FillFull, ReceivedAt: time.Now(), Source: "rest_fallback"}:
				default:
					d.logger.Warn("rest backup fill channel full, dropping synthetic fill")
				}
			}
			lastKnownOpen = stillOpen
		}
	}
}
