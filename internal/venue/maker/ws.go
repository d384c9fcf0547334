package maker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"xemm-bot/internal/market"
	"xemm-bot/internal/venue"
	"xemm-bot/pkg/types"
)

const (
	readTimeout  = 30 * time.Second // server heartbeat timeout per the reconnection policy
	writeTimeout = 10 * time.Second
	eventBuffer  = 256
)

// bookWireEvent and orderWireEvent are the minimal JSON shapes this feed
// needs out of Venue-M's market and user channels.
type bookWireEvent struct {
	EventType string `json:"event_type"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
}

type orderWireEvent struct {
	EventType  string `json:"event_type"` // always "order"
	OrderID    string `json:"order_id"`
	Kind       string `json:"kind"` // "partial_fill", "full_fill", "cancelled", "rejected"
	FillPrice  string `json:"fill_price"`
	FillSize   string `json:"fill_size"`
}

// WSFeed manages the Venue-M WebSocket connection: market-channel book
// ticks feed the shared Cell, user-channel order-update messages feed
// the fill detector. Reconnection follows the uniform policy every
// streaming client in this bot follows: first retry at 1s, then
// min(2^(n-1), 30)s; heartbeat every pingIntervalSecs; after
// reconnectAttempts consecutive failures the circuit breaker trips and
// the feed reports itself fatally degraded.
type WSFeed struct {
	url               string
	pingInterval      time.Duration
	reconnectAttempts int

	connMu sync.Mutex
	conn   *websocket.Conn

	cell *market.Cell

	orderCh chan types.FillEvent

	degradedMu sync.RWMutex
	degraded   bool

	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewWSFeed builds a feed that writes book ticks into cell and emits
// FillEvents derived from order-update messages on orderCh. onFatal is
// invoked once if reconnectAttempts is exhausted.
func NewWSFeed(wsURL string, pingIntervalSecs, reconnectAttempts int, cell *market.Cell, logger *slog.Logger, onFatal func(error)) *WSFeed {
	f := &WSFeed{
		url:               wsURL,
		pingInterval:      time.Duration(pingIntervalSecs) * time.Second,
		reconnectAttempts: reconnectAttempts,
		cell:              cell,
		orderCh:           make(chan types.FillEvent, eventBuffer),
		logger:            logger.With("component", "maker_ws"),
	}
	f.breaker = venue.NewFeedBreaker("maker_ws", reconnectAttempts, func() {
		if onFatal != nil {
			onFatal(fmt.Errorf("maker ws feed: exhausted %d reconnect attempts", reconnectAttempts))
		}
	})
	return f
}

// FillEvents returns the channel of FillEvents derived from the user
// order-update stream.
func (f *WSFeed) FillEvents() <-chan types.FillEvent { return f.orderCh }

// Degraded reports whether the feed is currently disconnected — the
// REST-backup fill detector watches this; the REST fallback poller runs
// regardless of it.
func (f *WSFeed) Degraded() bool {
	f.degradedMu.RLock()
	defer f.degradedMu.RUnlock()
	return f.degraded
}

func (f *WSFeed) setDegraded(v bool) {
	f.degradedMu.Lock()
	f.degraded = v
	f.degradedMu.Unlock()
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled or the circuit breaker trips.
func (f *WSFeed) Run(ctx context.Context) error {
	attempt := 0

	for {
		_, err := f.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, f.connectAndRead(ctx)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.breaker.State() == gobreaker.StateOpen {
			f.setDegraded(true)
			return fmt.Errorf("maker ws feed circuit open: %w", err)
		}

		f.setDegraded(true)
		attempt++
		// First retry after 1s, then min(2^(n-1), 30)s — computed from the
		// attempt we're about to sleep for, not the one we just finished.
		backoff := time.Duration(math.Min(math.Pow(2, float64(attempt-1)), 30)) * time.Second
		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "attempt", attempt, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	f.setDegraded(false)

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("maker websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			// The dial succeeded, so this session counts as a success for
			// the breaker; only failed connection attempts count toward
			// reconnectAttempts.
			f.logger.Warn("maker websocket read failed", "error", err)
			return nil
		}
		f.dispatch(msg)
	}
}

func (f *WSFeed) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message")
		return
	}

	switch envelope.EventType {
	case "book":
		var evt bookWireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		bid, errB := decimal.NewFromString(evt.BestBid)
		ask, errA := decimal.NewFromString(evt.BestAsk)
		if errB != nil || errA != nil {
			f.logger.Error("parse book prices", "bid_err", errB, "ask_err", errA)
			return
		}
		f.cell.Set(bid, ask)

	case "order":
		var evt orderWireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order event", "error", err)
			return
		}
		fe := types.FillEvent{
			OrderID:    evt.OrderID,
			Kind:       types.FillKind(evt.Kind),
			ReceivedAt: time.Now(),
			Source:     "ws",
		}
		if evt.FillPrice != "" {
			fe.FillPrice, _ = decimal.NewFromString(evt.FillPrice)
		}
		if evt.FillSize != "" {
			fe.FillSize, _ = decimal.NewFromString(evt.FillSize)
		}
		select {
		case f.orderCh <- fe:
		default:
			f.logger.Warn("order channel full, dropping fill event", "order_id", evt.OrderID)
		}

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// CancelAllWS issues dual-cancellation path B: a signed cancel-all
// message sent directly over the already-open WebSocket connection,
// correlated by request id. ~5-10ms latency, no REST rate limits.
func (f *WSFeed) CancelAllWS(symbol string, signer *Signer) error {
	requestID := fmt.Sprintf("cancel-all-%d", time.Now().UnixNano())
	payload := map[string]any{
		"action":     "cancel_all",
		"symbol":     symbol,
		"request_id": requestID,
	}
	sig, signed, err := signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign ws cancel-all: %w", err)
	}

	msg := map[string]any{
		"type":      "cancel_all",
		"signature": sig,
		"payload":   json.RawMessage(signed),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal ws cancel-all: %w", err)
	}
	return f.writeMessage(websocket.TextMessage, body)
}
