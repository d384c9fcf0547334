package venue

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewFeedBreaker wraps a feed's connection step in a circuit breaker.
// After reconnectAttempts consecutive failures (counts are never cleared
// by time, only by a success), the breaker opens and onOpen is invoked
// on that transition — the feed uses
// this to drive the state machine to Error, per the reconnect-exhaustion
// rule every streaming client follows.
func NewFeedBreaker(name string, reconnectAttempts int, onOpen func()) *gobreaker.CircuitBreaker[struct{}] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0, // never clears counts on its own; only Timeout does
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(reconnectAttempts)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("feed circuit breaker state change", "feed", name, "from", from, "to", to)
			if to == gobreaker.StateOpen && onOpen != nil {
				onOpen()
			}
		},
	}
	return gobreaker.NewCircuitBreaker[struct{}](settings)
}
