// Package market provides the mutex-guarded top-of-book cells shared
// between the streaming feeds, the Venue-M REST fallback poller, the
// opportunity evaluator, and the order monitor.
//
// Each venue gets one Cell: a single-writer-switchable (bid, ask) pair.
// Only the Venue-T polling feed writes the Venue-T cell; the Venue-M cell can
// be written by either the streaming feed or the REST fallback poller,
// whichever source observed the most recent update.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/pkg/types"
)

// Cell is a mutex-guarded top-of-book snapshot for one venue.
type Cell struct {
	mu   sync.Mutex
	snap types.BookSnapshot
}

// NewCell returns an empty cell. Reads before the first Set report
// IsStale == true regardless of the max-age argument.
func NewCell() *Cell {
	return &Cell{}
}

// Set overwrites the snapshot with a fresh top-of-book read. Both the
// streaming feed and the REST fallback poller call Set on the same Cell
// for Venue-M; the cell always reflects whichever call happened most
// recently.
func (c *Cell) Set(bid, ask decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = types.BookSnapshot{BestBid: bid, BestAsk: ask, UpdatedAt: time.Now()}
}

// Get returns the current snapshot. The critical section is a single
// struct copy, so readers never meaningfully block writers.
func (c *Cell) Get() types.BookSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// IsStale reports whether the most recent write is older than maxAge, or
// whether the cell has never been written.
func (c *Cell) IsStale(maxAge time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.IsStale(maxAge)
}
