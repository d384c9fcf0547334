package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCellGetSet(t *testing.T) {
	t.Parallel()
	c := NewCell()

	snap := c.Get()
	if !snap.UpdatedAt.IsZero() {
		t.Error("new cell should have zero-value snapshot")
	}
	if !c.IsStale(time.Second) {
		t.Error("new cell should always be stale")
	}

	c.Set(decimal.NewFromFloat(99.5), decimal.NewFromFloat(100.5))
	got := c.Get()
	if !got.BestBid.Equal(decimal.NewFromFloat(99.5)) {
		t.Errorf("BestBid = %v, want 99.5", got.BestBid)
	}
	if !got.BestAsk.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("BestAsk = %v, want 100.5", got.BestAsk)
	}
	if c.IsStale(time.Minute) {
		t.Error("just-written cell should not be stale")
	}
}

func TestCellMultipleWriters(t *testing.T) {
	t.Parallel()
	c := NewCell()

	// Simulates the streaming feed and the REST fallback poller both
	// writing the same cell; whichever call happened most recently wins.
	c.Set(decimal.NewFromFloat(10), decimal.NewFromFloat(11))
	c.Set(decimal.NewFromFloat(20), decimal.NewFromFloat(21))

	got := c.Get()
	if !got.BestBid.Equal(decimal.NewFromFloat(20)) {
		t.Errorf("BestBid = %v, want 20 (most recent writer wins)", got.BestBid)
	}
}

func TestCellStaleAfterMaxAge(t *testing.T) {
	t.Parallel()
	c := NewCell()
	c.Set(decimal.NewFromFloat(1), decimal.NewFromFloat(2))

	time.Sleep(20 * time.Millisecond)
	if !c.IsStale(5 * time.Millisecond) {
		t.Error("cell should be stale after maxAge elapses")
	}
}
