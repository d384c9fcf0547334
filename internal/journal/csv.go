// Package journal persists the append-only trade-history record for
// each completed cycle, one CSV row per cycle, grounded on the
// crash-safety discipline of an atomic-write position store: every
// appended row is flushed and fsynced before it is considered durable
// (the header is flushed only).
package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"xemm-bot/pkg/types"
)

var header = []string{
	"timestamp", "symbol",
	"maker_side", "maker_price", "maker_size", "maker_notional", "maker_fee",
	"taker_price", "taker_size", "taker_notional", "taker_fee",
	"expected_profit_bps", "actual_profit_bps", "actual_profit_usd", "gross_pnl",
}

// Record is one completed cycle's trade-history row.
type Record struct {
	Timestamp          time.Time
	Symbol             string
	MakerSide          types.Side
	MakerPrice         decimal.Decimal
	MakerSize          decimal.Decimal
	MakerNotional      decimal.Decimal
	MakerFee           decimal.Decimal
	TakerPrice         decimal.Decimal
	TakerSize          decimal.Decimal
	TakerNotional      decimal.Decimal
	TakerFee           decimal.Decimal
	ExpectedProfitBps  decimal.Decimal
	ActualProfitBps    decimal.Decimal
	ActualProfitUSD    decimal.Decimal
	GrossPnL           decimal.Decimal
}

// Writer appends Records to a CSV file, writing the header once if the
// file is new. All operations are mutex-protected since the hedge
// executor is the only writer but Close may race a final flush.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// Open creates (or appends to) the trade-history CSV at dir/trades.csv.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	path := filepath.Join(dir, "trades.csv")

	_, statErr := os.Stat(path)
	needsHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	w := csv.NewWriter(f)
	writer := &Writer{file: f, w: w}
	if needsHeader {
		if err := writer.w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write journal header: %w", err)
		}
		writer.w.Flush()
		if err := writer.w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush journal header: %w", err)
		}
	}
	return writer, nil
}

// Append writes one completed cycle's record and fsyncs it, so a crash
// immediately after a hedge cannot silently lose the row.
func (w *Writer) Append(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	row := []string{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Symbol,
		string(r.MakerSide),
		r.MakerPrice.String(),
		r.MakerSize.String(),
		r.MakerNotional.String(),
		r.MakerFee.String(),
		r.TakerPrice.String(),
		r.TakerSize.String(),
		r.TakerNotional.String(),
		r.TakerFee.String(),
		r.ExpectedProfitBps.String(),
		r.ActualProfitBps.String(),
		r.ActualProfitUSD.String(),
		r.GrossPnL.String(),
	}
	if err := w.w.Write(row); err != nil {
		return fmt.Errorf("write journal row: %w", err)
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return fmt.Errorf("flush journal row: %w", err)
	}
	return w.file.Sync()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Flush()
	return w.file.Close()
}
