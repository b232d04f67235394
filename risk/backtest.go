package risk

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/rustyeddy/tradedesk/market"
)

// TradesFile is the fills file inside a backtest (or live ledger) directory.
const TradesFile = "trades.csv"

// Fill is one row of a trades.csv fills file. Older files name the
// instrument column "epic".
type Fill struct {
	Instrument string  `csv:"instrument"`
	Epic       string  `csv:"epic"`
	Direction  string  `csv:"direction"` // BUY or SELL
	Timestamp  string  `csv:"timestamp"`
	Price      float64 `csv:"price"`
	Size       float64 `csv:"size"`
	Reason     string  `csv:"reason"`
}

func (f Fill) instrument() market.Instrument {
	if f.Instrument != "" {
		return market.Instrument(f.Instrument)
	}
	return market.Instrument(f.Epic)
}

// RoundTripsFromFills pairs fills into round trips per instrument. The
// first fill on a flat instrument is an entry, the next one its exit.
// Entry and exit sizes must match. Unpaired trailing entries are dropped.
func RoundTripsFromFills(fills []Fill) ([]Trade, error) {
	type open struct {
		dir   market.Direction
		ts    string
		price float64
		size  float64
	}
	pending := make(map[market.Instrument]open)
	var trips []Trade

	for i, f := range fills {
		inst := f.instrument()
		entry, ok := pending[inst]
		if !ok {
			dir, err := market.DirectionFromOrderSide(f.Direction)
			if err != nil {
				return nil, fmt.Errorf("fill %d (%s): %w", i, inst, err)
			}
			pending[inst] = open{dir: dir, ts: f.Timestamp, price: f.Price, size: f.Size}
			continue
		}

		delete(pending, inst)
		if math.Abs(entry.size-f.Size) > 1e-9 {
			return nil, fmt.Errorf("size mismatch for %s: entry %v exit %v", inst, entry.size, f.Size)
		}

		reason := f.Reason
		if reason == "" {
			reason = "unknown"
		}
		trips = append(trips, Trade{
			Instrument: inst,
			Direction:  entry.dir,
			EntryTime:  entry.ts,
			ExitTime:   f.Timestamp,
			EntryPrice: entry.price,
			ExitPrice:  f.Price,
			Size:       f.Size,
			PnL:        entry.dir.Sign() * (f.Price - entry.price) * f.Size,
			ExitReason: reason,
		})
	}
	return trips, nil
}

// LoadBacktest replaces the windows of every instrument found in
// dir/trades.csv with its most recent round trips and resets the cache.
func (t *RollingTracker) LoadBacktest(dir string) error {
	path := filepath.Join(dir, TradesFile)
	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s not found in %s: %w", TradesFile, dir, err)
		}
		return err
	}
	defer fh.Close()

	var fills []Fill
	if err := gocsv.UnmarshalFile(fh, &fills); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(fills) == 0 {
		return fmt.Errorf("no trades found in %s", path)
	}

	trips, err := RoundTripsFromFills(fills)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	byInst := make(map[market.Instrument][]Trade)
	for _, tr := range trips {
		byInst[tr.Instrument] = append(byInst[tr.Instrument], tr)
	}
	for inst, trades := range byInst {
		if len(trades) > t.windowSize {
			trades = trades[len(trades)-t.windowSize:]
		}
		w := &window{maxSize: t.windowSize}
		for _, tr := range trades {
			w.add(tr)
		}
		t.windows[inst] = w
	}

	t.invalidate()
	return nil
}
