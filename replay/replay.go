// Package replay drives the portfolio loop over recorded candles. Candles
// are fed into the paper broker one at a time so warmup, reconciliation
// and order placement behave exactly as they would live.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/portfolio"
)

// row is one line of a candle file:
//
//	time,open,high,low,close,volume
//
// time is RFC3339. volume may be omitted.
type row struct {
	Time   string  `csv:"time"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

// LoadCandles reads a candle file and returns its candles sorted by time.
func LoadCandles(path string) ([]market.Candle, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var rows []row
	if err := gocsv.UnmarshalFile(fh, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]market.Candle, 0, len(rows))
	for i, r := range rows {
		ts := strings.TrimSpace(r.Time)
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad time %q: %w", path, i+1, ts, err)
		}
		if r.High < r.Low {
			return nil, fmt.Errorf("%s row %d: high %v below low %v", path, i+1, r.High, r.Low)
		}
		out = append(out, market.Candle{
			Time:   t.UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// SaveCandles writes candles in the format LoadCandles reads.
func SaveCandles(path string, candles []market.Candle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	rows := make([]row, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, row{
			Time:   c.Time.UTC().Format(time.RFC3339),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}

	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&rows, fh); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadDir reads dir/<INSTRUMENT>.csv for every instrument.
func LoadDir(dir string, instruments []market.Instrument) (map[market.Instrument][]market.Candle, error) {
	series := make(map[market.Instrument][]market.Candle, len(instruments))
	for _, inst := range instruments {
		cs, err := LoadCandles(filepath.Join(dir, string(inst)+".csv"))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", inst, err)
		}
		series[inst] = cs
	}
	return series, nil
}

// Feed is the paper broker side of a replay.
type Feed interface {
	SetCandles(inst market.Instrument, candles []market.Candle)
	AppendCandle(inst market.Instrument, c market.Candle)
}

// Driver is the portfolio side of a replay.
type Driver interface {
	Start(ctx context.Context) market.InstrumentSet
	Dispatch(ctx context.Context, ev portfolio.CandleCloseEvent) error
}

type Options struct {
	Period string
	// Warmup candles per instrument are loaded into the feed before the
	// driver starts and are never dispatched.
	Warmup int
}

// Stats summarises a finished replay.
type Stats struct {
	Restored   int
	Dispatched int
	Failed     int
	First      time.Time
	Last       time.Time
}

var ErrNoCandles = errors.New("replay: no candles to dispatch")

type tick struct {
	inst   market.Instrument
	candle market.Candle
}

// Run primes the feed with the warmup candles, starts the driver and then
// dispatches the remaining candles of every instrument in time order.
// Candles sharing a timestamp are dispatched in instrument order. A
// dispatch error is counted and logged; only ctx stops the replay early.
func Run(ctx context.Context, feed Feed, d Driver, series map[market.Instrument][]market.Candle, opts Options) (Stats, error) {
	if opts.Period == "" {
		return Stats{}, errors.New("replay: period is required")
	}
	if opts.Warmup < 0 {
		return Stats{}, errors.New("replay: warmup must not be negative")
	}

	insts := make([]market.Instrument, 0, len(series))
	for inst := range series {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i] < insts[j] })

	var ticks []tick
	for _, inst := range insts {
		cs := series[inst]
		n := opts.Warmup
		if n > len(cs) {
			n = len(cs)
		}
		feed.SetCandles(inst, cs[:n])
		for _, c := range cs[n:] {
			ticks = append(ticks, tick{inst: inst, candle: c})
		}
	}
	if len(ticks) == 0 {
		return Stats{}, ErrNoCandles
	}
	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].candle.Time.Before(ticks[j].candle.Time)
	})

	lg := log.With().Str("component", "replay").Logger()

	st := Stats{First: ticks[0].candle.Time}
	st.Restored = len(d.Start(ctx))

	for _, tk := range ticks {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		feed.AppendCandle(tk.inst, tk.candle)
		ev := portfolio.CandleCloseEvent{Instrument: tk.inst, Period: opts.Period, Candle: tk.candle}
		if err := d.Dispatch(ctx, ev); err != nil {
			st.Failed++
			lg.Warn().Err(err).Str("instrument", string(tk.inst)).Time("time", tk.candle.Time).Msg("dispatch failed")
		}
		st.Dispatched++
		st.Last = tk.candle.Time
	}

	lg.Info().
		Int("dispatched", st.Dispatched).
		Int("failed", st.Failed).
		Time("first", st.First).
		Time("last", st.Last).
		Msg("replay finished")
	return st, nil
}
