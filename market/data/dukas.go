// Package data downloads historical ticks from the Dukascopy datafeed and
// turns them into candles for replay.
package data

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradedesk/market"
)

const DefaultBase = "https://datafeed.dukascopy.com/datafeed"

// recordSize is one bi5 tick: ms offset, ask, bid (uint32) then ask and
// bid volume (float32), big endian.
const recordSize = 20

// Tick is one decoded datafeed quote.
type Tick struct {
	Time   time.Time
	Bid    float64
	Ask    float64
	BidVol float64
	AskVol float64
}

func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// Symbol maps an instrument name (EUR_USD) to a datafeed symbol (EURUSD).
func Symbol(inst market.Instrument) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(string(inst)), "_", ""))
}

// PointSize is the price unit of the integer quotes in a bi5 file.
func PointSize(symbol string) float64 {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return 1e-3
	}
	return 1e-5
}

// HourURL builds the tick file URL for the hour containing t. The datafeed
// numbers months from zero.
func HourURL(base, symbol string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		strings.TrimRight(base, "/"),
		symbol,
		t.Year(), int(t.Month())-1, t.Day(), t.Hour())
}

// DecodeTicks decompresses a bi5 payload. An empty payload is an hour
// without quotes.
func DecodeTicks(payload []byte, hour time.Time, point float64) ([]Tick, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	r, err := lzma.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open lzma stream: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if len(raw)%recordSize != 0 {
		return nil, fmt.Errorf("truncated tick data: %d bytes", len(raw))
	}

	hour = hour.UTC().Truncate(time.Hour)
	ticks := make([]Tick, 0, len(raw)/recordSize)
	for off := 0; off < len(raw); off += recordSize {
		rec := raw[off : off+recordSize]
		ms := binary.BigEndian.Uint32(rec[0:4])
		ask := binary.BigEndian.Uint32(rec[4:8])
		bid := binary.BigEndian.Uint32(rec[8:12])
		askVol := math.Float32frombits(binary.BigEndian.Uint32(rec[12:16]))
		bidVol := math.Float32frombits(binary.BigEndian.Uint32(rec[16:20]))
		ticks = append(ticks, Tick{
			Time:   hour.Add(time.Duration(ms) * time.Millisecond),
			Ask:    float64(ask) * point,
			Bid:    float64(bid) * point,
			AskVol: float64(askVol),
			BidVol: float64(bidVol),
		})
	}
	return ticks, nil
}

// Aggregate buckets ticks into mid-price candles of the given period.
// Ticks must be in time order. Periods without ticks produce no candle.
func Aggregate(ticks []Tick, period time.Duration) []market.Candle {
	var out []market.Candle
	for _, t := range ticks {
		start := t.Time.UTC().Truncate(period)
		px := t.Mid()
		n := len(out)
		if n == 0 || !out[n-1].Time.Equal(start) {
			out = append(out, market.Candle{
				Time: start, Open: px, High: px, Low: px, Close: px,
			})
			n++
		}
		c := &out[n-1]
		c.High = math.Max(c.High, px)
		c.Low = math.Min(c.Low, px)
		c.Close = px
		c.Volume += t.AskVol + t.BidVol
		c.TickCount++
	}
	return out
}

// Fetcher downloads tick hours. Raw bi5 files are kept under CacheDir when
// it is set and reused on later runs.
type Fetcher struct {
	Base     string
	Client   *http.Client
	CacheDir string
	Workers  int
	// Delay is slept before each download.
	Delay time.Duration
}

func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{
		Base:     DefaultBase,
		Client:   &http.Client{Timeout: 45 * time.Second},
		CacheDir: cacheDir,
		Workers:  4,
		Delay:    50 * time.Millisecond,
	}
}

func (f *Fetcher) cachePath(symbol string, hour time.Time) string {
	return filepath.Join(f.CacheDir, symbol,
		fmt.Sprintf("%04d", hour.Year()),
		fmt.Sprintf("%02d", int(hour.Month())),
		fmt.Sprintf("%02d", hour.Day()),
		fmt.Sprintf("%02dh_ticks.bi5", hour.Hour()))
}

var errNotFound = errors.New("tick hour not found")

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Delay):
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "tradedesk-datafeed/1.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: http status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func writeAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Hour returns the ticks of one hour. Hours the datafeed does not have
// (weekends, the future) return no ticks and no error.
func (f *Fetcher) Hour(ctx context.Context, symbol string, hour time.Time) ([]Tick, error) {
	hour = hour.UTC().Truncate(time.Hour)

	var cache string
	if f.CacheDir != "" {
		cache = f.cachePath(symbol, hour)
		if b, err := os.ReadFile(cache); err == nil {
			return DecodeTicks(b, hour, PointSize(symbol))
		}
	}

	b, err := f.download(ctx, HourURL(f.Base, symbol, hour))
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ticks, err := DecodeTicks(b, hour, PointSize(symbol))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", symbol, hour.Format("2006-01-02T15"), err)
	}
	if cache != "" {
		if err := writeAtomic(cache, b); err != nil {
			log.Warn().Err(err).Str("component", "datafeed").Str("path", cache).Msg("could not cache tick file")
		}
	}
	return ticks, nil
}

// Candles fetches every hour in [from, to) with up to Workers parallel
// downloads and aggregates the ticks into candles of period.
func (f *Fetcher) Candles(ctx context.Context, inst market.Instrument, from, to time.Time, period time.Duration) ([]market.Candle, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	from = from.UTC().Truncate(time.Hour)
	to = to.UTC()
	if !to.After(from) {
		return nil, errors.New("end must be after start")
	}

	var hours []time.Time
	for h := from; h.Before(to); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}

	symbol := Symbol(inst)
	results := make([][]Tick, len(hours))

	workers := f.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, h := range hours {
		i, h := i, h
		g.Go(func() error {
			ticks, err := f.Hour(gctx, symbol, h)
			if err != nil {
				return fmt.Errorf("fetch %s %s: %w", symbol, h.Format("2006-01-02T15"), err)
			}
			results[i] = ticks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Tick
	for _, ts := range results {
		all = append(all, ts...)
	}
	log.Debug().
		Str("component", "datafeed").
		Str("symbol", symbol).
		Int("hours", len(hours)).
		Int("ticks", len(all)).
		Msg("fetched ticks")
	return Aggregate(all, period), nil
}
