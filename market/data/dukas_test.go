package data

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"
)

type rawTick struct {
	ms       uint32
	ask, bid uint32
	av, bv   float32
}

func encodeBI5(t *testing.T, ticks []rawTick) []byte {
	t.Helper()
	var raw bytes.Buffer
	for _, tk := range ticks {
		var rec [recordSize]byte
		binary.BigEndian.PutUint32(rec[0:4], tk.ms)
		binary.BigEndian.PutUint32(rec[4:8], tk.ask)
		binary.BigEndian.PutUint32(rec[8:12], tk.bid)
		binary.BigEndian.PutUint32(rec[12:16], math.Float32bits(tk.av))
		binary.BigEndian.PutUint32(rec[16:20], math.Float32bits(tk.bv))
		raw.Write(rec[:])
	}

	var out bytes.Buffer
	w, err := lzma.NewWriter(&out)
	require.NoError(t, err)
	_, err = w.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return out.Bytes()
}

var hour13 = time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC)

func TestHourURL(t *testing.T) {
	t.Parallel()

	got := HourURL("https://feed.example/datafeed/", "EURUSD", hour13.Add(25*time.Minute))
	assert.Equal(t, "https://feed.example/datafeed/EURUSD/2026/00/05/13h_ticks.bi5", got)
}

func TestSymbolAndPointSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "EURUSD", Symbol("EUR_USD"))
	assert.Equal(t, "USDJPY", Symbol(" usd_jpy "))
	assert.InDelta(t, 1e-5, PointSize("EURUSD"), 1e-12)
	assert.InDelta(t, 1e-3, PointSize("USDJPY"), 1e-12)
}

func TestDecodeTicks(t *testing.T) {
	t.Parallel()

	payload := encodeBI5(t, []rawTick{
		{ms: 0, ask: 110020, bid: 110000, av: 1.5, bv: 2},
		{ms: 90_000, ask: 110120, bid: 110100, av: 1, bv: 1},
	})

	ticks, err := DecodeTicks(payload, hour13.Add(10*time.Minute), 1e-5)
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.True(t, ticks[0].Time.Equal(hour13))
	assert.True(t, ticks[1].Time.Equal(hour13.Add(90*time.Second)))
	assert.InDelta(t, 1.1002, ticks[0].Ask, 1e-9)
	assert.InDelta(t, 1.1000, ticks[0].Bid, 1e-9)
	assert.InDelta(t, 1.1001, ticks[0].Mid(), 1e-9)
	assert.InDelta(t, 1.5, ticks[0].AskVol, 1e-6)

	empty, err := DecodeTicks(nil, hour13, 1e-5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeTicks([]byte("not lzma"), hour13, 1e-5)
	assert.Error(t, err)
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	at := func(m int, mid float64) Tick {
		return Tick{Time: hour13.Add(time.Duration(m) * time.Minute), Bid: mid, Ask: mid, AskVol: 1, BidVol: 1}
	}
	ticks := []Tick{
		at(1, 1.10), at(5, 1.12), at(10, 1.09), at(14, 1.11),
		at(16, 1.20),
		at(50, 1.30), at(55, 1.25),
	}

	cs := Aggregate(ticks, 15*time.Minute)
	require.Len(t, cs, 3)

	assert.True(t, cs[0].Time.Equal(hour13))
	assert.InDelta(t, 1.10, cs[0].Open, 1e-9)
	assert.InDelta(t, 1.12, cs[0].High, 1e-9)
	assert.InDelta(t, 1.09, cs[0].Low, 1e-9)
	assert.InDelta(t, 1.11, cs[0].Close, 1e-9)
	assert.InDelta(t, 8, cs[0].Volume, 1e-9)
	assert.Equal(t, 4, cs[0].TickCount)

	assert.True(t, cs[1].Time.Equal(hour13.Add(15*time.Minute)))
	assert.Equal(t, 1, cs[1].TickCount)

	assert.True(t, cs[2].Time.Equal(hour13.Add(45*time.Minute)))
	assert.InDelta(t, 1.30, cs[2].Open, 1e-9)
	assert.InDelta(t, 1.25, cs[2].Close, 1e-9)

	assert.Empty(t, Aggregate(nil, time.Hour))
}

func newFeed(t *testing.T, files map[string][]byte) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetcherCandles(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"/EURUSD/2026/00/05/13h_ticks.bi5": encodeBI5(t, []rawTick{
			{ms: 0, ask: 110000, bid: 110000},
			{ms: 60_000, ask: 110200, bid: 110200},
		}),
		"/EURUSD/2026/00/05/14h_ticks.bi5": {},
		"/EURUSD/2026/00/05/15h_ticks.bi5": encodeBI5(t, []rawTick{
			{ms: 0, ask: 110300, bid: 110300},
		}),
	}
	srv, hits := newFeed(t, files)

	cache := t.TempDir()
	f := NewFetcher(cache)
	f.Base = srv.URL
	f.Delay = 0

	from := hour13
	to := hour13.Add(4 * time.Hour) // 16h is missing on the feed
	cs, err := f.Candles(context.Background(), "EUR_USD", from, to, time.Hour)
	require.NoError(t, err)
	require.Len(t, cs, 2)

	assert.True(t, cs[0].Time.Equal(hour13))
	assert.InDelta(t, 1.1, cs[0].Open, 1e-9)
	assert.InDelta(t, 1.102, cs[0].Close, 1e-9)
	assert.True(t, cs[1].Time.Equal(hour13.Add(2*time.Hour)))
	assert.Equal(t, int64(4), atomic.LoadInt64(hits))

	assert.FileExists(t, filepath.Join(cache, "EURUSD", "2026", "01", "05", "13h_ticks.bi5"))
	assert.FileExists(t, filepath.Join(cache, "EURUSD", "2026", "01", "05", "14h_ticks.bi5"))
	assert.NoFileExists(t, filepath.Join(cache, "EURUSD", "2026", "01", "05", "16h_ticks.bi5"))

	// Cached hours are not downloaded again; the missing one is retried.
	_, err = f.Candles(context.Background(), "EUR_USD", from, to, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(5), atomic.LoadInt64(hits))
}

func TestFetcherServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher("")
	f.Base = srv.URL
	f.Delay = 0

	_, err := f.Candles(context.Background(), "EUR_USD", hour13, hour13.Add(time.Hour), time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFetcherRejectsBadRange(t *testing.T) {
	t.Parallel()

	f := NewFetcher("")
	_, err := f.Candles(context.Background(), "EUR_USD", hour13, hour13, time.Hour)
	assert.Error(t, err)
	_, err = f.Candles(context.Background(), "EUR_USD", hour13, hour13.Add(time.Hour), 0)
	assert.Error(t, err)
}

func TestFetcherUsesCacheOffline(t *testing.T) {
	t.Parallel()

	cache := t.TempDir()
	f := NewFetcher(cache)
	f.Base = "http://127.0.0.1:1"
	f.Delay = 0

	p := f.cachePath("EURUSD", hour13)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, encodeBI5(t, []rawTick{{ms: 0, ask: 110000, bid: 110000}}), 0o644))

	ticks, err := f.Hour(context.Background(), "EURUSD", hour13)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
}
