package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradedesk/market"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(tradesPath, equityPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, [][]string{TradeFillHeader}, readCSV(t, tradesPath))
	assert.Equal(t, [][]string{EquityHeader}, readCSV(t, equityPath))
}

func TestCSVJournalRecordTradeWritesFills(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")

	j, err := NewCSV(tradesPath, filepath.Join(dir, "equity.csv"))
	require.NoError(t, err)

	open := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	closeT := time.Date(2024, 1, 2, 4, 5, 6, 0, time.UTC)

	require.NoError(t, j.RecordTrade(TradeRecord{
		TradeID:    "T1",
		Instrument: "EUR_USD",
		Direction:  market.Short,
		Size:       123.456,
		EntryPrice: 1.2345678,
		ExitPrice:  1.1456789,
		OpenTime:   open,
		CloseTime:  closeT,
		RealizedPL: 10.97,
		Reason:     "stop",
	}))
	require.NoError(t, j.Close())

	rows := readCSV(t, tradesPath)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"EUR_USD", "SELL", open.Format(time.RFC3339), "1.234568", "123.456000", ""}, rows[1])
	assert.Equal(t, []string{"EUR_USD", "BUY", closeT.Format(time.RFC3339), "1.145679", "123.456000", "stop"}, rows[2])
}

func TestCSVJournalAppendsWithoutSecondHeader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	rec := TradeRecord{Instrument: "EUR_USD", Direction: market.Long, Size: 1, EntryPrice: 1, ExitPrice: 2}

	for i := 0; i < 2; i++ {
		j, err := NewCSV(tradesPath, equityPath)
		require.NoError(t, err)
		require.NoError(t, j.RecordTrade(rec))
		require.NoError(t, j.Close())
	}

	rows := readCSV(t, tradesPath)
	assert.Len(t, rows, 5)
	assert.Equal(t, TradeFillHeader, rows[0])
	assert.Equal(t, "BUY", rows[3][1])
}

func TestCSVJournalRecordEquity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(filepath.Join(dir, "trades.csv"), equityPath)
	require.NoError(t, err)

	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, j.RecordEquity(EquitySnapshot{
		Time:        ts,
		Balance:     1000.1,
		Equity:      999.9,
		MarginUsed:  10.5,
		FreeMargin:  989.4,
		Utilisation: 0.0105,
	}))
	require.NoError(t, j.Close())

	rows := readCSV(t, equityPath)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		ts.Format(time.RFC3339),
		"1000.100000",
		"999.900000",
		"10.500000",
		"989.400000",
		"0.010500",
	}, rows[1])
}

type recordingJournal struct {
	trades []TradeRecord
	closed bool
	err    error
}

func (r *recordingJournal) RecordTrade(t TradeRecord) error {
	r.trades = append(r.trades, t)
	return r.err
}

func (r *recordingJournal) Close() error {
	r.closed = true
	return nil
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a := &recordingJournal{}
	b := &recordingJournal{err: os.ErrPermission}
	m := Multi{a, b}

	err := m.RecordTrade(TradeRecord{TradeID: "x"})
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Len(t, a.trades, 1)
	assert.Len(t, b.trades, 1)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
