package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradedesk/market"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','equity','reconciliations')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["equity"])
	assert.True(t, found["reconciliations"])
}

func TestSQLiteRecordAndListTrades(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	recs := []TradeRecord{
		{TradeID: "T2", Instrument: "EUR_USD", Direction: market.Short, Size: 2, EntryPrice: 1.2, ExitPrice: 1.1,
			OpenTime: base, CloseTime: base.Add(3 * time.Hour), RealizedPL: 0.2, Reason: "stop"},
		{TradeID: "T1", Instrument: "GBP_USD", Direction: market.Long, Size: 1, EntryPrice: 1.3, ExitPrice: 1.25,
			OpenTime: base, CloseTime: base.Add(time.Hour), RealizedPL: -0.05, Reason: "regime"},
	}
	for _, r := range recs {
		require.NoError(t, j.RecordTrade(r))
	}

	ctx := context.Background()
	all, err := j.ListTrades(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// ordered by close time
	assert.Equal(t, "T1", all[0].TradeID)
	assert.Equal(t, market.Instrument("GBP_USD"), all[0].Instrument)
	assert.Equal(t, market.Long, all[0].Direction)
	assert.InDelta(t, -0.05, all[0].RealizedPL, 1e-9)
	assert.True(t, all[0].CloseTime.Equal(base.Add(time.Hour)))

	between, err := j.ListTradesClosedBetween(ctx, base.Add(2*time.Hour), base.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, between, 1)
	assert.Equal(t, "T2", between[0].TradeID)
	assert.Equal(t, market.Short, between[0].Direction)
}

func TestSQLiteRecordEquity(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)

	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	rec := EquitySnapshot{
		Time:        ts,
		Balance:     1000.1,
		Equity:      999.9,
		MarginUsed:  10.5,
		FreeMargin:  989.4,
		Utilisation: 0.0105,
	}

	require.NoError(t, j.RecordEquity(rec))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var (
		gotTime     time.Time
		balance     float64
		equity      float64
		marginUsed  float64
		freeMargin  float64
		utilisation float64
	)

	err = db.QueryRow(`
        SELECT time, balance, equity, margin_used, free_margin, utilisation
        FROM equity LIMIT 1`).Scan(
		&gotTime, &balance, &equity, &marginUsed, &freeMargin, &utilisation,
	)
	require.NoError(t, err)

	assert.True(t, gotTime.Equal(rec.Time))
	assert.InDelta(t, rec.Balance, balance, 1e-6)
	assert.InDelta(t, rec.Equity, equity, 1e-6)
	assert.InDelta(t, rec.MarginUsed, marginUsed, 1e-6)
	assert.InDelta(t, rec.FreeMargin, freeMargin, 1e-6)
	assert.InDelta(t, rec.Utilisation, utilisation, 1e-6)
}

func TestSQLiteReconciliationAudit(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	at := time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordReconciliation(ctx, nil))
	require.NoError(t, j.RecordReconciliation(ctx, []ReconciliationRecord{
		{PassID: "P1", Kind: "startup", Time: at, Instrument: "USD_JPY", Discrepancy: "FAILED_EXIT",
			BrokerDirection: "SELL", BrokerSize: 1, BrokerDealID: "D1", Message: "failed exit"},
		{PassID: "P1", Kind: "startup", Time: at, Instrument: "EUR_USD", Discrepancy: "SIZE_MISMATCH",
			JournalDirection: "long", JournalSize: 1, BrokerDirection: "BUY", BrokerSize: 1.5},
		{PassID: "P2", Kind: "periodic", Time: at, Instrument: "EUR_USD", Discrepancy: "PHANTOM_LOCAL"},
	}))

	got, err := j.ListReconciliations(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, market.Instrument("EUR_USD"), got[0].Instrument)
	assert.Equal(t, "SIZE_MISMATCH", got[0].Discrepancy)
	assert.InDelta(t, 1.5, got[0].BrokerSize, 1e-9)
	assert.Equal(t, "FAILED_EXIT", got[1].Discrepancy)
	assert.Equal(t, "D1", got[1].BrokerDealID)
	assert.True(t, got[1].Time.Equal(at))
}
