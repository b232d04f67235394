package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradedesk/market"
)

func TestPositionJournalRoundTrip(t *testing.T) {
	t.Parallel()

	j := NewPositionJournal(filepath.Join(t.TempDir(), "nested", "journal"))

	entries := []Entry{
		{
			Instrument: "EUR_USD",
			Direction:  market.Long,
			Size:       1.25,
			EntryPrice: 1.08765,
			BarsHeld:   7,
			MFEPoints:  0.0042,
			EntryATR:   0.0011,
			UpdatedAt:  "2024-03-01T10:00:00Z",
		},
		{
			Instrument: "GBP_USD",
			UpdatedAt:  "2024-03-01T10:00:00Z",
		},
	}

	require.NoError(t, j.Save(entries))

	got, ok := j.Load()
	require.True(t, ok)
	assert.Equal(t, entries, got)
}

func TestPositionJournalFlatEntryEncodesNulls(t *testing.T) {
	t.Parallel()

	j := NewPositionJournal(t.TempDir())
	require.NoError(t, j.Save([]Entry{{Instrument: "USD_JPY", BarsHeld: 0}}))

	data, err := os.ReadFile(j.Path())
	require.NoError(t, err)

	assert.Contains(t, string(data), `"direction": null`)
	assert.Contains(t, string(data), `"size": null`)
	assert.Contains(t, string(data), `"entry_price": null`)
	assert.Contains(t, string(data), `"version": 1`)
	assert.Contains(t, string(data), `"created_at"`)
}

func TestPositionJournalMissingFile(t *testing.T) {
	t.Parallel()

	j := NewPositionJournal(t.TempDir())
	got, ok := j.Load()
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestPositionJournalEmptySnapshotIsNotAbsent(t *testing.T) {
	t.Parallel()

	j := NewPositionJournal(t.TempDir())
	require.NoError(t, j.Save(nil))

	got, ok := j.Load()
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestPositionJournalCorruptFileIsAbsent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"garbage", "{not json"},
		{"bad direction", `{"version":1,"positions":[{"instrument":"EUR_USD","direction":"sideways","size":1,"entry_price":1}]}`},
		{"no instrument", `{"version":1,"positions":[{"direction":null}]}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(tt.body), 0o644))

			got, ok := NewPositionJournal(dir).Load()
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}
}

func TestPositionJournalLegacyEpicKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := `{
  "version": 1,
  "created_at": "2023-11-02T08:00:00Z",
  "positions": [
    {"epic": "CS.D.EURUSD.TODAY.IP", "direction": "short", "size": 2, "entry_price": 1.1,
     "bars_held": 3, "mfe_points": 0.5, "entry_atr": 0.01, "updated_at": "2023-11-02T08:00:00Z"}
  ]
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644))

	got, ok := NewPositionJournal(dir).Load()
	require.True(t, ok)
	require.Len(t, got, 1)

	assert.Equal(t, market.Instrument("CS.D.EURUSD.TODAY.IP"), got[0].Instrument)
	assert.Equal(t, market.Short, got[0].Direction)
	assert.InDelta(t, 2.0, got[0].Size, 1e-12)
	assert.Equal(t, 3, got[0].BarsHeld)
}

func TestPositionJournalSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j := NewPositionJournal(dir)

	for i := 0; i < 3; i++ {
		require.NoError(t, j.Save([]Entry{{Instrument: "EUR_USD", Direction: market.Long, Size: float64(i + 1), EntryPrice: 1}}))
	}

	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, FileName, names[0].Name())

	got, ok := j.Load()
	require.True(t, ok)
	assert.InDelta(t, 3.0, got[0].Size, 1e-12)
}

func TestPositionJournalClear(t *testing.T) {
	t.Parallel()

	j := NewPositionJournal(t.TempDir())

	// Missing file is a no-op.
	assert.NoError(t, j.Clear())

	require.NoError(t, j.Save([]Entry{{Instrument: "EUR_USD"}}))
	require.NoError(t, j.Clear())

	_, err := os.Stat(j.Path())
	assert.True(t, os.IsNotExist(err))

	_, ok := j.Load()
	assert.False(t, ok)
}

func TestByInstrument(t *testing.T) {
	t.Parallel()

	m := ByInstrument([]Entry{
		{Instrument: "A", Size: 1, Direction: market.Long},
		{Instrument: "B"},
		{Instrument: "A", Size: 2, Direction: market.Long},
	})

	assert.Len(t, m, 2)
	assert.InDelta(t, 2.0, m["A"].Size, 1e-12)
	assert.False(t, m["B"].HasPosition())
}

func TestDiscardStore(t *testing.T) {
	t.Parallel()

	var s Store = Discard{}
	require.NoError(t, s.Save([]Entry{{Instrument: "A", Direction: market.Long, Size: 1, EntryPrice: 1}}))
	entries, ok := s.Load()
	assert.False(t, ok)
	assert.Nil(t, entries)
	assert.NoError(t, s.Clear())
}
