package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradedesk/market"
)

// FileName is the snapshot file inside the journal directory.
const FileName = "positions.json"

// SnapshotVersion is written into every snapshot.
const SnapshotVersion = 1

// Entry is the persisted state of one instrument's position tracker plus
// the strategy context needed to resume exit logic.
//
// A flat entry encodes direction, size and entry_price as null.
type Entry struct {
	Instrument market.Instrument
	Direction  market.Direction
	Size       float64
	EntryPrice float64
	BarsHeld   int
	MFEPoints  float64
	EntryATR   float64
	UpdatedAt  string
}

// HasPosition reports whether the entry records an open position.
func (e Entry) HasPosition() bool {
	return !e.Direction.IsFlat()
}

// wireEntry is the on-disk form of Entry.
type wireEntry struct {
	Instrument string   `json:"instrument"`
	Epic       string   `json:"epic,omitempty"` // legacy key for instrument
	Direction  *string  `json:"direction"`
	Size       *float64 `json:"size"`
	EntryPrice *float64 `json:"entry_price"`
	BarsHeld   int      `json:"bars_held"`
	MFEPoints  float64  `json:"mfe_points"`
	EntryATR   float64  `json:"entry_atr"`
	UpdatedAt  string   `json:"updated_at"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{
		Instrument: string(e.Instrument),
		BarsHeld:   e.BarsHeld,
		MFEPoints:  e.MFEPoints,
		EntryATR:   e.EntryATR,
		UpdatedAt:  e.UpdatedAt,
	}
	if e.HasPosition() {
		dir := string(e.Direction)
		size, price := e.Size, e.EntryPrice
		w.Direction, w.Size, w.EntryPrice = &dir, &size, &price
	}
	return json.Marshal(w)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	instrument := w.Instrument
	if instrument == "" {
		instrument = w.Epic
	}
	if instrument == "" {
		return errors.New("journal entry has no instrument")
	}

	out := Entry{
		Instrument: market.Instrument(instrument),
		BarsHeld:   w.BarsHeld,
		MFEPoints:  w.MFEPoints,
		EntryATR:   w.EntryATR,
		UpdatedAt:  w.UpdatedAt,
	}
	if w.Direction != nil {
		dir, err := market.ParseDirection(*w.Direction)
		if err != nil {
			return fmt.Errorf("journal entry %s: %w", instrument, err)
		}
		out.Direction = dir
	}
	if w.Size != nil {
		out.Size = *w.Size
	}
	if w.EntryPrice != nil {
		out.EntryPrice = *w.EntryPrice
	}
	*e = out
	return nil
}

type snapshot struct {
	Version   int     `json:"version"`
	CreatedAt string  `json:"created_at"`
	Positions []Entry `json:"positions"`
}

// Store is the persistence contract the reconciliation manager depends on.
type Store interface {
	Save(entries []Entry) error
	// Load returns ok=false when there is no usable snapshot.
	Load() (entries []Entry, ok bool)
	Clear() error
}

// Discard is a Store that keeps nothing. It backs a portfolio run with
// the position journal disabled.
type Discard struct{}

func (Discard) Save([]Entry) error { return nil }
func (Discard) Load() ([]Entry, bool) { return nil, false }
func (Discard) Clear() error { return nil }

// PositionJournal persists the latest position snapshot of every managed
// instrument as a single JSON document.
//
// Writes go to a temporary file in the same directory which is then renamed
// over the canonical path, so a reader only ever sees a complete snapshot.
type PositionJournal struct {
	dir  string
	path string
}

func NewPositionJournal(dir string) *PositionJournal {
	return &PositionJournal{
		dir:  dir,
		path: filepath.Join(dir, FileName),
	}
}

// Path returns the canonical snapshot path.
func (j *PositionJournal) Path() string {
	return j.path
}

// Save atomically replaces the snapshot with entries.
func (j *PositionJournal) Save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(snapshot{
		Version:   SnapshotVersion,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Positions: entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal position journal: %w", err)
	}

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	f, err := os.CreateTemp(j.dir, "."+FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp journal: %w", err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return fmt.Errorf("write temp journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		cleanup()
		return fmt.Errorf("sync temp journal: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp journal: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		cleanup()
		return fmt.Errorf("replace position journal: %w", err)
	}

	log.Debug().Str("component", "journal").Int("positions", len(entries)).Msg("position journal saved")
	return nil
}

// Load reads the last snapshot. A missing file and an unreadable or
// malformed file both yield ok=false; the latter is logged.
func (j *PositionJournal) Load() ([]Entry, bool) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("component", "journal").Str("path", j.path).Msg("failed to read position journal")
		return nil, false
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("component", "journal").Str("path", j.path).Msg("failed to parse position journal")
		return nil, false
	}
	if snap.Version > SnapshotVersion {
		log.Warn().Str("component", "journal").Int("version", snap.Version).Msg("position journal written by a newer version")
	}
	if snap.Positions == nil {
		snap.Positions = []Entry{}
	}
	return snap.Positions, true
}

// Clear removes the snapshot file if present.
func (j *PositionJournal) Clear() error {
	err := os.Remove(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clear position journal: %w", err)
	}
	log.Info().Str("component", "journal").Str("path", j.path).Msg("position journal cleared")
	return nil
}

// ByInstrument indexes entries by instrument; later duplicates win.
func ByInstrument(entries []Entry) map[market.Instrument]Entry {
	out := make(map[market.Instrument]Entry, len(entries))
	for _, e := range entries {
		out[e.Instrument] = e
	}
	return out
}
