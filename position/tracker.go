// Package position tracks the open position of a single strategy instance.
package position

import "github.com/rustyeddy/tradedesk/market"

// Tracker is the position state machine owned by one strategy instance.
//
// Invariant: Direction == Flat if and only if Size and EntryPrice are zero.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	Direction  market.Direction
	Size       float64
	EntryPrice float64
	BarsHeld   int
	MFEPoints  float64 // maximum favourable excursion in price points
}

// IsFlat reports whether no position is held.
func (t *Tracker) IsFlat() bool {
	return t.Direction.IsFlat()
}

// Open replaces any current state with a fresh position. A flat direction
// is treated as Reset.
func (t *Tracker) Open(dir market.Direction, size, entryPrice float64) {
	if dir.IsFlat() {
		t.Reset()
		return
	}
	t.Direction = dir
	t.Size = size
	t.EntryPrice = entryPrice
	t.BarsHeld = 0
	t.MFEPoints = 0
}

// Restore sets the full state, history included, from a checkpoint. A flat
// direction resets the tracker.
func (t *Tracker) Restore(dir market.Direction, size, entryPrice float64, barsHeld int, mfePoints float64) {
	t.Open(dir, size, entryPrice)
	if t.IsFlat() {
		return
	}
	t.BarsHeld = barsHeld
	t.MFEPoints = mfePoints
}

// Reset forces the tracker flat.
func (t *Tracker) Reset() {
	*t = Tracker{}
}

// Resize overwrites the size of an open position and keeps its history.
func (t *Tracker) Resize(size float64) {
	if t.IsFlat() {
		return
	}
	t.Size = size
}

// OnBar advances the bar counter and MFE for a closed candle.
func (t *Tracker) OnBar(c market.Candle) {
	if t.IsFlat() {
		return
	}
	t.BarsHeld++
	t.UpdateMFE(c)
}

// UpdateMFE raises MFEPoints using the candle extremes.
func (t *Tracker) UpdateMFE(c market.Candle) {
	var favourable float64
	switch t.Direction {
	case market.Long:
		favourable = c.High - t.EntryPrice
	case market.Short:
		favourable = t.EntryPrice - c.Low
	default:
		return
	}
	if favourable > t.MFEPoints {
		t.MFEPoints = favourable
	}
}

// CurrentPnLPoints is the open PnL in price points at closePrice.
func (t *Tracker) CurrentPnLPoints(closePrice float64) float64 {
	if t.IsFlat() {
		return 0
	}
	return t.Direction.Sign() * (closePrice - t.EntryPrice)
}
