// Package portfolio drives a set of per-instrument strategies under a
// shared risk budget.
package portfolio

import (
	"context"

	"github.com/rustyeddy/tradedesk/journal"
	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/position"
)

// CandleCloseEvent is delivered once per completed candle of a strategy's
// period.
type CandleCloseEvent struct {
	Instrument market.Instrument
	Period     string
	Candle     market.Candle
}

// Strategy is the contract the runner drives. UpdateState must only update
// indicators, regime and tracker bookkeeping; trading decisions belong in
// EvaluateSignals, which runs after risk has been allocated for the bar.
type Strategy interface {
	Instrument() market.Instrument
	IsRegimeActive() bool
	SetRiskPerTrade(risk float64)
	UpdateState(ctx context.Context, ev CandleCloseEvent) error
	EvaluateSignals(ctx context.Context) error
}

// Reconcilable strategies can be checkpointed to the position journal and
// corrected against the broker.
type Reconcilable interface {
	Strategy
	Period() string
	Tracker() *position.Tracker
	ToJournalEntry(inst market.Instrument) journal.Entry
	RestoreFromJournal(e journal.Entry)
	// CheckRestoredPosition evaluates exit conditions for a position that
	// was restored or adopted outside the normal bar flow.
	CheckRestoredPosition(ctx context.Context, c market.Candle) error
}

// Warmer is implemented by strategies that need history before their
// indicators are usable.
type Warmer interface {
	Warmup(ctx context.Context) error
}
