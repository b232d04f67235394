// Package risk splits a shared per-trade risk budget across the strategies
// whose regime is currently active.
package risk

import "github.com/rustyeddy/tradedesk/market"

// Policy allocates the portfolio risk budget across active instruments.
// An empty input yields an empty allocation; the caller decides the
// fallback for instruments that receive nothing.
type Policy interface {
	Allocate(active []market.Instrument) map[market.Instrument]float64
}

// EqualSplit gives every active instrument Budget / len(active).
type EqualSplit struct {
	Budget float64
}

func (p EqualSplit) Allocate(active []market.Instrument) map[market.Instrument]float64 {
	return equalSplit(p.Budget, active)
}

func equalSplit(budget float64, active []market.Instrument) map[market.Instrument]float64 {
	out := make(map[market.Instrument]float64, len(active))
	if len(active) == 0 {
		return out
	}
	per := budget / float64(len(active))
	for _, inst := range active {
		out[inst] = per
	}
	return out
}
