package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradedesk/market"
)

// FixedAllocation distributes the budget by configured relative weights,
// renormalised over the configured instruments that are active.
//
// Active instruments without a weight receive nothing, unless no active
// instrument is configured, in which case the budget is split equally
// across the whole active set.
type FixedAllocation struct {
	budget  float64
	weights map[market.Instrument]float64 // normalised to sum 1
}

// NewFixedAllocation validates weights: at least one entry, at least one
// positive value. Non-positive weights are dropped.
func NewFixedAllocation(budget float64, weights map[market.Instrument]float64) (*FixedAllocation, error) {
	if len(weights) == 0 {
		return nil, errors.New("fixed allocation requires at least one allocation entry")
	}

	var total float64
	positive := make(map[market.Instrument]float64, len(weights))
	for inst, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("invalid allocation value for %s: %v", inst, w)
		}
		if w > 0 {
			positive[inst] = w
			total += w
		}
	}
	if len(positive) == 0 {
		return nil, errors.New("at least one allocation weight must be > 0")
	}
	for inst := range positive {
		positive[inst] /= total
	}

	log.Debug().Str("component", "risk").Float64("budget", budget).Interface("weights", positive).Msg("fixed allocation configured")
	return &FixedAllocation{budget: budget, weights: positive}, nil
}

// Weights returns a copy of the normalised base weights.
func (p *FixedAllocation) Weights() map[market.Instrument]float64 {
	out := make(map[market.Instrument]float64, len(p.weights))
	for k, v := range p.weights {
		out[k] = v
	}
	return out
}

func (p *FixedAllocation) Allocate(active []market.Instrument) map[market.Instrument]float64 {
	if len(active) == 0 {
		return map[market.Instrument]float64{}
	}

	var configured []market.Instrument
	var total float64
	for _, inst := range active {
		if w, ok := p.weights[inst]; ok {
			configured = append(configured, inst)
			total += w
		}
	}
	if len(configured) == 0 {
		return equalSplit(p.budget, active)
	}

	out := make(map[market.Instrument]float64, len(configured))
	for _, inst := range configured {
		out[inst] = p.weights[inst] / total * p.budget
	}
	return out
}
