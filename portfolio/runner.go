package portfolio

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/risk"
)

// Runner dispatches candle closes and applies the risk policy between the
// state update and the signal evaluation of the closing strategy.
//
// Runner is not safe for concurrent use; callers serialize dispatch.
type Runner struct {
	strategies  map[market.Instrument]Strategy
	order       []market.Instrument
	policy      risk.Policy
	defaultRisk float64
}

func NewRunner(strategies []Strategy, policy risk.Policy, defaultRisk float64) (*Runner, error) {
	if policy == nil {
		return nil, fmt.Errorf("runner: nil risk policy")
	}
	r := &Runner{
		strategies:  make(map[market.Instrument]Strategy, len(strategies)),
		policy:      policy,
		defaultRisk: defaultRisk,
	}
	for _, s := range strategies {
		inst := s.Instrument()
		if _, dup := r.strategies[inst]; dup {
			return nil, fmt.Errorf("runner: duplicate strategy for %s", inst)
		}
		r.strategies[inst] = s
		r.order = append(r.order, inst)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	return r, nil
}

// Instruments returns the managed instruments in sorted order.
func (r *Runner) Instruments() []market.Instrument {
	return append([]market.Instrument(nil), r.order...)
}

func (r *Runner) Strategy(inst market.Instrument) (Strategy, bool) {
	s, ok := r.strategies[inst]
	return s, ok
}

// OnCandleClose runs UpdateState, then the risk allocation across every
// strategy, then EvaluateSignals for the strategy owning ev.Instrument.
// Events for unmanaged instruments are ignored.
func (r *Runner) OnCandleClose(ctx context.Context, ev CandleCloseEvent) error {
	s, ok := r.strategies[ev.Instrument]
	if !ok {
		log.Debug().Str("component", "runner").Str("instrument", string(ev.Instrument)).Msg("candle for unmanaged instrument")
		return nil
	}

	if err := s.UpdateState(ctx, ev); err != nil {
		return fmt.Errorf("update state %s: %w", ev.Instrument, err)
	}

	r.ApplyRiskBudgets()

	if err := s.EvaluateSignals(ctx); err != nil {
		return fmt.Errorf("evaluate signals %s: %w", ev.Instrument, err)
	}
	return nil
}

// ApplyRiskBudgets sets every strategy's risk per trade: active strategies
// get their policy share, the rest get the default.
func (r *Runner) ApplyRiskBudgets() {
	var active []market.Instrument
	for _, inst := range r.order {
		if r.strategies[inst].IsRegimeActive() {
			active = append(active, inst)
		}
	}

	alloc := r.policy.Allocate(active)
	for _, inst := range r.order {
		v, ok := alloc[inst]
		if !ok {
			v = r.defaultRisk
		}
		r.strategies[inst].SetRiskPerTrade(v)
	}
}
