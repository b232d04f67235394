package risk

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradedesk/market"
)

const (
	DefaultMinTradesRequired = 100
	DefaultLogThresholdPct   = 0.05
)

// PerformanceWeighted allocates a minimum share to every active
// instrument and distributes the rest by decay-weighted return to risk.
//
// It falls back to an equal split when any active instrument has fewer
// than MinTradesRequired trades, when no instrument has a positive score,
// or when the minimum shares alone exceed the budget.
type PerformanceWeighted struct {
	Budget            float64
	MinAllocationPct  float64
	MinTradesRequired int
	LogThresholdPct   float64

	tracker *RollingTracker
	last    *allocationLog
}

func NewPerformanceWeighted(budget, minAllocationPct float64, minTrades int, logThresholdPct float64, tracker *RollingTracker) *PerformanceWeighted {
	return &PerformanceWeighted{
		Budget:            budget,
		MinAllocationPct:  minAllocationPct,
		MinTradesRequired: minTrades,
		LogThresholdPct:   logThresholdPct,
		tracker:           tracker,
		last:              &allocationLog{},
	}
}

// Tracker returns the rolling tracker the policy scores from.
func (p *PerformanceWeighted) Tracker() *RollingTracker {
	return p.tracker
}

func (p *PerformanceWeighted) Allocate(active []market.Instrument) map[market.Instrument]float64 {
	if len(active) == 0 {
		return map[market.Instrument]float64{}
	}
	l := log.With().Str("component", "risk").Str("policy", "performance").Logger()

	if p.tracker == nil {
		l.Debug().Msg("no rolling tracker, falling back to equal split")
		return equalSplit(p.Budget, active)
	}

	metrics := p.tracker.ComputeMetrics(active)

	short := zerolog.Dict()
	insufficient := false
	for _, inst := range active {
		if n := metrics[inst].TotalTrades; n < p.MinTradesRequired {
			short.Int(string(inst), n)
			insufficient = true
		}
	}
	if insufficient {
		l.Debug().Int("required", p.MinTradesRequired).Dict("trades", short).
			Msg("insufficient trade history, falling back to equal split")
		return equalSplit(p.Budget, active)
	}

	scores := make(map[market.Instrument]float64, len(active))
	var total float64
	for _, inst := range active {
		s := math.Max(0, metrics[inst].ReturnToRisk)
		scores[inst] = s
		total += s
	}
	if total <= 0 {
		l.Debug().Msg("no positive performance scores, falling back to equal split")
		return equalSplit(p.Budget, active)
	}

	k := float64(len(active))
	minPer := p.Budget * p.MinAllocationPct
	reserved := minPer * k
	remaining := p.Budget - reserved
	if remaining < 0 {
		l.Warn().Float64("min_per_instrument", minPer).Float64("reserved", reserved).Float64("budget", p.Budget).
			Msg("minimum allocation constraints cannot be satisfied, falling back to equal split")
		return equalSplit(p.Budget, active)
	}

	out := make(map[market.Instrument]float64, len(active))
	for _, inst := range active {
		out[inst] = minPer + remaining*scores[inst]/total
	}

	ev := l.Debug()
	if p.last.changed(out, p.LogThresholdPct) {
		ev = l.Info()
	}
	summary := zerolog.Dict()
	for _, inst := range sortedKeys(out) {
		summary.Dict(string(inst), zerolog.Dict().Float64("risk", out[inst]).Float64("score", scores[inst]))
	}
	ev.Dict("allocation", summary).Msg("performance-weighted allocation")

	p.last.store(out)
	return out
}

// allocationLog remembers the previous allocation so that only material
// changes are logged at info level.
type allocationLog struct {
	prev map[market.Instrument]float64
}

// changed reports true on the first allocation, when the instrument set
// differs, or when any share moved by more than threshold relative to its
// previous value.
func (a *allocationLog) changed(next map[market.Instrument]float64, threshold float64) bool {
	if len(a.prev) == 0 || len(a.prev) != len(next) {
		return true
	}
	for inst, v := range next {
		old, ok := a.prev[inst]
		if !ok {
			return true
		}
		if old == 0 {
			continue
		}
		if math.Abs(v-old)/old > threshold {
			return true
		}
	}
	return false
}

func (a *allocationLog) store(alloc map[market.Instrument]float64) {
	a.prev = make(map[market.Instrument]float64, len(alloc))
	for k, v := range alloc {
		a.prev[k] = v
	}
}

func sortedKeys(m map[market.Instrument]float64) []market.Instrument {
	out := make([]market.Instrument, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
