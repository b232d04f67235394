package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rustyeddy/tradedesk/market"
)

// Trade is one closed round trip as seen by the rolling tracker.
type Trade struct {
	Instrument market.Instrument
	Direction  market.Direction
	EntryTime  string
	ExitTime   string
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	PnL        float64
	ExitReason string
}

// Metrics summarises the decay-weighted window of one instrument.
type Metrics struct {
	ReturnToRisk float64 // Σ weighted pnl / Σ |weighted pnl|
	TotalTrades  int
	WeightedPnL  float64
}

// DecayWeights are the weights of the (recent, middle, old) thirds of a
// window. They must sum to 1.
type DecayWeights [3]float64

var DefaultDecayWeights = DecayWeights{0.60, 0.30, 0.10}

const (
	DefaultWindowSize        = 1500
	DefaultRecomputeInterval = 50
)

// window is a bounded FIFO of trades, oldest first.
type window struct {
	trades  []Trade
	maxSize int
}

func (w *window) add(t Trade) {
	if len(w.trades) >= w.maxSize {
		// shift rather than reslice so the backing array does not grow forever
		copy(w.trades, w.trades[1:])
		w.trades = w.trades[:len(w.trades)-1]
	}
	w.trades = append(w.trades, t)
}

// RollingTracker keeps a per-instrument rolling window of closed trades and
// scores each instrument by its decay-weighted return to risk.
//
// Metrics are cached and recomputed only after RecomputeInterval new
// trades, or when a queried instrument is missing from the cache.
// RollingTracker is not safe for concurrent use.
type RollingTracker struct {
	windowSize        int
	weights           DecayWeights
	recomputeInterval int

	windows    map[market.Instrument]*window
	sinceCache int
	cache      map[market.Instrument]Metrics
}

func NewRollingTracker(windowSize int, weights DecayWeights, recomputeInterval int) (*RollingTracker, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	if recomputeInterval <= 0 {
		return nil, fmt.Errorf("recompute interval must be positive, got %d", recomputeInterval)
	}
	total := weights[0] + weights[1] + weights[2]
	if math.Abs(total-1) > 0.001 {
		return nil, fmt.Errorf("decay weights must sum to 1.0, got %v from %v", total, weights)
	}
	return &RollingTracker{
		windowSize:        windowSize,
		weights:           weights,
		recomputeInterval: recomputeInterval,
		windows:           make(map[market.Instrument]*window),
	}, nil
}

// AddTrades appends closed trades to their instruments' windows.
func (t *RollingTracker) AddTrades(trades ...Trade) {
	for _, tr := range trades {
		w, ok := t.windows[tr.Instrument]
		if !ok {
			w = &window{maxSize: t.windowSize}
			t.windows[tr.Instrument] = w
		}
		w.add(tr)
		t.sinceCache++
	}
	if t.sinceCache >= t.recomputeInterval {
		t.cache = nil
		t.sinceCache = 0
	}
}

// TradeCount returns the number of trades in the instrument's window.
func (t *RollingTracker) TradeCount(inst market.Instrument) int {
	if w, ok := t.windows[inst]; ok {
		return len(w.trades)
	}
	return 0
}

// ComputeMetrics returns metrics for each requested instrument. Instruments
// with no trades get the zero Metrics.
func (t *RollingTracker) ComputeMetrics(instruments []market.Instrument) map[market.Instrument]Metrics {
	recompute := t.cache == nil
	for _, inst := range instruments {
		if _, ok := t.cache[inst]; !ok {
			recompute = true
			break
		}
	}

	if recompute {
		all := make(map[market.Instrument]Metrics, len(t.windows))
		for inst, w := range t.windows {
			all[inst] = t.metricsFor(w.trades)
		}
		t.cache = all
	}

	out := make(map[market.Instrument]Metrics, len(instruments))
	for _, inst := range instruments {
		out[inst] = t.cache[inst]
	}
	return out
}

func (t *RollingTracker) metricsFor(trades []Trade) Metrics {
	if len(trades) == 0 {
		return Metrics{}
	}

	weighted := t.applyDecayWeights(trades)
	pnl := floats.Sum(weighted)
	risk := floats.Norm(weighted, 1)

	m := Metrics{TotalTrades: len(trades), WeightedPnL: pnl}
	if risk > 0 {
		m.ReturnToRisk = pnl / risk
	}
	return m
}

// applyDecayWeights returns each trade's PnL scaled by the weight of the
// third it falls in. Trades are oldest first; when the count is not a
// multiple of three the extra trades go to the older thirds.
func (t *RollingTracker) applyDecayWeights(trades []Trade) []float64 {
	n := len(trades)
	if n == 0 {
		return nil
	}

	third, rem := n/3, n%3
	oldSize := third
	if rem > 0 {
		oldSize++
	}
	midSize := third
	if rem > 1 {
		midSize++
	}

	recent, middle, old := t.weights[0], t.weights[1], t.weights[2]

	pnls := make([]float64, n)
	w := make([]float64, n)
	for i, tr := range trades {
		pnls[i] = tr.PnL
		switch {
		case i < oldSize:
			w[i] = old
		case i < oldSize+midSize:
			w[i] = middle
		default:
			w[i] = recent
		}
	}

	floats.Mul(pnls, w)
	return pnls
}

// invalidate drops the cache and the pending-trade count.
func (t *RollingTracker) invalidate() {
	t.cache = nil
	t.sinceCache = 0
}
