package risk

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradedesk/market"
)

// Policy types accepted by NewPolicy.
const (
	TypeEqual       = "equal"
	TypeFixed       = "fixed"
	TypePerformance = "performance"
)

// Config selects and parameterises a policy.
type Config struct {
	Type   string
	Budget float64

	// fixed
	Weights map[market.Instrument]float64

	// performance
	MinAllocationPct  float64
	MinTradesRequired int
	WindowSize        int
	DecayWeights      DecayWeights
	RecomputeInterval int
	HistoricalDataDir string
	LogThresholdPct   float64
}

// NewTracker builds the rolling tracker described by cfg, falling back to
// the defaults for unset fields.
func NewTracker(cfg Config) (*RollingTracker, error) {
	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}
	interval := cfg.RecomputeInterval
	if interval == 0 {
		interval = DefaultRecomputeInterval
	}
	weights := cfg.DecayWeights
	if weights == (DecayWeights{}) {
		weights = DefaultDecayWeights
	}
	return NewRollingTracker(window, weights, interval)
}

// NewPolicy builds the configured policy. For the performance policy a nil
// tracker is replaced by one built from cfg and, when HistoricalDataDir is
// set, seeded from its trades.csv. A failed seed is logged and the policy
// starts with an empty window.
func NewPolicy(cfg Config, tracker *RollingTracker) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", TypeEqual:
		return EqualSplit{Budget: cfg.Budget}, nil

	case TypeFixed:
		return NewFixedAllocation(cfg.Budget, cfg.Weights)

	case TypePerformance:
		if tracker == nil {
			t, err := NewTracker(cfg)
			if err != nil {
				return nil, fmt.Errorf("performance policy: %w", err)
			}
			tracker = t
			if cfg.HistoricalDataDir != "" {
				seedFromBacktest(tracker, cfg.HistoricalDataDir)
			}
		}
		return NewPerformanceWeighted(cfg.Budget, cfg.MinAllocationPct, cfg.MinTradesRequired, cfg.LogThresholdPct, tracker), nil

	default:
		return nil, fmt.Errorf("unknown risk policy type %q (want equal|fixed|performance)", cfg.Type)
	}
}

func seedFromBacktest(t *RollingTracker, dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	if err := t.LoadBacktest(abs); err != nil {
		log.Warn().Err(err).Str("component", "risk").Str("dir", abs).
			Msg("could not load historical trades, policy starts with no history")
		return
	}
	log.Info().Str("component", "risk").Str("dir", abs).Msg("loaded performance window")
}
