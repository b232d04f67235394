package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradedesk/market"
)

func TestEqualSplit(t *testing.T) {
	t.Parallel()

	p := EqualSplit{Budget: 10}

	got := p.Allocate(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = p.Allocate([]market.Instrument{"A", "B"})
	assert.Equal(t, map[market.Instrument]float64{"A": 5.0, "B": 5.0}, got)

	got = p.Allocate([]market.Instrument{"A", "B", "C", "D"})
	for _, v := range got {
		assert.InDelta(t, 2.5, v, 1e-12)
	}
}

func TestNewFixedAllocationValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		weights map[market.Instrument]float64
		wantErr bool
	}{
		{"empty", nil, true},
		{"all non-positive", map[market.Instrument]float64{"A": 0, "B": -1}, true},
		{"ok", map[market.Instrument]float64{"A": 0.4, "B": 0.6}, false},
		{"drops non-positive", map[market.Instrument]float64{"A": 2, "B": -1}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewFixedAllocation(10, tt.weights)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFixedAllocationNormalisesBaseWeights(t *testing.T) {
	t.Parallel()

	p, err := NewFixedAllocation(10, map[market.Instrument]float64{"A": 2, "B": 6, "C": -3})
	require.NoError(t, err)

	w := p.Weights()
	assert.Len(t, w, 2)
	assert.InDelta(t, 0.25, w["A"], 1e-12)
	assert.InDelta(t, 0.75, w["B"], 1e-12)
}

func TestFixedAllocationAllocate(t *testing.T) {
	t.Parallel()

	p, err := NewFixedAllocation(10, map[market.Instrument]float64{"A": 0.4, "B": 0.6})
	require.NoError(t, err)

	tests := []struct {
		name   string
		active []market.Instrument
		want   map[market.Instrument]float64
	}{
		{"none", nil, map[market.Instrument]float64{}},
		{"both", []market.Instrument{"A", "B"}, map[market.Instrument]float64{"A": 4, "B": 6}},
		{"renormalised subset", []market.Instrument{"A"}, map[market.Instrument]float64{"A": 10}},
		{"unconfigured ignored", []market.Instrument{"B", "C"}, map[market.Instrument]float64{"B": 10}},
		{"none configured", []market.Instrument{"C", "D"}, map[market.Instrument]float64{"C": 5, "D": 5}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := p.Allocate(tt.active)
			require.Len(t, got, len(tt.want))
			for k, v := range tt.want {
				assert.InDelta(t, v, got[k], 1e-9, "instrument %s", k)
			}
		})
	}
}

func TestATRNormalisedSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		risk, atr, mult  float64
		minSize, maxSize float64
		want             float64
	}{
		{"raw", 10, 0.5, 2, 0.1, 100, 10},
		{"clamped high", 1000, 0.5, 2, 0.1, 100, 100},
		{"clamped low", 0.01, 0.5, 2, 0.1, 100, 0.1},
		{"zero atr", 10, 0, 2, 0.5, 100, 0.5},
		{"negative mult", 10, 1, -1, 0.5, 100, 0.5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ATRNormalisedSize(tt.risk, tt.atr, tt.mult, tt.minSize, tt.maxSize)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}
