package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradedesk/market"
)

func TestNewPolicy(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(Config{Budget: 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, EqualSplit{Budget: 10}, p)

	p, err = NewPolicy(Config{Type: "Fixed", Budget: 10, Weights: map[market.Instrument]float64{"A": 1}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FixedAllocation{}, p)

	_, err = NewPolicy(Config{Type: TypeFixed, Budget: 10}, nil)
	assert.Error(t, err)

	_, err = NewPolicy(Config{Type: "kelly"}, nil)
	assert.Error(t, err)
}

func TestNewPolicyPerformance(t *testing.T) {
	t.Parallel()

	t.Run("builds tracker and survives missing history", func(t *testing.T) {
		t.Parallel()
		p, err := NewPolicy(Config{
			Type:              TypePerformance,
			Budget:            10,
			MinAllocationPct:  0.1,
			MinTradesRequired: 5,
			HistoricalDataDir: t.TempDir(),
		}, nil)
		require.NoError(t, err)

		pw, ok := p.(*PerformanceWeighted)
		require.True(t, ok)
		require.NotNil(t, pw.Tracker())
		assert.Equal(t, DefaultWindowSize, pw.Tracker().windowSize)
		assert.Equal(t, 5, pw.MinTradesRequired)
	})

	t.Run("uses given tracker", func(t *testing.T) {
		t.Parallel()
		tr, err := NewRollingTracker(10, DefaultDecayWeights, 1)
		require.NoError(t, err)

		p, err := NewPolicy(Config{Type: TypePerformance, Budget: 10}, tr)
		require.NoError(t, err)
		assert.Same(t, tr, p.(*PerformanceWeighted).Tracker())
	})

	t.Run("rejects bad decay weights", func(t *testing.T) {
		t.Parallel()
		_, err := NewPolicy(Config{Type: TypePerformance, DecayWeights: DecayWeights{1, 1, 1}}, nil)
		assert.Error(t, err)
	})
}
