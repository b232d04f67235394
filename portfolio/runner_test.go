package portfolio

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/risk"
)

type fakeStrategy struct {
	inst      market.Instrument
	active    bool
	risk      float64
	calls     *[]string
	updateErr error

	// regime flips during UpdateState when set
	activateOnUpdate bool
}

func (f *fakeStrategy) Instrument() market.Instrument { return f.inst }
func (f *fakeStrategy) IsRegimeActive() bool          { return f.active }

func (f *fakeStrategy) SetRiskPerTrade(v float64) {
	f.risk = v
	*f.calls = append(*f.calls, fmt.Sprintf("risk:%s=%g", f.inst, v))
}

func (f *fakeStrategy) UpdateState(ctx context.Context, ev CandleCloseEvent) error {
	*f.calls = append(*f.calls, "update:"+string(f.inst))
	if f.activateOnUpdate {
		f.active = true
	}
	return f.updateErr
}

func (f *fakeStrategy) EvaluateSignals(ctx context.Context) error {
	*f.calls = append(*f.calls, fmt.Sprintf("evaluate:%s@%g", f.inst, f.risk))
	return nil
}

func TestNewRunnerValidation(t *testing.T) {
	t.Parallel()

	var calls []string
	a := &fakeStrategy{inst: "A", calls: &calls}

	_, err := NewRunner([]Strategy{a}, nil, 1)
	assert.Error(t, err)

	_, err = NewRunner([]Strategy{a, &fakeStrategy{inst: "A", calls: &calls}}, risk.EqualSplit{Budget: 1}, 1)
	assert.Error(t, err)

	r, err := NewRunner([]Strategy{&fakeStrategy{inst: "B", calls: &calls}, a}, risk.EqualSplit{Budget: 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []market.Instrument{"A", "B"}, r.Instruments())
}

func TestRunnerOrderUpdateAllocateEvaluate(t *testing.T) {
	t.Parallel()

	var calls []string
	a := &fakeStrategy{inst: "A", calls: &calls, activateOnUpdate: true}
	b := &fakeStrategy{inst: "B", calls: &calls, active: true}
	c := &fakeStrategy{inst: "C", calls: &calls}

	r, err := NewRunner([]Strategy{a, b, c}, risk.EqualSplit{Budget: 10}, 0.5)
	require.NoError(t, err)

	require.NoError(t, r.OnCandleClose(context.Background(), CandleCloseEvent{Instrument: "A", Period: "HOUR"}))

	// A's regime flips during UpdateState, so the allocation that follows
	// already counts it, and A trades on that allocation.
	assert.Equal(t, []string{
		"update:A",
		"risk:A=5",
		"risk:B=5",
		"risk:C=0.5",
		"evaluate:A@5",
	}, calls)
}

func TestRunnerNoActiveUsesDefault(t *testing.T) {
	t.Parallel()

	var calls []string
	a := &fakeStrategy{inst: "A", calls: &calls}
	b := &fakeStrategy{inst: "B", calls: &calls}

	r, err := NewRunner([]Strategy{a, b}, risk.EqualSplit{Budget: 10}, 0.25)
	require.NoError(t, err)

	r.ApplyRiskBudgets()
	assert.InDelta(t, 0.25, a.risk, 1e-12)
	assert.InDelta(t, 0.25, b.risk, 1e-12)
}

func TestRunnerPartialAllocationFallsBackToDefault(t *testing.T) {
	t.Parallel()

	var calls []string
	a := &fakeStrategy{inst: "A", calls: &calls, active: true}
	b := &fakeStrategy{inst: "B", calls: &calls, active: true}

	policy, err := risk.NewFixedAllocation(10, map[market.Instrument]float64{"A": 1})
	require.NoError(t, err)

	r, err := NewRunner([]Strategy{a, b}, policy, 0.25)
	require.NoError(t, err)

	r.ApplyRiskBudgets()
	assert.InDelta(t, 10.0, a.risk, 1e-12)
	assert.InDelta(t, 0.25, b.risk, 1e-12)
}

func TestRunnerUnknownInstrumentIgnored(t *testing.T) {
	t.Parallel()

	var calls []string
	r, err := NewRunner([]Strategy{&fakeStrategy{inst: "A", calls: &calls}}, risk.EqualSplit{Budget: 1}, 1)
	require.NoError(t, err)

	assert.NoError(t, r.OnCandleClose(context.Background(), CandleCloseEvent{Instrument: "Z"}))
	assert.Empty(t, calls)
}

func TestRunnerUpdateErrorStopsBar(t *testing.T) {
	t.Parallel()

	var calls []string
	boom := errors.New("indicator failure")
	a := &fakeStrategy{inst: "A", calls: &calls, updateErr: boom}

	r, err := NewRunner([]Strategy{a}, risk.EqualSplit{Budget: 1}, 1)
	require.NoError(t, err)

	err = r.OnCandleClose(context.Background(), CandleCloseEvent{Instrument: "A"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"update:A"}, calls)
}
