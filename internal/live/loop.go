// Package live wires strategies, the risk runner and the reconciliation
// manager into a running portfolio.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/journal"
	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/portfolio"
	"github.com/rustyeddy/tradedesk/reconcile"
	"github.com/rustyeddy/tradedesk/risk"
	"github.com/rustyeddy/tradedesk/strategies"
)

// StrategyFactory builds the strategy for inst. The hooks must be passed
// through so position changes reach the journal and trades reach the
// ledger.
type StrategyFactory func(inst market.Instrument, hooks strategies.Hooks) (portfolio.Reconcilable, error)

// Deps holds everything a Loop needs. Tracker, Ledger and Auditor are
// optional.
type Deps struct {
	Instruments  []market.Instrument
	Period       string
	PollInterval time.Duration
	DefaultRisk  float64

	Policy  risk.Policy
	Tracker *risk.RollingTracker

	Broker    broker.Broker
	Store     journal.Store
	Ledger    journal.Journal
	Reconcile reconcile.Options

	NewStrategy StrategyFactory
}

// Loop runs the portfolio. Candle pollers run concurrently, one per
// instrument, but every dispatch holds a single mutex so strategies, the
// runner, the manager, the journal and the rolling tracker only ever see
// one caller at a time.
type Loop struct {
	mu sync.Mutex

	period    string
	periodDur time.Duration
	poll      time.Duration
	client    broker.Client
	runner    *portfolio.Runner
	manager   *reconcile.Manager
	ledger    journal.Journal
	tracker   *risk.RollingTracker

	strategies map[market.Instrument]portfolio.Reconcilable
	order      []market.Instrument
	lastTick   time.Time

	now func() time.Time
	log zerolog.Logger
}

// New builds the strategies through d.NewStrategy and wires them to a
// runner and a reconciliation manager.
func New(d Deps) (*Loop, error) {
	if d.Broker == nil {
		return nil, errors.New("live: nil broker")
	}
	if d.NewStrategy == nil {
		return nil, errors.New("live: nil strategy factory")
	}
	if len(d.Instruments) == 0 {
		return nil, errors.New("live: no instruments")
	}
	store := d.Store
	if store == nil {
		store = journal.Discard{}
	}
	if d.Reconcile.TargetPeriod == "" {
		d.Reconcile.TargetPeriod = d.Period
	}

	l := &Loop{
		period:     d.Period,
		now:        time.Now,
		poll:       d.PollInterval,
		client:     d.Broker,
		ledger:     d.Ledger,
		tracker:    d.Tracker,
		strategies: make(map[market.Instrument]portfolio.Reconcilable, len(d.Instruments)),
		log:        log.With().Str("component", "live").Logger(),
	}
	// an unknown period keeps the poller at its minimum window
	l.periodDur, _ = market.PeriodDuration(d.Period)

	hooks := strategies.Hooks{
		OnPositionChange: l.onPositionChange,
		OnTradeClosed:    l.onTradeClosed,
	}
	list := make([]portfolio.Strategy, 0, len(d.Instruments))
	for _, inst := range d.Instruments {
		s, err := d.NewStrategy(inst, hooks)
		if err != nil {
			return nil, fmt.Errorf("build strategy %s: %w", inst, err)
		}
		if _, dup := l.strategies[inst]; dup {
			return nil, fmt.Errorf("live: duplicate instrument %s", inst)
		}
		l.strategies[inst] = s
		list = append(list, s)
	}

	runner, err := portfolio.NewRunner(list, d.Policy, d.DefaultRisk)
	if err != nil {
		return nil, err
	}
	l.runner = runner
	l.order = runner.Instruments()
	l.manager = reconcile.NewManager(l.strategies, d.Broker, store, d.Reconcile)
	return l, nil
}

// Manager exposes the reconciliation manager.
func (l *Loop) Manager() *reconcile.Manager { return l.manager }

// Runner exposes the portfolio runner.
func (l *Loop) Runner() *portfolio.Runner { return l.runner }

// Strategy returns the strategy managing inst.
func (l *Loop) Strategy(inst market.Instrument) (portfolio.Reconcilable, bool) {
	s, ok := l.strategies[inst]
	return s, ok
}

// onPositionChange and onTradeClosed are strategy hooks. Strategies only
// trade from inside Dispatch or Start, so the mutex is already held.
func (l *Loop) onPositionChange(inst market.Instrument) {
	l.manager.PersistPositions(inst)
}

func (l *Loop) onTradeClosed(rec journal.TradeRecord) {
	if l.ledger != nil {
		if err := l.ledger.RecordTrade(rec); err != nil {
			l.log.Error().Err(err).Str("trade", rec.TradeID).Msg("failed to record trade")
		}
	}
	if l.tracker != nil {
		l.tracker.AddTrades(TradeFromRecord(rec))
	}
}

// Start warms every strategy up in parallel, reconciles against the
// broker and checks exits on the restored positions. It returns the
// restored instruments.
func (l *Loop) Start(ctx context.Context) market.InstrumentSet {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.warmup(ctx)
	l.applyRisk()

	restored := l.manager.ReconcileOnStartup(ctx)
	if len(restored) > 0 {
		l.log.Info().Int("positions", len(restored)).Msg("checking exits on restored positions")
		l.manager.PostWarmupCheck(ctx, restored)
	}
	return restored
}

// warmup never fails the start; a strategy that could not warm up simply
// waits for enough live candles.
func (l *Loop) warmup(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range l.order {
		w, ok := l.strategies[inst].(portfolio.Warmer)
		if !ok {
			continue
		}
		inst := inst
		g.Go(func() error {
			if err := w.Warmup(gctx); err != nil {
				l.log.Warn().Err(err).Str("instrument", string(inst)).Msg("warmup failed, continuing cold")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// applyRisk sets an initial budget so the first bar after start does not
// trade on a zero allocation.
func (l *Loop) applyRisk() {
	l.runner.ApplyRiskBudgets()
}

// Dispatch delivers one closed candle. Once per target-period candle
// timestamp it also advances the reconciliation counter and runs a
// periodic pass when due.
func (l *Loop) Dispatch(ctx context.Context, ev portfolio.CandleCloseEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.runner.OnCandleClose(ctx, ev)
	if err != nil {
		l.log.Error().Err(err).Str("instrument", string(ev.Instrument)).Msg("candle dispatch failed")
	}

	if ev.Period == l.period && ev.Candle.Time.After(l.lastTick) {
		l.lastTick = ev.Candle.Time
		if l.manager.ShouldReconcile() {
			l.manager.PeriodicReconcile(ctx)
		}
	}
	return err
}

// Run starts the loop and polls every instrument until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if l.poll <= 0 {
		return errors.New("live: poll interval must be positive")
	}
	l.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range l.order {
		inst := inst
		g.Go(func() error { return l.pollInstrument(gctx, inst) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (l *Loop) pollInstrument(ctx context.Context, inst market.Instrument) error {
	p := &poller{loop: l, inst: inst}
	// the newest candle was already consumed by warmup
	p.prime(ctx)

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.once(ctx)
		}
	}
}

// Bounds of the poll window, in candles.
const (
	minPollCandles = 2
	maxPollCandles = 500
)

// poller tracks the newest candle delivered for one instrument.
type poller struct {
	loop *Loop
	inst market.Instrument
	last time.Time
}

// window sizes the fetch so every period elapsed since the last delivered
// candle is covered, for example after a broker outage.
func (p *poller) window() int {
	if p.last.IsZero() || p.loop.periodDur <= 0 {
		return minPollCandles
	}
	n := int(p.loop.now().Sub(p.last)/p.loop.periodDur) + 1
	switch {
	case n < minPollCandles:
		return minPollCandles
	case n > maxPollCandles:
		p.loop.log.Warn().Str("instrument", string(p.inst)).Time("last", p.last).Int("missed", n).
			Int("fetched", maxPollCandles).Msg("candle gap exceeds poll window, older bars skipped")
		return maxPollCandles
	}
	return n
}

func (p *poller) fetch(ctx context.Context) []market.Candle {
	candles, err := p.loop.client.GetHistoricalCandles(ctx, p.inst, p.loop.period, p.window())
	if err != nil {
		if ctx.Err() == nil {
			p.loop.log.Warn().Err(err).Str("instrument", string(p.inst)).Msg("candle poll failed")
		}
		return nil
	}
	return candles
}

func (p *poller) prime(ctx context.Context) {
	for _, c := range p.fetch(ctx) {
		if c.Time.After(p.last) {
			p.last = c.Time
		}
	}
}

// once dispatches every fetched candle newer than the last one seen, oldest
// first.
func (p *poller) once(ctx context.Context) int {
	n := 0
	for _, c := range p.fetch(ctx) {
		if !c.Time.After(p.last) {
			continue
		}
		p.last = c.Time
		_ = p.loop.Dispatch(ctx, portfolio.CandleCloseEvent{Instrument: p.inst, Period: p.loop.period, Candle: c})
		n++
	}
	return n
}

// TradeFromRecord converts a ledger record into a rolling tracker trade.
func TradeFromRecord(rec journal.TradeRecord) risk.Trade {
	return risk.Trade{
		Instrument: rec.Instrument,
		Direction:  rec.Direction,
		EntryTime:  rec.OpenTime.UTC().Format(time.RFC3339),
		ExitTime:   rec.CloseTime.UTC().Format(time.RFC3339),
		EntryPrice: rec.EntryPrice,
		ExitPrice:  rec.ExitPrice,
		Size:       rec.Size,
		PnL:        rec.RealizedPL,
		ExitReason: rec.Reason,
	}
}

// TradeLister is implemented by ledgers that can replay closed trades.
type TradeLister interface {
	ListTrades(ctx context.Context) ([]journal.TradeRecord, error)
}

// SeedTracker loads every recorded trade into t and returns how many were
// added.
func SeedTracker(ctx context.Context, t *risk.RollingTracker, src TradeLister) (int, error) {
	recs, err := src.ListTrades(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed tracker: %w", err)
	}
	trades := make([]risk.Trade, 0, len(recs))
	for _, rec := range recs {
		trades = append(trades, TradeFromRecord(rec))
	}
	t.AddTrades(trades...)
	return len(trades), nil
}
