package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/id"
	"github.com/rustyeddy/tradedesk/journal"
	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/portfolio"
)

// Pass kinds recorded in the audit trail.
const (
	KindStartup  = "startup"
	KindPeriodic = "periodic"
)

// Auditor receives the audit trail of reconciliation passes and the
// equity snapshots taken alongside them. journal.SQLite implements it.
type Auditor interface {
	RecordReconciliation(ctx context.Context, recs []journal.ReconciliationRecord) error
	RecordEquity(e journal.EquitySnapshot) error
}

type Options struct {
	// TargetPeriod is the candle period that drives periodic passes and
	// the period of the candle fetched for post-adoption checks when a
	// strategy does not report its own.
	TargetPeriod string
	// ReconcileInterval is the number of target-period candle closes
	// between periodic passes.
	ReconcileInterval int
	// MarginCheck logs account utilisation after each periodic pass.
	MarginCheck bool
	// BrokerTimeout bounds each broker call; zero means no extra bound.
	BrokerTimeout time.Duration
	Auditor       Auditor
}

// Manager restores strategies at startup, corrects drift against the
// broker, and checkpoints every tracker to the position journal.
//
// Manager is not safe for concurrent use; callers serialize access along
// with the strategies it manages.
type Manager struct {
	strategies map[market.Instrument]portfolio.Reconcilable
	client     broker.Client
	store      journal.Store
	opts       Options

	recentlyChanged market.InstrumentSet
	tick            int

	now func() time.Time
	log zerolog.Logger
}

func NewManager(strategies map[market.Instrument]portfolio.Reconcilable, client broker.Client, store journal.Store, opts Options) *Manager {
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 1
	}
	return &Manager{
		strategies:      strategies,
		client:          client,
		store:           store,
		opts:            opts,
		recentlyChanged: market.NewInstrumentSet(),
		now:             time.Now,
		log:             log.With().Str("component", "reconcile").Logger(),
	}
}

func (m *Manager) managed() market.InstrumentSet {
	s := market.NewInstrumentSet()
	for inst := range m.strategies {
		s.Add(inst)
	}
	return s
}

func (m *Manager) brokerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.BrokerTimeout > 0 {
		return context.WithTimeout(ctx, m.opts.BrokerTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) fetchPositions(ctx context.Context) ([]broker.Position, error) {
	ctx, cancel := m.brokerCtx(ctx)
	defer cancel()
	return m.client.GetPositions(ctx)
}

// ReconcileOnStartup restores every strategy from the journal, corrected
// against the broker, and returns the instruments that now hold a
// position. Those need a post-warmup exit check.
//
// If the broker cannot be reached the journal is trusted as is. A clean
// pass does not rewrite the journal.
func (m *Manager) ReconcileOnStartup(ctx context.Context) market.InstrumentSet {
	restored := market.NewInstrumentSet()

	entries, ok := m.store.Load()
	if !ok {
		m.log.Info().Msg("no position journal, fresh start")
	}
	byInst := journal.ByInstrument(entries)

	positions, err := m.fetchPositions(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("broker unreachable at startup, restoring from journal only")
		for _, inst := range m.sortedInstruments() {
			e, ok := byInst[inst]
			if !ok {
				continue
			}
			m.strategies[inst].RestoreFromJournal(e)
			if e.HasPosition() {
				restored.Add(inst)
				m.log.Info().Str("instrument", string(inst)).Str("direction", string(e.Direction)).
					Float64("size", e.Size).Msg("restored from journal")
			}
		}
		return restored
	}

	passID := id.New()
	res := Reconcile(byInst, positions, m.managed())
	m.logResult(passID, KindStartup, res)

	for _, e := range res.Entries {
		s, ok := m.strategies[e.Instrument]
		if !ok {
			continue
		}
		switch e.Discrepancy {
		case Matched:
			if e.Journal != nil && e.Journal.HasPosition() {
				s.RestoreFromJournal(*e.Journal)
				restored.Add(e.Instrument)
			}
		case OrphanBroker, FailedExit, DirectionMismatch:
			if adoptBroker(s, e.Broker) {
				restored.Add(e.Instrument)
			}
		case SizeMismatch:
			s.RestoreFromJournal(*e.Journal)
			s.Tracker().Resize(e.Broker.Size)
			restored.Add(e.Instrument)
		case PhantomLocal:
			// tracker is still flat at boot
		}
	}

	m.audit(ctx, passID, KindStartup, res)

	if !res.IsClean() {
		m.persistAll()
	}
	return restored
}

// PeriodicReconcile compares the live trackers with the broker and adopts
// the broker's view. Instruments that changed since the last pass are
// skipped once. A broker failure skips the whole pass.
func (m *Manager) PeriodicReconcile(ctx context.Context) {
	defer func() {
		if m.opts.MarginCheck {
			m.LogMarginUtilisation(ctx)
		}
	}()

	positions, err := m.fetchPositions(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("broker unreachable, periodic reconciliation skipped")
		return
	}

	skip := m.drainChanged()
	managed := market.NewInstrumentSet()
	local := make(map[market.Instrument]journal.Entry, len(m.strategies))
	for inst, s := range m.strategies {
		if skip.Has(inst) {
			continue
		}
		managed.Add(inst)
		local[inst] = s.ToJournalEntry(inst)
	}
	if len(skip) > 0 {
		m.log.Debug().Strs("instruments", instrumentStrings(skip.Sorted())).Msg("skipping recently changed instruments")
	}

	passID := id.New()
	res := Reconcile(local, positions, managed)
	m.logResult(passID, KindPeriodic, res)

	adopted := market.NewInstrumentSet()
	corrected := false
	for _, e := range res.Entries {
		s, ok := m.strategies[e.Instrument]
		if !ok || e.Discrepancy == Matched {
			continue
		}
		corrected = true
		switch e.Discrepancy {
		case OrphanBroker, FailedExit, DirectionMismatch:
			if adoptBroker(s, e.Broker) {
				adopted.Add(e.Instrument)
			}
		case SizeMismatch:
			s.Tracker().Resize(e.Broker.Size)
		case PhantomLocal:
			s.Tracker().Reset()
		}
	}

	m.audit(ctx, passID, KindPeriodic, res)

	if corrected {
		m.persistAll()
	}
	if len(adopted) > 0 {
		m.PostWarmupCheck(ctx, adopted)
	}
}

// adoptBroker discards the strategy's local position and restores it from
// the broker's, with no bar history or entry ATR. Only the exact sides BUY
// and SELL are adopted; anything else would never match on the next pass.
// It reports false when the position was not adopted.
func adoptBroker(s portfolio.Reconcilable, bp *broker.Position) bool {
	var dir market.Direction
	switch bp.Direction {
	case market.SideBuy:
		dir = market.Long
	case market.SideSell:
		dir = market.Short
	default:
		log.Error().Str("component", "reconcile").Str("instrument", string(bp.Instrument)).
			Str("side", bp.Direction).Msg("cannot adopt broker position: side must be BUY or SELL")
		return false
	}
	s.RestoreFromJournal(journal.Entry{
		Instrument: bp.Instrument,
		Direction:  dir,
		Size:       bp.Size,
		EntryPrice: bp.EntryPrice,
	})
	return true
}

// PostWarmupCheck fetches one fresh candle for each listed instrument that
// holds a position and lets its strategy evaluate exits. A failure on one
// instrument does not stop the others.
func (m *Manager) PostWarmupCheck(ctx context.Context, instruments market.InstrumentSet) {
	for _, inst := range instruments.Sorted() {
		s, ok := m.strategies[inst]
		if !ok || s.Tracker().IsFlat() {
			continue
		}
		if err := m.checkOne(ctx, inst, s); err != nil {
			m.log.Error().Err(err).Str("instrument", string(inst)).Msg("post-warmup exit check failed")
		}
	}
}

func (m *Manager) checkOne(ctx context.Context, inst market.Instrument, s portfolio.Reconcilable) error {
	period := s.Period()
	if period == "" {
		period = m.opts.TargetPeriod
	}

	cctx, cancel := m.brokerCtx(ctx)
	candles, err := m.client.GetHistoricalCandles(cctx, inst, period, 1)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch candle: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("fetch candle: no %s candle for %s", period, inst)
	}
	return s.CheckRestoredPosition(ctx, candles[len(candles)-1])
}

// PersistPositions marks changed as recently changed (when non-empty) and
// saves a fresh snapshot of every tracker. Strategies call it whenever
// they open or close a position.
func (m *Manager) PersistPositions(changed market.Instrument) {
	if changed != "" {
		m.markChanged(changed)
	}
	m.persistAll()
}

func (m *Manager) persistAll() {
	ts := m.now().UTC().Format(time.RFC3339)
	entries := make([]journal.Entry, 0, len(m.strategies))
	for _, inst := range m.sortedInstruments() {
		e := m.strategies[inst].ToJournalEntry(inst)
		if e.UpdatedAt == "" {
			e.UpdatedAt = ts
		}
		entries = append(entries, e)
	}
	if err := m.store.Save(entries); err != nil {
		m.log.Error().Err(err).Msg("failed to persist position journal")
	}
}

// ShouldReconcile counts target-period candle closes and reports true on
// every ReconcileInterval-th call.
func (m *Manager) ShouldReconcile() bool {
	m.tick++
	return m.tick%m.opts.ReconcileInterval == 0
}

// markChanged and drainChanged are the only mutators of recentlyChanged.
func (m *Manager) markChanged(inst market.Instrument) {
	m.recentlyChanged.Add(inst)
}

func (m *Manager) drainChanged() market.InstrumentSet {
	out := m.recentlyChanged
	m.recentlyChanged = market.NewInstrumentSet()
	return out
}

// RecentlyChanged returns a copy of the instruments that will be skipped
// by the next periodic pass.
func (m *Manager) RecentlyChanged() market.InstrumentSet {
	out := market.NewInstrumentSet()
	for inst := range m.recentlyChanged {
		out.Add(inst)
	}
	return out
}

// LogMarginUtilisation reads the account balance and logs utilisation.
// Failures are logged and otherwise ignored.
func (m *Manager) LogMarginUtilisation(ctx context.Context) {
	cctx, cancel := m.brokerCtx(ctx)
	bal, err := m.client.GetAccountBalance(cctx)
	cancel()
	if err != nil {
		m.log.Debug().Err(err).Msg("margin check failed")
		return
	}

	m.log.Info().
		Float64("balance", bal.Balance).
		Float64("margin_used", bal.Deposit).
		Float64("available", bal.Available).
		Float64("pnl", bal.ProfitLoss).
		Float64("utilisation_pct", bal.Utilisation()*100).
		Str("currency", bal.Currency).
		Msg("margin utilisation")

	if m.opts.Auditor == nil {
		return
	}
	snap := journal.EquitySnapshot{
		Time:        m.now().UTC(),
		Balance:     bal.Balance,
		Equity:      bal.Balance + bal.ProfitLoss,
		MarginUsed:  bal.Deposit,
		FreeMargin:  bal.Available,
		Utilisation: bal.Utilisation(),
	}
	if err := m.opts.Auditor.RecordEquity(snap); err != nil {
		m.log.Debug().Err(err).Msg("failed to record equity snapshot")
	}
}

func (m *Manager) logResult(passID, kind string, res Result) {
	l := m.log.With().Str("pass", passID).Str("kind", kind).Logger()
	if res.IsClean() {
		ev := l.Info()
		if kind == KindPeriodic {
			ev = l.Debug()
		}
		ev.Int("instruments", len(res.Entries)).Msg("reconciliation clean")
		return
	}
	for _, e := range res.Corrections() {
		ev := l.Warn()
		if e.Discrepancy == FailedExit {
			ev = l.Error().Bool("emergency", true)
		}
		ev.Str("instrument", string(e.Instrument)).
			Str("discrepancy", string(e.Discrepancy)).
			Msg(e.Message)
	}
}

func (m *Manager) audit(ctx context.Context, passID, kind string, res Result) {
	if m.opts.Auditor == nil {
		return
	}
	now := m.now().UTC()
	var recs []journal.ReconciliationRecord
	for _, e := range res.Corrections() {
		r := journal.ReconciliationRecord{
			PassID:      passID,
			Kind:        kind,
			Time:        now,
			Instrument:  e.Instrument,
			Discrepancy: string(e.Discrepancy),
			Message:     e.Message,
		}
		if e.Journal != nil {
			r.JournalDirection = string(e.Journal.Direction)
			r.JournalSize = e.Journal.Size
		}
		if e.Broker != nil {
			r.BrokerDirection = e.Broker.Direction
			r.BrokerSize = e.Broker.Size
			r.BrokerDealID = e.Broker.DealID
		}
		recs = append(recs, r)
	}
	if err := m.opts.Auditor.RecordReconciliation(ctx, recs); err != nil {
		m.log.Error().Err(err).Str("pass", passID).Msg("failed to record reconciliation audit")
	}
}

func (m *Manager) sortedInstruments() []market.Instrument {
	out := make([]market.Instrument, 0, len(m.strategies))
	for inst := range m.strategies {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func instrumentStrings(insts []market.Instrument) []string {
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = string(inst)
	}
	return out
}
