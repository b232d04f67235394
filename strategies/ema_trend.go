package strategies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/indicators"
	"github.com/rustyeddy/tradedesk/journal"
	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/portfolio"
	"github.com/rustyeddy/tradedesk/position"
	"github.com/rustyeddy/tradedesk/risk"
)

// Exit reasons recorded on closed trades.
const (
	ExitStop       = "stop"
	ExitMaxBars    = "max_bars"
	ExitRegimeFlip = "regime_flip"
)

// EMATrendConfig configures one EMATrend instance.
type EMATrendConfig struct {
	Instrument market.Instrument
	Period     string

	FastPeriod int
	SlowPeriod int
	ATRPeriod  int

	// RegimeATRMult: the trend regime is active while the EMA spread is
	// at least this many ATRs.
	RegimeATRMult float64
	// StopATRMult: exit when the open loss reaches this many entry ATRs.
	StopATRMult float64
	// MaxBarsHeld: exit after this many bars; zero disables the limit.
	MaxBarsHeld int

	ATRRiskMult float64
	MinSize     float64
	MaxSize     float64
}

// EMATrendConfigDefaults returns a config for inst with sensible defaults.
func EMATrendConfigDefaults(inst market.Instrument) EMATrendConfig {
	return EMATrendConfig{
		Instrument:    inst,
		Period:        "HOUR",
		FastPeriod:    20,
		SlowPeriod:    50,
		ATRPeriod:     14,
		RegimeATRMult: 0.5,
		StopATRMult:   2.0,
		MaxBarsHeld:   48,
		ATRRiskMult:   2.0,
		MinSize:       0.1,
		MaxSize:       10,
	}
}

func (c EMATrendConfig) validate() error {
	switch {
	case c.Instrument == "":
		return market.ErrEmptyInstrument
	case c.FastPeriod <= 0 || c.SlowPeriod <= 0 || c.ATRPeriod <= 0:
		return fmt.Errorf("ema-trend %s: periods must be positive", c.Instrument)
	case c.FastPeriod >= c.SlowPeriod:
		return fmt.Errorf("ema-trend %s: fast period %d must be below slow period %d", c.Instrument, c.FastPeriod, c.SlowPeriod)
	case c.MinSize <= 0 || c.MaxSize < c.MinSize:
		return fmt.Errorf("ema-trend %s: need 0 < min size <= max size", c.Instrument)
	}
	return nil
}

// Hooks are optional callbacks fired after a position opens or closes.
type Hooks struct {
	// OnPositionChange is called after every open and close so the new
	// state can be checkpointed.
	OnPositionChange func(inst market.Instrument)
	// OnTradeClosed receives every completed round trip.
	OnTradeClosed func(rec journal.TradeRecord)
}

// EMATrend trades a single instrument in the direction of a fast/slow EMA
// spread while that spread is wide relative to ATR. Positions are sized
// by ATR and closed on an ATR stop, a bar limit, or a trend flip.
//
// EMATrend is not safe for concurrent use.
type EMATrend struct {
	cfg    EMATrendConfig
	broker broker.Broker
	hooks  Hooks

	fast *indicators.ExponentialMA
	slow *indicators.ExponentialMA
	atr  *indicators.ATR

	tracker      position.Tracker
	entryATR     float64
	entryTime    time.Time
	entryDealID  string
	riskPerTrade float64
	last         market.Candle
	haveLast     bool
	regimeActive bool
	trend        market.Direction

	log zerolog.Logger
}

var (
	_ portfolio.Reconcilable = (*EMATrend)(nil)
	_ portfolio.Warmer       = (*EMATrend)(nil)
)

// NewEMATrend validates cfg and builds a strategy trading through b.
func NewEMATrend(cfg EMATrendConfig, b broker.Broker, hooks Hooks) (*EMATrend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.New("ema-trend: nil broker")
	}
	return &EMATrend{
		cfg:    cfg,
		broker: b,
		hooks:  hooks,
		fast:   indicators.NewEMA(cfg.FastPeriod),
		slow:   indicators.NewEMA(cfg.SlowPeriod),
		atr:    indicators.NewATR(cfg.ATRPeriod),
		log:    log.With().Str("component", "strategy").Str("instrument", string(cfg.Instrument)).Logger(),
	}, nil
}

func (s *EMATrend) Instrument() market.Instrument { return s.cfg.Instrument }
func (s *EMATrend) Period() string                { return s.cfg.Period }
func (s *EMATrend) IsRegimeActive() bool          { return s.regimeActive }
func (s *EMATrend) Tracker() *position.Tracker    { return &s.tracker }
func (s *EMATrend) RiskPerTrade() float64         { return s.riskPerTrade }
func (s *EMATrend) EntryATR() float64             { return s.entryATR }

func (s *EMATrend) SetRiskPerTrade(risk float64) {
	s.riskPerTrade = risk
}

// Ready reports whether every indicator has warmed up.
func (s *EMATrend) Ready() bool {
	return s.fast.Ready() && s.slow.Ready() && s.atr.Ready()
}

// Trend is the direction of the fast EMA relative to the slow one, or Flat
// before warmup.
func (s *EMATrend) Trend() market.Direction {
	return s.trend
}

func (s *EMATrend) warmupCount() int {
	n := s.slow.Warmup()
	if w := s.atr.Warmup(); w > n {
		n = w
	}
	return n + 1
}

// Warmup primes the indicators from broker history. The tracker is not
// touched.
func (s *EMATrend) Warmup(ctx context.Context) error {
	candles, err := s.broker.GetHistoricalCandles(ctx, s.cfg.Instrument, s.cfg.Period, s.warmupCount())
	if err != nil {
		return fmt.Errorf("warmup %s: %w", s.cfg.Instrument, err)
	}
	for _, c := range candles {
		s.updateIndicators(c)
	}
	s.log.Debug().Int("candles", len(candles)).Bool("ready", s.Ready()).Msg("warmup complete")
	return nil
}

func (s *EMATrend) updateIndicators(c market.Candle) {
	s.fast.Update(c)
	s.slow.Update(c)
	s.atr.Update(c)
	s.last = c
	s.haveLast = true

	if !s.Ready() {
		s.regimeActive = false
		s.trend = market.Flat
		return
	}
	spread := s.fast.Value() - s.slow.Value()
	switch {
	case spread > 0:
		s.trend = market.Long
	case spread < 0:
		s.trend = market.Short
	default:
		s.trend = market.Flat
	}
	if spread < 0 {
		spread = -spread
	}
	s.regimeActive = s.trend != market.Flat && spread >= s.cfg.RegimeATRMult*s.atr.Value()
}

// UpdateState consumes a closed candle of the strategy's own instrument and
// period. It never trades.
func (s *EMATrend) UpdateState(ctx context.Context, ev portfolio.CandleCloseEvent) error {
	if ev.Instrument != s.cfg.Instrument {
		return nil
	}
	if ev.Period != "" && s.cfg.Period != "" && ev.Period != s.cfg.Period {
		return nil
	}
	s.updateIndicators(ev.Candle)
	s.tracker.OnBar(ev.Candle)
	return nil
}

// EvaluateSignals exits an open position whose exit conditions hold, or
// enters in the trend direction while the regime is active.
func (s *EMATrend) EvaluateSignals(ctx context.Context) error {
	if !s.haveLast || !s.Ready() {
		return nil
	}
	if !s.tracker.IsFlat() {
		if reason := s.exitReason(s.last); reason != "" {
			return s.closePosition(ctx, s.last, reason)
		}
		return nil
	}
	if !s.regimeActive || s.riskPerTrade <= 0 {
		return nil
	}
	return s.openPosition(ctx, s.trend)
}

// CheckRestoredPosition evaluates exits for a position restored from the
// journal or adopted from the broker, using c as the latest bar.
func (s *EMATrend) CheckRestoredPosition(ctx context.Context, c market.Candle) error {
	if s.tracker.IsFlat() {
		return nil
	}
	s.tracker.UpdateMFE(c)
	if s.entryATR <= 0 && s.atr.Ready() {
		// adopted positions carry no entry ATR
		s.entryATR = s.atr.Value()
	}
	if reason := s.exitReason(c); reason != "" {
		return s.closePosition(ctx, c, reason)
	}
	s.log.Info().Str("direction", string(s.tracker.Direction)).Float64("size", s.tracker.Size).
		Int("bars_held", s.tracker.BarsHeld).Msg("restored position kept")
	return nil
}

func (s *EMATrend) exitReason(c market.Candle) string {
	t := &s.tracker
	if s.cfg.StopATRMult > 0 && s.entryATR > 0 {
		if t.CurrentPnLPoints(c.Close) <= -s.cfg.StopATRMult*s.entryATR {
			return ExitStop
		}
	}
	if s.cfg.MaxBarsHeld > 0 && t.BarsHeld >= s.cfg.MaxBarsHeld {
		return ExitMaxBars
	}
	if s.trend == t.Direction.Opposite() && !s.trend.IsFlat() {
		return ExitRegimeFlip
	}
	return ""
}

func (s *EMATrend) openPosition(ctx context.Context, dir market.Direction) error {
	atr := s.atr.Value()
	size := risk.ATRNormalisedSize(s.riskPerTrade, atr, s.cfg.ATRRiskMult, s.cfg.MinSize, s.cfg.MaxSize)

	fill, err := s.broker.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		Instrument: s.cfg.Instrument,
		Side:       dir.ToOrderSide(),
		Size:       size,
	})
	if err != nil {
		return fmt.Errorf("open %s %s: %w", dir, s.cfg.Instrument, err)
	}

	s.tracker.Open(dir, fill.Size, fill.Price)
	s.entryATR = atr
	s.entryTime = fill.Time
	s.entryDealID = fill.DealID

	s.log.Info().Str("direction", string(dir)).Float64("size", fill.Size).Float64("price", fill.Price).
		Float64("atr", atr).Float64("risk", s.riskPerTrade).Msg("position opened")
	s.notifyChange()
	return nil
}

func (s *EMATrend) closePosition(ctx context.Context, c market.Candle, reason string) error {
	t := s.tracker
	fill, err := s.broker.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		Instrument: s.cfg.Instrument,
		Side:       t.Direction.Opposite().ToOrderSide(),
		Size:       t.Size,
	})
	if err != nil {
		return fmt.Errorf("close %s %s: %w", t.Direction, s.cfg.Instrument, err)
	}

	closeTime := fill.Time
	if closeTime.IsZero() {
		closeTime = c.Time
	}
	rec := journal.TradeRecord{
		TradeID:    s.entryDealID,
		Instrument: s.cfg.Instrument,
		Direction:  t.Direction,
		Size:       t.Size,
		EntryPrice: t.EntryPrice,
		ExitPrice:  fill.Price,
		OpenTime:   s.entryTime,
		CloseTime:  closeTime,
		RealizedPL: t.Direction.Sign() * (fill.Price - t.EntryPrice) * t.Size,
		Reason:     reason,
	}
	if rec.TradeID == "" {
		rec.TradeID = fill.DealID
	}
	if rec.OpenTime.IsZero() {
		rec.OpenTime = closeTime
	}

	s.tracker.Reset()
	s.entryATR = 0
	s.entryTime = time.Time{}
	s.entryDealID = ""

	s.log.Info().Str("direction", string(rec.Direction)).Float64("size", rec.Size).Float64("exit", rec.ExitPrice).
		Float64("pnl", rec.RealizedPL).Int("bars_held", t.BarsHeld).Str("reason", reason).Msg("position closed")
	s.notifyChange()
	if s.hooks.OnTradeClosed != nil {
		s.hooks.OnTradeClosed(rec)
	}
	return nil
}

func (s *EMATrend) notifyChange() {
	if s.hooks.OnPositionChange != nil {
		s.hooks.OnPositionChange(s.cfg.Instrument)
	}
}

// ToJournalEntry checkpoints the tracker together with the entry ATR the
// stop depends on.
func (s *EMATrend) ToJournalEntry(inst market.Instrument) journal.Entry {
	e := journal.Entry{Instrument: inst}
	if s.tracker.IsFlat() {
		return e
	}
	e.Direction = s.tracker.Direction
	e.Size = s.tracker.Size
	e.EntryPrice = s.tracker.EntryPrice
	e.BarsHeld = s.tracker.BarsHeld
	e.MFEPoints = s.tracker.MFEPoints
	e.EntryATR = s.entryATR
	return e
}

// RestoreFromJournal replaces the tracker with the checkpoint. Entry
// context of the previous position is dropped.
func (s *EMATrend) RestoreFromJournal(e journal.Entry) {
	s.tracker.Restore(e.Direction, e.Size, e.EntryPrice, e.BarsHeld, e.MFEPoints)
	s.entryATR = 0
	s.entryTime = time.Time{}
	s.entryDealID = ""
	if !s.tracker.IsFlat() {
		s.entryATR = e.EntryATR
	}
}
