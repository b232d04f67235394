package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/broker/oanda"
	"github.com/rustyeddy/tradedesk/broker/sim"
	"github.com/rustyeddy/tradedesk/config"
	"github.com/rustyeddy/tradedesk/internal/live"
	"github.com/rustyeddy/tradedesk/journal"
	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/portfolio"
	"github.com/rustyeddy/tradedesk/reconcile"
	"github.com/rustyeddy/tradedesk/risk"
	"github.com/rustyeddy/tradedesk/strategies"
)

// openBroker returns the configured broker transport.
func openBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.Broker.Type {
	case config.BrokerOanda:
		if err := cfg.RequireCredentials(); err != nil {
			return nil, err
		}
		timeout, err := cfg.Broker.TimeoutDuration()
		if err != nil {
			return nil, err
		}
		return oanda.NewClient(cfg.Broker.Token, cfg.Broker.AccountID, cfg.Broker.Practice, timeout), nil
	case config.BrokerSim:
		return sim.NewEngine(broker.AccountBalance{Currency: "USD"}), nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
	}
}

// openStore returns the position journal, or a discarding store when the
// journal is disabled.
func openStore(cfg *config.Config) journal.Store {
	if !cfg.Portfolio.JournalEnabled {
		return journal.Discard{}
	}
	return journal.NewPositionJournal(cfg.Portfolio.JournalDir)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	return nil
}

// ledger bundles the configured trade ledgers. db is nil when no SQLite
// ledger is configured.
type ledger struct {
	journal.Multi
	db *journal.SQLite
}

func openLedger(cfg *config.Config) (*ledger, error) {
	l := &ledger{}
	if p := cfg.Ledger.DBPath; p != "" {
		if err := ensureDir(p); err != nil {
			return nil, err
		}
		db, err := journal.NewSQLite(p)
		if err != nil {
			return nil, fmt.Errorf("open ledger db: %w", err)
		}
		l.db = db
		l.Multi = append(l.Multi, db)
	}
	if p := cfg.Ledger.TradesCSV; p != "" {
		if err := ensureDir(p); err != nil {
			_ = l.Close()
			return nil, err
		}
		csvj, err := journal.NewCSV(p, filepath.Join(filepath.Dir(p), "equity.csv"))
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("open trades csv: %w", err)
		}
		l.Multi = append(l.Multi, csvj)
	}
	return l, nil
}

// buildPolicy builds the risk policy. The performance policy gets a
// rolling tracker seeded from backtest fills and then from the live
// ledger; the tracker is returned so closed trades can keep feeding it.
func buildPolicy(ctx context.Context, cfg *config.Config, db *journal.SQLite) (risk.Policy, *risk.RollingTracker, error) {
	rc := cfg.RiskConfig()
	if rc.Type != risk.TypePerformance {
		p, err := risk.NewPolicy(rc, nil)
		return p, nil, err
	}

	tracker, err := risk.NewTracker(rc)
	if err != nil {
		return nil, nil, err
	}
	if rc.HistoricalDataDir != "" {
		if err := tracker.LoadBacktest(rc.HistoricalDataDir); err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("could not load backtest trades")
		}
	}
	if db != nil {
		n, err := live.SeedTracker(ctx, tracker, db)
		if err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("could not seed tracker from ledger")
		} else {
			log.Info().Str("component", "cli").Int("trades", n).Msg("seeded tracker from ledger")
		}
	}
	p, err := risk.NewPolicy(rc, tracker)
	return p, tracker, err
}

func reconcileOptions(cfg *config.Config, auditor reconcile.Auditor) (reconcile.Options, error) {
	timeout, err := cfg.Broker.TimeoutDuration()
	if err != nil {
		return reconcile.Options{}, err
	}
	return reconcile.Options{
		TargetPeriod:      cfg.Portfolio.Period,
		ReconcileInterval: cfg.Portfolio.ReconcileInterval,
		MarginCheck:       cfg.Portfolio.MarginCheckEnabled,
		BrokerTimeout:     timeout,
		Auditor:           auditor,
	}, nil
}

// buildLoop assembles the live loop from cfg. The returned ledger must be
// closed by the caller.
func buildLoop(ctx context.Context, cfg *config.Config, b broker.Broker) (*live.Loop, *ledger, error) {
	led, err := openLedger(cfg)
	if err != nil {
		return nil, nil, err
	}

	policy, tracker, err := buildPolicy(ctx, cfg, led.db)
	if err != nil {
		_ = led.Close()
		return nil, nil, err
	}

	var auditor reconcile.Auditor
	if led.db != nil {
		auditor = led.db
	}
	opts, err := reconcileOptions(cfg, auditor)
	if err != nil {
		_ = led.Close()
		return nil, nil, err
	}
	poll, err := cfg.Broker.PollDuration()
	if err != nil {
		_ = led.Close()
		return nil, nil, err
	}

	var sink journal.Journal
	if len(led.Multi) > 0 {
		sink = led.Multi
	}
	loop, err := live.New(live.Deps{
		Instruments:  cfg.Instruments(),
		Period:       cfg.Portfolio.Period,
		PollInterval: poll,
		DefaultRisk:  cfg.Portfolio.DefaultRiskPerTrade,
		Policy:       policy,
		Tracker:      tracker,
		Broker:       b,
		Store:        openStore(cfg),
		Ledger:       sink,
		Reconcile:    opts,
		NewStrategy: func(inst market.Instrument, hooks strategies.Hooks) (portfolio.Reconcilable, error) {
			return strategies.ByName(cfg.Strategy.Name, cfg.EMATrend(inst), b, hooks)
		},
	})
	if err != nil {
		_ = led.Close()
		return nil, nil, err
	}
	return loop, led, nil
}
