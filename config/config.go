// Package config loads and validates the portfolio configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/risk"
	"github.com/rustyeddy/tradedesk/strategies"
)

// Environment variables read by ApplyEnv.
const (
	EnvToken     = "OANDA_TOKEN"
	EnvAccountID = "OANDA_ACCOUNT_ID"
)

// Broker types.
const (
	BrokerOanda = "oanda"
	BrokerSim   = "sim"
)

// Config represents the complete runtime configuration
type Config struct {
	Portfolio PortfolioConfig `json:"portfolio" yaml:"portfolio"`
	Policy    PolicyConfig    `json:"policy" yaml:"policy"`
	Sizing    SizingConfig    `json:"sizing" yaml:"sizing"`
	Strategy  StrategyConfig  `json:"strategy" yaml:"strategy"`
	Broker    BrokerConfig    `json:"broker" yaml:"broker"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// PortfolioConfig lists the managed instruments and the reconciliation
// cadence.
type PortfolioConfig struct {
	Instruments         []string `json:"instruments" yaml:"instruments"`
	Period              string   `json:"period" yaml:"period"`
	DefaultRiskPerTrade float64  `json:"default_risk_per_trade" yaml:"default_risk_per_trade"`
	PortfolioRiskBudget float64  `json:"portfolio_risk_budget" yaml:"portfolio_risk_budget"`
	ReconcileInterval   int      `json:"reconcile_interval" yaml:"reconcile_interval"`
	MarginCheckEnabled  bool     `json:"margin_check_enabled" yaml:"margin_check_enabled"`
	JournalEnabled      bool     `json:"journal_enabled" yaml:"journal_enabled"`
	JournalDir          string   `json:"journal_dir" yaml:"journal_dir"`
}

// PolicyConfig selects the risk allocation policy.
type PolicyConfig struct {
	Type              string             `json:"type" yaml:"type"` // equal, fixed or performance
	Weights           map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	MinAllocationPct  float64            `json:"min_allocation_pct" yaml:"min_allocation_pct"`
	MinTradesRequired int                `json:"min_trades_required" yaml:"min_trades_required"`
	WindowSize        int                `json:"window_size" yaml:"window_size"`
	DecayWeights      []float64          `json:"decay_weights,omitempty" yaml:"decay_weights,omitempty"`
	RecomputeInterval int                `json:"recompute_interval" yaml:"recompute_interval"`
	HistoricalDataDir string             `json:"historical_data_dir,omitempty" yaml:"historical_data_dir,omitempty"`
	LogThresholdPct   float64            `json:"log_threshold_pct" yaml:"log_threshold_pct"`
}

// SizingConfig controls ATR-normalised position sizing.
type SizingConfig struct {
	ATRPeriod   int     `json:"atr_period" yaml:"atr_period"`
	ATRRiskMult float64 `json:"atr_risk_mult" yaml:"atr_risk_mult"`
	MinSize     float64 `json:"min_size" yaml:"min_size"`
	MaxSize     float64 `json:"max_size" yaml:"max_size"`
}

// StrategyConfig contains strategy parameters shared by every instrument.
type StrategyConfig struct {
	Name          string  `json:"name" yaml:"name"`
	FastPeriod    int     `json:"fast_period" yaml:"fast_period"`
	SlowPeriod    int     `json:"slow_period" yaml:"slow_period"`
	RegimeATRMult float64 `json:"regime_atr_mult" yaml:"regime_atr_mult"`
	StopATRMult   float64 `json:"stop_atr_mult" yaml:"stop_atr_mult"`
	MaxBarsHeld   int     `json:"max_bars_held" yaml:"max_bars_held"`
}

// BrokerConfig selects the broker transport. Credentials are usually left
// empty here and supplied through the environment.
type BrokerConfig struct {
	Type         string `json:"type" yaml:"type"` // oanda or sim
	AccountID    string `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Token        string `json:"token,omitempty" yaml:"token,omitempty"`
	Practice     bool   `json:"practice" yaml:"practice"`
	Timeout      string `json:"timeout" yaml:"timeout"`             // e.g. "10s"
	PollInterval string `json:"poll_interval" yaml:"poll_interval"` // e.g. "30s"
}

// TimeoutDuration parses Timeout; empty means no bound.
func (b BrokerConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration(b.Timeout)
}

// PollDuration parses PollInterval; empty means no polling delay.
func (b BrokerConfig) PollDuration() (time.Duration, error) {
	return parseDuration(b.PollInterval)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// LedgerConfig contains closed-trade ledger parameters. Empty paths
// disable that ledger.
type LedgerConfig struct {
	TradesCSV string `json:"trades_csv,omitempty" yaml:"trades_csv,omitempty"`
	DBPath    string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LogConfig contains logging parameters
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// LoadFromFile loads configuration from a file (YAML, falling back to
// JSON). Fields missing from the file keep their Default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON
// otherwise).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv fills empty broker credentials from the process environment,
// then from the dotenv file at path. A missing file is not an error.
func (c *Config) ApplyEnv(path string) error {
	file := map[string]string{}
	if path != "" {
		vals, err := godotenv.Read(path)
		switch {
		case err == nil:
			file = vals
		case errors.Is(err, os.ErrNotExist):
		default:
			return fmt.Errorf("read env file: %w", err)
		}
	}

	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return file[key]
	}
	if c.Broker.Token == "" {
		c.Broker.Token = lookup(EnvToken)
	}
	if c.Broker.AccountID == "" {
		c.Broker.AccountID = lookup(EnvAccountID)
	}
	return nil
}

// RequireCredentials reports whether the configured broker can be reached
// with the credentials at hand.
func (c *Config) RequireCredentials() error {
	if c.Broker.Type != BrokerOanda {
		return nil
	}
	if c.Broker.Token == "" {
		return fmt.Errorf("broker token missing: set broker.token or %s", EnvToken)
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker account id missing: set broker.account_id or %s", EnvAccountID)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	p := c.Portfolio
	if len(p.Instruments) == 0 {
		return fmt.Errorf("portfolio.instruments is required")
	}
	seen := make(map[market.Instrument]bool, len(p.Instruments))
	for _, s := range p.Instruments {
		inst, err := market.ParseInstrument(s)
		if err != nil {
			return fmt.Errorf("portfolio.instruments: %w", err)
		}
		if seen[inst] {
			return fmt.Errorf("portfolio.instruments: duplicate %s", inst)
		}
		seen[inst] = true
	}
	if p.Period == "" {
		return fmt.Errorf("portfolio.period is required")
	}
	if p.DefaultRiskPerTrade <= 0 {
		return fmt.Errorf("portfolio.default_risk_per_trade must be positive")
	}
	if p.PortfolioRiskBudget <= 0 {
		return fmt.Errorf("portfolio.portfolio_risk_budget must be positive")
	}
	if p.ReconcileInterval <= 0 {
		return fmt.Errorf("portfolio.reconcile_interval must be positive")
	}
	if p.JournalEnabled && p.JournalDir == "" {
		return fmt.Errorf("portfolio.journal_dir required when journal_enabled")
	}

	if err := c.validatePolicy(seen); err != nil {
		return err
	}

	s := c.Sizing
	if s.ATRPeriod <= 0 {
		return fmt.Errorf("sizing.atr_period must be positive")
	}
	if s.ATRRiskMult <= 0 {
		return fmt.Errorf("sizing.atr_risk_mult must be positive")
	}
	if s.MinSize <= 0 || s.MaxSize < s.MinSize {
		return fmt.Errorf("sizing.min_size must be positive and not above sizing.max_size")
	}

	st := c.Strategy
	if st.FastPeriod <= 0 || st.SlowPeriod <= 0 {
		return fmt.Errorf("strategy.fast_period and strategy.slow_period must be positive")
	}
	if st.FastPeriod >= st.SlowPeriod {
		return fmt.Errorf("strategy.fast_period must be below strategy.slow_period")
	}
	if st.RegimeATRMult < 0 || st.StopATRMult < 0 || st.MaxBarsHeld < 0 {
		return fmt.Errorf("strategy multipliers and max_bars_held must not be negative")
	}

	switch c.Broker.Type {
	case BrokerOanda, BrokerSim:
	default:
		return fmt.Errorf("broker.type must be '%s' or '%s'", BrokerOanda, BrokerSim)
	}
	if _, err := c.Broker.TimeoutDuration(); err != nil {
		return fmt.Errorf("broker.timeout: %w", err)
	}
	if _, err := c.Broker.PollDuration(); err != nil {
		return fmt.Errorf("broker.poll_interval: %w", err)
	}

	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	return nil
}

func (c *Config) validatePolicy(managed map[market.Instrument]bool) error {
	pc := c.Policy
	switch strings.ToLower(pc.Type) {
	case "", risk.TypeEqual:
	case risk.TypeFixed:
		if len(pc.Weights) == 0 {
			return fmt.Errorf("policy.weights required for fixed policy")
		}
		for name := range pc.Weights {
			if !managed[market.Instrument(name)] {
				return fmt.Errorf("policy.weights: %s is not a managed instrument", name)
			}
		}
	case risk.TypePerformance:
		if pc.MinAllocationPct < 0 || pc.MinAllocationPct >= 1 {
			return fmt.Errorf("policy.min_allocation_pct must be in [0, 1)")
		}
		if pc.MinTradesRequired < 0 || pc.WindowSize < 0 || pc.RecomputeInterval < 0 {
			return fmt.Errorf("policy counts must not be negative")
		}
		if n := len(pc.DecayWeights); n != 0 {
			if n != 3 {
				return fmt.Errorf("policy.decay_weights needs 3 values, got %d", n)
			}
			if sum := pc.DecayWeights[0] + pc.DecayWeights[1] + pc.DecayWeights[2]; math.Abs(sum-1) > 0.001 {
				return fmt.Errorf("policy.decay_weights must sum to 1, got %.4f", sum)
			}
		}
	default:
		return fmt.Errorf("policy.type must be one of %s, %s, %s", risk.TypeEqual, risk.TypeFixed, risk.TypePerformance)
	}
	if pc.LogThresholdPct < 0 {
		return fmt.Errorf("policy.log_threshold_pct must not be negative")
	}
	return nil
}

// Instruments returns the managed instruments in configuration order.
func (c *Config) Instruments() []market.Instrument {
	out := make([]market.Instrument, 0, len(c.Portfolio.Instruments))
	for _, s := range c.Portfolio.Instruments {
		out = append(out, market.Instrument(strings.TrimSpace(s)))
	}
	return out
}

// RiskConfig maps the policy section onto risk.Config.
func (c *Config) RiskConfig() risk.Config {
	pc := c.Policy
	rc := risk.Config{
		Type:              strings.ToLower(pc.Type),
		Budget:            c.Portfolio.PortfolioRiskBudget,
		MinAllocationPct:  pc.MinAllocationPct,
		MinTradesRequired: pc.MinTradesRequired,
		WindowSize:        pc.WindowSize,
		RecomputeInterval: pc.RecomputeInterval,
		HistoricalDataDir: pc.HistoricalDataDir,
		LogThresholdPct:   pc.LogThresholdPct,
	}
	if len(pc.Weights) > 0 {
		rc.Weights = make(map[market.Instrument]float64, len(pc.Weights))
		for name, w := range pc.Weights {
			rc.Weights[market.Instrument(name)] = w
		}
	}
	if len(pc.DecayWeights) == 3 {
		copy(rc.DecayWeights[:], pc.DecayWeights)
	}
	return rc
}

// EMATrend builds the strategy configuration for inst.
func (c *Config) EMATrend(inst market.Instrument) strategies.EMATrendConfig {
	return strategies.EMATrendConfig{
		Instrument:    inst,
		Period:        c.Portfolio.Period,
		FastPeriod:    c.Strategy.FastPeriod,
		SlowPeriod:    c.Strategy.SlowPeriod,
		ATRPeriod:     c.Sizing.ATRPeriod,
		RegimeATRMult: c.Strategy.RegimeATRMult,
		StopATRMult:   c.Strategy.StopATRMult,
		MaxBarsHeld:   c.Strategy.MaxBarsHeld,
		ATRRiskMult:   c.Sizing.ATRRiskMult,
		MinSize:       c.Sizing.MinSize,
		MaxSize:       c.Sizing.MaxSize,
	}
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Portfolio: PortfolioConfig{
			Instruments:         []string{"EUR_USD", "GBP_USD"},
			Period:              "HOUR",
			DefaultRiskPerTrade: 10,
			PortfolioRiskBudget: 20,
			ReconcileInterval:   4,
			MarginCheckEnabled:  true,
			JournalEnabled:      true,
			JournalDir:          "./state",
		},
		Policy: PolicyConfig{
			Type:              risk.TypeEqual,
			MinAllocationPct:  0.1,
			MinTradesRequired: risk.DefaultMinTradesRequired,
			WindowSize:        risk.DefaultWindowSize,
			RecomputeInterval: risk.DefaultRecomputeInterval,
			LogThresholdPct:   risk.DefaultLogThresholdPct,
		},
		Sizing: SizingConfig{
			ATRPeriod:   14,
			ATRRiskMult: 2,
			MinSize:     0.1,
			MaxSize:     10,
		},
		Strategy: StrategyConfig{
			Name:          strategies.NameEMATrend,
			FastPeriod:    20,
			SlowPeriod:    50,
			RegimeATRMult: 0.5,
			StopATRMult:   2,
			MaxBarsHeld:   48,
		},
		Broker: BrokerConfig{
			Type:         BrokerSim,
			Practice:     true,
			Timeout:      "10s",
			PollInterval: "30s",
		},
		Ledger: LedgerConfig{
			TradesCSV: "./state/trades.csv",
			DBPath:    "./state/tradedesk.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
