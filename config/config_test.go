package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/risk"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
}

func TestLoadFromFileYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "tradedesk.yaml", `
portfolio:
  instruments: [USD_JPY, GBP_USD]
  portfolio_risk_budget: 30
  reconcile_interval: 2
policy:
  type: fixed
  weights:
    USD_JPY: 0.4
    GBP_USD: 0.6
broker:
  type: oanda
  account_id: 101-001
  timeout: 5s
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, []market.Instrument{"USD_JPY", "GBP_USD"}, cfg.Instruments())
	assert.Equal(t, 2, cfg.Portfolio.ReconcileInterval)
	assert.Equal(t, "HOUR", cfg.Portfolio.Period, "unset fields keep defaults")
	assert.InDelta(t, 10.0, cfg.Portfolio.DefaultRiskPerTrade, 1e-9)

	d, err := cfg.Broker.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	rc := cfg.RiskConfig()
	assert.Equal(t, risk.TypeFixed, rc.Type)
	assert.InDelta(t, 30.0, rc.Budget, 1e-9)
	assert.Equal(t, map[market.Instrument]float64{"USD_JPY": 0.4, "GBP_USD": 0.6}, rc.Weights)
}

func TestLoadFromFileJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "tradedesk.json", `{
  "portfolio": {"instruments": ["EUR_USD"], "period": "MINUTE_15"},
  "policy": {"type": "performance", "decay_weights": [0.6, 0.3, 0.1], "min_trades_required": 20},
  "log": {"level": "debug", "json": true}
}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "MINUTE_15", cfg.Portfolio.Period)
	assert.True(t, cfg.Log.JSON)
	rc := cfg.RiskConfig()
	assert.Equal(t, risk.DecayWeights{0.6, 0.3, 0.1}, rc.DecayWeights)
	assert.Equal(t, 20, rc.MinTradesRequired)
}

func TestLoadFromFileErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadFromFile(writeConfig(t, "bad.yaml", "portfolio: [unterminated"))
	assert.ErrorContains(t, err, "parse config")

	_, err = LoadFromFile(writeConfig(t, "invalid.yaml", "portfolio:\n  reconcile_interval: 0\n"))
	assert.ErrorContains(t, err, "reconcile_interval")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no instruments", func(c *Config) { c.Portfolio.Instruments = nil }, "portfolio.instruments"},
		{"blank instrument", func(c *Config) { c.Portfolio.Instruments = []string{" "} }, "portfolio.instruments"},
		{"duplicate instrument", func(c *Config) { c.Portfolio.Instruments = []string{"A", "A"} }, "duplicate"},
		{"no period", func(c *Config) { c.Portfolio.Period = "" }, "portfolio.period"},
		{"zero default risk", func(c *Config) { c.Portfolio.DefaultRiskPerTrade = 0 }, "default_risk_per_trade"},
		{"zero budget", func(c *Config) { c.Portfolio.PortfolioRiskBudget = 0 }, "portfolio_risk_budget"},
		{"journal without dir", func(c *Config) { c.Portfolio.JournalDir = "" }, "journal_dir"},
		{"unknown policy", func(c *Config) { c.Policy.Type = "kelly" }, "policy.type"},
		{"fixed without weights", func(c *Config) { c.Policy.Type = "fixed" }, "policy.weights"},
		{"fixed unmanaged weight", func(c *Config) {
			c.Policy.Type = "fixed"
			c.Policy.Weights = map[string]float64{"AUD_USD": 1}
		}, "not a managed instrument"},
		{"decay weights length", func(c *Config) {
			c.Policy.Type = "performance"
			c.Policy.DecayWeights = []float64{0.5, 0.5}
		}, "3 values"},
		{"decay weights sum", func(c *Config) {
			c.Policy.Type = "performance"
			c.Policy.DecayWeights = []float64{0.5, 0.3, 0.1}
		}, "sum to 1"},
		{"min allocation", func(c *Config) {
			c.Policy.Type = "performance"
			c.Policy.MinAllocationPct = 1
		}, "min_allocation_pct"},
		{"sizing bounds", func(c *Config) { c.Sizing.MaxSize = 0.01 }, "sizing.min_size"},
		{"atr period", func(c *Config) { c.Sizing.ATRPeriod = 0 }, "sizing.atr_period"},
		{"ema order", func(c *Config) { c.Strategy.FastPeriod = 60 }, "fast_period"},
		{"negative stop", func(c *Config) { c.Strategy.StopATRMult = -1 }, "must not be negative"},
		{"broker type", func(c *Config) { c.Broker.Type = "ig" }, "broker.type"},
		{"broker timeout", func(c *Config) { c.Broker.Timeout = "soon" }, "broker.timeout"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"out.yaml", "out.yml", "out.json"} {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			cfg.Policy.Type = risk.TypePerformance
			cfg.Policy.DecayWeights = []float64{0.5, 0.3, 0.2}
			path := filepath.Join(t.TempDir(), name)

			require.NoError(t, cfg.SaveToFile(path))
			got, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, got)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	// t.Setenv rules out t.Parallel here.
	t.Setenv(EnvToken, "")
	t.Setenv(EnvAccountID, "from-process")

	path := writeConfig(t, ".env", "OANDA_TOKEN=secret-token\nOANDA_ACCOUNT_ID=from-file\n")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(path))
	assert.Equal(t, "secret-token", cfg.Broker.Token)
	assert.Equal(t, "from-process", cfg.Broker.AccountID)

	cfg = Default()
	cfg.Broker.Token = "explicit"
	require.NoError(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "explicit", cfg.Broker.Token)
}

func TestRequireCredentials(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.NoError(t, cfg.RequireCredentials(), "sim needs no credentials")

	cfg.Broker.Type = BrokerOanda
	assert.ErrorContains(t, cfg.RequireCredentials(), EnvToken)
	cfg.Broker.Token = "t"
	assert.ErrorContains(t, cfg.RequireCredentials(), EnvAccountID)
	cfg.Broker.AccountID = "a"
	assert.NoError(t, cfg.RequireCredentials())
}

func TestEMATrendConfig(t *testing.T) {
	t.Parallel()

	cfg := Default()
	sc := cfg.EMATrend("EUR_USD")
	assert.Equal(t, market.Instrument("EUR_USD"), sc.Instrument)
	assert.Equal(t, "HOUR", sc.Period)
	assert.Equal(t, 20, sc.FastPeriod)
	assert.Equal(t, 14, sc.ATRPeriod)
	assert.InDelta(t, 2.0, sc.ATRRiskMult, 1e-9)
}
