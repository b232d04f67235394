// Package strategies holds the reconcilable strategies the portfolio can run.
package strategies

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/portfolio"
)

// Names accepted by ByName.
const (
	NameEMATrend = "ema-trend"
)

// ByName builds the named strategy for cfg.Instrument.
func ByName(name string, cfg EMATrendConfig, b broker.Broker, hooks Hooks) (portfolio.Reconcilable, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameEMATrend, "ematrend":
		return NewEMATrend(cfg, b, hooks)
	default:
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, NameEMATrend)
	}
}
