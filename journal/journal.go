package journal

import (
	"errors"
	"time"

	"github.com/rustyeddy/tradedesk/market"
)

// TradeRecord is one closed round trip.
type TradeRecord struct {
	TradeID    string
	Instrument market.Instrument
	Direction  market.Direction
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string
}

// EquitySnapshot is a point-in-time read of the broker account.
type EquitySnapshot struct {
	Time        time.Time
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	Utilisation float64 // MarginUsed / Balance
}

// ReconciliationRecord is the audit row for one non-matched instrument of
// a reconciliation pass.
type ReconciliationRecord struct {
	PassID           string
	Kind             string // "startup" or "periodic"
	Time             time.Time
	Instrument       market.Instrument
	Discrepancy      string
	JournalDirection string
	JournalSize      float64
	BrokerDirection  string
	BrokerSize       float64
	BrokerDealID     string
	Message          string
}

// Journal records closed trades.
type Journal interface {
	RecordTrade(TradeRecord) error
	Close() error
}

// Multi fans trades out to several journals.
type Multi []Journal

func (m Multi) RecordTrade(t TradeRecord) error {
	var errs []error
	for _, j := range m {
		if err := j.RecordTrade(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
