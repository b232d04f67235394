package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/tradedesk/market"
)

// ErrUnavailable wraps transport failures: the broker could not be reached
// or refused the session.
var ErrUnavailable = errors.New("broker unavailable")

// Client is the read side of a broker session.
type Client interface {
	// GetPositions returns every open position on the account, including
	// positions on instruments this process does not manage.
	GetPositions(ctx context.Context) ([]Position, error)
	GetAccountBalance(ctx context.Context) (AccountBalance, error)
	// GetHistoricalCandles returns up to count completed candles,
	// oldest first.
	GetHistoricalCandles(ctx context.Context, instrument market.Instrument, period string, count int) ([]market.Candle, error)
}

// Trader places orders.
type Trader interface {
	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (OrderFill, error)
}

// Broker is a full session.
type Broker interface {
	Client
	Trader
}

// Position is the broker's view of one open position. Direction is the
// broker-native side, BUY or SELL.
type Position struct {
	Instrument market.Instrument
	Direction  string
	Size       float64
	EntryPrice float64
	DealID     string
	Currency   string
	CreatedAt  time.Time
}

type AccountBalance struct {
	Balance    float64
	Deposit    float64 // margin in use
	Available  float64
	ProfitLoss float64
	Currency   string
}

// Utilisation is margin in use as a fraction of balance.
func (a AccountBalance) Utilisation() float64 {
	if a.Balance <= 0 {
		return 0
	}
	return a.Deposit / a.Balance
}

type MarketOrderRequest struct {
	Instrument market.Instrument
	Side       string // BUY or SELL
	Size       float64
}

type OrderFill struct {
	DealID     string
	Instrument market.Instrument
	Side       string
	Size       float64
	Price      float64
	Time       time.Time
}
