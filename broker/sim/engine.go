// Package sim is an in-memory paper broker. Positions are netted per
// instrument and fills happen at the close of the last loaded candle.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/id"
	"github.com/rustyeddy/tradedesk/market"
)

var (
	ErrNoPrice     = errors.New("no price for instrument")
	ErrInvalidSize = errors.New("order size must be positive")
)

// Calls counts broker requests by kind.
type Calls struct {
	Positions int
	Balance   int
	Candles   int
	Orders    int
}

type Engine struct {
	mu        sync.Mutex
	acct      broker.AccountBalance
	positions map[market.Instrument]broker.Position
	candles   map[market.Instrument][]market.Candle

	positionsErr error
	balanceErr   error
	candlesErr   map[market.Instrument]error

	calls Calls
	now   func() time.Time
}

var _ broker.Broker = (*Engine)(nil)

func NewEngine(acct broker.AccountBalance) *Engine {
	return &Engine{
		acct:       acct,
		positions:  make(map[market.Instrument]broker.Position),
		candles:    make(map[market.Instrument][]market.Candle),
		candlesErr: make(map[market.Instrument]error),
		now:        time.Now,
	}
}

// SetPositions replaces every open position.
func (e *Engine) SetPositions(ps ...broker.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.positions = make(map[market.Instrument]broker.Position, len(ps))
	for _, p := range ps {
		e.positions[p.Instrument] = p
	}
}

// ClosePosition removes a position without a fill, as a manual close on
// the broker's own platform would.
func (e *Engine) ClosePosition(instrument market.Instrument) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.positions, instrument)
}

func (e *Engine) SetCandles(instrument market.Instrument, candles []market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[instrument] = append([]market.Candle(nil), candles...)
}

func (e *Engine) AppendCandle(instrument market.Instrument, c market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[instrument] = append(e.candles[instrument], c)
}

// FailPositions makes GetPositions return err until called again with nil.
func (e *Engine) FailPositions(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positionsErr = err
}

func (e *Engine) FailBalance(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balanceErr = err
}

func (e *Engine) FailCandles(instrument market.Instrument, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.candlesErr, instrument)
		return
	}
	e.candlesErr[instrument] = err
}

func (e *Engine) Calls() Calls {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Engine) GetPositions(ctx context.Context) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls.Positions++
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	if e.positionsErr != nil {
		return nil, e.positionsErr
	}

	out := make([]broker.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

func (e *Engine) GetAccountBalance(ctx context.Context) (broker.AccountBalance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls.Balance++
	if e.balanceErr != nil {
		return broker.AccountBalance{}, e.balanceErr
	}

	acct := e.acct
	acct.ProfitLoss = 0
	for inst, p := range e.positions {
		if px, ok := e.lastClose(inst); ok {
			dir, _ := market.DirectionFromOrderSide(p.Direction)
			acct.ProfitLoss += dir.Sign() * (px - p.EntryPrice) * p.Size
		}
	}
	acct.Available = acct.Balance + acct.ProfitLoss - acct.Deposit
	return acct, nil
}

// GetHistoricalCandles returns the last count loaded candles. The period is
// not interpreted.
func (e *Engine) GetHistoricalCandles(ctx context.Context, instrument market.Instrument, period string, count int) ([]market.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls.Candles++
	if err := e.candlesErr[instrument]; err != nil {
		return nil, err
	}

	cs := e.candles[instrument]
	if count > 0 && len(cs) > count {
		cs = cs[len(cs)-count:]
	}
	return append([]market.Candle(nil), cs...), nil
}

// PlaceMarketOrder fills at the last close and nets against any open
// position on the instrument.
func (e *Engine) PlaceMarketOrder(ctx context.Context, req broker.MarketOrderRequest) (broker.OrderFill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls.Orders++
	if req.Size <= 0 {
		return broker.OrderFill{}, ErrInvalidSize
	}
	dir, err := market.DirectionFromOrderSide(req.Side)
	if err != nil {
		return broker.OrderFill{}, err
	}
	px, ok := e.lastClose(req.Instrument)
	if !ok {
		return broker.OrderFill{}, fmt.Errorf("%w: %s", ErrNoPrice, req.Instrument)
	}

	now := e.now().UTC()
	fill := broker.OrderFill{
		DealID:     id.NewAt(now),
		Instrument: req.Instrument,
		Side:       dir.ToOrderSide(),
		Size:       req.Size,
		Price:      px,
		Time:       now,
	}

	cur, open := e.positions[req.Instrument]
	if !open {
		e.positions[req.Instrument] = broker.Position{
			Instrument: req.Instrument,
			Direction:  fill.Side,
			Size:       req.Size,
			EntryPrice: px,
			DealID:     fill.DealID,
			Currency:   e.acct.Currency,
			CreatedAt:  now,
		}
		return fill, nil
	}

	curDir, _ := market.DirectionFromOrderSide(cur.Direction)
	if curDir == dir {
		total := cur.Size + req.Size
		cur.EntryPrice = (cur.EntryPrice*cur.Size + px*req.Size) / total
		cur.Size = total
		e.positions[req.Instrument] = cur
		return fill, nil
	}

	closed := math.Min(cur.Size, req.Size)
	e.acct.Balance += curDir.Sign() * (px - cur.EntryPrice) * closed

	switch remaining := req.Size - cur.Size; {
	case math.Abs(remaining) < 1e-9:
		delete(e.positions, req.Instrument)
	case remaining < 0:
		cur.Size = -remaining
		e.positions[req.Instrument] = cur
	default:
		e.positions[req.Instrument] = broker.Position{
			Instrument: req.Instrument,
			Direction:  fill.Side,
			Size:       remaining,
			EntryPrice: px,
			DealID:     fill.DealID,
			Currency:   e.acct.Currency,
			CreatedAt:  now,
		}
	}
	return fill, nil
}

func (e *Engine) lastClose(instrument market.Instrument) (float64, bool) {
	cs := e.candles[instrument]
	if len(cs) == 0 {
		return 0, false
	}
	return cs[len(cs)-1].Close, true
}
