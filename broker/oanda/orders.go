package oanda

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/market"
)

type marketOrder struct {
	Type         string `json:"type"`
	Instrument   string `json:"instrument"`
	Units        string `json:"units"`
	TimeInForce  string `json:"timeInForce"`
	PositionFill string `json:"positionFill"`
}

type orderRequest struct {
	Order marketOrder `json:"order"`
}

type orderFillTransaction struct {
	ID    string `json:"id"`
	Time  string `json:"time"`
	Units string `json:"units"`
	Price string `json:"price"`
}

type orderCancelTransaction struct {
	Reason string `json:"reason"`
}

type orderResponse struct {
	OrderFillTransaction   *orderFillTransaction   `json:"orderFillTransaction"`
	OrderCancelTransaction *orderCancelTransaction `json:"orderCancelTransaction"`
}

var ErrOrderCancelled = errors.New("order cancelled")

// PlaceMarketOrder submits a fill-or-kill market order. SELL orders are sent
// as negative units.
func (c *Client) PlaceMarketOrder(ctx context.Context, req broker.MarketOrderRequest) (broker.OrderFill, error) {
	dir, err := market.DirectionFromOrderSide(req.Side)
	if err != nil {
		return broker.OrderFill{}, err
	}
	if req.Size <= 0 {
		return broker.OrderFill{}, fmt.Errorf("order size must be positive, got %v", req.Size)
	}
	path, err := c.accountPath("/orders")
	if err != nil {
		return broker.OrderFill{}, err
	}

	body := orderRequest{Order: marketOrder{
		Type:         "MARKET",
		Instrument:   string(req.Instrument),
		Units:        strconv.FormatFloat(dir.Sign()*req.Size, 'f', -1, 64),
		TimeInForce:  "FOK",
		PositionFill: "DEFAULT",
	}}

	var resp orderResponse
	if err := c.do(ctx, "POST", path, nil, body, &resp); err != nil {
		return broker.OrderFill{}, fmt.Errorf("market order %s: %w", req.Instrument, err)
	}
	if resp.OrderCancelTransaction != nil {
		return broker.OrderFill{}, fmt.Errorf("%w: %s", ErrOrderCancelled, resp.OrderCancelTransaction.Reason)
	}
	if resp.OrderFillTransaction == nil {
		return broker.OrderFill{}, errors.New("market order: no fill in response")
	}

	tx := resp.OrderFillTransaction
	price, err := parseFloat(tx.Price)
	if err != nil {
		return broker.OrderFill{}, fmt.Errorf("fill price: %w", err)
	}
	ts, err := parseTime(tx.Time)
	if err != nil {
		return broker.OrderFill{}, fmt.Errorf("fill time: %w", err)
	}

	return broker.OrderFill{
		DealID:     tx.ID,
		Instrument: req.Instrument,
		Side:       dir.ToOrderSide(),
		Size:       req.Size,
		Price:      price,
		Time:       ts,
	}, nil
}
