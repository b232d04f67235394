package oanda

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/market"
)

type positionSide struct {
	Units        string   `json:"units"`
	AveragePrice string   `json:"averagePrice"`
	TradeIDs     []string `json:"tradeIDs"`
}

type apiPosition struct {
	Instrument string       `json:"instrument"`
	Long       positionSide `json:"long"`
	Short      positionSide `json:"short"`
}

type openPositionsResponse struct {
	Positions []apiPosition `json:"positions"`
}

type accountSummary struct {
	Currency        string `json:"currency"`
	Balance         string `json:"balance"`
	MarginUsed      string `json:"marginUsed"`
	MarginAvailable string `json:"marginAvailable"`
	UnrealizedPL    string `json:"unrealizedPL"`
}

type accountSummaryResponse struct {
	Account accountSummary `json:"account"`
}

// GetPositions lists open positions. OANDA reports a long and a short leg per
// instrument; each non-zero leg becomes one broker.Position.
func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	path, err := c.accountPath("/openPositions")
	if err != nil {
		return nil, err
	}

	var resp openPositionsResponse
	if err := c.do(ctx, "GET", path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}

	var out []broker.Position
	for _, p := range resp.Positions {
		for _, leg := range []struct {
			side string
			data positionSide
		}{
			{market.SideBuy, p.Long},
			{market.SideSell, p.Short},
		} {
			units, err := parseFloat(leg.data.Units)
			if err != nil {
				return nil, fmt.Errorf("position %s units: %w", p.Instrument, err)
			}
			if units == 0 {
				continue
			}
			price, err := parseFloat(leg.data.AveragePrice)
			if err != nil {
				return nil, fmt.Errorf("position %s price: %w", p.Instrument, err)
			}
			pos := broker.Position{
				Instrument: market.Instrument(p.Instrument),
				Direction:  leg.side,
				Size:       math.Abs(units),
				EntryPrice: price,
			}
			if len(leg.data.TradeIDs) > 0 {
				pos.DealID = leg.data.TradeIDs[0]
			}
			out = append(out, pos)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

// GetAccountBalance reads the account summary.
func (c *Client) GetAccountBalance(ctx context.Context) (broker.AccountBalance, error) {
	path, err := c.accountPath("/summary")
	if err != nil {
		return broker.AccountBalance{}, err
	}

	var resp accountSummaryResponse
	if err := c.do(ctx, "GET", path, nil, nil, &resp); err != nil {
		return broker.AccountBalance{}, fmt.Errorf("account summary: %w", err)
	}

	a := resp.Account
	out := broker.AccountBalance{Currency: a.Currency}
	for _, f := range []struct {
		dst *float64
		src string
	}{
		{&out.Balance, a.Balance},
		{&out.Deposit, a.MarginUsed},
		{&out.Available, a.MarginAvailable},
		{&out.ProfitLoss, a.UnrealizedPL},
	} {
		v, err := parseFloat(f.src)
		if err != nil {
			return broker.AccountBalance{}, fmt.Errorf("account summary: %w", err)
		}
		*f.dst = v
	}
	return out, nil
}
