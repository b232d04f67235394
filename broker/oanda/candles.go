package oanda

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rustyeddy/tradedesk/market"
)

// PriceComponent represents the price component for candles
type PriceComponent string

const (
	MidPrice PriceComponent = "M"
	BidPrice PriceComponent = "B"
	AskPrice PriceComponent = "A"
)

// CandlesRequest represents parameters for fetching historical candles
type CandlesRequest struct {
	Instrument  market.Instrument
	Price       PriceComponent // default MidPrice
	Granularity Granularity    // default H1
	Count       int            // at most 5000
}

type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool       `json:"complete"`
	Volume   int        `json:"volume"`
	Time     string     `json:"time"`
	Mid      candleData `json:"mid,omitempty"`
	Bid      candleData `json:"bid,omitempty"`
	Ask      candleData `json:"ask,omitempty"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// GetCandles fetches completed historical candles, oldest first.
func (c *Client) GetCandles(ctx context.Context, req CandlesRequest) ([]market.Candle, error) {
	if req.Instrument == "" {
		return nil, market.ErrEmptyInstrument
	}
	if req.Price == "" {
		req.Price = MidPrice
	}
	if req.Granularity == "" {
		req.Granularity = H1
	}
	if req.Count > maxCandles {
		return nil, fmt.Errorf("count cannot exceed %d", maxCandles)
	}

	params := url.Values{}
	params.Set("price", string(req.Price))
	params.Set("granularity", string(req.Granularity))
	if req.Count > 0 {
		params.Set("count", strconv.Itoa(req.Count))
	}

	var apiResp candlesResponse
	path := "/v3/instruments/" + url.PathEscape(string(req.Instrument)) + "/candles"
	if err := c.do(ctx, "GET", path, params, nil, &apiResp); err != nil {
		return nil, fmt.Errorf("candles %s: %w", req.Instrument, err)
	}

	candles := make([]market.Candle, 0, len(apiResp.Candles))
	for _, ac := range apiResp.Candles {
		if !ac.Complete {
			continue
		}

		t, err := parseTime(ac.Time)
		if err != nil {
			return nil, fmt.Errorf("parse time %s: %w", ac.Time, err)
		}

		var pd candleData
		switch req.Price {
		case BidPrice:
			pd = ac.Bid
		case AskPrice:
			pd = ac.Ask
		default:
			pd = ac.Mid
		}

		var ohlc [4]float64
		for i, s := range []string{pd.O, pd.H, pd.L, pd.C} {
			v, err := parseFloat(s)
			if err != nil {
				return nil, fmt.Errorf("parse price %q: %w", s, err)
			}
			ohlc[i] = v
		}

		candles = append(candles, market.Candle{
			Open:   ohlc[0],
			High:   ohlc[1],
			Low:    ohlc[2],
			Close:  ohlc[3],
			Time:   t,
			Volume: float64(ac.Volume),
		})
	}

	return candles, nil
}

// GetHistoricalCandles implements broker.Client.
func (c *Client) GetHistoricalCandles(ctx context.Context, instrument market.Instrument, period string, count int) ([]market.Candle, error) {
	g, err := GranularityFor(period)
	if err != nil {
		return nil, err
	}
	return c.GetCandles(ctx, CandlesRequest{
		Instrument:  instrument,
		Granularity: g,
		Count:       count,
	})
}
