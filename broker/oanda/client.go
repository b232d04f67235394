// Package oanda implements broker.Broker on the OANDA v20 REST API.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/tradedesk/broker"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"

	maxCandles = 5000
)

// Granularity represents the time frame for candles
type Granularity string

const (
	M1  Granularity = "M1"
	M5  Granularity = "M5"
	M15 Granularity = "M15"
	M30 Granularity = "M30"
	H1  Granularity = "H1"
	H4  Granularity = "H4"
	D   Granularity = "D"
	W   Granularity = "W"
)

var periodGranularity = map[string]Granularity{
	"MINUTE":    M1,
	"MINUTE_5":  M5,
	"MINUTE_15": M15,
	"MINUTE_30": M30,
	"HOUR":      H1,
	"HOUR_4":    H4,
	"DAY":       D,
	"WEEK":      W,
}

// GranularityFor maps a portfolio period name (HOUR, MINUTE_15, ...) to an
// OANDA granularity. Native granularities pass through unchanged.
func GranularityFor(period string) (Granularity, error) {
	p := strings.ToUpper(strings.TrimSpace(period))
	if g, ok := periodGranularity[p]; ok {
		return g, nil
	}
	for _, g := range periodGranularity {
		if string(g) == p {
			return g, nil
		}
	}
	return "", fmt.Errorf("unsupported period %q", period)
}

// Client represents an OANDA API client bound to one account.
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
}

var _ broker.Broker = (*Client)(nil)

// NewClient creates a new OANDA API client
func NewClient(token, accountID string, practice bool, timeout time.Duration) *Client {
	baseURL := LiveURL
	if practice {
		baseURL = PracticeURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:   baseURL,
		token:     token,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// do sends the request and decodes a 200/201 JSON body into out.
// Transport failures, auth rejections and 5xx responses wrap
// broker.ErrUnavailable.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode >= 500 {
			return errors.Join(broker.ErrUnavailable, apiErr)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) accountPath(suffix string) (string, error) {
	if c.accountID == "" {
		return "", errors.New("oanda: missing account id")
	}
	return "/v3/accounts/" + url.PathEscape(c.accountID) + suffix, nil
}

// parseFloat parses a decimal string. OANDA encodes every price and unit
// count as a string.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
