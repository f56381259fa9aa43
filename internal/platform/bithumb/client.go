// Package bithumb is a price source backed by the Bithumb public ticker API.
package bithumb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// DefaultBaseURL is the production REST root.
const DefaultBaseURL = "https://api.bithumb.com"

// Client fetches closing prices from the Bithumb public ticker endpoint.
type Client struct {
	baseURL    string
	quote      string
	httpClient *http.Client
}

// NewClient creates a new ticker client.
//
// baseURL is the API root, e.g. "https://api.bithumb.com". quote is the
// payment currency appended to bare symbols, e.g. "KRW".
func NewClient(baseURL, quote string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if quote == "" {
		quote = "KRW"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		quote:   strings.ToUpper(quote),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Pair returns the exchange pair for symbol. Symbols that already carry a
// payment currency ("ETH_BTC") are used as-is.
func (c *Client) Pair(symbol string) string {
	sym := domain.NormalizeSymbol(symbol)
	if strings.Contains(sym, "_") {
		return sym
	}
	return sym + "_" + c.quote
}

// Fetch implements domain.PriceSource and returns the latest closing price.
func (c *Client) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := c.GetTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(t.ClosingPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bithumb: %w: %s: parse closing price %q: %v", domain.ErrFetch, symbol, t.ClosingPrice, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("bithumb: %w: %s: non-positive closing price %s", domain.ErrFetch, symbol, price)
	}
	return price, nil
}

// GetTicker returns the full ticker for symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	if domain.NormalizeSymbol(symbol) == "" {
		return Ticker{}, fmt.Errorf("bithumb: %w: empty symbol", domain.ErrFetch)
	}
	pair := c.Pair(symbol)
	body, err := c.doGet(ctx, "/public/ticker/"+url.PathEscape(pair))
	if err != nil {
		return Ticker{}, fmt.Errorf("bithumb: get ticker %s: %w", pair, err)
	}

	var resp TickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Ticker{}, fmt.Errorf("bithumb: %w: decode ticker %s: %v", domain.ErrFetch, pair, err)
	}
	if resp.Status != statusOK {
		return Ticker{}, fmt.Errorf("bithumb: %w: ticker %s: status %s: %s", domain.ErrFetch, pair, resp.Status, resp.Message)
	}

	var t Ticker
	if err := json.Unmarshal(resp.Data, &t); err != nil {
		return Ticker{}, fmt.Errorf("bithumb: %w: decode ticker data %s: %v", domain.ErrFetch, pair, err)
	}
	if t.ClosingPrice == "" {
		return Ticker{}, fmt.Errorf("bithumb: %w: ticker %s: missing closing_price", domain.ErrFetch, pair)
	}
	return t, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrFetch, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrFetch, domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrFetch, statusCode, bodyStr)
	}
}
