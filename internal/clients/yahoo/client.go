// Package yahoo fetches quotes and daily price history from the Yahoo
// Finance chart API. It needs no API key.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Client is a Yahoo Finance chart API client
type Client struct {
	client  *http.Client
	baseURL string
	log     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client
func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// Name returns the source name used for quote tagging
func (c *Client) Name() string {
	return "yahoo"
}

// Fetch retrieves the current quote for a ticker from the chart API metadata.
// A zero or missing market price is treated as a failed lookup so the caller
// can fall through to another source.
func (c *Client) Fetch(ctx context.Context, ticker string) (*domain.Quote, error) {
	result, err := c.fetchChart(ctx, ticker, "1d")
	if err != nil {
		return nil, err
	}

	price := result.Meta.RegularMarketPrice
	if price <= 0 {
		return nil, fmt.Errorf("yahoo returned no market price for %s", ticker)
	}

	prevClose := result.Meta.ChartPreviousClose
	change := price - prevClose
	changePct := 0.0
	if prevClose > 0 {
		changePct = (change / prevClose) * 100
	}

	return &domain.Quote{
		Symbol:        domain.NormalizeTicker(ticker),
		CurrentPrice:  price,
		PreviousClose: prevClose,
		Change:        change,
		ChangePercent: changePct,
		Volume:        result.Meta.RegularMarketVolume,
		Source:        c.Name(),
		FetchedAt:     time.Now().UTC(),
	}, nil
}

// DailyCloses fetches daily closing prices for a ticker over a chart range
// such as "1mo", "3mo", "6mo" or "1y". Null bars are skipped.
func (c *Client) DailyCloses(ctx context.Context, ticker string, chartRange string) ([]DailyClose, error) {
	result, err := c.fetchChart(ctx, ticker, chartRange)
	if err != nil {
		return nil, err
	}

	if len(result.Indicators.Quote) == 0 {
		c.log.Warn().Str("ticker", ticker).Msg("No quote data in chart response")
		return []DailyClose{}, nil
	}

	closes := result.Indicators.Quote[0].Close

	var adjCloses []float64
	if len(result.Indicators.AdjClose) > 0 {
		adjCloses = result.Indicators.AdjClose[0].AdjClose
	}

	var prices []DailyClose
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == 0 {
			continue
		}

		closePrice := closes[i]
		if i < len(adjCloses) && adjCloses[i] != 0 {
			closePrice = adjCloses[i]
		}

		prices = append(prices, DailyClose{
			Date:  time.Unix(ts, 0).UTC(),
			Close: closePrice,
		})
	}

	c.log.Debug().
		Str("ticker", ticker).
		Str("range", chartRange).
		Int("count", len(prices)).
		Msg("Fetched daily closes")

	return prices, nil
}

// fetchChart calls the v8 chart endpoint and returns the first result
func (c *Client) fetchChart(ctx context.Context, ticker string, chartRange string) (*chartResult, error) {
	symbol := domain.NormalizeTicker(ticker)

	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("range", chartRange)

	reqURL := c.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Yahoo rejects requests without a browser-like User-Agent
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("yahoo chart API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result chartResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart API error: %s (%s)", result.Chart.Error.Description, result.Chart.Error.Code)
	}

	if len(result.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart data returned for %s", symbol)
	}

	return &result.Chart.Result[0], nil
}
