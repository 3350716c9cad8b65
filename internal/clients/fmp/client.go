// Package fmp provides a client for the FinancialModelingPrep quote API.
package fmp

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

const defaultBaseURL = "https://financialmodelingprep.com"

// Client is a FinancialModelingPrep API client
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new FMP client
func NewClient(apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		log: log.With().Str("client", "fmp").Logger(),
	}
}

// Name returns the source name used for quote tagging
func (c *Client) Name() string {
	return "fmp"
}

// quoteEntry is one element of the /api/v3/quote/{symbol} array response.
type quoteEntry struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	PreviousClose float64 `json:"previousClose"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changesPercentage"`
	Volume        int64   `json:"volume"`
	MarketCap     float64 `json:"marketCap"`
}

// Fetch retrieves the current quote for a ticker. FMP answers with a JSON
// array; an empty array means the symbol is unknown.
func (c *Client) Fetch(ctx context.Context, ticker string) (*domain.Quote, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("fmp API key not configured")
	}

	symbol := domain.NormalizeTicker(ticker)

	params := url.Values{}
	params.Add("apikey", c.apiKey)

	reqURL := c.baseURL + "/api/v3/quote/" + url.PathEscape(symbol) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fmp returned status %d: %s", resp.StatusCode, string(body))
	}

	var entries []quoteEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("fmp has no quote for %s", symbol)
	}

	entry := entries[0]
	if entry.Price <= 0 {
		return nil, fmt.Errorf("fmp returned no price for %s", symbol)
	}

	change := entry.Change
	changePct := entry.ChangePercent
	if change == 0 && entry.PreviousClose != 0 {
		change = entry.Price - entry.PreviousClose
		changePct = (change / entry.PreviousClose) * 100
	}

	c.log.Debug().
		Str("ticker", symbol).
		Float64("price", entry.Price).
		Msg("Fetched quote")

	return &domain.Quote{
		Symbol:        symbol,
		CurrentPrice:  entry.Price,
		PreviousClose: entry.PreviousClose,
		Change:        change,
		ChangePercent: changePct,
		Volume:        entry.Volume,
		MarketCap:     entry.MarketCap,
		Source:        c.Name(),
		FetchedAt:     time.Now().UTC(),
	}, nil
}
