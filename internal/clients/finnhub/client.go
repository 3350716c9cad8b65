// Package finnhub provides clients for the Finnhub REST quote API and the
// Finnhub trade websocket. REST calls authenticate with a token query
// parameter; a quote of zero means the symbol is unknown.
package finnhub

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

const defaultBaseURL = "https://finnhub.io/api/v1"

// Client is a Finnhub REST API client
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Finnhub REST client
func NewClient(apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		log: log.With().Str("client", "finnhub").Logger(),
	}
}

// Name returns the source name used for quote tagging
func (c *Client) Name() string {
	return "finnhub"
}

// quoteResponse is the /quote payload. Finnhub returns c=0 (not an HTTP
// error) for symbols it does not know.
type quoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
}

// Fetch retrieves the current quote for a ticker
func (c *Client) Fetch(ctx context.Context, ticker string) (*domain.Quote, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("finnhub API key not configured")
	}

	symbol := domain.NormalizeTicker(ticker)

	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("token", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
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
		return nil, fmt.Errorf("finnhub returned status %d: %s", resp.StatusCode, string(body))
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if quote.Current == 0 {
		return nil, fmt.Errorf("finnhub has no quote for %s", symbol)
	}

	change := quote.Change
	changePct := quote.ChangePercent
	if change == 0 && quote.PreviousClose != 0 {
		change = quote.Current - quote.PreviousClose
		changePct = (change / quote.PreviousClose) * 100
	}

	c.log.Debug().
		Str("ticker", symbol).
		Float64("price", quote.Current).
		Msg("Fetched quote")

	return &domain.Quote{
		Symbol:        symbol,
		CurrentPrice:  quote.Current,
		PreviousClose: quote.PreviousClose,
		Change:        change,
		ChangePercent: changePct,
		Source:        c.Name(),
		FetchedAt:     time.Now().UTC(),
	}, nil
}
