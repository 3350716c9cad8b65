// Package alphavantage provides a client for the Alpha Vantage quote API.
// The free tier allows 25 requests per day, so the client tracks its own
// request budget and refuses calls once the budget is spent. Responses are
// not cached here; the market data cache owns quote freshness.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

const (
	defaultBaseURL = "https://www.alphavantage.co/query"

	// Free tier budget. Resets at midnight UTC.
	dailyRequestLimit = 25
)

// Client is an Alpha Vantage API client with free-tier rate limiting
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	mu           sync.Mutex
	requestCount int
	counterReset time.Time
}

// NewClient creates a new Alpha Vantage client
func NewClient(apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		log:          log.With().Str("client", "alphavantage").Logger(),
		counterReset: nextMidnightUTC(),
	}
}

// Name returns the source name used for quote tagging
func (c *Client) Name() string {
	return "alphavantage"
}

// Fetch retrieves the current quote for a ticker via the GLOBAL_QUOTE
// function. An empty quote object or a zero price means the symbol is
// unknown to Alpha Vantage.
func (c *Client) Fetch(ctx context.Context, ticker string) (*domain.Quote, error) {
	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}

	symbol := domain.NormalizeTicker(ticker)

	params := url.Values{}
	params.Add("function", "GLOBAL_QUOTE")
	params.Add("symbol", symbol)
	params.Add("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
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
		return nil, fmt.Errorf("alpha vantage returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := c.checkAPIError(body); err != nil {
		return nil, err
	}

	gq, err := parseGlobalQuote(body)
	if err != nil {
		return nil, err
	}

	if gq.Symbol == "" || gq.Price <= 0 {
		return nil, ErrSymbolNotFound{Symbol: symbol}
	}

	return &domain.Quote{
		Symbol:        symbol,
		CurrentPrice:  gq.Price,
		PreviousClose: gq.PreviousClose,
		Change:        gq.Change,
		ChangePercent: gq.ChangePercent,
		Volume:        gq.Volume,
		Source:        c.Name(),
		FetchedAt:     time.Now().UTC(),
	}, nil
}

// GetRemainingRequests returns how many requests are left in today's budget
func (c *Client) GetRemainingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeResetCounter()
	return dailyRequestLimit - c.requestCount
}

// ResetDailyCounter resets the request budget immediately
func (c *Client) ResetDailyCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCount = 0
	c.counterReset = nextMidnightUTC()
}

// checkRateLimit consumes one request from the daily budget, or fails
// when the budget is exhausted.
func (c *Client) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeResetCounter()

	if c.requestCount >= dailyRequestLimit {
		c.log.Warn().
			Int("limit", dailyRequestLimit).
			Time("resets_at", c.counterReset).
			Msg("Daily request budget exhausted")
		return ErrRateLimitExceeded{}
	}

	c.requestCount++
	return nil
}

// maybeResetCounter rolls the budget over at midnight UTC. Caller holds mu.
func (c *Client) maybeResetCounter() {
	if time.Now().UTC().After(c.counterReset) {
		c.requestCount = 0
		c.counterReset = nextMidnightUTC()
	}
}

func nextMidnightUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// checkAPIError detects Alpha Vantage's in-band error payloads, which come
// back with HTTP 200.
func (c *Client) checkAPIError(body []byte) error {
	text := string(body)

	if strings.Contains(text, "Thank you for using Alpha Vantage") {
		return ErrRateLimitExceeded{}
	}

	var envelope struct {
		Note         string `json:"Note"`
		Information  string `json:"Information"`
		ErrorMessage string `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Not a JSON error envelope, let the caller parse it as data
		return nil
	}

	switch {
	case envelope.Note != "":
		return ErrRateLimitExceeded{}
	case envelope.Information != "":
		if strings.Contains(strings.ToLower(envelope.Information), "api key") {
			return ErrInvalidAPIKey{}
		}
		return ErrRateLimitExceeded{}
	case envelope.ErrorMessage != "":
		return fmt.Errorf("alpha vantage API error: %s", envelope.ErrorMessage)
	}

	return nil
}

// GlobalQuote is the parsed GLOBAL_QUOTE payload
type GlobalQuote struct {
	Symbol           string
	Open             float64
	High             float64
	Low              float64
	Price            float64
	Volume           int64
	LatestTradingDay string
	PreviousClose    float64
	Change           float64
	ChangePercent    float64
}

// parseGlobalQuote decodes the numbered-key GLOBAL_QUOTE object
func parseGlobalQuote(body []byte) (*GlobalQuote, error) {
	var envelope struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse global quote: %w", err)
	}

	gq := envelope.GlobalQuote
	return &GlobalQuote{
		Symbol:           gq["01. symbol"],
		Open:             parseFloat64(gq["02. open"]),
		High:             parseFloat64(gq["03. high"]),
		Low:              parseFloat64(gq["04. low"]),
		Price:            parseFloat64(gq["05. price"]),
		Volume:           parseInt64(gq["06. volume"]),
		LatestTradingDay: gq["07. latest trading day"],
		PreviousClose:    parseFloat64(gq["08. previous close"]),
		Change:           parseFloat64(gq["09. change"]),
		ChangePercent:    parseFloat64(gq["10. change percent"]),
	}, nil
}

// parseFloat64 parses Alpha Vantage numeric strings, which may be empty,
// "None", "null", "-" or carry a trailing percent sign.
func parseFloat64(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" || s == "None" || s == "null" || s == "-" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" || s == "null" || s == "-" {
		return 0
	}
	// Volume sometimes arrives in scientific notation
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}
