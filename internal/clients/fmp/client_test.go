package fmp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	client := NewClient("test-key", 10*time.Second, zerolog.Nop())
	client.baseURL = serverURL
	return client
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/quote/AAPL", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))

		fmt.Fprint(w, `[{
			"symbol": "AAPL",
			"price": 185.50,
			"previousClose": 180.00,
			"change": 5.50,
			"changesPercentage": 3.0556,
			"volume": 50000000,
			"marketCap": 2900000000000
		}]`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	quote, err := client.Fetch(context.Background(), "aapl")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, 185.5, quote.CurrentPrice)
	assert.Equal(t, 180.0, quote.PreviousClose)
	assert.Equal(t, 5.5, quote.Change)
	assert.Equal(t, int64(50000000), quote.Volume)
	assert.Equal(t, 2.9e12, quote.MarketCap)
	assert.Equal(t, "fmp", quote.Source)
}

func TestFetchComputesChangeWhenAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"symbol": "MSFT", "price": 110.0, "previousClose": 100.0}]`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	quote, err := client.Fetch(context.Background(), "MSFT")
	require.NoError(t, err)

	assert.InDelta(t, 10.0, quote.Change, 1e-9)
	assert.InDelta(t, 10.0, quote.ChangePercent, 1e-9)
}

// Unknown symbols come back as an empty array with HTTP 200.
func TestFetchUnknownSymbol(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Fetch(context.Background(), "NOPE")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no quote")
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"Error Message": "Invalid API KEY."}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Fetch(context.Background(), "AAPL")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestFetchMissingKey(t *testing.T) {
	client := NewClient("", 10*time.Second, zerolog.Nop())

	_, err := client.Fetch(context.Background(), "AAPL")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
