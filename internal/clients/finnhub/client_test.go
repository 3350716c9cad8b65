package finnhub

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
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("token"))

		fmt.Fprint(w, `{"c": 185.5, "d": 5.5, "dp": 3.0556, "h": 186.0, "l": 182.1, "o": 183.0, "pc": 180.0}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	quote, err := client.Fetch(context.Background(), "aapl")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, 185.5, quote.CurrentPrice)
	assert.Equal(t, 180.0, quote.PreviousClose)
	assert.Equal(t, 5.5, quote.Change)
	assert.Equal(t, 3.0556, quote.ChangePercent)
	assert.Equal(t, "finnhub", quote.Source)
	assert.False(t, quote.FetchedAt.IsZero())
}

func TestFetchComputesChangeWhenAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"c": 110.0, "pc": 100.0}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	quote, err := client.Fetch(context.Background(), "MSFT")
	require.NoError(t, err)

	assert.InDelta(t, 10.0, quote.Change, 1e-9)
	assert.InDelta(t, 10.0, quote.ChangePercent, 1e-9)
}

// Finnhub reports unknown symbols as a zero quote with HTTP 200.
func TestFetchUnknownSymbol(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"c": 0, "d": null, "dp": null, "h": 0, "l": 0, "o": 0, "pc": 0}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Fetch(context.Background(), "NOPE")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no quote")
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": "Invalid API key"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Fetch(context.Background(), "AAPL")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestFetchMissingKey(t *testing.T) {
	client := NewClient("", 10*time.Second, zerolog.Nop())

	_, err := client.Fetch(context.Background(), "AAPL")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
