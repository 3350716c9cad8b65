package marketdata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenholt/papertrader/internal/domain"
)

func setupQuoteRouter(t *testing.T, sources []Source, holdings HoldingsLister) (http.Handler, *Service) {
	t.Helper()

	service, _ := setupCache(t, sources, holdings, time.Hour)
	handler := NewHandler(service, zerolog.Nop())

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router, service
}

func TestHandleGetQuote(t *testing.T) {
	src := &fakeSource{name: "primary", price: 185.5}
	router, _ := setupQuoteRouter(t, []Source{src}, nil)

	req := httptest.NewRequest("GET", "/AAPL", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var quote domain.Quote
	require.NoError(t, json.NewDecoder(w.Body).Decode(&quote))
	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, 185.5, quote.CurrentPrice)
	assert.Equal(t, "primary", quote.Source)
}

func TestHandleGetQuoteRefreshParam(t *testing.T) {
	src := &fakeSource{name: "primary", price: 100.0}
	router, _ := setupQuoteRouter(t, []Source{src}, nil)

	req := httptest.NewRequest("GET", "/AAPL", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, 1, src.calls)

	// Cached without refresh
	req = httptest.NewRequest("GET", "/AAPL", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 1, src.calls)

	// Forced with refresh=true
	req = httptest.NewRequest("GET", "/AAPL?refresh=true", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 2, src.calls)
}

func TestHandleGetQuoteUnavailable(t *testing.T) {
	src := &fakeSource{name: "primary", err: fmt.Errorf("down")}
	router, _ := setupQuoteRouter(t, []Source{src}, nil)

	req := httptest.NewRequest("GET", "/AAPL", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestHandleGetQuoteInvalidTicker(t *testing.T) {
	router, _ := setupQuoteRouter(t, []Source{&fakeSource{name: "a", price: 1}}, nil)

	req := httptest.NewRequest("GET", "/THISTICKERISTOOLONG", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleResolve(t *testing.T) {
	a := &fakeSource{name: "finnhub", err: fmt.Errorf("down")}
	b := &fakeSource{name: "yahoo", price: 123.45}
	router, _ := setupQuoteRouter(t, []Source{a, b}, nil)

	req := httptest.NewRequest("GET", "/AAPL/resolve", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Quote       domain.Quote `json:"quote"`
		SourceOrder []string     `json:"source_order"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 123.45, response.Quote.CurrentPrice)
	assert.Equal(t, "yahoo", response.Quote.Source)
	assert.Equal(t, []string{"finnhub", "yahoo"}, response.SourceOrder)
}

func TestHandleRefresh(t *testing.T) {
	src := &fakeSource{name: "primary", price: 100.0}
	holdings := &fixedHoldings{tickers: []string{"AAPL", "MSFT"}}
	router, _ := setupQuoteRouter(t, []Source{src}, holdings)

	req := httptest.NewRequest("POST", "/refresh", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]int
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 2, response["refreshed"])
	assert.Equal(t, 0, response["failed"])
}
