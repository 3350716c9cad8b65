package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenholt/papertrader/internal/domain"
)

// stubQuotes serves fixed prices for summary and valuation endpoints.
type stubQuotes struct {
	prices map[string]float64
}

func (s *stubQuotes) PriceLookup(_ context.Context) domain.PriceLookup {
	return func(ticker string) (float64, error) {
		price, ok := s.prices[ticker]
		if !ok {
			return 0, fmt.Errorf("no price for %s", ticker)
		}
		return price, nil
	}
}

func setupHandler(t *testing.T, prices map[string]float64) (*Service, http.Handler) {
	t.Helper()

	service := setupService(t, 10000)
	handler := NewHandler(service, &stubQuotes{prices: prices}, zerolog.Nop())

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return service, router
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleBuy(t *testing.T) {
	_, router := setupHandler(t, nil)

	w := postJSON(t, router, "/buy", `{"ticker":"AAPL","quantity":10,"price":150,"reason":"entry"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var receipt domain.Receipt
	require.NoError(t, json.NewDecoder(w.Body).Decode(&receipt))
	assert.NotEmpty(t, receipt.OrderID)
	assert.Equal(t, "AAPL", receipt.Ticker)
	assert.Equal(t, 1500.0, receipt.Total)
	assert.Equal(t, 8500.0, receipt.CashBalance)
}

func TestHandleBuyWithStopCorrection(t *testing.T) {
	_, router := setupHandler(t, nil)

	w := postJSON(t, router, "/buy", `{"ticker":"AAPL","quantity":10,"price":100,"stop_price":150}`)

	assert.Equal(t, http.StatusOK, w.Code)

	var receipt domain.Receipt
	require.NoError(t, json.NewDecoder(w.Body).Decode(&receipt))
	assert.True(t, receipt.StopAdjusted)
	require.NotNil(t, receipt.StopPrice)
	assert.InDelta(t, 85.0, *receipt.StopPrice, 1e-9)
}

func TestHandleBuyErrorStatuses(t *testing.T) {
	_, router := setupHandler(t, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed body", `{not json`, http.StatusBadRequest},
		{"invalid quantity", `{"ticker":"AAPL","quantity":0,"price":100}`, http.StatusBadRequest},
		{"invalid ticker", `{"ticker":"","quantity":1,"price":100}`, http.StatusBadRequest},
		{"insufficient funds", `{"ticker":"AAPL","quantity":1000,"price":100}`, http.StatusPaymentRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, router, "/buy", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestHandleSellErrorStatuses(t *testing.T) {
	_, router := setupHandler(t, nil)

	// No holding yet
	w := postJSON(t, router, "/sell", `{"ticker":"AAPL","quantity":5,"price":100}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Buy 10, then try to sell 11
	w = postJSON(t, router, "/buy", `{"ticker":"AAPL","quantity":10,"price":100}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, router, "/sell", `{"ticker":"AAPL","quantity":11,"price":100}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	// A valid sell reports the realized gain
	w = postJSON(t, router, "/sell", `{"ticker":"AAPL","quantity":5,"price":120}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var receipt domain.Receipt
	require.NoError(t, json.NewDecoder(w.Body).Decode(&receipt))
	require.NotNil(t, receipt.GainLoss)
	assert.InDelta(t, 100.0, *receipt.GainLoss, 1e-9)
}

func TestHandleSummary(t *testing.T) {
	_, router := setupHandler(t, map[string]float64{"AAPL": 110})

	w := postJSON(t, router, "/buy", `{"ticker":"AAPL","quantity":10,"price":100}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = getJSON(t, router, "/")
	assert.Equal(t, http.StatusOK, w.Code)

	var summary Summary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
	assert.Equal(t, 9000.0, summary.Cash)
	require.Len(t, summary.Holdings, 1)
	assert.Equal(t, 110.0, summary.Holdings[0].CurrentPrice)
	assert.Equal(t, 1100.0, summary.TotalMarketValue)
	assert.Equal(t, 10100.0, summary.TotalPortfolioValue)
	assert.Empty(t, summary.StaleTickers)
}

func TestHandleTransactions(t *testing.T) {
	_, router := setupHandler(t, nil)

	for i := 0; i < 3; i++ {
		w := postJSON(t, router, "/buy", fmt.Sprintf(`{"ticker":"TICK%d","quantity":1,"price":100}`, i))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := getJSON(t, router, "/transactions?limit=2")
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Transactions []domain.Transaction `json:"transactions"`
		Count        int                  `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 2, response.Count)
	assert.Equal(t, "TICK2", response.Transactions[0].Ticker, "Most recent first")

	w = getJSON(t, router, "/transactions?ticker=TICK0")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 1, response.Count)
}

func TestHandleCashEndpoints(t *testing.T) {
	_, router := setupHandler(t, nil)

	w := getJSON(t, router, "/cash")
	assert.Equal(t, http.StatusOK, w.Code)

	var cash map[string]float64
	require.NoError(t, json.NewDecoder(w.Body).Decode(&cash))
	assert.Equal(t, 10000.0, cash["cash_balance"])

	w = postJSON(t, router, "/deposit", `{"amount":500,"note":"topup"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var flow domain.CashFlow
	require.NoError(t, json.NewDecoder(w.Body).Decode(&flow))
	assert.Equal(t, domain.CashFlowDeposit, flow.Type)
	assert.Equal(t, 10500.0, flow.Balance)

	w = postJSON(t, router, "/withdraw", `{"amount":999999}`)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = postJSON(t, router, "/withdraw", `{"amount":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = getJSON(t, router, "/cash-flows")
	assert.Equal(t, http.StatusOK, w.Code)

	var flows struct {
		CashFlows []domain.CashFlow `json:"cash_flows"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&flows))
	assert.Equal(t, 2, flows.Count, "Seed plus one deposit")
}

func TestHandleValueOn(t *testing.T) {
	_, router := setupHandler(t, map[string]float64{"AAPL": 130})

	w := postJSON(t, router, "/buy", `{"ticker":"AAPL","quantity":10,"price":100}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = getJSON(t, router, "/value")
	assert.Equal(t, http.StatusOK, w.Code)

	var valuation Valuation
	require.NoError(t, json.NewDecoder(w.Body).Decode(&valuation))
	assert.InDelta(t, 9000.0, valuation.Cash, 1e-9)
	assert.InDelta(t, 1300.0, valuation.HoldingsValue, 1e-9)

	w = getJSON(t, router, "/value?date=not-a-date")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStopLosses(t *testing.T) {
	_, router := setupHandler(t, nil)

	w := postJSON(t, router, "/buy", `{"ticker":"AAPL","quantity":10,"price":100,"stop_price":90}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = getJSON(t, router, "/stop-losses")
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		StopLosses map[string]float64 `json:"stop_losses"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, map[string]float64{"AAPL": 90.0}, response.StopLosses)
}
