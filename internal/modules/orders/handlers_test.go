package orders

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupOrderRouter(t *testing.T, initialCash, buffer float64, quotes *stubQuotes) chi.Router {
	t.Helper()

	svc, _ := setupExecution(t, initialCash, buffer, quotes)
	handler := NewHandler(svc, zerolog.Nop())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func postOrders(t *testing.T, router chi.Router, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleFit(t *testing.T) {
	router := setupOrderRouter(t, 10000, 500, &stubQuotes{prices: map[string]float64{}})

	rec := postOrders(t, router, "/fit", map[string]interface{}{
		"orders": []map[string]interface{}{
			{"ticker": "ABC", "side": "BUY", "quantity": 100, "price": 50},
			{"ticker": "DEF", "side": "BUY", "quantity": 90, "price": 50},
			{"ticker": "HIJ", "side": "BUY", "quantity": 80, "price": 50},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var report FitReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.True(t, report.Reduced)
	assert.InDelta(t, 9450.0, report.FinalTotalCost, 1e-9)
	require.Len(t, report.Orders, 3)
	assert.Equal(t, 73.0, report.Orders[0].FinalQuantity)
}

func TestHandleFitExplicitCashAndBuffer(t *testing.T) {
	router := setupOrderRouter(t, 10000, 500, &stubQuotes{prices: map[string]float64{}})

	rec := postOrders(t, router, "/fit", map[string]interface{}{
		"orders": []map[string]interface{}{
			{"ticker": "ABC", "side": "BUY", "quantity": 10, "price": 50},
		},
		"cash":   1000,
		"buffer": 0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var report FitReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.False(t, report.Reduced)
	assert.Equal(t, 500.0, report.FinalTotalCost)
}

// A batch that hits the reduction round cap still returns 200; the report's
// limit_exceeded flag tells the caller what happened.
func TestHandleFitRoundCapReturnsReport(t *testing.T) {
	router := setupOrderRouter(t, 10000, 500, &stubQuotes{prices: map[string]float64{}})

	rec := postOrders(t, router, "/fit", map[string]interface{}{
		"orders": []map[string]interface{}{
			{"ticker": "HUGE", "side": "BUY", "quantity": 5000, "price": 100},
		},
		"cash":   1000,
		"buffer": 0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var report FitReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.True(t, report.LimitExceeded)
	assert.Equal(t, maxReductionRounds, report.RoundsExecuted)
}

func TestHandleFitBadRequests(t *testing.T) {
	router := setupOrderRouter(t, 10000, 500, &stubQuotes{prices: map[string]float64{}})

	rec := postOrders(t, router, "/fit", map[string]interface{}{"orders": []map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/fit", bytes.NewReader([]byte("{not json")))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Invalid price surfaces as 400
	rec = postOrders(t, router, "/fit", map[string]interface{}{
		"orders": []map[string]interface{}{
			{"ticker": "ABC", "side": "BUY", "quantity": 10, "price": 0},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecute(t *testing.T) {
	router := setupOrderRouter(t, 10000, 0, &stubQuotes{prices: map[string]float64{"AAPL": 100}})

	rec := postOrders(t, router, "/execute", map[string]interface{}{
		"orders": []map[string]interface{}{
			{"ticker": "AAPL", "side": "BUY", "quantity": 5, "price": 100},
			{"ticker": "GONE", "side": "SELL", "quantity": 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result ExecutionResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.Executed)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Results, 2)
}

func TestHandleExecuteEmptyBatch(t *testing.T) {
	router := setupOrderRouter(t, 10000, 0, &stubQuotes{prices: map[string]float64{}})

	rec := postOrders(t, router, "/execute", map[string]interface{}{"orders": []map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRuns(t *testing.T) {
	quotes := &stubQuotes{prices: map[string]float64{"AAPL": 100}}
	svc, _ := setupExecution(t, 10000, 0, quotes)
	handler := NewHandler(svc, zerolog.Nop())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	// Empty before any batch runs
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Runs  []Run `json:"runs"`
		Count int   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	assert.Equal(t, 0, payload.Count)

	rec = postOrders(t, router, "/execute", map[string]interface{}{
		"orders": []map[string]interface{}{
			{"ticker": "AAPL", "side": "BUY", "quantity": 2, "price": 100},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/runs?limit=5", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.Equal(t, 1, payload.Count)
	assert.Equal(t, 1, payload.Runs[0].OrdersExecuted)
}
